package usecase

import (
	"context"

	"github.com/atharhussain12/sturdy-couscous-chat/internal/encoding"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/ratchet"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/storage"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/topic"
	"github.com/atharhussain12/sturdy-couscous-chat/pkg/models"
)

// RekeySession deterministically resets a DM session back to its
// DH-derived origin, notifies the peer with a {kind:"rekey"} inner
// payload, and records a local system message. The notice is sealed under
// the post-reset send chain (counter 0): since the reset reproduces the
// original seed exactly, the peer recovers it through reopenViaReseed
// even when its own counters have drifted.
func (e *Engine) RekeySession(ctx context.Context, chatID, peerChatKey string) (messageID string, err error) {
	session, err := e.getOrCreateDMSession(chatID, peerChatKey)
	if err != nil {
		return "", err
	}
	if err := e.resetSession(session, peerChatKey); err != nil {
		return "", err
	}
	e.metrics.rekeyed()
	messageID, err = e.sendInner(ctx, chatID, peerChatKey, models.MessageTypeRekey, innerPayload{Kind: innerRekey})
	if err != nil {
		return "", err
	}
	return messageID, e.appendSystemMessage(chatID, "Session rekeyed.", false)
}

func (e *Engine) resetSession(session *ratchet.Session, peerChatKey string) error {
	mySec, err := e.mySecretKey()
	if err != nil {
		return err
	}
	myPub, err := e.myPublicKey()
	if err != nil {
		return err
	}
	peerPub, err := encoding.ChatKeyDecode(peerChatKey)
	if err != nil {
		return ErrInvalidChatKey
	}
	if err := session.Reset(mySec, myPub, peerPub); err != nil {
		return err
	}
	return e.saveSession(session)
}

// reopenViaReseed retries a failed receive against a session reseeded
// from the long-term DH origin, without touching the stored session: the
// reseeded state is returned to the caller only when the ciphertext
// actually opens under it, so a garbage counter or ciphertext can never
// clobber a healthy session. This is what makes a peer's post-reset
// rekey notice (counter 0, behind our receive window) decryptable.
func (e *Engine) reopenViaReseed(conversationID string, kind ratchet.Kind, peerChatKey string, n uint64, nonce, ciphertext []byte) (*ratchet.Session, []byte, bool) {
	mySec, err := e.mySecretKey()
	if err != nil {
		return nil, nil, false
	}
	myPub, err := e.myPublicKey()
	if err != nil {
		return nil, nil, false
	}
	peerPub, err := encoding.ChatKeyDecode(peerChatKey)
	if err != nil {
		return nil, nil, false
	}
	fresh, err := ratchet.Seed(conversationID, kind, mySec, myPub, peerPub, peerChatKey)
	if err != nil {
		return nil, nil, false
	}
	mk, ok := fresh.DeriveReceive(n)
	if !ok {
		return nil, nil, false
	}
	plaintext, err := openWithKey(mk, nonce, ciphertext)
	if err != nil {
		return nil, nil, false
	}
	e.metrics.rekeyed()
	return fresh, plaintext, true
}

// applyRekey handles an inbound {kind:"rekey"}: re-seed the session with
// the sender exactly as first-time init would (counters zeroed, skipped
// cache cleared) and record the system notice.
// For a group chat the pairwise session with the sender is the one reset;
// the other members' sessions are untouched.
func (e *Engine) applyRekey(chatID, fromChatKey string) error {
	sessionID := chatID
	if chat, ok := e.stores.Chats.Get(chatID); ok && chat.Kind == models.ChatKindGroup {
		myChatKey, err := e.myChatKey()
		if err != nil {
			return err
		}
		sessionID = topic.GroupSessionID(chatID, myChatKey, fromChatKey)
	}
	key := storage.SessionKey(sessionID, fromChatKey)
	if session, ok := e.stores.Sessions.Get(key); ok {
		if err := e.resetSession(&session, fromChatKey); err != nil {
			return err
		}
	}
	return e.appendSystemMessage(chatID, "Session rekeyed by peer.", false)
}
