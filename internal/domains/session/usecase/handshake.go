package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/atharhussain12/sturdy-couscous-chat/internal/crypto"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/encoding"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/envelope"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/topic"
	"github.com/atharhussain12/sturdy-couscous-chat/pkg/models"
)

// requestIntro is the plaintext sealed inside a chat_request/group_invite
// envelope's nonce/ciphertext pair. Out of session, so it is sealed with
// crypto.Box (curve25519-xsalsa20-poly1305) rather than a ratchet-derived
// key.
type requestIntro struct {
	Intro     string   `json:"intro"`
	GroupID   string   `json:"groupId,omitempty"`
	GroupName string   `json:"groupName,omitempty"`
	Members   []string `json:"members,omitempty"`
}

func (e *Engine) sealRequestIntro(peerPub []byte, intro requestIntro) (nonce, ciphertext []byte, err error) {
	mySec, err := e.mySecretKey()
	if err != nil {
		return nil, nil, err
	}
	nonce, err = crypto.RandomBytes(24)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := json.Marshal(intro)
	if err != nil {
		return nil, nil, err
	}
	ciphertext, err = crypto.Box(plaintext, nonce, peerPub, mySec)
	if err != nil {
		return nil, nil, err
	}
	return nonce, ciphertext, nil
}

func (e *Engine) openRequestIntro(fromPub []byte, nonce, ciphertext []byte) (requestIntro, error) {
	mySec, err := e.mySecretKey()
	if err != nil {
		return requestIntro{}, err
	}
	plaintext, err := crypto.BoxOpen(ciphertext, nonce, fromPub, mySec)
	if err != nil {
		return requestIntro{}, errBadInnerPayload
	}
	var intro requestIntro
	if err := json.Unmarshal(plaintext, &intro); err != nil {
		return requestIntro{}, errBadInnerPayload
	}
	return intro, nil
}

// SendChatRequest initiates a DM handshake: it persists a pending outbound
// Request and publishes a sealed chat_request to the peer's inbox topic.
func (e *Engine) SendChatRequest(ctx context.Context, peerChatKey, introText string) (requestID string, err error) {
	if err := e.requireUnlocked(); err != nil {
		return "", err
	}
	myChatKey, err := e.myChatKey()
	if err != nil {
		return "", err
	}
	peerPub, err := encoding.ChatKeyDecode(peerChatKey)
	if err != nil {
		return "", ErrInvalidChatKey
	}
	requestID = newUUID()
	nonce, ciphertext, err := e.sealRequestIntro(peerPub, requestIntro{Intro: introText})
	if err != nil {
		return "", err
	}
	req := models.Request{
		ID:         requestID,
		Kind:       models.RequestKindDM,
		FromPubKey: myChatKey,
		ToPubKey:   peerChatKey,
		Intro:      introText,
		Status:     models.RequestStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.stores.Requests.Put(req); err != nil {
		return "", err
	}
	env := envelope.Envelope{
		Type:       envelope.TypeChatRequest,
		Timestamp:  nowMillis(),
		RequestID:  requestID,
		FromPubKey: myChatKey,
		ToPubKey:   peerChatKey,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}
	return requestID, e.publishEnvelope(ctx, topic.InboxTopic(peerPub), env)
}

func (e *Engine) publishEnvelope(ctx context.Context, contentTopic string, env envelope.Envelope) error {
	raw, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	return e.transport.Publish(ctx, contentTopic, raw)
}

// placeholderIntro is substituted when a request/invite's sealed intro
// fails to open.
const placeholderIntro = "(could not decrypt intro)"

// handleChatRequest runs the receive-request sub-cases in order: (a)
// idempotent re-accept when this peer's chat is already accepted, (b)
// refusal with a chat_blocked notice to the sender when this sender was
// previously blocked, (c) otherwise
// persist a new pending Request, falling back to a placeholder intro
// rather than dropping the request on decrypt failure.
func (e *Engine) handleChatRequest(ctx context.Context, env envelope.Envelope) error {
	fromPub, err := encoding.ChatKeyDecode(env.FromPubKey)
	if err != nil {
		return nil // malformed chat-key: drop silently
	}
	myChatKey, err := e.myChatKey()
	if err != nil {
		return err
	}

	conversationID := topic.ConversationID(myChatKey, env.FromPubKey)
	if chat, ok := e.stores.Chats.Get(conversationID); ok && chat.Accepted {
		return e.reemitChatAccept(ctx, env.RequestID, env.FromPubKey, fromPub, conversationID)
	}

	if state, ok := e.stores.RequestStates.Get(env.FromPubKey); ok && state.Status == models.RequestStatusBlocked {
		return e.publishEnvelope(ctx, topic.InboxTopic(fromPub), envelope.Envelope{
			Type:           envelope.TypeChatBlocked,
			Timestamp:      nowMillis(),
			RequestID:      env.RequestID,
			FromPubKey:     myChatKey,
			ToPubKey:       env.FromPubKey,
			ConversationID: conversationID,
		})
	}

	introText := placeholderIntro
	if intro, err := e.openRequestIntro(fromPub, env.Nonce, env.Ciphertext); err == nil {
		introText = intro.Intro
	}
	return e.stores.Requests.Put(models.Request{
		ID:         env.RequestID,
		Kind:       models.RequestKindDM,
		FromPubKey: env.FromPubKey,
		ToPubKey:   env.ToPubKey,
		Intro:      introText,
		Status:     models.RequestStatusPending,
		CreatedAt:  time.Now().UTC(),
	})
}

// reemitChatAccept re-publishes chat_accept to a sender whose new
// chat_request arrived for a conversation this side already accepted,
// covering the case where the original accept was missed.
func (e *Engine) reemitChatAccept(ctx context.Context, requestID, peerChatKey string, peerPub []byte, conversationID string) error {
	myChatKey, err := e.myChatKey()
	if err != nil {
		return err
	}
	return e.publishEnvelope(ctx, topic.InboxTopic(peerPub), envelope.Envelope{
		Type:           envelope.TypeChatAccept,
		Timestamp:      nowMillis(),
		RequestID:      requestID,
		FromPubKey:     myChatKey,
		ToPubKey:       peerChatKey,
		ConversationID: conversationID,
	})
}

// RespondToRequest resolves a pending inbound Request. Accepting seeds the
// DM ratchet session, marks the conversation as an accepted Chat, and
// publishes chat_accept to the requester's inbox; declining/blocking only
// publishes the corresponding notice.
func (e *Engine) RespondToRequest(ctx context.Context, requestID string, decision models.RequestStatus) error {
	if err := e.requireUnlocked(); err != nil {
		return err
	}
	req, ok := e.stores.Requests.Get(requestID)
	if !ok {
		return ErrUnknownChat
	}
	req.Status = decision
	if err := e.stores.Requests.Put(req); err != nil {
		return err
	}
	if err := e.stores.RequestStates.Put(models.RequestState{
		PeerPubKey: req.FromPubKey,
		Status:     decision,
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		return err
	}

	peerPub, err := encoding.ChatKeyDecode(req.FromPubKey)
	if err != nil {
		return ErrInvalidChatKey
	}
	myChatKey, err := e.myChatKey()
	if err != nil {
		return err
	}

	conversationID := topic.ConversationID(myChatKey, req.FromPubKey)
	var envType envelope.Type
	switch decision {
	case models.RequestStatusAccepted:
		envType = envelope.TypeChatAccept
		if err := e.establishDMChat(ctx, req.FromPubKey); err != nil {
			return err
		}
		if req.Intro != "" {
			if err := e.appendSystemMessage(conversationID, req.Intro, false); err != nil {
				return err
			}
		}
	case models.RequestStatusDeclined:
		envType = envelope.TypeChatDeclined
	case models.RequestStatusBlocked:
		envType = envelope.TypeChatBlocked
	default:
		return ErrUnknownChat
	}

	env := envelope.Envelope{
		Type:           envType,
		Timestamp:      nowMillis(),
		RequestID:      req.ID,
		FromPubKey:     myChatKey,
		ToPubKey:       req.FromPubKey,
		ConversationID: conversationID,
	}
	return e.publishEnvelope(ctx, topic.InboxTopic(peerPub), env)
}

// establishDMChat seeds the pairwise ratchet session, creates the
// accepted Chat record shared by both the accepting and accepted side,
// and subscribes the DM topic so inbound dm_message envelopes for this
// conversation reach HandleInbound (dm_ack arrives on the inbox topic).
func (e *Engine) establishDMChat(ctx context.Context, peerChatKey string) error {
	myChatKey, err := e.myChatKey()
	if err != nil {
		return err
	}
	conversationID := topic.ConversationID(myChatKey, peerChatKey)
	if _, err := e.getOrCreateDMSession(conversationID, peerChatKey); err != nil {
		return err
	}
	if err := e.subscribeOnce(ctx, topic.DMTopic(conversationID), e.dispatchInbound(ctx)); err != nil {
		return err
	}
	if err := e.rememberPeer(peerChatKey); err != nil {
		return err
	}
	if _, ok := e.stores.Chats.Get(conversationID); ok {
		return nil
	}
	return e.stores.Chats.Put(models.Chat{
		ID:           conversationID,
		Kind:         models.ChatKindDM,
		Title:        peerChatKey,
		Participants: []string{myChatKey, peerChatKey},
		Accepted:     true,
		CreatedAt:    time.Now().UTC(),
	})
}

// handleChatAccept completes the requester's side of the handshake once
// the peer accepts.
func (e *Engine) handleChatAccept(ctx context.Context, env envelope.Envelope) error {
	req, ok := e.stores.Requests.Get(env.RequestID)
	if !ok {
		return nil
	}
	req.Status = models.RequestStatusAccepted
	if err := e.stores.Requests.Put(req); err != nil {
		return err
	}
	if err := e.stores.RequestStates.Put(models.RequestState{
		PeerPubKey: env.FromPubKey,
		Status:     models.RequestStatusAccepted,
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		return err
	}
	if err := e.establishDMChat(ctx, env.FromPubKey); err != nil {
		return err
	}
	myChatKey, err := e.myChatKey()
	if err != nil {
		return err
	}
	return e.appendSystemMessage(topic.ConversationID(myChatKey, env.FromPubKey), "Chat request accepted.", false)
}

func (e *Engine) handleChatDeclined(env envelope.Envelope) error {
	return e.markRequestStatus(env.RequestID, env.FromPubKey, models.RequestStatusDeclined)
}

func (e *Engine) handleChatBlocked(env envelope.Envelope) error {
	return e.markRequestStatus(env.RequestID, env.FromPubKey, models.RequestStatusBlocked)
}

func (e *Engine) markRequestStatus(requestID, peerChatKey string, status models.RequestStatus) error {
	req, ok := e.stores.Requests.Get(requestID)
	if !ok {
		return nil
	}
	req.Status = status
	if err := e.stores.Requests.Put(req); err != nil {
		return err
	}
	return e.stores.RequestStates.Put(models.RequestState{
		PeerPubKey: peerChatKey,
		Status:     status,
		UpdatedAt:  time.Now().UTC(),
	})
}
