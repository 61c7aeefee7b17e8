package usecase

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/atharhussain12/sturdy-couscous-chat/internal/encoding"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/envelope"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/topic"
	"github.com/atharhussain12/sturdy-couscous-chat/pkg/models"
)

// HandleInbound decodes raw and dispatches it to the matching handler.
// Every decode or handler failure is swallowed by the drop policy:
// the caller (the transport subscription callback) only sees an error
// worth logging when something unexpected happens further down, never
// for a malformed or out-of-context envelope.
func (e *Engine) HandleInbound(ctx context.Context, raw []byte) error {
	env, err := envelope.Decode(raw)
	if err != nil {
		return nil
	}
	if !e.identity.IsUnlocked() {
		return nil // locked: inbound processing is a no-op
	}
	switch env.Type {
	case envelope.TypeChatRequest:
		return e.handleChatRequest(ctx, env)
	case envelope.TypeChatAccept:
		return e.handleChatAccept(ctx, env)
	case envelope.TypeChatDeclined:
		return e.handleChatDeclined(env)
	case envelope.TypeChatBlocked:
		return e.handleChatBlocked(env)
	case envelope.TypeGroupInvite:
		return e.handleGroupInvite(env)
	case envelope.TypeGroupAccepted:
		return e.handleGroupAccepted(env)
	case envelope.TypeGroupDeclined:
		return e.handleGroupDeclined(env)
	case envelope.TypeGroupBlocked:
		return e.handleGroupBlocked(env)
	case envelope.TypeDMMessage:
		return e.handleDMMessage(ctx, env)
	case envelope.TypeDMAck:
		return e.handleDMAck(env)
	case envelope.TypeGroupMessage:
		return e.handleGroupMessage(env)
	default:
		return nil
	}
}

// keyMismatchNotice is the system-message body surfaced when an inbound
// envelope cannot be opened under the session's derived key.
const keyMismatchNotice = "Key mismatch. Rekey to continue."

// handleDMMessage opens a dm_message under the conversation's session,
// acks receipt back to the sender's inbox, and applies the inner
// payload. The session is persisted only once the
// ciphertext has actually opened, so a failed open never advances the
// stored ratchet past the failure.
func (e *Engine) handleDMMessage(ctx context.Context, env envelope.Envelope) error {
	if env.N == nil {
		return nil
	}
	myChatKey, err := e.myChatKey()
	if err != nil {
		return err
	}
	if env.FromPubKey == myChatKey {
		return nil // ignore our own echoed publish
	}
	session, err := e.getOrCreateDMSession(env.ConversationID, env.FromPubKey)
	if err != nil {
		return nil
	}

	var plaintext []byte
	mk, ok := session.DeriveReceive(*env.N)
	if ok {
		plaintext, err = openWithKey(mk, env.Nonce, env.Ciphertext)
		ok = err == nil
	}
	if !ok {
		// The counter may be behind our window because the peer reset its
		// chain: retry against a session reseeded from the DH origin, and
		// commit that reseeded session only if the ciphertext opens.
		session, plaintext, ok = e.reopenViaReseed(env.ConversationID, session.Kind, env.FromPubKey, *env.N, env.Nonce, env.Ciphertext)
	}
	if !ok {
		e.metrics.keyMismatch()
		return e.appendSystemMessage(env.ConversationID, keyMismatchNotice, true)
	}
	if err := e.saveSession(session); err != nil {
		return err
	}
	e.metrics.observeSkipped(len(session.SkippedKeys))

	inner, err := decodeInner(plaintext)
	if err != nil {
		return nil
	}
	e.metrics.received()
	if err := e.sendDMAck(ctx, env.ConversationID, env.FromPubKey, env.MessageID); err != nil {
		e.identity.LogError("dm ack: " + err.Error())
	}
	return e.applyInnerPayload(env.ConversationID, env.FromPubKey, env.MessageID, *env.N, inner)
}

// sendDMAck publishes a dm_ack to the sender's inbox topic; acks are
// out-of-session traffic and never ride the DM topic.
func (e *Engine) sendDMAck(ctx context.Context, chatID, peerChatKey, messageID string) error {
	myChatKey, err := e.myChatKey()
	if err != nil {
		return err
	}
	peerPub, err := encoding.ChatKeyDecode(peerChatKey)
	if err != nil {
		return ErrInvalidChatKey
	}
	env := envelope.Envelope{
		Type:           envelope.TypeDMAck,
		Timestamp:      nowMillis(),
		ConversationID: chatID,
		MessageID:      messageID,
		FromPubKey:     myChatKey,
		ToPubKey:       peerChatKey,
	}
	return e.publishEnvelope(ctx, topic.InboxTopic(peerPub), env)
}

// handleDMAck flips the originating message's local status to delivered.
func (e *Engine) handleDMAck(env envelope.Envelope) error {
	msg, ok := e.stores.Messages.Get(env.MessageID)
	if !ok {
		return nil
	}
	msg.Status = models.MessageStatusDelivered
	return e.stores.Messages.Put(msg)
}

// applyInnerPayload dispatches a decoded inner payload to the store
// mutation it represents. Shared by
// the DM and group inbound paths.
func (e *Engine) applyInnerPayload(chatID, fromChatKey, messageID string, n uint64, inner innerPayload) error {
	switch inner.Kind {
	case innerText:
		if err := e.stores.Messages.Put(models.Message{
			ID:         messageID,
			ChatID:     chatID,
			Type:       models.MessageTypeText,
			FromPubKey: fromChatKey,
			Body:       inner.Body,
			ReplyTo:    inner.ReplyTo,
			Timestamp:  time.Now().UTC(),
			Status:     models.MessageStatusDelivered,
			N:          &n,
		}); err != nil {
			return err
		}
		return e.touchChatOnInbound(chatID)
	case innerReaction:
		// Reaction.ID is the outer envelope's messageID, not a fresh
		// UUID: redelivery of the same envelope must Put the same key so
		// a duplicate arrival stays idempotent.
		return e.stores.Reactions.Put(models.Reaction{
			ID:         messageID,
			MessageID:  inner.MessageID,
			FromPubKey: fromChatKey,
			Emoji:      inner.Emoji,
			Timestamp:  time.Now().UTC(),
		})
	case innerEdit:
		existing, ok := e.stores.Messages.Get(inner.MessageID)
		if !ok {
			return nil
		}
		existing.Body = inner.Body
		existing.Edited = true
		return e.stores.Messages.Put(existing)
	case innerDelete:
		existing, ok := e.stores.Messages.Get(inner.MessageID)
		if !ok {
			return nil
		}
		existing.Deleted = true
		existing.Body = ""
		return e.stores.Messages.Put(existing)
	case innerTyping:
		e.setTyping(chatID, fromChatKey, inner.IsTyping)
		return nil
	case innerAttachmentMeta:
		if err := e.stores.Attachments.Put(models.Attachment{
			ID:          inner.AttachmentID,
			MessageID:   messageID,
			Name:        inner.Name,
			Mime:        inner.Mime,
			Size:        inner.Size,
			TotalChunks: inner.TotalChunks,
			Chunks:      make(map[int]string),
		}); err != nil {
			return err
		}
		return e.stores.Messages.Put(models.Message{
			ID:           messageID,
			ChatID:       chatID,
			Type:         models.MessageTypeAttachmentMeta,
			FromPubKey:   fromChatKey,
			Timestamp:    time.Now().UTC(),
			Status:       models.MessageStatusDelivered,
			AttachmentID: inner.AttachmentID,
			N:            &n,
		})
	case innerAttachmentChunk:
		return e.applyAttachmentChunk(inner)
	case innerRekey:
		return e.applyRekey(chatID, fromChatKey)
	default:
		return nil
	}
}

func (e *Engine) setTyping(chatID, fromChatKey string, isTyping bool) {
	e.typingMu.Lock()
	defer e.typingMu.Unlock()
	key := typingKey{chatID: chatID, fromPubKey: fromChatKey}
	if isTyping {
		e.typing[key] = true
	} else {
		delete(e.typing, key)
	}
}

// IsTyping reports whether peer last signaled isTyping=true in chatID
// without a subsequent isTyping=false.
func (e *Engine) IsTyping(chatID, peerChatKey string) bool {
	e.typingMu.RLock()
	defer e.typingMu.RUnlock()
	return e.typing[typingKey{chatID: chatID, fromPubKey: peerChatKey}]
}

// applyAttachmentChunk accumulates one base64 chunk, marking Complete and
// concatenating Data once every index 0..TotalChunks-1 has arrived.
func (e *Engine) applyAttachmentChunk(inner innerPayload) error {
	att, ok := e.stores.Attachments.Get(inner.AttachmentID)
	if !ok {
		att = models.Attachment{ID: inner.AttachmentID, TotalChunks: inner.TotalChunks, Chunks: make(map[int]string)}
	}
	if att.Chunks == nil {
		att.Chunks = make(map[int]string)
	}
	if _, seen := att.Chunks[inner.Index]; !seen {
		att.Chunks[inner.Index] = inner.Data
		att.ReceivedChunks++
	}
	if att.TotalChunks == 0 {
		att.TotalChunks = inner.TotalChunks
	}
	if att.TotalChunks > 0 && att.ReceivedChunks >= att.TotalChunks {
		data, err := reassembleChunks(att.Chunks, att.TotalChunks)
		if err == nil {
			att.Data = data
			att.Complete = true
		}
	}
	return e.stores.Attachments.Put(att)
}

// reassembleChunks concatenates base64 chunks 0..total-1 in order,
// failing if any index is missing or fails to decode.
func reassembleChunks(chunks map[int]string, total int) ([]byte, error) {
	var out []byte
	for i := 0; i < total; i++ {
		encoded, ok := chunks[i]
		if !ok {
			return nil, errBadInnerPayload
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errBadInnerPayload
		}
		out = append(out, decoded...)
	}
	return out, nil
}
