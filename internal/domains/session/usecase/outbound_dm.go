package usecase

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/atharhussain12/sturdy-couscous-chat/internal/crypto"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/envelope"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/topic"
	"github.com/atharhussain12/sturdy-couscous-chat/pkg/models"
)

func randomNonce() ([]byte, error) {
	return crypto.RandomBytes(24)
}

func sealWithKey(key, nonce, plaintext []byte) ([]byte, error) {
	return crypto.Secretbox(plaintext, nonce, key)
}

func openWithKey(key, nonce, ciphertext []byte) ([]byte, error) {
	return crypto.SecretboxOpen(ciphertext, nonce, key)
}

// sendInner seals an inner payload under the DM session's next send key
// and publishes a dm_message envelope, recording the local copy of the
// message once the publish succeeds.
func (e *Engine) sendInner(ctx context.Context, chatID, peerChatKey string, msgType models.MessageType, inner innerPayload) (messageID string, err error) {
	if err := e.requireUnlocked(); err != nil {
		return "", err
	}
	if chat, ok := e.stores.Chats.Get(chatID); !ok || !chat.Accepted {
		return "", ErrUnknownChat
	}
	raw, err := encodeInner(inner)
	if err != nil {
		return "", err
	}
	session, err := e.getOrCreateDMSession(chatID, peerChatKey)
	if err != nil {
		return "", err
	}
	mk, wireN := session.AdvanceSend()
	if err := e.saveSession(session); err != nil {
		return "", err
	}
	nonce, err := randomNonce()
	if err != nil {
		return "", err
	}
	ciphertext, err := sealWithKey(mk, nonce, raw)
	if err != nil {
		return "", err
	}

	myChatKey, err := e.myChatKey()
	if err != nil {
		return "", err
	}
	messageID = newUUID()
	n := wireN
	env := envelope.Envelope{
		Type:           envelope.TypeDMMessage,
		Timestamp:      nowMillis(),
		ConversationID: chatID,
		MessageID:      messageID,
		FromPubKey:     myChatKey,
		N:              &n,
		Nonce:          nonce,
		Ciphertext:     ciphertext,
	}
	if err := e.publishEnvelope(ctx, topic.DMTopic(chatID), env); err != nil {
		return "", err
	}

	local := models.Message{
		ID:         messageID,
		ChatID:     chatID,
		Type:       msgType,
		FromPubKey: myChatKey,
		Timestamp:  time.Now().UTC(),
		Status:     models.MessageStatusSent,
		N:          &n,
	}
	switch msgType {
	case models.MessageTypeText:
		local.Body = inner.Body
		local.ReplyTo = inner.ReplyTo
	case models.MessageTypeAttachmentMeta, models.MessageTypeAttachmentChunk:
		local.AttachmentID = inner.AttachmentID
	}
	if err := e.stores.Messages.Put(local); err != nil {
		return "", err
	}
	if chat, ok := e.stores.Chats.Get(chatID); ok {
		chat.LastMessageAt = local.Timestamp
		if err := e.stores.Chats.Put(chat); err != nil {
			return "", err
		}
	}
	e.metrics.sent()
	return messageID, nil
}

// SendText sends a plaintext message, optionally threaded under replyTo.
func (e *Engine) SendText(ctx context.Context, chatID, peerChatKey, body, replyTo string) (string, error) {
	return e.sendInner(ctx, chatID, peerChatKey, models.MessageTypeText, innerPayload{
		Kind:    innerText,
		Body:    body,
		ReplyTo: replyTo,
	})
}

// SendReaction attaches an emoji reaction to an existing message. The
// local Reaction record is keyed by the envelope's messageID, the same
// key the recipient's Reaction ends up with, so a redelivered reaction
// overwrites instead of duplicating. It is created after sendInner
// returns rather than under a separately generated id.
func (e *Engine) SendReaction(ctx context.Context, chatID, peerChatKey, targetMessageID, emoji string) (string, error) {
	myChatKey, err := e.myChatKey()
	if err != nil {
		return "", err
	}
	messageID, err := e.sendInner(ctx, chatID, peerChatKey, models.MessageTypeReaction, innerPayload{
		Kind:      innerReaction,
		MessageID: targetMessageID,
		Emoji:     emoji,
	})
	if err != nil {
		return "", err
	}
	if err := e.stores.Reactions.Put(models.Reaction{
		ID:         messageID,
		MessageID:  targetMessageID,
		FromPubKey: myChatKey,
		Emoji:      emoji,
		Timestamp:  time.Now().UTC(),
	}); err != nil {
		return "", err
	}
	return messageID, nil
}

// SendEdit replaces the body of a previously-sent text message.
func (e *Engine) SendEdit(ctx context.Context, chatID, peerChatKey, targetMessageID, newBody string) (string, error) {
	if existing, ok := e.stores.Messages.Get(targetMessageID); ok {
		existing.Body = newBody
		existing.Edited = true
		if err := e.stores.Messages.Put(existing); err != nil {
			return "", err
		}
	}
	return e.sendInner(ctx, chatID, peerChatKey, models.MessageTypeEdit, innerPayload{
		Kind:      innerEdit,
		MessageID: targetMessageID,
		Body:      newBody,
	})
}

// SendDelete tombstones a previously-sent message.
func (e *Engine) SendDelete(ctx context.Context, chatID, peerChatKey, targetMessageID string) (string, error) {
	if existing, ok := e.stores.Messages.Get(targetMessageID); ok {
		existing.Deleted = true
		existing.Body = ""
		if err := e.stores.Messages.Put(existing); err != nil {
			return "", err
		}
	}
	return e.sendInner(ctx, chatID, peerChatKey, models.MessageTypeDelete, innerPayload{
		Kind:      innerDelete,
		MessageID: targetMessageID,
	})
}

// SendTyping sends a transient typing indicator. It is never persisted to
// the Messages store.
func (e *Engine) SendTyping(ctx context.Context, chatID, peerChatKey string, isTyping bool) error {
	if err := e.requireUnlocked(); err != nil {
		return err
	}
	raw, err := encodeInner(innerPayload{Kind: innerTyping, IsTyping: isTyping})
	if err != nil {
		return err
	}
	session, err := e.getOrCreateDMSession(chatID, peerChatKey)
	if err != nil {
		return err
	}
	mk, wireN := session.AdvanceSend()
	if err := e.saveSession(session); err != nil {
		return err
	}
	nonce, err := randomNonce()
	if err != nil {
		return err
	}
	ciphertext, err := sealWithKey(mk, nonce, raw)
	if err != nil {
		return err
	}
	myChatKey, err := e.myChatKey()
	if err != nil {
		return err
	}
	n := wireN
	env := envelope.Envelope{
		Type:           envelope.TypeDMMessage,
		Timestamp:      nowMillis(),
		ConversationID: chatID,
		MessageID:      newUUID(),
		FromPubKey:     myChatKey,
		N:              &n,
		Nonce:          nonce,
		Ciphertext:     ciphertext,
	}
	return e.publishEnvelope(ctx, topic.DMTopic(chatID), env)
}

// SendAttachmentMeta announces an attachment's name/mime/size/chunk count
// ahead of the chunk stream.
func (e *Engine) SendAttachmentMeta(ctx context.Context, chatID, peerChatKey, attachmentID, name, mime string, size int64, totalChunks int) (string, error) {
	if err := e.stores.Attachments.Put(models.Attachment{
		ID:          attachmentID,
		Name:        name,
		Mime:        mime,
		Size:        size,
		TotalChunks: totalChunks,
		Chunks:      make(map[int]string),
	}); err != nil {
		return "", err
	}
	return e.sendInner(ctx, chatID, peerChatKey, models.MessageTypeAttachmentMeta, innerPayload{
		Kind:         innerAttachmentMeta,
		AttachmentID: attachmentID,
		Name:         name,
		Mime:         mime,
		Size:         size,
		TotalChunks:  totalChunks,
	})
}

// SendAttachmentChunks splits data into AttachmentChunkSize pieces and
// sends each as its own sealed inner payload.
func (e *Engine) SendAttachmentChunks(ctx context.Context, chatID, peerChatKey, attachmentID string, data []byte) error {
	total := (len(data) + AttachmentChunkSize - 1) / AttachmentChunkSize
	if total == 0 {
		total = 1
	}
	for i := 0; i < total; i++ {
		start := i * AttachmentChunkSize
		end := start + AttachmentChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]
		if _, err := e.sendInner(ctx, chatID, peerChatKey, models.MessageTypeAttachmentChunk, innerPayload{
			Kind:         innerAttachmentChunk,
			AttachmentID: attachmentID,
			TotalChunks:  total,
			Index:        i,
			Data:         base64.StdEncoding.EncodeToString(chunk),
		}); err != nil {
			return err
		}
	}
	return nil
}
