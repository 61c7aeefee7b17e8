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

// SendGroupInvite invites a single peer into a group: it persists the
// inviter's own accepted group Chat on first invite and publishes a
// sealed group_invite to the peer's inbox. The caller invokes
// this once per member being invited.
func (e *Engine) SendGroupInvite(ctx context.Context, groupID, groupName string, members []string, peerChatKey, introText string) (requestID string, err error) {
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
	if err := e.ensureGroupChat(ctx, groupID, groupName, members); err != nil {
		return "", err
	}

	// One outbound Request represents the whole invite round for this
	// group; inviting further members overwrites the same record.
	requestID = groupRequestID(groupID, myChatKey)
	nonce, ciphertext, err := e.sealRequestIntro(peerPub, requestIntro{
		Intro:     introText,
		GroupID:   groupID,
		GroupName: groupName,
		Members:   members,
	})
	if err != nil {
		return "", err
	}
	req := models.Request{
		ID:         requestID,
		Kind:       models.RequestKindGroup,
		FromPubKey: myChatKey,
		ToPubKey:   peerChatKey,
		Intro:      introText,
		Status:     models.RequestStatusPending,
		CreatedAt:  time.Now().UTC(),
		GroupID:    groupID,
		GroupName:  groupName,
		Members:    members,
	}
	if err := e.stores.Requests.Put(req); err != nil {
		return "", err
	}
	env := envelope.Envelope{
		Type:       envelope.TypeGroupInvite,
		Timestamp:  nowMillis(),
		FromPubKey: myChatKey,
		ToPubKey:   peerChatKey,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}
	return requestID, e.publishEnvelope(ctx, topic.InboxTopic(peerPub), env)
}

// ensureGroupChat creates the accepted group Chat on first use and
// subscribes the group topic, mirroring establishDMChat's DM-side
// subscription.
func (e *Engine) ensureGroupChat(ctx context.Context, groupID, groupName string, members []string) error {
	if err := e.subscribeOnce(ctx, topic.GroupTopic(groupID), e.dispatchInbound(ctx)); err != nil {
		return err
	}
	if _, ok := e.stores.Chats.Get(groupID); ok {
		return nil
	}
	return e.stores.Chats.Put(models.Chat{
		ID:           groupID,
		Kind:         models.ChatKindGroup,
		Title:        groupName,
		Participants: members,
		Accepted:     true,
		CreatedAt:    time.Now().UTC(),
	})
}

// groupRequestID is the normative Request id for a group invite:
// "<groupId>:<inviterChatKey>", identical on both the inviter's and
// every invitee's side.
func groupRequestID(groupID, inviterChatKey string) string {
	return groupID + ":" + inviterChatKey
}

// handleGroupInvite stores an inbound group invite as a pending Request;
// RespondToGroupInvite resolves it. A sealed intro that fails to open is
// replaced with the placeholder rather than dropping the invite, though
// without the plaintext the group id is unknown and the request falls
// back to a generated id.
func (e *Engine) handleGroupInvite(env envelope.Envelope) error {
	fromPub, err := encoding.ChatKeyDecode(env.FromPubKey)
	if err != nil {
		return nil
	}
	if state, ok := e.stores.RequestStates.Get(env.FromPubKey); ok && state.Status == models.RequestStatusBlocked {
		return nil
	}
	requestID := newUUID()
	intro, err := e.openRequestIntro(fromPub, env.Nonce, env.Ciphertext)
	if err != nil {
		intro = requestIntro{Intro: placeholderIntro}
	}
	if intro.GroupID != "" {
		requestID = groupRequestID(intro.GroupID, env.FromPubKey)
	}
	return e.stores.Requests.Put(models.Request{
		ID:         requestID,
		Kind:       models.RequestKindGroup,
		FromPubKey: env.FromPubKey,
		ToPubKey:   env.ToPubKey,
		Intro:      intro.Intro,
		Status:     models.RequestStatusPending,
		CreatedAt:  time.Now().UTC(),
		GroupID:    intro.GroupID,
		GroupName:  intro.GroupName,
		Members:    intro.Members,
	})
}

// RespondToGroupInvite resolves a pending group invite. Accepting creates
// the local group Chat; the notice published back to the inviter is
// purely informational and never mutates either side's group membership
// state.
func (e *Engine) RespondToGroupInvite(ctx context.Context, requestID string, decision models.RequestStatus) error {
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

	if decision == models.RequestStatusAccepted {
		if err := e.ensureGroupChat(ctx, req.GroupID, req.GroupName, req.Members); err != nil {
			return err
		}
		if err := e.rememberPeer(req.FromPubKey); err != nil {
			return err
		}
	}

	peerPub, err := encoding.ChatKeyDecode(req.FromPubKey)
	if err != nil {
		return ErrInvalidChatKey
	}
	myChatKey, err := e.myChatKey()
	if err != nil {
		return err
	}

	var envType envelope.Type
	switch decision {
	case models.RequestStatusAccepted:
		envType = envelope.TypeGroupAccepted
	case models.RequestStatusDeclined:
		envType = envelope.TypeGroupDeclined
	case models.RequestStatusBlocked:
		envType = envelope.TypeGroupBlocked
	default:
		return ErrUnknownChat
	}

	env := envelope.Envelope{
		Type:       envType,
		Timestamp:  nowMillis(),
		RequestID:  req.ID,
		GroupID:    req.GroupID,
		FromPubKey: myChatKey,
		ToPubKey:   req.FromPubKey,
	}
	return e.publishEnvelope(ctx, topic.InboxTopic(peerPub), env)
}

// handleGroupAccepted/Declined/Blocked record the notice for UI purposes
// only; group membership was already fixed when the invite was sent.
func (e *Engine) handleGroupAccepted(env envelope.Envelope) error {
	return nil
}

func (e *Engine) handleGroupDeclined(env envelope.Envelope) error {
	return nil
}

func (e *Engine) handleGroupBlocked(env envelope.Envelope) error {
	return nil
}

// sendGroupInner seals inner independently for every other group
// participant under that participant's pairwise ratchet session,
// publishes a single group_message envelope carrying the fanout,
// persists every advanced pairwise session, and records the local copy
// of the outbound message (mirroring sendInner's DM-side bookkeeping in
// outbound_dm.go).
func (e *Engine) sendGroupInner(ctx context.Context, groupID string, msgType models.MessageType, inner innerPayload) (messageID string, err error) {
	if err := e.requireUnlocked(); err != nil {
		return "", err
	}
	chat, ok := e.stores.Chats.Get(groupID)
	if !ok || chat.Kind != models.ChatKindGroup {
		return "", ErrUnknownChat
	}
	raw, err := encodeInner(inner)
	if err != nil {
		return "", err
	}
	myChatKey, err := e.myChatKey()
	if err != nil {
		return "", err
	}
	messageID = newUUID()
	entries := make([]envelope.SealedEntry, 0, len(chat.Participants))
	for _, member := range chat.Participants {
		if member == myChatKey {
			continue
		}
		session, err := e.getOrCreateGroupPairSession(groupID, member)
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
		entries = append(entries, envelope.SealedEntry{
			ToPubKey:   member,
			N:          wireN,
			Nonce:      nonce,
			Ciphertext: ciphertext,
		})
	}
	env := envelope.Envelope{
		Type:       envelope.TypeGroupMessage,
		Timestamp:  nowMillis(),
		GroupID:    groupID,
		MessageID:  messageID,
		FromPubKey: myChatKey,
		Sealed:     entries,
	}
	if err := e.publishEnvelope(ctx, topic.GroupTopic(groupID), env); err != nil {
		return "", err
	}

	if msgType == "" {
		return messageID, nil // transient (typing): no local record
	}
	local := models.Message{
		ID:         messageID,
		ChatID:     groupID,
		Type:       msgType,
		FromPubKey: myChatKey,
		Timestamp:  time.Now().UTC(),
		Status:     models.MessageStatusSent,
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
	e.metrics.sent()
	return messageID, nil
}

// SendGroupText sends a plaintext message to every other group member.
func (e *Engine) SendGroupText(ctx context.Context, groupID, body, replyTo string) (string, error) {
	return e.sendGroupInner(ctx, groupID, models.MessageTypeText, innerPayload{
		Kind:    innerText,
		Body:    body,
		ReplyTo: replyTo,
	})
}

// SendGroupReaction attaches an emoji reaction to an existing group
// message, fanned out to every other member.
func (e *Engine) SendGroupReaction(ctx context.Context, groupID, targetMessageID, emoji string) (string, error) {
	myChatKey, err := e.myChatKey()
	if err != nil {
		return "", err
	}
	messageID, err := e.sendGroupInner(ctx, groupID, models.MessageTypeReaction, innerPayload{
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

// SendGroupEdit replaces the body of a previously-sent group text message.
func (e *Engine) SendGroupEdit(ctx context.Context, groupID, targetMessageID, newBody string) (string, error) {
	if existing, ok := e.stores.Messages.Get(targetMessageID); ok {
		existing.Body = newBody
		existing.Edited = true
		if err := e.stores.Messages.Put(existing); err != nil {
			return "", err
		}
	}
	return e.sendGroupInner(ctx, groupID, models.MessageTypeEdit, innerPayload{
		Kind:      innerEdit,
		MessageID: targetMessageID,
		Body:      newBody,
	})
}

// SendGroupDelete tombstones a previously-sent group message.
func (e *Engine) SendGroupDelete(ctx context.Context, groupID, targetMessageID string) (string, error) {
	if existing, ok := e.stores.Messages.Get(targetMessageID); ok {
		existing.Deleted = true
		existing.Body = ""
		if err := e.stores.Messages.Put(existing); err != nil {
			return "", err
		}
	}
	return e.sendGroupInner(ctx, groupID, models.MessageTypeDelete, innerPayload{
		Kind:      innerDelete,
		MessageID: targetMessageID,
	})
}

// SendGroupTyping fans a transient typing indicator out to every other
// group member. Never persisted to the Messages store.
func (e *Engine) SendGroupTyping(ctx context.Context, groupID string, isTyping bool) error {
	_, err := e.sendGroupInner(ctx, groupID, "", innerPayload{Kind: innerTyping, IsTyping: isTyping})
	return err
}

// SendGroupAttachmentMeta announces an attachment to every other group
// member ahead of its chunk stream.
func (e *Engine) SendGroupAttachmentMeta(ctx context.Context, groupID, attachmentID, name, mime string, size int64, totalChunks int) (string, error) {
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
	return e.sendGroupInner(ctx, groupID, models.MessageTypeAttachmentMeta, innerPayload{
		Kind:         innerAttachmentMeta,
		AttachmentID: attachmentID,
		Name:         name,
		Mime:         mime,
		Size:         size,
		TotalChunks:  totalChunks,
	})
}

// SendGroupAttachmentChunks splits data into AttachmentChunkSize pieces
// and fans each out as its own sealed inner payload to every other group
// member.
func (e *Engine) SendGroupAttachmentChunks(ctx context.Context, groupID, attachmentID string, data []byte) error {
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
		if _, err := e.sendGroupInner(ctx, groupID, models.MessageTypeAttachmentChunk, innerPayload{
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

// handleGroupMessage finds the fanout entry addressed to the local
// identity, opens it under the sender's pairwise session, and applies the
// resulting inner payload.
func (e *Engine) handleGroupMessage(env envelope.Envelope) error {
	myChatKey, err := e.myChatKey()
	if err != nil {
		return err
	}
	var mine *envelope.SealedEntry
	for i := range env.Sealed {
		if env.Sealed[i].ToPubKey == myChatKey {
			mine = &env.Sealed[i]
			break
		}
	}
	if mine == nil {
		return nil // fanout entry not addressed to us
	}
	session, err := e.getOrCreateGroupPairSession(env.GroupID, env.FromPubKey)
	if err != nil {
		return err
	}
	var plaintext []byte
	mk, ok := session.DeriveReceive(mine.N)
	if ok {
		plaintext, err = openWithKey(mk, mine.Nonce, mine.Ciphertext)
		ok = err == nil
	}
	if !ok {
		session, plaintext, ok = e.reopenViaReseed(session.ConversationID, session.Kind, env.FromPubKey, mine.N, mine.Nonce, mine.Ciphertext)
	}
	if !ok {
		e.metrics.keyMismatch()
		return e.appendSystemMessage(env.GroupID, keyMismatchNotice, true)
	}
	if err := e.saveSession(session); err != nil {
		return err
	}
	inner, err := decodeInner(plaintext)
	if err != nil {
		return nil
	}
	e.metrics.received()
	return e.applyInnerPayload(env.GroupID, env.FromPubKey, env.MessageID, mine.N, inner)
}
