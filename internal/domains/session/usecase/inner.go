// Package usecase is the session engine: the handshake state machine,
// per-peer sessions, group pairwise fanout, the inbound decrypt/apply/ack
// pipeline, and rekey.
package usecase

import (
	"encoding/json"
)

// innerKind enumerates the payload carried inside every sealed envelope.
type innerKind string

const (
	innerText            innerKind = "text"
	innerReaction        innerKind = "reaction"
	innerEdit            innerKind = "edit"
	innerDelete          innerKind = "delete"
	innerTyping          innerKind = "typing"
	innerAttachmentMeta  innerKind = "attachment_meta"
	innerAttachmentChunk innerKind = "attachment_chunk"
	innerRekey           innerKind = "rekey"
)

// innerPayload is the flat, hand-parsed shape of the plaintext sealed
// inside every dm_message/group_message entry, mirroring the outer
// envelope's tagged-variant-by-string convention.
type innerPayload struct {
	Kind innerKind `json:"kind"`

	// text
	Body    string `json:"body,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`

	// reaction
	MessageID string `json:"messageId,omitempty"`
	Emoji     string `json:"emoji,omitempty"`

	// typing
	IsTyping bool `json:"isTyping,omitempty"`

	// attachment_meta / attachment_chunk
	AttachmentID string `json:"attachmentId,omitempty"`
	Name         string `json:"name,omitempty"`
	Mime         string `json:"mime,omitempty"`
	Size         int64  `json:"size,omitempty"`
	TotalChunks  int    `json:"totalChunks,omitempty"`
	Index        int    `json:"index,omitempty"`
	Data         string `json:"data,omitempty"`
}

func encodeInner(p innerPayload) ([]byte, error) {
	return json.Marshal(p)
}

func decodeInner(raw []byte) (innerPayload, error) {
	var p innerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return innerPayload{}, errBadInnerPayload
	}
	switch p.Kind {
	case innerText, innerReaction, innerEdit, innerDelete, innerTyping, innerAttachmentMeta, innerAttachmentChunk, innerRekey:
		return p, nil
	default:
		return innerPayload{}, errBadInnerPayload
	}
}
