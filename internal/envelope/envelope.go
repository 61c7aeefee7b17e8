// Package envelope implements the versioned JSON wire envelope:
// a single flat struct tagged by its "type" field, encoded/decoded by
// hand rather than through generic dynamic JSON, so that malformed or
// unknown envelopes fail a single explicit gate instead of propagating a
// half-populated value into the session engine.
package envelope

import (
	"encoding/json"
	"errors"
)

// ErrBadInput covers every malformed-envelope case: bad JSON, missing
// type, unknown type, or a type missing its required fields. Callers
// drop the envelope silently on this error rather than surfacing it.
var ErrBadInput = errors.New("envelope: bad input")

const Version = 1

type Type string

const (
	TypeChatRequest   Type = "chat_request"
	TypeChatAccept    Type = "chat_accept"
	TypeChatDeclined  Type = "chat_declined"
	TypeChatBlocked   Type = "chat_blocked"
	TypeGroupInvite   Type = "group_invite"
	TypeGroupAccepted Type = "group_accepted"
	TypeGroupDeclined Type = "group_declined"
	TypeGroupBlocked  Type = "group_blocked"
	TypeDMMessage     Type = "dm_message"
	TypeDMAck         Type = "dm_ack"
	TypeGroupMessage  Type = "group_message"
)

// SealedEntry is one recipient's independently-sealed copy of a group
// message's inner payload.
type SealedEntry struct {
	ToPubKey   string `json:"toPubKey"`
	N          uint64 `json:"n"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Envelope is the flat, versioned wire shape shared by every envelope
// type. Fields not relevant to a given Type are left zero and omitted
// from JSON.
type Envelope struct {
	V         int   `json:"v"`
	Type      Type  `json:"type"`
	Timestamp int64 `json:"timestamp"`

	// chat_request / group_invite
	RequestID  string `json:"requestId,omitempty"`
	FromPubKey string `json:"fromPubKey,omitempty"`
	ToPubKey   string `json:"toPubKey,omitempty"`
	Nonce      []byte `json:"nonce,omitempty"`
	Ciphertext []byte `json:"ciphertext,omitempty"`

	// chat_accept / chat_declined / chat_blocked
	ConversationID string `json:"conversationId,omitempty"`

	// group_accepted / group_declined / group_blocked
	GroupID string `json:"groupId,omitempty"`

	// dm_message / dm_ack
	MessageID string  `json:"messageId,omitempty"`
	N         *uint64 `json:"n,omitempty"`

	// group_message
	Sealed []SealedEntry `json:"sealed,omitempty"`
}

// Encode serializes env as the normative JSON wire text.
func Encode(env Envelope) ([]byte, error) {
	env.V = Version
	return json.Marshal(env)
}

// Decode parses raw bytes into an Envelope, enforcing the v:1 gate and
// the required-field set for the envelope's declared type. Any failure
// collapses to ErrBadInput so callers apply a single drop policy.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, ErrBadInput
	}
	if env.V != Version {
		return Envelope{}, ErrBadInput
	}
	if err := validate(env); err != nil {
		return Envelope{}, ErrBadInput
	}
	return env, nil
}

func validate(env Envelope) error {
	nonEmpty := func(vals...string) bool {
		for _, v := range vals {
			if v == "" {
				return false
			}
		}
		return true
	}
	switch env.Type {
	case TypeChatRequest:
		if !nonEmpty(env.RequestID, env.FromPubKey, env.ToPubKey) || len(env.Nonce) == 0 || len(env.Ciphertext) == 0 {
			return ErrBadInput
		}
	case TypeChatAccept, TypeChatDeclined, TypeChatBlocked:
		if !nonEmpty(env.RequestID, env.FromPubKey, env.ToPubKey, env.ConversationID) {
			return ErrBadInput
		}
	case TypeGroupInvite:
		if !nonEmpty(env.FromPubKey, env.ToPubKey) || len(env.Nonce) == 0 || len(env.Ciphertext) == 0 {
			return ErrBadInput
		}
	case TypeGroupAccepted, TypeGroupDeclined, TypeGroupBlocked:
		if !nonEmpty(env.RequestID, env.GroupID, env.FromPubKey, env.ToPubKey) {
			return ErrBadInput
		}
	case TypeDMMessage:
		if !nonEmpty(env.ConversationID, env.MessageID, env.FromPubKey) || env.N == nil || len(env.Nonce) == 0 || len(env.Ciphertext) == 0 {
			return ErrBadInput
		}
	case TypeDMAck:
		if !nonEmpty(env.ConversationID, env.MessageID, env.FromPubKey, env.ToPubKey) {
			return ErrBadInput
		}
	case TypeGroupMessage:
		if !nonEmpty(env.GroupID, env.MessageID, env.FromPubKey) || len(env.Sealed) == 0 {
			return ErrBadInput
		}
		for _, s := range env.Sealed {
			if s.ToPubKey == "" || len(s.Nonce) == 0 || len(s.Ciphertext) == 0 {
				return ErrBadInput
			}
		}
	default:
		return ErrBadInput
	}
	return nil
}
