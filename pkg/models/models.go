// Package models holds the persisted record shapes shared across the
// identity, session, and backup domains.
package models

import "time"

type RequestKind string

const (
	RequestKindDM    RequestKind = "dm"
	RequestKindGroup RequestKind = "group"
)

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusDeclined RequestStatus = "declined"
	RequestStatusBlocked  RequestStatus = "blocked"
)

type ChatKind string

const (
	ChatKindDM    ChatKind = "dm"
	ChatKindGroup ChatKind = "group"
)

type MessageType string

const (
	MessageTypeText            MessageType = "text"
	MessageTypeReaction        MessageType = "reaction"
	MessageTypeEdit            MessageType = "edit"
	MessageTypeDelete          MessageType = "delete"
	MessageTypeTyping          MessageType = "typing"
	MessageTypeAttachmentMeta  MessageType = "attachment_meta"
	MessageTypeAttachmentChunk MessageType = "attachment_chunk"
	MessageTypeSystem          MessageType = "system"
	MessageTypeRekey           MessageType = "rekey"
)

type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
)

// Identity is the installation's long-term curve25519 key pair. SecretSeal
// holds the passphrase-encrypted secret key; the unsealed key never touches
// this struct and lives only in the identity manager's memory after Unlock.
type Identity struct {
	PublicKey  []byte       `json:"public_key"`
	SecretSeal SealedSecret `json:"secret_seal"`
	CreatedAt  time.Time    `json:"created_at"`
}

// SealedSecret is an AEAD ciphertext plus the parameters needed to
// re-derive the key that produced it.
type SealedSecret struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Salt       []byte `json:"salt"`
}

// Peer is a correspondent the local identity has an accepted conversation
// with, keyed by chat-key. Alias is local-only display state and never
// travels on the wire.
type Peer struct {
	ChatKey   string    `json:"chat_key"`
	Alias     string    `json:"alias,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestState is the per-peer rollup of the handshake state machine,
// keyed by the remote chat-key. It answers "what is my standing with this
// peer" without scanning individual Request records, and is what the
// blocked-sender check consults on every inbound request.
type RequestState struct {
	PeerPubKey string        `json:"peer_pub_key"`
	Status     RequestStatus `json:"status"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Request is a pending or resolved handshake record.
type Request struct {
	ID         string        `json:"id"`
	Kind       RequestKind   `json:"kind"`
	FromPubKey string        `json:"from_pub_key"`
	ToPubKey   string        `json:"to_pub_key"`
	Intro      string        `json:"intro"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	GroupID    string        `json:"group_id,omitempty"`
	GroupName  string        `json:"group_name,omitempty"`
	Members    []string      `json:"members,omitempty"`
}

// Chat is a mutually-accepted conversation.
type Chat struct {
	ID            string    `json:"id"`
	Kind          ChatKind  `json:"kind"`
	Title         string    `json:"title"`
	Participants  []string  `json:"participants"`
	Accepted      bool      `json:"accepted"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int       `json:"unread_count"`
}

// Message is an application-level chat event, immutable except for
// Status, Edited, Deleted and KeyMismatch (and Body, which edits replace
// and deletes clear).
type Message struct {
	ID           string        `json:"id"`
	ChatID       string        `json:"chat_id"`
	Type         MessageType   `json:"type"`
	FromPubKey   string        `json:"from_pub_key"`
	Body         string        `json:"body,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	Status       MessageStatus `json:"status,omitempty"`
	N            *uint64       `json:"n,omitempty"`
	ReplyTo      string        `json:"reply_to,omitempty"`
	Edited       bool          `json:"edited,omitempty"`
	Deleted      bool          `json:"deleted,omitempty"`
	KeyMismatch  bool          `json:"key_mismatch,omitempty"`
	AttachmentID string        `json:"attachment_id,omitempty"`
}

type Reaction struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	FromPubKey string    `json:"from_pub_key"`
	Emoji      string    `json:"emoji"`
	Timestamp  time.Time `json:"timestamp"`
}

// Attachment accumulates base64 chunks keyed by index until every index
// from 0..TotalChunks-1 has arrived, at which point Data holds the
// concatenated plaintext and Complete flips true.
type Attachment struct {
	ID             string         `json:"id"`
	MessageID      string         `json:"message_id"`
	Name           string         `json:"name"`
	Mime           string         `json:"mime"`
	Size           int64          `json:"size"`
	TotalChunks    int            `json:"total_chunks"`
	ReceivedChunks int            `json:"received_chunks"`
	Chunks         map[int]string `json:"chunks"`
	Complete       bool           `json:"complete"`
	Data           []byte         `json:"data,omitempty"`
}
