package storage

import (
	"path/filepath"

	"github.com/atharhussain12/sturdy-couscous-chat/internal/ratchet"
	"github.com/atharhussain12/sturdy-couscous-chat/pkg/models"
)

// IdentityStore holds the single local Identity record, keyed by its raw
// public-key bytes (as a string) so the same KeyedStore machinery applies uniformly
// even though there is only ever one row.
type IdentityStore = KeyedStore[string, models.Identity]

// PeerStore, RequestStore, RequestStateStore, ChatStore, MessageStore,
// ReactionStore, AttachmentStore are the remaining persistence-port
// stores.
type PeerStore = KeyedStore[string, models.Peer]
type RequestStore = KeyedStore[string, models.Request]
type RequestStateStore = KeyedStore[string, models.RequestState]
type ChatStore = KeyedStore[string, models.Chat]
type MessageStore = KeyedStore[string, models.Message]
type ReactionStore = KeyedStore[string, models.Reaction]
type AttachmentStore = KeyedStore[string, models.Attachment]

// SessionStore persists ratchet.Session by a composite
// "conversationId|peerPubKey" key, since a single conversation id can
// host more than one peer session in the group case.
type SessionStore = KeyedStore[string, ratchet.Session]

func SessionKey(conversationID, peerPubKey string) string {
	return conversationID + "|" + peerPubKey
}

func NewIdentityStore() *IdentityStore {
	return NewKeyedStore(func(i models.Identity) string { return encodeIdentityKey(i.PublicKey) })
}

func NewPeerStore() *PeerStore {
	return NewKeyedStore(func(p models.Peer) string { return p.ChatKey })
}

func NewRequestStore() *RequestStore {
	return NewKeyedStore(func(r models.Request) string { return r.ID })
}

func NewRequestStateStore() *RequestStateStore {
	return NewKeyedStore(func(r models.RequestState) string { return r.PeerPubKey })
}

func NewChatStore() *ChatStore {
	return NewKeyedStore(func(c models.Chat) string { return c.ID })
}

func NewMessageStore() *MessageStore {
	return NewKeyedStore(func(m models.Message) string { return m.ID })
}

func NewReactionStore() *ReactionStore {
	return NewKeyedStore(func(r models.Reaction) string { return r.ID })
}

func NewAttachmentStore() *AttachmentStore {
	return NewKeyedStore(func(a models.Attachment) string { return a.ID })
}

func NewSessionStore() *SessionStore {
	return NewKeyedStore(func(s ratchet.Session) string { return SessionKey(s.ConversationID, s.PeerPubKey) })
}

func encodeIdentityKey(pub []byte) string {
	return string(pub)
}

// Stores bundles every persistence-port store the engine needs, the unit
// backup/restore operates on as a whole.
type Stores struct {
	Identity      *IdentityStore
	Peers         *PeerStore
	Requests      *RequestStore
	RequestStates *RequestStateStore
	Chats         *ChatStore
	Sessions      *SessionStore
	Messages      *MessageStore
	Reactions     *ReactionStore
	Attachments   *AttachmentStore
}

// NewInMemoryStores wires an all-in-memory Stores bundle, the shape the
// engine tests substitute for the file-backed one.
func NewInMemoryStores() *Stores {
	return &Stores{
		Identity:      NewIdentityStore(),
		Peers:         NewPeerStore(),
		Requests:      NewRequestStore(),
		RequestStates: NewRequestStateStore(),
		Chats:         NewChatStore(),
		Sessions:      NewSessionStore(),
		Messages:      NewMessageStore(),
		Reactions:     NewReactionStore(),
		Attachments:   NewAttachmentStore(),
	}
}

// NewEncryptedFileStores wires a Stores bundle backed by one encrypted
// snapshot file per record kind under dir, each sealed under passphrase
// with the same PBKDF2/AES-GCM envelope the backup format uses.
func NewEncryptedFileStores(dir, passphrase string) (*Stores, error) {
	identity, err := NewEncryptedFileKeyedStore(filepath.Join(dir, "identity.enc"), passphrase, func(i models.Identity) string { return encodeIdentityKey(i.PublicKey) })
	if err != nil {
		return nil, err
	}
	peers, err := NewEncryptedFileKeyedStore(filepath.Join(dir, "peers.enc"), passphrase, func(p models.Peer) string { return p.ChatKey })
	if err != nil {
		return nil, err
	}
	requests, err := NewEncryptedFileKeyedStore(filepath.Join(dir, "requests.enc"), passphrase, func(r models.Request) string { return r.ID })
	if err != nil {
		return nil, err
	}
	requestStates, err := NewEncryptedFileKeyedStore(filepath.Join(dir, "request_states.enc"), passphrase, func(r models.RequestState) string { return r.PeerPubKey })
	if err != nil {
		return nil, err
	}
	chats, err := NewEncryptedFileKeyedStore(filepath.Join(dir, "chats.enc"), passphrase, func(c models.Chat) string { return c.ID })
	if err != nil {
		return nil, err
	}
	sessions, err := NewEncryptedFileKeyedStore(filepath.Join(dir, "sessions.enc"), passphrase, func(s ratchet.Session) string { return SessionKey(s.ConversationID, s.PeerPubKey) })
	if err != nil {
		return nil, err
	}
	messages, err := NewEncryptedFileKeyedStore(filepath.Join(dir, "messages.enc"), passphrase, func(m models.Message) string { return m.ID })
	if err != nil {
		return nil, err
	}
	reactions, err := NewEncryptedFileKeyedStore(filepath.Join(dir, "reactions.enc"), passphrase, func(r models.Reaction) string { return r.ID })
	if err != nil {
		return nil, err
	}
	attachments, err := NewEncryptedFileKeyedStore(filepath.Join(dir, "attachments.enc"), passphrase, func(a models.Attachment) string { return a.ID })
	if err != nil {
		return nil, err
	}
	return &Stores{
		Identity:      identity,
		Peers:         peers,
		Requests:      requests,
		RequestStates: requestStates,
		Chats:         chats,
		Sessions:      sessions,
		Messages:      messages,
		Reactions:     reactions,
		Attachments:   attachments,
	}, nil
}
