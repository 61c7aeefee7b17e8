package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atharhussain12/sturdy-couscous-chat/internal/domains/identity"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/encoding"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/ratchet"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/storage"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/topic"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/transport"
	"github.com/atharhussain12/sturdy-couscous-chat/pkg/models"
)

// AttachmentChunkSize is the fixed plaintext chunk size an attachment is
// split into before each chunk is sealed as its own inner payload.
const AttachmentChunkSize = 20000

var (
	errBadInnerPayload = errors.New("usecase: malformed inner payload")
	ErrLocked          = errors.New("usecase: identity is locked")
	ErrUnknownChat     = errors.New("usecase: chat not found or not accepted")
	ErrInvalidChatKey  = errors.New("usecase: invalid chat key")
)

// Engine owns the handshake state machine, per-peer ratchets, group
// pairwise fanout, and the inbound decrypt/apply/ack pipeline. The engine
// is the single state owner; Sessions never hold a reference back into
// it, every lookup goes through Stores.Sessions by conversation id.
type Engine struct {
	identity  *identity.Manager
	stores    *storage.Stores
	transport transport.Port
	metrics   *Metrics

	typingMu sync.RWMutex
	typing   map[typingKey]bool

	activeMu     sync.RWMutex
	activeChatID string

	subscribedOnce sync.Map // contentTopic -> struct{}, per-engine subscribe-once gate
}

type typingKey struct {
	chatID     string
	fromPubKey string
}

func New(idMgr *identity.Manager, stores *storage.Stores, tp transport.Port, metrics *Metrics) *Engine {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Engine{
		identity:  idMgr,
		stores:    stores,
		transport: tp,
		metrics:   metrics,
		typing:    make(map[typingKey]bool),
	}
}

// subscribeRetryWait bounds the single retry a failed topic subscription
// gets before the failure is reported.
const subscribeRetryWait = 2 * time.Second

// Start subscribes the engine's own inbox topic so out-of-session traffic
// (requests, accepts, invites, acks) reaches HandleInbound, then
// re-subscribes the topic of every persisted accepted chat. A chat-topic
// failure is logged and skipped rather than aborting the remaining
// subscriptions.
func (e *Engine) Start(ctx context.Context) error {
	pub, err := e.identity.PublicKey()
	if err != nil {
		return err
	}
	if err := e.subscribeOnce(ctx, topic.InboxTopic(pub), e.dispatchInbound(ctx)); err != nil {
		return err
	}
	for _, chat := range e.stores.Chats.GetAll() {
		if !chat.Accepted {
			continue
		}
		var contentTopic string
		switch chat.Kind {
		case models.ChatKindDM:
			contentTopic = topic.DMTopic(chat.ID)
		case models.ChatKindGroup:
			contentTopic = topic.GroupTopic(chat.ID)
		default:
			continue
		}
		if err := e.subscribeOnce(ctx, contentTopic, e.dispatchInbound(ctx)); err != nil {
			e.identity.LogError("subscribe " + contentTopic + ": " + err.Error())
		}
	}
	return nil
}

func (e *Engine) subscribeOnce(ctx context.Context, contentTopic string, handler func([]byte)) error {
	if _, already := e.subscribedOnce.LoadOrStore(contentTopic, struct{}{}); already {
		return nil
	}
	err := e.transport.Subscribe(ctx, contentTopic, handler)
	if err != nil {
		select {
		case <-ctx.Done():
			e.subscribedOnce.Delete(contentTopic)
			return ctx.Err()
		case <-time.After(subscribeRetryWait):
		}
		err = e.transport.Subscribe(ctx, contentTopic, handler)
	}
	if err != nil {
		e.subscribedOnce.Delete(contentTopic)
	}
	return err
}

// SetActiveChat records which conversation the user is currently viewing;
// inbound text for any other conversation bumps that chat's unread
// counter. An empty id means no chat is active.
func (e *Engine) SetActiveChat(chatID string) {
	e.activeMu.Lock()
	e.activeChatID = chatID
	e.activeMu.Unlock()
}

func (e *Engine) activeChat() string {
	e.activeMu.RLock()
	defer e.activeMu.RUnlock()
	return e.activeChatID
}

func (e *Engine) dispatchInbound(ctx context.Context) func([]byte) {
	return func(raw []byte) {
		if err := e.HandleInbound(ctx, raw); err != nil {
			e.identity.LogError(err.Error())
		}
	}
}

func newUUID() string {
	return uuid.NewString()
}

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

func (e *Engine) myChatKey() (string, error) {
	return e.identity.ChatKey()
}

func (e *Engine) myPublicKey() ([]byte, error) {
	return e.identity.PublicKey()
}

func (e *Engine) mySecretKey() ([]byte, error) {
	return e.identity.SecretKey()
}

// requireUnlocked gates every outbound command: while the identity is
// locked the command fails with ErrLocked and the failure lands in the
// bounded error log instead of reaching the wire.
func (e *Engine) requireUnlocked() error {
	if e.identity.IsUnlocked() {
		return nil
	}
	e.identity.LogError(ErrLocked.Error())
	return ErrLocked
}

// getOrCreateDMSession fetches the persisted ratchet session for a DM
// conversation, seeding it from the DH shared secret on first use.
func (e *Engine) getOrCreateDMSession(conversationID, peerChatKey string) (*ratchet.Session, error) {
	return e.getOrCreateSession(conversationID, ratchet.KindDM, peerChatKey)
}

// getOrCreateGroupPairSession fetches or seeds the pairwise ratchet
// session shared by the local identity and one group member.
func (e *Engine) getOrCreateGroupPairSession(groupID, peerChatKey string) (*ratchet.Session, error) {
	myChatKey, err := e.myChatKey()
	if err != nil {
		return nil, err
	}
	sessionID := topic.GroupSessionID(groupID, myChatKey, peerChatKey)
	return e.getOrCreateSession(sessionID, ratchet.KindGroup, peerChatKey)
}

func (e *Engine) getOrCreateSession(conversationID string, kind ratchet.Kind, peerChatKey string) (*ratchet.Session, error) {
	key := storage.SessionKey(conversationID, peerChatKey)
	if existing, ok := e.stores.Sessions.Get(key); ok {
		return &existing, nil
	}
	mySec, err := e.mySecretKey()
	if err != nil {
		return nil, err
	}
	myPub, err := e.myPublicKey()
	if err != nil {
		return nil, err
	}
	peerPub, err := encoding.ChatKeyDecode(peerChatKey)
	if err != nil {
		return nil, ErrInvalidChatKey
	}
	session, err := ratchet.Seed(conversationID, kind, mySec, myPub, peerPub, peerChatKey)
	if err != nil {
		return nil, err
	}
	if err := e.stores.Sessions.Put(*session); err != nil {
		return nil, err
	}
	return session, nil
}

func (e *Engine) saveSession(s *ratchet.Session) error {
	return e.stores.Sessions.Put(*s)
}

// touchChatOnInbound stamps LastMessageAt and bumps the unread counter
// when the message landed in a conversation the user is not currently
// viewing.
func (e *Engine) touchChatOnInbound(chatID string) error {
	chat, ok := e.stores.Chats.Get(chatID)
	if !ok {
		return nil
	}
	chat.LastMessageAt = time.Now().UTC()
	if e.activeChat() != chatID {
		chat.UnreadCount++
	}
	return e.stores.Chats.Put(chat)
}

// MarkChatRead zeroes a chat's unread counter, the UI-facing counterpart
// of touchChatOnInbound.
func (e *Engine) MarkChatRead(chatID string) error {
	chat, ok := e.stores.Chats.Get(chatID)
	if !ok || chat.UnreadCount == 0 {
		return nil
	}
	chat.UnreadCount = 0
	return e.stores.Chats.Put(chat)
}

// rememberPeer records a correspondent in the peers store the first time
// a conversation with them is established.
func (e *Engine) rememberPeer(chatKey string) error {
	if _, ok := e.stores.Peers.Get(chatKey); ok {
		return nil
	}
	return e.stores.Peers.Put(models.Peer{ChatKey: chatKey, CreatedAt: time.Now().UTC()})
}

func (e *Engine) appendSystemMessage(chatID, body string, keyMismatch bool) error {
	return e.stores.Messages.Put(models.Message{
		ID:          newUUID(),
		ChatID:      chatID,
		Type:        models.MessageTypeSystem,
		Body:        body,
		Timestamp:   time.Now().UTC(),
		KeyMismatch: keyMismatch,
	})
}
