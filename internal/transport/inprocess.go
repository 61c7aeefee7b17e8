package transport

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// InProcessBus is an in-memory implementation of Port: publish delivers
// synchronously to the handler currently subscribed on the topic. A topic
// carries at most one handler per process and redundant subscribe
// requests are no-ops; tests substitute this bus for the real gossip
// transport.
type InProcessBus struct {
	mu          sync.RWMutex
	subscribers map[string]func([]byte)
	limiter     *rate.Limiter
	published   int
}

// NewInProcessBus returns a bus with a token-bucket publish limiter on
// the transport-facing edge. publishRPS<=0 disables limiting.
func NewInProcessBus(publishRPS float64, burst int) *InProcessBus {
	var limiter *rate.Limiter
	if publishRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(publishRPS), burst)
	}
	return &InProcessBus{subscribers: make(map[string]func([]byte)), limiter: limiter}
}

func (b *InProcessBus) Publish(ctx context.Context, contentTopic string, payload []byte) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	b.mu.RLock()
	handler, ok := b.subscribers[contentTopic]
	b.mu.RUnlock()
	b.mu.Lock()
	b.published++
	b.mu.Unlock()
	if !ok {
		return nil
	}
	handler(payload)
	return nil
}

// Subscribe registers handler for contentTopic. A second subscribe on the
// same topic is a no-op, so the first handler wins for the lifetime of
// the process (or until Unsubscribe is called).
func (b *InProcessBus) Subscribe(ctx context.Context, contentTopic string, handler func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, already := b.subscribers[contentTopic]; already {
		return nil
	}
	b.subscribers[contentTopic] = handler
	return nil
}

func (b *InProcessBus) Unsubscribe(contentTopic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, contentTopic)
	return nil
}

// Subscribed reports whether a handler is currently registered for topic,
// used by the bus's own tests.
func (b *InProcessBus) Subscribed(contentTopic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subscribers[contentTopic]
	return ok
}
