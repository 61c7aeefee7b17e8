// Package transport is the pub/sub port the session engine publishes to
// and subscribes through. Content topics carry opaque bytes;
// the engine never assumes ordering, durability, or delivery guarantees
// from this port.
package transport

import "context"

// Port is the interface the session engine depends on. It is satisfied by
// InProcessBus (shipped here, for tests and single-process use) and is
// the seam a production deployment fills with a real gossip transport
// such as go-waku; that adapter is bootstrap infrastructure outside this
// engine's responsibility and is not vendored here.
type Port interface {
	Publish(ctx context.Context, contentTopic string, payload []byte) error
	Subscribe(ctx context.Context, contentTopic string, handler func([]byte)) error
	Unsubscribe(contentTopic string) error
}
