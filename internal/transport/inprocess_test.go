package transport

import (
	"context"
	"testing"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewInProcessBus(0, 0)
	received := make(chan []byte, 1)
	if err := bus.Subscribe(context.Background(), "topic-a", func(b []byte) { received <- b }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(context.Background(), "topic-a", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-received:
		if string(got) != "hello" {
			t.Fatalf("unexpected payload: %q", got)
		}
	default:
		t.Fatal("expected handler to run synchronously")
	}
}

func TestRedundantSubscribeIsNoOp(t *testing.T) {
	bus := NewInProcessBus(0, 0)
	first := 0
	second := 0
	_ = bus.Subscribe(context.Background(), "t", func([]byte) { first++ })
	_ = bus.Subscribe(context.Background(), "t", func([]byte) { second++ })
	_ = bus.Publish(context.Background(), "t", []byte("x"))
	if first != 1 || second != 0 {
		t.Fatalf("expected only the first subscriber to fire, got first=%d second=%d", first, second)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewInProcessBus(0, 0)
	fired := false
	_ = bus.Subscribe(context.Background(), "t", func([]byte) { fired = true })
	if err := bus.Unsubscribe("t"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	_ = bus.Publish(context.Background(), "t", []byte("x"))
	if fired {
		t.Fatal("expected no delivery after unsubscribe")
	}
	if bus.Subscribed("t") {
		t.Fatal("expected topic to no longer be subscribed")
	}
}

func TestLoadConfigDefaultsWhenEnvAbsent(t *testing.T) {
	t.Setenv(bootstrapEnvVar, "")
	cfg := LoadConfig()
	if len(cfg.BootstrapNodes) == 0 {
		t.Fatal("expected default bootstrap nodes")
	}
}

func TestLoadConfigParsesCommaSeparatedList(t *testing.T) {
	t.Setenv(bootstrapEnvVar, " /addr/one, /addr/two ")
	cfg := LoadConfig()
	if len(cfg.BootstrapNodes) != 2 || cfg.BootstrapNodes[0] != "/addr/one" || cfg.BootstrapNodes[1] != "/addr/two" {
		t.Fatalf("unexpected parsed nodes: %+v", cfg.BootstrapNodes)
	}
}
