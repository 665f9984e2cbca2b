package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestThreadID(t *testing.T) {
	msg := InboundMessage{Channel: "telegram", ChatID: "42"}
	if got := msg.ThreadID(); got != "telegram:42" {
		t.Errorf("ThreadID = %q", got)
	}
}

func TestDispatchOutbound(t *testing.T) {
	b := NewMessageBus(10)

	var mu sync.Mutex
	var got []OutboundMessage
	b.SubscribeOutbound("telegram", func(msg OutboundMessage) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{Channel: "telegram", ChatID: "1", Content: "hi"}
	// Unknown channels are dropped, not delivered elsewhere.
	b.Outbound <- OutboundMessage{Channel: "discord", ChatID: "1", Content: "lost"}
	b.Outbound <- OutboundMessage{Channel: "telegram", ChatID: "1", Content: "again"}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("delivered %d messages, want 2", n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0].Content != "hi" || got[1].Content != "again" {
		t.Errorf("delivered = %+v", got)
	}
}

func TestRoute(t *testing.T) {
	ctx := WithRoute(context.Background(), "telegram", "42")
	channel, chatID, ok := RouteFrom(ctx)
	if !ok || channel != "telegram" || chatID != "42" {
		t.Errorf("RouteFrom = %q %q %v", channel, chatID, ok)
	}

	if _, _, ok := RouteFrom(context.Background()); ok {
		t.Error("RouteFrom on a bare context should report no route")
	}
}
