package bus

import (
	"context"
	"log"
	"sync"
	"time"
)

type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// ThreadID identifies the conversation this message belongs to. One
// chat per channel maps to one orchestrator thread.
func (m *InboundMessage) ThreadID() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	// Emotion, when set, asks the channel to deliver a sticker for the
	// named emotion instead of (or in addition to) text.
	Emotion string
}

type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers the delivery function for a channel name.
func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = fn
}

// DispatchOutbound routes outbound messages to their channel's
// subscriber until ctx is cancelled.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			fn := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if fn == nil {
				log.Printf("[bus] no subscriber for channel %s, dropping message", msg.Channel)
				continue
			}
			fn(msg)
		case <-ctx.Done():
			return
		}
	}
}
