package channel

import (
	"context"

	"github.com/stellarlinkco/yui/internal/bus"
)

// Channel is a chat transport. Start begins receiving inbound messages
// and pushing them onto the bus; Send delivers one outbound message.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// BaseChannel carries the pieces every transport shares: name, bus
// access and the sender allow-list.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]struct{}
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	ch := BaseChannel{name: name, bus: b}
	if len(allowFrom) > 0 {
		ch.allowFrom = make(map[string]struct{}, len(allowFrom))
		for _, id := range allowFrom {
			ch.allowFrom[id] = struct{}{}
		}
	}
	return ch
}

func (c *BaseChannel) Name() string { return c.name }

// IsAllowed reports whether a sender passes the allow-list. An empty
// list allows everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if c.allowFrom == nil {
		return true
	}
	_, ok := c.allowFrom[senderID]
	return ok
}
