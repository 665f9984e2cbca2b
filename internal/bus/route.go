package bus

import "context"

type routeKey struct{}

type route struct {
	channel string
	chatID  string
}

// WithRoute binds the originating channel and chat to the context so
// tools invoked mid-turn can address replies to the right place.
func WithRoute(ctx context.Context, channel, chatID string) context.Context {
	return context.WithValue(ctx, routeKey{}, route{channel: channel, chatID: chatID})
}

// RouteFrom extracts the channel and chat a turn belongs to.
func RouteFrom(ctx context.Context) (channel, chatID string, ok bool) {
	r, ok := ctx.Value(routeKey{}).(route)
	if !ok {
		return "", "", false
	}
	return r.channel, r.chatID, true
}
