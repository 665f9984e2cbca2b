package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Contact is one known chat entity.
type Contact struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Kind     string `json:"type"`
}

var validContactKinds = map[string]bool{
	"user": true, "bot": true, "group": true, "channel": true, "chat": true, "all": true,
}

// ContactSource enumerates known contacts; the transport layer decides
// what it knows about.
type ContactSource interface {
	Contacts(kind string, count int) []Contact
}

// ContactsTool exposes the contact directory to the model.
type ContactsTool struct {
	source ContactSource
}

func NewContactsTool(source ContactSource) *ContactsTool {
	return &ContactsTool{source: source}
}

func (t *ContactsTool) Name() string { return "fetch_contact_entities" }

func (t *ContactsTool) Description() string {
	return "List known contacts and chats by type (user, bot, group, channel, chat, or all)."
}

func (t *ContactsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{
				"type":        "string",
				"description": "Entity type filter",
				"enum":        []string{"user", "bot", "group", "channel", "chat", "all"},
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Maximum number of entities to return",
			},
		},
		"required": []string{"type"},
	}
}

func (t *ContactsTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	kind, _ := args["type"].(string)
	kind = strings.ToLower(strings.TrimSpace(kind))
	if !validContactKinds[kind] {
		return "", fmt.Errorf("invalid entity type %q", kind)
	}

	count := 10
	if raw, ok := args["count"].(float64); ok && raw > 0 {
		count = int(raw)
	}

	if t.source == nil {
		return "", fmt.Errorf("contact directory is not configured")
	}

	contacts := t.source.Contacts(kind, count)
	if len(contacts) == 0 {
		return "no contacts of that type", nil
	}

	data, err := json.Marshal(contacts)
	if err != nil {
		return "", fmt.Errorf("marshal contacts: %w", err)
	}
	return string(data), nil
}

// Directory is an in-memory ContactSource fed from observed traffic.
type Directory struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

func NewDirectory() *Directory {
	return &Directory{contacts: make(map[string]Contact)}
}

// Observe records (or refreshes) a contact seen on a channel.
func (d *Directory) Observe(c Contact) {
	if c.ID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[c.ID] = c
}

func (d *Directory) Contacts(kind string, count int) []Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Contact, 0, len(d.contacts))
	for _, c := range d.contacts {
		if kind == "all" || c.Kind == kind {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out
}
