package dialog

import (
	"github.com/google/uuid"
	"github.com/stellarlinkco/yui/internal/memory"
	"github.com/stellarlinkco/yui/internal/profile"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// ToolCall is a tool invocation carried on an assistant message.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Message is one conversation entry. Messages are immutable after
// creation; only eviction removes them.
type Message struct {
	ID         string     `json:"id"`
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

func NewMessage(role, content string) Message {
	return Message{ID: uuid.NewString(), Role: role, Content: content}
}

// State is the full conversation state of one thread, checkpointed
// between stages.
type State struct {
	ThreadID       string          `json:"thread_id"`
	UserID         string          `json:"user_id,omitempty"`
	Messages       []Message       `json:"messages"`
	Summary        string          `json:"summary,omitempty"`
	RelevantMemory []memory.View   `json:"relevant_memory,omitempty"`
	Profile        profile.Profile `json:"profile,omitempty"`
	// LastError records the most recent degraded stage, for operators;
	// it never aborts a turn.
	LastError string `json:"last_error,omitempty"`
}

func NewState(threadID, userID string) *State {
	return &State{ThreadID: threadID, UserID: userID}
}

// Clone copies the state so a stage can work without exposing partial
// writes. Messages are immutable, so the element copy is enough; the
// profile map is copied one level deep because stages replace values
// wholesale rather than mutating nested structures in place.
func (s *State) Clone() *State {
	c := &State{
		ThreadID:  s.ThreadID,
		UserID:    s.UserID,
		Summary:   s.Summary,
		LastError: s.LastError,
	}
	if s.Messages != nil {
		c.Messages = make([]Message, len(s.Messages))
		copy(c.Messages, s.Messages)
	}
	if s.RelevantMemory != nil {
		c.RelevantMemory = make([]memory.View, len(s.RelevantMemory))
		copy(c.RelevantMemory, s.RelevantMemory)
	}
	if s.Profile != nil {
		c.Profile = make(profile.Profile, len(s.Profile))
		for k, v := range s.Profile {
			c.Profile[k] = v
		}
	}
	return c
}

func (s *State) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// LastUserContent returns the content of the most recent user message.
func (s *State) LastUserContent() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}
