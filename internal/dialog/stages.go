package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/stellarlinkco/yui/internal/llm"
	"github.com/stellarlinkco/yui/internal/memory"
	"github.com/stellarlinkco/yui/internal/profile"
	"github.com/stellarlinkco/yui/internal/tools"
)

// Generator produces the assistant reply, possibly requesting tool
// invocations.
type Generator interface {
	Chat(ctx context.Context, messages []llm.ChatMessage, specs []llm.ToolSpec) (*llm.ChatResult, error)
}

// MemoryStore is the slice of the memory layer the machine needs.
// Both methods degrade internally and never fail a turn.
type MemoryStore interface {
	Retrieve(ctx context.Context, query string, k int) []memory.View
	StoreExchange(ctx context.Context, query, response string, keywords []string)
}

// ProfileStore loads and persists the durable user profile.
type ProfileStore interface {
	Load() profile.Profile
	Save(p profile.Profile) error
}

// ProfileUpdater proposes and validates profile changes from a
// conversation window.
type ProfileUpdater interface {
	Update(ctx context.Context, current profile.Profile, window []profile.Pair) (profile.Profile, error)
}

// Dispatcher executes tool calls and advertises the available tools.
type Dispatcher interface {
	Dispatch(ctx context.Context, calls []tools.Call) []tools.Result
	List() []tools.Tool
}

// SummaryWriter folds messages into a running summary.
type SummaryWriter interface {
	Summarize(ctx context.Context, existing string, messages []Message) (string, error)
}

// apologyReply is sent when reply generation fails outright.
const apologyReply = "Gomen... something went wrong on my side. Could you say that again? (>_<)"

func (m *Machine) runMemoryRetrieval(ctx context.Context, st *State) error {
	query := st.LastUserContent()
	if query == "" || m.mem == nil {
		st.RelevantMemory = nil
		return nil
	}
	st.RelevantMemory = m.mem.Retrieve(ctx, query, m.retrieveK)
	return nil
}

func (m *Machine) runConversation(ctx context.Context, st *State) error {
	msgs := make([]llm.ChatMessage, 0, len(st.Messages)+1)
	msgs = append(msgs, llm.ChatMessage{Role: RoleSystem, Content: m.systemPrompt(st)})
	for _, msg := range st.Messages {
		msgs = append(msgs, toChatMessage(msg))
	}

	var specs []llm.ToolSpec
	if m.dispatcher != nil {
		for _, t := range m.dispatcher.List() {
			specs = append(specs, llm.ToolSpec{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			})
		}
	}

	result, err := m.gen.Chat(ctx, msgs, specs)
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}

	reply := NewMessage(RoleAssistant, result.Content)
	for _, tc := range result.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Name, Args: tc.Args})
	}
	st.Messages = append(st.Messages, reply)

	// Only settled exchanges go to long-term memory: a reply that is
	// just a tool request has nothing worth recalling yet.
	if m.mem != nil && len(reply.ToolCalls) == 0 && strings.TrimSpace(result.Content) != "" {
		if query := st.LastUserContent(); query != "" {
			m.mem.StoreExchange(ctx, query, result.Content, nil)
		}
	}
	return nil
}

func (m *Machine) runToolDispatch(ctx context.Context, st *State) error {
	last := st.LastMessage()
	if m.dispatcher == nil || last == nil || last.Role != RoleAssistant || len(last.ToolCalls) == 0 {
		return nil
	}
	calls := make([]tools.Call, 0, len(last.ToolCalls))
	for _, tc := range last.ToolCalls {
		calls = append(calls, tools.Call{ID: tc.ID, Name: tc.Name, Args: tc.Args})
	}
	for _, res := range m.dispatcher.Dispatch(ctx, calls) {
		msg := NewMessage(RoleTool, res.Content)
		msg.ToolCallID = res.CallID
		st.Messages = append(st.Messages, msg)
	}
	return nil
}

func (m *Machine) runProfileUpdate(ctx context.Context, st *State) error {
	current := m.profiles.Load()
	window := profile.SimplifyConversation(toProfileMessages(st.Messages))
	if len(window) == 0 {
		st.Profile = current
		return nil
	}
	updated, err := m.updater.Update(ctx, current, window)
	if err != nil {
		st.Profile = current
		return fmt.Errorf("update profile: %w", err)
	}
	if err := m.profiles.Save(updated); err != nil {
		st.Profile = current
		return fmt.Errorf("save profile: %w", err)
	}
	st.Profile = updated
	return nil
}

func (m *Machine) runSummarization(ctx context.Context, st *State) error {
	summary, err := m.summarizer.Summarize(ctx, st.Summary, st.Messages)
	if err != nil {
		return err
	}
	st.Summary = summary
	if evicted := evictOld(st, keepRecentMessages); len(evicted) > 0 {
		log.Printf("[dialog] thread %s: summarized and evicted %d messages", st.ThreadID, len(evicted))
	}
	return nil
}

// evictOld drops everything but the n most recent messages. The
// dropped content survives in the summary.
func evictOld(st *State, n int) []string {
	if len(st.Messages) <= n {
		return nil
	}
	cut := len(st.Messages) - n
	evicted := make([]string, 0, cut)
	for _, msg := range st.Messages[:cut] {
		evicted = append(evicted, msg.ID)
	}
	st.Messages = append([]Message(nil), st.Messages[cut:]...)
	return evicted
}

func (m *Machine) systemPrompt(st *State) string {
	var b strings.Builder
	b.WriteString(m.persona)
	b.WriteString("\n\nYou may use the information below when it is relevant.")
	if strings.TrimSpace(st.Summary) != "" {
		fmt.Fprintf(&b, "\n\nSummary of the conversation so far:\n%s", st.Summary)
	}
	fmt.Fprintf(&b, "\n\nRelevant memories from past conversations:\n%s", memory.FormatMemories(st.RelevantMemory))
	if prof := m.loadProfile(st); len(prof) > 0 {
		if raw, err := json.Marshal(prof); err == nil {
			fmt.Fprintf(&b, "\n\nWhat you know about the user:\n%s", raw)
		}
	}
	return b.String()
}

// loadProfile prefers the profile already on the state; a fresh thread
// falls back to the durable store.
func (m *Machine) loadProfile(st *State) profile.Profile {
	if len(st.Profile) > 0 {
		return st.Profile
	}
	if m.profiles == nil {
		return nil
	}
	return m.profiles.Load()
}

func toChatMessage(msg Message) llm.ChatMessage {
	out := llm.ChatMessage{Role: msg.Role, Content: msg.Content, ToolCallID: msg.ToolCallID}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Args: tc.Args})
	}
	return out
}

func toProfileMessages(messages []Message) []profile.Message {
	out := make([]profile.Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, profile.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}
