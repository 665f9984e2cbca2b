package dialog

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/stellarlinkco/yui/internal/config"
)

// Node identifies one stage of the conversation state machine.
type Node string

const (
	NodeMemoryRetrieval Node = "memory_retrieval"
	NodeConversation    Node = "conversation"
	NodeToolDispatch    Node = "tool_dispatch"
	NodeProfileUpdate   Node = "profile_update"
	NodeSummarization   Node = "summarization"
	NodeTerminal        Node = "terminal"
)

const (
	// profileUpdateThreshold is the message count past which a turn
	// ends with a profile update and summarization instead of
	// terminating directly.
	profileUpdateThreshold = 15

	// keepRecentMessages is how many messages survive eviction after
	// summarization.
	keepRecentMessages = 5
)

// Machine runs conversation turns as an explicit state machine.
// Each stage works on a copy of the state; the copy is committed and
// checkpointed only when the stage settles, so a crash mid-stage
// resumes from the last consistent state.
type Machine struct {
	checkpoints Checkpointer
	gen         Generator
	mem         MemoryStore
	profiles    ProfileStore
	updater     ProfileUpdater
	dispatcher  Dispatcher
	summarizer  SummaryWriter

	persona       string
	retrieveK     int
	maxToolRounds int

	mu      sync.Mutex
	threads map[string]*sync.Mutex
}

// MachineConfig wires the machine's collaborators. Checkpointer,
// Generator and Summarizer are required; the rest degrade to no-ops.
type MachineConfig struct {
	Checkpointer  Checkpointer
	Generator     Generator
	Memory        MemoryStore
	Profiles      ProfileStore
	Updater       ProfileUpdater
	Dispatcher    Dispatcher
	Summarizer    SummaryWriter
	Persona       string
	RetrieveK     int
	MaxToolRounds int
}

func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.Checkpointer == nil {
		return nil, fmt.Errorf("new machine: checkpointer is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("new machine: generator is required")
	}
	if cfg.Summarizer == nil {
		return nil, fmt.Errorf("new machine: summarizer is required")
	}
	if cfg.RetrieveK <= 0 {
		cfg.RetrieveK = config.DefaultRetrieveK
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = config.DefaultMaxToolRounds
	}
	return &Machine{
		checkpoints:   cfg.Checkpointer,
		gen:           cfg.Generator,
		mem:           cfg.Memory,
		profiles:      cfg.Profiles,
		updater:       cfg.Updater,
		dispatcher:    cfg.Dispatcher,
		summarizer:    cfg.Summarizer,
		persona:       cfg.Persona,
		retrieveK:     cfg.RetrieveK,
		maxToolRounds: cfg.MaxToolRounds,
		threads:       make(map[string]*sync.Mutex),
	}, nil
}

// threadLock returns the mutex serializing turns on one thread.
func (m *Machine) threadLock(threadID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.threads[threadID]
	if !ok {
		l = &sync.Mutex{}
		m.threads[threadID] = l
	}
	return l
}

// Turn processes one user message through the state machine and
// returns the final state. Turns on the same thread are serialized;
// different threads run concurrently. The optional emit callback
// observes each committed state, in transition order.
func (m *Machine) Turn(ctx context.Context, threadID, userID, text string, emit func(*State)) (*State, error) {
	lock := m.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	st, ok, err := m.checkpoints.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("resume thread %s: %w", threadID, err)
	}
	if !ok {
		st = NewState(threadID, userID)
	}
	st.LastError = ""
	st.Messages = append(st.Messages, NewMessage(RoleUser, text))

	node := NodeMemoryRetrieval
	toolRounds := 0
	for node != NodeTerminal {
		work := st.Clone()
		stageErr := m.runStage(ctx, node, work)
		if stageErr != nil {
			log.Printf("[dialog] thread %s: stage %s degraded: %v", threadID, node, stageErr)
			work = st.Clone()
			m.degrade(node, work, stageErr)
		}
		if node == NodeToolDispatch {
			toolRounds++
		}

		if err := m.checkpoints.Save(ctx, threadID, work); err != nil {
			// The previous checkpoint stays authoritative on disk; the
			// turn continues in memory.
			log.Printf("[dialog] thread %s: checkpoint after %s failed: %v", threadID, node, err)
		}
		if emit != nil {
			emit(work)
		}
		node = m.route(node, work, toolRounds, stageErr != nil)
		st = work
	}
	return st, nil
}

func (m *Machine) runStage(ctx context.Context, node Node, st *State) error {
	switch node {
	case NodeMemoryRetrieval:
		return m.runMemoryRetrieval(ctx, st)
	case NodeConversation:
		return m.runConversation(ctx, st)
	case NodeToolDispatch:
		return m.runToolDispatch(ctx, st)
	case NodeProfileUpdate:
		return m.runProfileUpdate(ctx, st)
	case NodeSummarization:
		return m.runSummarization(ctx, st)
	}
	return fmt.Errorf("unknown stage %q", node)
}

// degrade applies the per-stage failure policy on a clean copy of the
// pre-stage state. No stage failure aborts the turn.
func (m *Machine) degrade(node Node, st *State, err error) {
	st.LastError = fmt.Sprintf("%s: %v", node, err)
	switch node {
	case NodeMemoryRetrieval:
		st.RelevantMemory = nil
	case NodeConversation:
		st.Messages = append(st.Messages, NewMessage(RoleAssistant, apologyReply))
	}
	// ProfileUpdate and Summarization leave the state untouched: the
	// profile stays as it was, the unsummarized messages stay in the
	// window and are retried next time the threshold trips.
}

// route picks the next node from the committed post-stage state.
func (m *Machine) route(node Node, st *State, toolRounds int, degraded bool) Node {
	switch node {
	case NodeMemoryRetrieval:
		return NodeConversation
	case NodeConversation:
		if degraded {
			// An apology turn ends immediately.
			return NodeTerminal
		}
		last := st.LastMessage()
		if last != nil && last.Role == RoleAssistant && len(last.ToolCalls) > 0 {
			if toolRounds < m.maxToolRounds {
				return NodeToolDispatch
			}
			log.Printf("[dialog] thread %s: tool round limit %d reached, forcing completion", st.ThreadID, m.maxToolRounds)
		}
		if len(st.Messages) > profileUpdateThreshold && m.updater != nil && m.profiles != nil {
			return NodeProfileUpdate
		}
		return NodeTerminal
	case NodeToolDispatch:
		return NodeConversation
	case NodeProfileUpdate:
		return NodeSummarization
	case NodeSummarization:
		return NodeTerminal
	}
	return NodeTerminal
}
