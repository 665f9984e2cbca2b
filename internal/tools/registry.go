package tools

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// defaultInvokeTimeout bounds a single tool invocation when the
// registry is built without an explicit timeout.
const defaultInvokeTimeout = 30 * time.Second

// Tool is one registered side-effecting capability the conversation
// model may request.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON Schema of the argument object.
	Parameters() map[string]any
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Call is one tool invocation requested by the model.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Result is the outcome of exactly one Call, in request order.
type Result struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Registry holds registered tools and dispatches calls against them.
// Every invocation runs under a deadline so a hung tool cannot
// suspend the turn.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	timeout time.Duration
}

func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = defaultInvokeTimeout
	}
	return &Registry{tools: make(map[string]Tool), timeout: timeout}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// List returns registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Dispatch executes every call synchronously, in request order,
// producing exactly one result per call. Unknown tools and tool errors
// become error results; nothing is dropped, reordered, or swallowed.
func (r *Registry) Dispatch(ctx context.Context, calls []Call) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		r.mu.RLock()
		tool := r.tools[call.Name]
		r.mu.RUnlock()

		if tool == nil {
			results = append(results, Result{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("unknown tool: %s", call.Name),
				IsError: true,
			})
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		content, err := tool.Invoke(callCtx, call.Args)
		cancel()
		if err != nil {
			results = append(results, Result{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("tool %s failed: %v", call.Name, err),
				IsError: true,
			})
			continue
		}
		results = append(results, Result{CallID: call.ID, Name: call.Name, Content: content})
	}
	return results
}
