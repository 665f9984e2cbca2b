package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// proposalSchema bounds what a generative proposal may contain: a flat
// object whose values are strings, lists of strings, or one-level maps
// of strings. Anything else rejects the whole proposal.
const proposalSchema = `{
	"type": "object",
	"additionalProperties": {
		"anyOf": [
			{"type": "string"},
			{"type": "array", "items": {"type": "string"}},
			{"type": "object", "additionalProperties": {"type": "string"}}
		]
	}
}`

var compiledProposalSchema = jsonschema.MustCompileString("profile-proposal.json", proposalSchema)

// Completer produces a JSON-mode completion for a prompt.
type Completer interface {
	CompleteJSON(ctx context.Context, prompt string) (string, error)
}

// Manager merges explicitly stated user facts into the profile via a
// generative proposal. The proposal is untrusted: it is accepted in
// its entirety or not at all.
type Manager struct {
	llm Completer
}

func NewManager(llm Completer) *Manager {
	return &Manager{llm: llm}
}

const updatePromptTemplate = `### User Profile Update Task ###

#### Current User Profile ####
%s

#### Recent Conversation ####
%s

#### Task Instructions ####
Analyze the provided user profile and recent conversation to update the profile, following these rules:

1. Analyze the conversation:
   - Identify explicitly stated user attributes.
   - Do not infer or guess attributes.

2. Update the profile:
   - Modify existing attributes only if explicitly mentioned.
   - Add new attributes explicitly stated, using the correct data types:
     - Strings for single values (e.g. name, email).
     - Lists of strings for multiple values (e.g. interests, skills).
     - Objects for locations (e.g. {"city": "X", "state": "Y", "country": "Z"}).
   - Retain attributes not explicitly mentioned, unchanged.

3. Output format:
   - Return the full updated profile as a single valid JSON object.
   - If no changes are necessary, return the original profile exactly.
   - Do not include explanations, code blocks, or any text outside the JSON.`

// Update proposes a merged profile from the conversation window and
// validates the proposal. On any validation failure the input profile
// is returned unchanged along with the error (fail-closed).
func (m *Manager) Update(ctx context.Context, current Profile, window []Pair) (Profile, error) {
	currentJSON, err := json.Marshal(current)
	if err != nil {
		return current, fmt.Errorf("marshal current profile: %w", err)
	}
	windowJSON, err := json.Marshal(window)
	if err != nil {
		return current, fmt.Errorf("marshal conversation window: %w", err)
	}

	prompt := fmt.Sprintf(updatePromptTemplate, currentJSON, windowJSON)
	raw, err := m.llm.CompleteJSON(ctx, prompt)
	if err != nil {
		return current, fmt.Errorf("profile proposal: %w", err)
	}

	proposed, err := ValidateProposal(raw)
	if err != nil {
		return current, err
	}
	return proposed, nil
}

// ValidateProposal parses an untrusted proposal and checks it against
// the proposal schema. All-or-nothing: any defect rejects everything.
func ValidateProposal(raw string) (Profile, error) {
	raw = stripCodeFence(raw)

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("proposal is not valid JSON: %w", err)
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("proposal top level is %T, want object", decoded)
	}

	if err := compiledProposalSchema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("proposal rejected by schema: %w", err)
	}

	return Profile(obj), nil
}

// stripCodeFence tolerates models that wrap the object in a markdown
// fence despite the instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Pair is one user/assistant exchange included in the proposal prompt.
type Pair struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Message is the minimal view of a conversation message this package
// needs; the orchestrator converts its own message type into it.
type Message struct {
	Role    string
	Content string
}

const maxWindowPairs = 5

// SimplifyConversation extracts up to the five most recent
// user/assistant pairs in chronological order. Fewer pairs than five
// is handled gracefully.
func SimplifyConversation(messages []Message) []Pair {
	var userMsgs, assistantMsgs []string
	for _, m := range messages {
		switch m.Role {
		case "user":
			userMsgs = append(userMsgs, m.Content)
		case "assistant":
			if strings.TrimSpace(m.Content) != "" {
				assistantMsgs = append(assistantMsgs, m.Content)
			}
		}
	}

	n := len(userMsgs)
	if len(assistantMsgs) < n {
		n = len(assistantMsgs)
	}
	if n > maxWindowPairs {
		n = maxWindowPairs
	}

	pairs := make([]Pair, 0, n)
	for i := n; i >= 1; i-- {
		pairs = append(pairs, Pair{
			User:      userMsgs[len(userMsgs)-i],
			Assistant: assistantMsgs[len(assistantMsgs)-i],
		})
	}
	return pairs
}
