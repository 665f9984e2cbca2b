package dialog

import (
	"context"
	"fmt"
	"strings"
)

// Completer produces a plain-text completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// summaryTargetChars is the length the summarization prompt asks the
// model to stay near. The output is not hard-truncated.
const summaryTargetChars = 800

// Summarizer condenses a conversation window into a bulleted digest.
type Summarizer struct {
	llm Completer
}

func NewSummarizer(llm Completer) *Summarizer {
	return &Summarizer{llm: llm}
}

// Summarize folds the given messages into the existing summary. When
// no prior summary exists it produces a fresh one.
func (s *Summarizer) Summarize(ctx context.Context, existing string, messages []Message) (string, error) {
	transcript := renderTranscript(messages)
	if transcript == "" {
		return existing, nil
	}

	var prompt string
	if strings.TrimSpace(existing) == "" {
		prompt = fmt.Sprintf(
			"Summarize the following conversation as a concise, bulleted list of key facts, actions, and decisions. Keep it under %d characters.\n\nConversation:\n%s",
			summaryTargetChars, transcript)
	} else {
		prompt = fmt.Sprintf(
			"Update the summary below with the new conversation turns. Produce a single concise, bulleted list of key facts, actions, and decisions. Keep it under %d characters.\n\nCurrent summary:\n%s\n\nNew turns:\n%s",
			summaryTargetChars, existing, transcript)
	}

	out, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("summarize conversation: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("summarize conversation: empty response")
	}
	return out, nil
}

func renderTranscript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role == RoleTool || strings.TrimSpace(m.Content) == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimSpace(b.String())
}
