package profile

import (
	"context"
	"fmt"
	"reflect"
	"testing"
)

type fakeCompleter struct {
	reply string
	err   error
}

func (f *fakeCompleter) CompleteJSON(_ context.Context, _ string) (string, error) {
	return f.reply, f.err
}

func TestUpdate_AcceptsValidProposal(t *testing.T) {
	m := NewManager(&fakeCompleter{reply: `{
		"name": "John Doe",
		"interests": ["reading", "coding"],
		"location": {"city": "Osaka", "country": "Japan"}
	}`})

	current := Profile{"name": "John"}
	updated, err := m.Update(context.Background(), current, []Pair{{User: "I'm John Doe", Assistant: "Nice!"}})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated["name"] != "John Doe" {
		t.Errorf("name = %v", updated["name"])
	}
	loc, ok := updated["location"].(map[string]any)
	if !ok || loc["city"] != "Osaka" {
		t.Errorf("location = %v", updated["location"])
	}
}

func TestUpdate_FailClosed(t *testing.T) {
	current := Profile{"name": "John", "interests": []any{"reading"}}

	cases := []struct {
		name  string
		reply string
		err   error
	}{
		{name: "not json", reply: "I think the profile should be updated."},
		{name: "top level array", reply: `["name", "John"]`},
		{name: "top level string", reply: `"John"`},
		{name: "numeric value", reply: `{"age": 31}`},
		{name: "nested non-string", reply: `{"location": {"city": "Osaka", "zip": 530}}`},
		{name: "array of objects", reply: `{"interests": [{"kind": "reading"}]}`},
		{name: "llm error", err: fmt.Errorf("model unavailable")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(&fakeCompleter{reply: tc.reply, err: tc.err})
			updated, err := m.Update(context.Background(), current, nil)
			if err == nil {
				t.Fatal("expected rejection error")
			}
			if !reflect.DeepEqual(updated, current) {
				t.Fatalf("profile changed despite rejection: %v", updated)
			}
		})
	}
}

func TestValidateProposal_CodeFenceTolerated(t *testing.T) {
	p, err := ValidateProposal("```json\n{\"name\": \"Mika\"}\n```")
	if err != nil {
		t.Fatalf("ValidateProposal error: %v", err)
	}
	if p["name"] != "Mika" {
		t.Errorf("name = %v", p["name"])
	}
}

func TestSimplifyConversation(t *testing.T) {
	t.Run("pairs in chronological order", func(t *testing.T) {
		msgs := []Message{
			{Role: "user", Content: "u1"},
			{Role: "assistant", Content: "a1"},
			{Role: "user", Content: "u2"},
			{Role: "assistant", Content: "a2"},
		}
		got := SimplifyConversation(msgs)
		want := []Pair{{User: "u1", Assistant: "a1"}, {User: "u2", Assistant: "a2"}}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("got %v, want %v", got, want)
		}
	})

	t.Run("caps at five most recent pairs", func(t *testing.T) {
		var msgs []Message
		for i := 1; i <= 8; i++ {
			msgs = append(msgs,
				Message{Role: "user", Content: fmt.Sprintf("u%d", i)},
				Message{Role: "assistant", Content: fmt.Sprintf("a%d", i)},
			)
		}
		got := SimplifyConversation(msgs)
		if len(got) != 5 {
			t.Fatalf("len = %d, want 5", len(got))
		}
		if got[0].User != "u4" || got[4].User != "u8" {
			t.Fatalf("window = %v, want the five most recent", got)
		}
	})

	t.Run("ignores system and tool roles", func(t *testing.T) {
		msgs := []Message{
			{Role: "system", Content: "persona"},
			{Role: "user", Content: "u1"},
			{Role: "tool", Content: "result"},
			{Role: "assistant", Content: "a1"},
		}
		got := SimplifyConversation(msgs)
		if len(got) != 1 || got[0].User != "u1" || got[0].Assistant != "a1" {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("empty conversation", func(t *testing.T) {
		if got := SimplifyConversation(nil); len(got) != 0 {
			t.Fatalf("got %v, want empty", got)
		}
	})
}
