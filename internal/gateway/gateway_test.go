package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stellarlinkco/yui/internal/bus"
	"github.com/stellarlinkco/yui/internal/config"
	"github.com/stellarlinkco/yui/internal/cron"
	"github.com/stellarlinkco/yui/internal/dialog"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Provider.APIKey = "test-key"
	cfg.Memory.DBPath = filepath.Join(dir, "memory.db")
	cfg.Profile.Path = filepath.Join(dir, "profile.json")
	return cfg
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	g, err := NewWithOptions(testConfig(t), Options{Checkpointer: dialog.NewMemoryCheckpointer()})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	t.Cleanup(func() { _ = g.closeStores() })
	return g
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Provider.APIKey = ""
	if _, err := NewWithOptions(cfg, Options{Checkpointer: dialog.NewMemoryCheckpointer()}); err == nil {
		t.Error("expected error for missing api key")
	}
}

func TestRegistryTools(t *testing.T) {
	t.Run("core tools always registered", func(t *testing.T) {
		g := newTestGateway(t)
		names := toolNames(g)
		for _, want := range []string{"fetch_contact_entities", "set_reminder"} {
			if !names[want] {
				t.Errorf("missing tool %s, have %v", want, names)
			}
		}
		if names["search"] {
			t.Error("search registered without an api key")
		}
	})

	t.Run("search registered with key", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		cfg := testConfig(t)
		cfg.Tools.BraveAPIKey = "brave-key"
		g, err := NewWithOptions(cfg, Options{Checkpointer: dialog.NewMemoryCheckpointer()})
		if err != nil {
			t.Fatalf("NewWithOptions: %v", err)
		}
		defer g.closeStores()
		if !toolNames(g)["search"] {
			t.Error("search not registered")
		}
	})
}

func toolNames(g *Gateway) map[string]bool {
	names := make(map[string]bool)
	for _, tool := range g.registry.List() {
		names[tool.Name()] = true
	}
	return names
}

func TestHandleJob(t *testing.T) {
	t.Run("reminder goes back to its chat", func(t *testing.T) {
		g := newTestGateway(t)
		job := cron.NewJob("water plants", cron.Schedule{Kind: "at", AtMs: 1},
			cron.Payload{Kind: cron.PayloadReminder, Message: "water the plants", Channel: "telegram", ChatID: "42"})

		if err := g.handleJob(job); err != nil {
			t.Fatalf("handleJob: %v", err)
		}
		select {
		case out := <-g.bus.Outbound:
			if out.Channel != "telegram" || out.ChatID != "42" {
				t.Errorf("outbound = %+v", out)
			}
			if out.Content != "Reminder: water the plants" {
				t.Errorf("content = %q", out.Content)
			}
		default:
			t.Fatal("no outbound message")
		}
	})

	t.Run("reminder without destination fails", func(t *testing.T) {
		g := newTestGateway(t)
		job := cron.NewJob("orphan", cron.Schedule{Kind: "at", AtMs: 1},
			cron.Payload{Kind: cron.PayloadReminder, Message: "lost"})
		if err := g.handleJob(job); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("profile backup job", func(t *testing.T) {
		g := newTestGateway(t)
		if err := g.profiles.Save(map[string]any{"name": "Aki"}); err != nil {
			t.Fatalf("Save: %v", err)
		}

		job := cron.NewJob(profileBackupJobName, cron.Schedule{Kind: "cron", Expr: "0 3 * * *"},
			cron.Payload{Kind: cron.PayloadSystem})
		if err := g.handleJob(job); err != nil {
			t.Fatalf("handleJob: %v", err)
		}

		backup := g.cfg.Profile.Path + "." + time.Now().UTC().Format("20060102") + ".bak"
		if _, err := os.Stat(backup); err != nil {
			t.Errorf("backup not written: %v", err)
		}
	})

	t.Run("unknown system job fails", func(t *testing.T) {
		g := newTestGateway(t)
		job := cron.NewJob("mystery", cron.Schedule{Kind: "cron", Expr: "* * * * *"},
			cron.Payload{Kind: cron.PayloadSystem})
		if err := g.handleJob(job); err == nil {
			t.Error("expected error")
		}
	})
}

func TestEnsureInternalJobs_Idempotent(t *testing.T) {
	g := newTestGateway(t)
	if err := g.ensureInternalJobs(); err != nil {
		t.Fatalf("ensureInternalJobs: %v", err)
	}
	if err := g.ensureInternalJobs(); err != nil {
		t.Fatalf("ensureInternalJobs: %v", err)
	}
	backups := 0
	for _, job := range g.cron.ListJobs() {
		if job.Name == profileBackupJobName {
			backups++
		}
	}
	if backups != 1 {
		t.Errorf("backup jobs = %d, want 1", backups)
	}
}

// fakeRunner replays a scripted sequence of state snapshots through
// the emit callback.
type fakeRunner struct {
	states []*dialog.State
	err    error
}

func (f *fakeRunner) Turn(_ context.Context, _, _, _ string, emit func(*dialog.State)) (*dialog.State, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, st := range f.states {
		emit(st)
	}
	return f.states[len(f.states)-1], nil
}

func stateWith(messages ...dialog.Message) *dialog.State {
	st := dialog.NewState("telegram:42", "7")
	st.Messages = messages
	return st
}

func TestProcessTurn(t *testing.T) {
	inbound := bus.InboundMessage{Channel: "telegram", SenderID: "7", ChatID: "42", Content: "hi"}

	t.Run("each new assistant message emitted once", func(t *testing.T) {
		g := newTestGateway(t)
		user := dialog.NewMessage(dialog.RoleUser, "hi")
		toolReq := dialog.NewMessage(dialog.RoleAssistant, "")
		toolReq.ToolCalls = []dialog.ToolCall{{ID: "c1", Name: "search"}}
		reply := dialog.NewMessage(dialog.RoleAssistant, "found it!")

		g.machine = &fakeRunner{states: []*dialog.State{
			stateWith(user),
			stateWith(user, toolReq),
			stateWith(user, toolReq, reply),
			stateWith(user, toolReq, reply), // checkpoint re-emits the same state
		}}

		g.processTurn(context.Background(), inbound)

		var sent []bus.OutboundMessage
	drain:
		for {
			select {
			case out := <-g.bus.Outbound:
				sent = append(sent, out)
			default:
				break drain
			}
		}
		if len(sent) != 1 {
			t.Fatalf("sent %d messages, want 1: %+v", len(sent), sent)
		}
		if sent[0].Content != "found it!" || sent[0].ChatID != "42" {
			t.Errorf("sent = %+v", sent[0])
		}
	})

	t.Run("resumed history is not re-emitted", func(t *testing.T) {
		g := newTestGateway(t)
		oldReply := dialog.NewMessage(dialog.RoleAssistant, "from last session")
		user := dialog.NewMessage(dialog.RoleUser, "hi")
		reply := dialog.NewMessage(dialog.RoleAssistant, "fresh reply")

		g.machine = &fakeRunner{states: []*dialog.State{
			stateWith(oldReply, user),
			stateWith(oldReply, user, reply),
		}}

		g.processTurn(context.Background(), inbound)

		out := <-g.bus.Outbound
		if out.Content != "fresh reply" {
			t.Errorf("content = %q", out.Content)
		}
		select {
		case extra := <-g.bus.Outbound:
			t.Errorf("unexpected extra message: %+v", extra)
		default:
		}
	})

	t.Run("turn error sends an apology", func(t *testing.T) {
		g := newTestGateway(t)
		g.machine = &fakeRunner{err: fmt.Errorf("checkpoint store broken")}

		g.processTurn(context.Background(), inbound)

		out := <-g.bus.Outbound
		if out.ChatID != "42" || out.Content == "" {
			t.Errorf("outbound = %+v", out)
		}
	})
}

func TestObserveContact(t *testing.T) {
	g := newTestGateway(t)
	g.observeContact(bus.InboundMessage{
		Channel:  "telegram",
		SenderID: "7",
		ChatID:   "-100",
		Metadata: map[string]any{"username": "aki", "first_name": "Aki"},
	})

	users := g.directory.Contacts("user", 10)
	if len(users) != 1 || users[0].Username != "aki" || users[0].Name != "Aki" {
		t.Errorf("users = %+v", users)
	}
	chats := g.directory.Contacts("chat", 10)
	if len(chats) != 1 || chats[0].ID != "-100" {
		t.Errorf("chats = %+v", chats)
	}
}
