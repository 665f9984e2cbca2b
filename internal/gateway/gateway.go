package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/stellarlinkco/yui/internal/bus"
	"github.com/stellarlinkco/yui/internal/channel"
	"github.com/stellarlinkco/yui/internal/config"
	"github.com/stellarlinkco/yui/internal/cron"
	"github.com/stellarlinkco/yui/internal/dialog"
	"github.com/stellarlinkco/yui/internal/llm"
	"github.com/stellarlinkco/yui/internal/memory"
	"github.com/stellarlinkco/yui/internal/profile"
	"github.com/stellarlinkco/yui/internal/tools"
)

const profileBackupJobName = "profile-backup"

// Options for creating a Gateway.
type Options struct {
	Checkpointer dialog.Checkpointer // overrides the SQLite store (for testing)
	SignalChan   chan os.Signal      // for testing signal handling
}

// TurnRunner runs one conversation turn (allows mocking in tests).
type TurnRunner interface {
	Turn(ctx context.Context, threadID, userID, text string, emit func(*dialog.State)) (*dialog.State, error)
}

// Gateway wires the transports, the conversation machine and the
// scheduled jobs together.
type Gateway struct {
	cfg         *config.Config
	bus         *bus.MessageBus
	llm         *llm.Client
	machine     TurnRunner
	mem         *memory.Store
	profiles    *profile.FileStore
	checkpoints dialog.Checkpointer
	channels    *channel.ChannelManager
	cron        *cron.Service
	registry    *tools.Registry
	directory   *tools.Directory
	signalChan  chan os.Signal
}

// New creates a Gateway with default options.
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		llm:        llm.NewClient(cfg),
		profiles:   profile.NewFileStore(cfg.Profile.Path),
		directory:  tools.NewDirectory(),
		signalChan: opts.SignalChan,
	}

	mem, err := memory.NewStore(cfg.Memory.DBPath, llm.NewEmbedder(cfg), cfg.Memory.DedupThreshold)
	if err != nil {
		return nil, fmt.Errorf("create memory store: %w", err)
	}
	g.mem = mem

	g.checkpoints = opts.Checkpointer
	if g.checkpoints == nil {
		cp, err := dialog.NewSQLiteCheckpointer(filepath.Join(filepath.Dir(cfg.Memory.DBPath), "checkpoints.db"))
		if err != nil {
			_ = mem.Close()
			return nil, fmt.Errorf("create checkpoint store: %w", err)
		}
		g.checkpoints = cp
	}

	channels, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		_ = g.closeStores()
		return nil, fmt.Errorf("create channels: %w", err)
	}
	g.channels = channels

	g.cron = cron.NewService(filepath.Join(config.ConfigDir(), "cron", "jobs.json"))
	g.cron.OnJob = g.handleJob

	g.registry = g.buildRegistry()

	machine, err := dialog.NewMachine(dialog.MachineConfig{
		Checkpointer:  g.checkpoints,
		Generator:     g.llm,
		Memory:        g.mem,
		Profiles:      g.profiles,
		Updater:       profile.NewManager(g.llm),
		Dispatcher:    g.registry,
		Summarizer:    dialog.NewSummarizer(g.llm),
		Persona:       cfg.Agent.Persona,
		RetrieveK:     cfg.Memory.RetrieveK,
		MaxToolRounds: cfg.Agent.MaxToolRounds,
	})
	if err != nil {
		_ = g.closeStores()
		return nil, fmt.Errorf("create machine: %w", err)
	}
	g.machine = machine

	return g, nil
}

func (g *Gateway) buildRegistry() *tools.Registry {
	toolTimeout := time.Duration(g.cfg.Tools.ToolTimeoutMs) * time.Millisecond
	r := tools.NewRegistry(toolTimeout)

	if g.cfg.Tools.BraveAPIKey != "" {
		r.Register(tools.NewSearchTool(g.cfg.Tools.BraveAPIKey, toolTimeout))
	}
	if sticker, ok := g.channels.Sticker(); ok {
		r.Register(tools.NewStickerTool(sticker))
	}
	r.Register(tools.NewContactsTool(g.directory))
	r.Register(tools.NewReminderTool(&cronScheduler{service: g.cron}))
	return r
}

// cronScheduler adapts the cron service to the reminder tool.
type cronScheduler struct {
	service *cron.Service
}

func (s *cronScheduler) ScheduleReminder(message, channelName, chatID string, at time.Time) error {
	name := message
	if len(name) > 40 {
		name = name[:40]
	}
	_, err := s.service.AddJob(name,
		cron.Schedule{Kind: "at", AtMs: at.UnixMilli()},
		cron.Payload{Kind: cron.PayloadReminder, Message: message, Channel: channelName, ChatID: chatID})
	return err
}

// handleJob delivers fired cron jobs: reminders go back to their chat,
// system jobs run maintenance.
func (g *Gateway) handleJob(job cron.Job) error {
	switch job.Payload.Kind {
	case cron.PayloadReminder:
		if job.Payload.Channel == "" || job.Payload.ChatID == "" {
			return fmt.Errorf("reminder %s has no destination", job.ID)
		}
		g.bus.Outbound <- bus.OutboundMessage{
			Channel: job.Payload.Channel,
			ChatID:  job.Payload.ChatID,
			Content: "Reminder: " + job.Payload.Message,
		}
		return nil
	case cron.PayloadSystem:
		if job.Name == profileBackupJobName {
			return g.profiles.Backup()
		}
		return fmt.Errorf("unknown system job %q", job.Name)
	}
	return fmt.Errorf("unknown payload kind %q", job.Payload.Kind)
}

// ensureInternalJobs books the nightly profile backup if it is not
// already on the schedule.
func (g *Gateway) ensureInternalJobs() error {
	for _, job := range g.cron.ListJobs() {
		if job.Name == profileBackupJobName {
			return nil
		}
	}
	_, err := g.cron.AddJob(profileBackupJobName,
		cron.Schedule{Kind: "cron", Expr: "0 3 * * *"},
		cron.Payload{Kind: cron.PayloadSystem})
	return err
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))
			go g.processTurn(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) processTurn(ctx context.Context, msg bus.InboundMessage) {
	ctx = bus.WithRoute(ctx, msg.Channel, msg.ChatID)
	g.observeContact(msg)

	// The first emitted state precedes any generation; its message ids
	// are the baseline, and only assistant messages that appear after
	// it are user-visible replies.
	var baseline map[string]bool
	emit := func(st *dialog.State) {
		if baseline == nil {
			baseline = make(map[string]bool, len(st.Messages))
			for _, m := range st.Messages {
				baseline[m.ID] = true
			}
			return
		}
		for _, m := range st.Messages {
			if baseline[m.ID] || m.Role != dialog.RoleAssistant || strings.TrimSpace(m.Content) == "" {
				continue
			}
			baseline[m.ID] = true
			g.bus.Outbound <- bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: m.Content,
			}
		}
	}

	if _, err := g.machine.Turn(ctx, msg.ThreadID(), msg.SenderID, msg.Content, emit); err != nil {
		log.Printf("[gateway] turn error on %s: %v", msg.ThreadID(), err)
		g.bus.Outbound <- bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: "Sorry, I ran into a problem handling that. Please try again.",
		}
	}
}

func (g *Gateway) observeContact(msg bus.InboundMessage) {
	contact := tools.Contact{ID: msg.SenderID, Kind: "user"}
	if v, ok := msg.Metadata["username"].(string); ok {
		contact.Username = v
	}
	if v, ok := msg.Metadata["first_name"].(string); ok {
		contact.Name = v
	}
	g.directory.Observe(contact)
	if msg.ChatID != msg.SenderID {
		g.directory.Observe(tools.Contact{ID: msg.ChatID, Kind: "chat"})
	}
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if err := g.ensureInternalJobs(); err != nil {
		log.Printf("[gateway] ensure internal jobs warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running")

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

// Turn runs one conversation turn directly, bypassing the channels.
// The chat REPL uses this.
func (g *Gateway) Turn(ctx context.Context, threadID, userID, text string, emit func(*dialog.State)) (*dialog.State, error) {
	return g.machine.Turn(ctx, threadID, userID, text, emit)
}

// MemoryCount reports how many exchanges the memory store holds.
func (g *Gateway) MemoryCount(ctx context.Context) (int, error) {
	return g.mem.Count(ctx)
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if err := g.closeStores(); err != nil {
		log.Printf("[gateway] close stores warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func (g *Gateway) closeStores() error {
	var firstErr error
	if g.mem != nil {
		if err := g.mem.Close(); err != nil {
			firstErr = err
		}
	}
	if closer, ok := g.checkpoints.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
