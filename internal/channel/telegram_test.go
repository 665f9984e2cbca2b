package channel

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/yui/internal/bus"
	"github.com/stellarlinkco/yui/internal/config"
)

type mockBot struct {
	mu         sync.Mutex
	sent       []tgbotapi.Chattable
	sendErr    error
	stickerSet tgbotapi.StickerSet
	stickerErr error
	stopped    bool
}

func newMockBot() *mockBot { return &mockBot{} }

func (m *mockBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (m *mockBot) StopReceivingUpdates() { m.stopped = true }

func (m *mockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	m.sent = append(m.sent, c)
	return tgbotapi.Message{}, nil
}

func (m *mockBot) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "yui_test_bot"}
}

func (m *mockBot) GetStickerSet(tgbotapi.GetStickerSetConfig) (tgbotapi.StickerSet, error) {
	return m.stickerSet, m.stickerErr
}

func (m *mockBot) sentMessages() []tgbotapi.Chattable {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), m.sent...)
}

func newTestChannel(t *testing.T, cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, *mockBot) {
	t.Helper()
	if cfg.Token == "" {
		cfg.Token = "fake-token"
	}
	bot := newMockBot()
	factory := func(string, string, *http.Client) (TelegramBot, error) { return bot, nil }
	ch, err := NewTelegramChannelWithFactory(cfg, b, factory)
	if err != nil {
		t.Fatalf("NewTelegramChannelWithFactory: %v", err)
	}
	ch.SetBot(bot)
	return ch, bot
}

func TestTelegramChannel_HandleMessage(t *testing.T) {
	t.Run("allowed sender reaches the bus", func(t *testing.T) {
		b := bus.NewMessageBus(10)
		ch, _ := newTestChannel(t, config.TelegramConfig{}, b)

		ch.handleMessage(&tgbotapi.Message{
			From: &tgbotapi.User{ID: 123, UserName: "aki"},
			Chat: &tgbotapi.Chat{ID: 456},
			Text: "hello",
			Date: 1234567890,
		})

		select {
		case inbound := <-b.Inbound:
			if inbound.Content != "hello" || inbound.SenderID != "123" || inbound.ChatID != "456" {
				t.Errorf("inbound = %+v", inbound)
			}
			if inbound.ThreadID() != "telegram:456" {
				t.Errorf("thread id = %q", inbound.ThreadID())
			}
		default:
			t.Error("expected inbound message")
		}
	})

	t.Run("rejected sender is dropped", func(t *testing.T) {
		b := bus.NewMessageBus(10)
		ch, _ := newTestChannel(t, config.TelegramConfig{AllowFrom: []string{"999"}}, b)

		ch.handleMessage(&tgbotapi.Message{
			From: &tgbotapi.User{ID: 123},
			Chat: &tgbotapi.Chat{ID: 456},
			Text: "hello",
		})

		select {
		case inbound := <-b.Inbound:
			t.Errorf("unexpected inbound message: %+v", inbound)
		default:
		}
	})

	t.Run("sticker becomes a sentiment event", func(t *testing.T) {
		b := bus.NewMessageBus(10)
		ch, _ := newTestChannel(t, config.TelegramConfig{}, b)

		ch.handleMessage(&tgbotapi.Message{
			From:    &tgbotapi.User{ID: 123},
			Chat:    &tgbotapi.Chat{ID: 456},
			Sticker: &tgbotapi.Sticker{Emoji: "😭"},
		})

		select {
		case inbound := <-b.Inbound:
			if inbound.Content != "*received a sticker: sentiment: sad*" {
				t.Errorf("content = %q", inbound.Content)
			}
		default:
			t.Error("expected inbound message")
		}
	})

	t.Run("start command greets without touching the bus", func(t *testing.T) {
		b := bus.NewMessageBus(10)
		ch, bot := newTestChannel(t, config.TelegramConfig{}, b)

		ch.handleMessage(&tgbotapi.Message{
			From:     &tgbotapi.User{ID: 123},
			Chat:     &tgbotapi.Chat{ID: 456},
			Text:     "/start",
			Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
		})

		select {
		case inbound := <-b.Inbound:
			t.Errorf("unexpected inbound message: %+v", inbound)
		default:
		}
		sent := bot.sentMessages()
		if len(sent) == 0 {
			t.Fatal("expected a greeting")
		}
		if msg, ok := sent[0].(tgbotapi.MessageConfig); !ok || !strings.Contains(msg.Text, "Yui") {
			t.Errorf("greeting = %+v", sent[0])
		}
	})

	t.Run("empty message ignored", func(t *testing.T) {
		b := bus.NewMessageBus(10)
		ch, _ := newTestChannel(t, config.TelegramConfig{}, b)

		ch.handleMessage(&tgbotapi.Message{
			From: &tgbotapi.User{ID: 123},
			Chat: &tgbotapi.Chat{ID: 456},
		})

		select {
		case inbound := <-b.Inbound:
			t.Errorf("unexpected inbound message: %+v", inbound)
		default:
		}
	})
}

func TestTelegramChannel_Send(t *testing.T) {
	t.Run("invalid chat id", func(t *testing.T) {
		b := bus.NewMessageBus(10)
		ch, _ := newTestChannel(t, config.TelegramConfig{}, b)
		if err := ch.Send(bus.OutboundMessage{ChatID: "not-a-number", Content: "hi"}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("html with plain fallback", func(t *testing.T) {
		b := bus.NewMessageBus(10)
		ch, bot := newTestChannel(t, config.TelegramConfig{}, b)

		if err := ch.Send(bus.OutboundMessage{ChatID: "456", Content: "**hi**"}); err != nil {
			t.Fatalf("Send: %v", err)
		}
		sent := bot.sentMessages()
		if len(sent) != 1 {
			t.Fatalf("sent %d messages, want 1", len(sent))
		}
		msg := sent[0].(tgbotapi.MessageConfig)
		if msg.Text != "<b>hi</b>" || msg.ParseMode != tgbotapi.ModeHTML {
			t.Errorf("message = %+v", msg)
		}
	})
}

func TestTelegramChannel_Stickers(t *testing.T) {
	stickerCfg := config.TelegramConfig{StickerSet: "yui_pack"}
	set := tgbotapi.StickerSet{Stickers: []tgbotapi.Sticker{
		{FileID: "happy-1", Emoji: "😊"},
		{FileID: "sad-1", Emoji: "😢"},
		{FileID: "neutral-1", Emoji: "😐"},
	}}

	t.Run("sends matching sticker with text", func(t *testing.T) {
		b := bus.NewMessageBus(10)
		ch, bot := newTestChannel(t, stickerCfg, b)
		bot.stickerSet = set
		ch.loadStickers()

		if err := ch.Send(bus.OutboundMessage{ChatID: "456", Content: "yay!", Emotion: "happy"}); err != nil {
			t.Fatalf("Send: %v", err)
		}
		sent := bot.sentMessages()
		if len(sent) != 2 {
			t.Fatalf("sent %d messages, want sticker + text", len(sent))
		}
		sticker, ok := sent[0].(tgbotapi.StickerConfig)
		if !ok {
			t.Fatalf("first send = %T, want sticker", sent[0])
		}
		if sticker.File != tgbotapi.FileID("happy-1") {
			t.Errorf("sticker file = %v", sticker.File)
		}
	})

	t.Run("unknown emotion falls back to neutral", func(t *testing.T) {
		b := bus.NewMessageBus(10)
		ch, bot := newTestChannel(t, stickerCfg, b)
		bot.stickerSet = set
		ch.loadStickers()

		if err := ch.Send(bus.OutboundMessage{ChatID: "456", Emotion: "perplexed"}); err != nil {
			t.Fatalf("Send: %v", err)
		}
		sent := bot.sentMessages()
		if len(sent) != 1 {
			t.Fatalf("sent %d messages, want 1", len(sent))
		}
		if sticker := sent[0].(tgbotapi.StickerConfig); sticker.File != tgbotapi.FileID("neutral-1") {
			t.Errorf("sticker file = %v", sticker.File)
		}
	})

	t.Run("SendEmotionSticker uses the routed chat", func(t *testing.T) {
		b := bus.NewMessageBus(10)
		ch, bot := newTestChannel(t, stickerCfg, b)
		bot.stickerSet = set
		ch.loadStickers()

		ctx := bus.WithRoute(context.Background(), "telegram", "456")
		if err := ch.SendEmotionSticker(ctx, "sad"); err != nil {
			t.Fatalf("SendEmotionSticker: %v", err)
		}
		sent := bot.sentMessages()
		if len(sent) != 1 {
			t.Fatalf("sent %d messages, want 1", len(sent))
		}
		sticker := sent[0].(tgbotapi.StickerConfig)
		if sticker.File != tgbotapi.FileID("sad-1") || sticker.ChatID != 456 {
			t.Errorf("sticker = %+v", sticker)
		}
	})

	t.Run("SendEmotionSticker without a route fails", func(t *testing.T) {
		b := bus.NewMessageBus(10)
		ch, bot := newTestChannel(t, stickerCfg, b)
		bot.stickerSet = set
		ch.loadStickers()

		if err := ch.SendEmotionSticker(context.Background(), "sad"); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("load failure degrades to no stickers", func(t *testing.T) {
		b := bus.NewMessageBus(10)
		ch, bot := newTestChannel(t, stickerCfg, b)
		bot.stickerErr = fmt.Errorf("set not found")
		ch.loadStickers()

		if err := ch.Send(bus.OutboundMessage{ChatID: "456", Content: "hi", Emotion: "happy"}); err != nil {
			t.Fatalf("Send: %v", err)
		}
		// Text still goes out even when no sticker could be sent.
		sent := bot.sentMessages()
		if len(sent) != 1 {
			t.Fatalf("sent %d messages, want text only", len(sent))
		}
	})
}
