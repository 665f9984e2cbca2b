package channel

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/yui/internal/bus"
	"github.com/stellarlinkco/yui/internal/config"
	"github.com/stellarlinkco/yui/internal/tools"
)

const telegramChannelName = "telegram"

const startGreeting = "Yahho~! I'm Yui. Talk to me about anything! (^_^)/"

// TelegramBot is the slice of the bot API the channel uses, extracted
// for test doubles.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
	GetStickerSet(config tgbotapi.GetStickerSetConfig) (tgbotapi.StickerSet, error)
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

func (w *tgBotWrapper) GetStickerSet(config tgbotapi.GetStickerSetConfig) (tgbotapi.StickerSet, error) {
	return w.bot.GetStickerSet(config)
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	BaseChannel
	token      string
	proxy      string
	stickerSet string
	bot        TelegramBot
	cancel     context.CancelFunc
	botFactory BotFactory

	// stickers maps emotion -> candidate sticker file ids, loaded once
	// from the configured set.
	stickers map[string][]string
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with a custom
// bot factory (for testing).
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		stickerSet:  cfg.StickerSet,
		botFactory:  factory,
	}, nil
}

func (t *TelegramChannel) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}
	t.loadStickers()

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				if update.Message == nil {
					continue
				}
				t.handleMessage(update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

// loadStickers indexes the configured sticker set by emotion.
func (t *TelegramChannel) loadStickers() {
	if t.stickerSet == "" {
		return
	}
	set, err := t.bot.GetStickerSet(tgbotapi.GetStickerSetConfig{Name: t.stickerSet})
	if err != nil {
		log.Printf("[telegram] load sticker set %s failed: %v", t.stickerSet, err)
		return
	}
	t.stickers = make(map[string][]string)
	for _, s := range set.Stickers {
		emotion := tools.EmotionForEmoji(s.Emoji)
		t.stickers[emotion] = append(t.stickers[emotion], s.FileID)
	}
	log.Printf("[telegram] loaded %d stickers from %s", len(set.Stickers), t.stickerSet)
}

func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)

	if !t.IsAllowed(senderID) {
		log.Printf("[telegram] rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	if msg.IsCommand() && msg.Command() == "start" {
		if err := t.Send(bus.OutboundMessage{Channel: telegramChannelName, ChatID: chatID, Content: startGreeting}); err != nil {
			log.Printf("[telegram] send greeting failed: %v", err)
		}
		return
	}

	content := msg.Text
	if content == "" && msg.Caption != "" {
		content = msg.Caption
	}
	// A received sticker becomes a described event the model can react
	// to in character.
	if content == "" && msg.Sticker != nil {
		sentiment := tools.EmotionForEmoji(msg.Sticker.Emoji)
		content = fmt.Sprintf("*received a sticker: sentiment: %s*", sentiment)
	}
	if content == "" {
		return
	}

	t.bus.Inbound <- bus.InboundMessage{
		Channel:   telegramChannelName,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Unix(int64(msg.Date), 0),
		Metadata: map[string]any{
			"username":   msg.From.UserName,
			"first_name": msg.From.FirstName,
			"message_id": msg.MessageID,
		},
	}
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}

// SetBot sets the bot (for testing).
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}

	if msg.Emotion != "" {
		if err := t.sendSticker(chatID, msg.Emotion); err != nil {
			log.Printf("[telegram] send sticker (%s) failed: %v", msg.Emotion, err)
		}
	}
	if msg.Content == "" {
		return nil
	}

	content := toTelegramHTML(msg.Content)

	// Telegram caps messages at 4096 chars.
	const maxLen = 4000
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxLen {
			if idx := strings.LastIndex(chunk[:maxLen], "\n"); idx > 0 {
				chunk = chunk[:idx]
			} else {
				chunk = chunk[:maxLen]
			}
		}
		content = content[len(chunk):]

		tgMsg := tgbotapi.NewMessage(chatID, chunk)
		tgMsg.ParseMode = tgbotapi.ModeHTML
		if _, err := t.bot.Send(tgMsg); err != nil {
			// Retry as plain text.
			tgMsg.ParseMode = ""
			tgMsg.Text = msg.Content
			if _, err2 := t.bot.Send(tgMsg); err2 != nil {
				return fmt.Errorf("send telegram message: %w", err2)
			}
			return nil
		}
	}
	return nil
}

// SendEmotionSticker delivers a sticker for the emotion to the chat
// bound on the context. It backs the send_emotion_sticker tool.
func (t *TelegramChannel) SendEmotionSticker(ctx context.Context, emotion string) error {
	channelName, chatID, ok := bus.RouteFrom(ctx)
	if !ok || channelName != telegramChannelName {
		return fmt.Errorf("no telegram chat bound to this turn")
	}
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return t.sendSticker(id, emotion)
}

func (t *TelegramChannel) sendSticker(chatID int64, emotion string) error {
	candidates := t.stickers[tools.NormalizeEmotion(emotion)]
	if len(candidates) == 0 {
		candidates = t.stickers["neutral"]
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no sticker for emotion %q", emotion)
	}
	fileID := candidates[rand.Intn(len(candidates))]
	_, err := t.bot.Send(tgbotapi.NewSticker(chatID, tgbotapi.FileID(fileID)))
	if err != nil {
		return fmt.Errorf("send sticker: %w", err)
	}
	return nil
}

// toTelegramHTML converts the markdown subset the model emits into
// Telegram HTML.
func toTelegramHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")

	s = replaceDelimited(s, "```", "<pre>", "</pre>", true)
	s = replaceDelimited(s, "`", "<code>", "</code>", false)
	s = replaceDelimited(s, "**", "<b>", "</b>", false)
	s = replaceDelimited(s, "*", "<i>", "</i>", false)
	return s
}

// replaceDelimited turns each balanced pair of delim into open/closing
// tags. Unbalanced delimiters are left alone. stripLang drops a code
// fence's language tag line.
func replaceDelimited(s, delim, open, closing string, stripLang bool) string {
	for {
		start := strings.Index(s, delim)
		if start == -1 {
			return s
		}
		rest := s[start+len(delim):]
		end := strings.Index(rest, delim)
		if end == -1 {
			return s
		}
		body := rest[:end]
		if stripLang {
			if nl := strings.Index(body, "\n"); nl >= 0 {
				firstLine := strings.TrimSpace(body[:nl])
				if firstLine != "" && !strings.Contains(firstLine, " ") {
					body = body[nl+1:]
				}
			}
		}
		s = s[:start] + open + body + closing + rest[end+len(delim):]
	}
}
