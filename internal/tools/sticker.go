package tools

import (
	"context"
	"fmt"
	"strings"
)

// EssentialEmotions maps the emotions Yui can express through stickers
// to the emojis that commonly label them in sticker sets.
var EssentialEmotions = map[string][]string{
	"happy":     {"😀", "😄", "😊", "🥰", "😺"},
	"sad":       {"😢", "😭", "😿", "☹️"},
	"angry":     {"😠", "😡", "💢"},
	"surprised": {"😮", "😲", "🙀", "😱"},
	"love":      {"❤️", "💕", "😍", "💖"},
	"shy":       {"😳", "☺️", "🙈"},
	"neutral":   {"🙂", "😐"},
}

// EmotionForEmoji categorizes an emoji into one of the essential
// emotions, defaulting to neutral.
func EmotionForEmoji(emoji string) string {
	for emotion, emojis := range EssentialEmotions {
		for _, e := range emojis {
			if e == emoji {
				return emotion
			}
		}
	}
	return "neutral"
}

// NormalizeEmotion maps free-form emotion text onto a known emotion.
func NormalizeEmotion(emotion string) string {
	emotion = strings.ToLower(strings.TrimSpace(emotion))
	if _, ok := EssentialEmotions[emotion]; ok {
		return emotion
	}
	return "neutral"
}

// StickerSender delivers an emotion sticker to the active chat. The
// actual asset lookup lives with the chat transport.
type StickerSender interface {
	SendEmotionSticker(ctx context.Context, emotion string) error
}

// StickerTool lets the model react with a sticker matching an emotion.
type StickerTool struct {
	sender StickerSender
}

func NewStickerTool(sender StickerSender) *StickerTool {
	return &StickerTool{sender: sender}
}

func (t *StickerTool) Name() string { return "send_emotion_sticker" }

func (t *StickerTool) Description() string {
	return "Send a sticker expressing an emotion to the current chat. Use sparingly, when a reaction fits."
}

func (t *StickerTool) Parameters() map[string]any {
	emotions := make([]string, 0, len(EssentialEmotions))
	for emotion := range EssentialEmotions {
		emotions = append(emotions, emotion)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"emotion": map[string]any{
				"type":        "string",
				"description": "The emotion to express",
				"enum":        emotions,
			},
		},
		"required": []string{"emotion"},
	}
}

func (t *StickerTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	emotion, _ := args["emotion"].(string)
	if strings.TrimSpace(emotion) == "" {
		return "", fmt.Errorf("missing emotion argument")
	}
	if t.sender == nil {
		return "", fmt.Errorf("sticker delivery is not configured")
	}

	normalized := NormalizeEmotion(emotion)
	if err := t.sender.SendEmotionSticker(ctx, normalized); err != nil {
		return "", fmt.Errorf("send sticker: %w", err)
	}
	return fmt.Sprintf("sent a %s sticker", normalized), nil
}
