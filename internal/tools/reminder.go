package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stellarlinkco/yui/internal/bus"
)

// ReminderScheduler books a one-shot reminder for delivery back to a
// chat. The cron service implements this through the gateway.
type ReminderScheduler interface {
	ScheduleReminder(message, channel, chatID string, at time.Time) error
}

// ReminderTool lets the model set reminders for the current chat.
type ReminderTool struct {
	scheduler ReminderScheduler
}

func NewReminderTool(scheduler ReminderScheduler) *ReminderTool {
	return &ReminderTool{scheduler: scheduler}
}

func (t *ReminderTool) Name() string { return "set_reminder" }

func (t *ReminderTool) Description() string {
	return "Set a reminder to send the user a message after a delay. Use when the user asks to be reminded of something."
}

func (t *ReminderTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "What to remind the user about",
			},
			"minutes_from_now": map[string]any{
				"type":        "number",
				"description": "How many minutes from now to deliver the reminder",
			},
		},
		"required": []string{"message", "minutes_from_now"},
	}
}

func (t *ReminderTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	message, _ := args["message"].(string)
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("message is required")
	}
	minutes, ok := args["minutes_from_now"].(float64)
	if !ok || minutes <= 0 {
		return "", fmt.Errorf("minutes_from_now must be a positive number")
	}

	channel, chatID, ok := bus.RouteFrom(ctx)
	if !ok {
		return "", fmt.Errorf("no chat bound to this turn")
	}

	at := time.Now().Add(time.Duration(minutes * float64(time.Minute)))
	if err := t.scheduler.ScheduleReminder(message, channel, chatID, at); err != nil {
		return "", fmt.Errorf("schedule reminder: %w", err)
	}
	return fmt.Sprintf("Reminder set for %s.", at.Format("15:04 MST, Jan 2")), nil
}
