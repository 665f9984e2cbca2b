package tools

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stellarlinkco/yui/internal/bus"
)

type recordingScheduler struct {
	message string
	channel string
	chatID  string
	at      time.Time
	err     error
}

func (r *recordingScheduler) ScheduleReminder(message, channel, chatID string, at time.Time) error {
	if r.err != nil {
		return r.err
	}
	r.message, r.channel, r.chatID, r.at = message, channel, chatID, at
	return nil
}

func TestReminderTool(t *testing.T) {
	routed := bus.WithRoute(context.Background(), "telegram", "42")

	t.Run("schedules for the routed chat", func(t *testing.T) {
		sched := &recordingScheduler{}
		tool := NewReminderTool(sched)

		before := time.Now()
		out, err := tool.Invoke(routed, map[string]any{
			"message":          "take out the trash",
			"minutes_from_now": float64(30),
		})
		if err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		if out == "" {
			t.Error("empty confirmation")
		}
		if sched.message != "take out the trash" || sched.channel != "telegram" || sched.chatID != "42" {
			t.Errorf("scheduled = %+v", sched)
		}
		want := before.Add(30 * time.Minute)
		if sched.at.Before(want.Add(-time.Minute)) || sched.at.After(want.Add(time.Minute)) {
			t.Errorf("at = %v, want ~%v", sched.at, want)
		}
	})

	t.Run("missing message", func(t *testing.T) {
		tool := NewReminderTool(&recordingScheduler{})
		if _, err := tool.Invoke(routed, map[string]any{"minutes_from_now": float64(5)}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("non-positive delay", func(t *testing.T) {
		tool := NewReminderTool(&recordingScheduler{})
		if _, err := tool.Invoke(routed, map[string]any{"message": "x", "minutes_from_now": float64(0)}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("unrouted context", func(t *testing.T) {
		tool := NewReminderTool(&recordingScheduler{})
		_, err := tool.Invoke(context.Background(), map[string]any{"message": "x", "minutes_from_now": float64(5)})
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("scheduler failure surfaces", func(t *testing.T) {
		tool := NewReminderTool(&recordingScheduler{err: fmt.Errorf("store full")})
		_, err := tool.Invoke(routed, map[string]any{"message": "x", "minutes_from_now": float64(5)})
		if err == nil {
			t.Error("expected error")
		}
	})
}
