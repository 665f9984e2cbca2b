package cron

import (
	"time"

	"github.com/google/uuid"
)

// Schedule describes when a job fires. Exactly one of the kinds is
// used: "cron" with a cron expression, "every" with an interval, or
// "at" with a one-shot wall-clock time.
type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

// Payload is what the job delivers when it fires. Reminder payloads
// are routed back to the originating chat; system payloads run
// internal maintenance.
type Payload struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
	Channel string `json:"channel,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
}

const (
	PayloadReminder = "reminder"
	PayloadSystem   = "system"
)

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
}

func NewJob(name string, schedule Schedule, payload Payload) Job {
	return Job{
		ID:             uuid.NewString(),
		Name:           name,
		Enabled:        true,
		DeleteAfterRun: schedule.Kind == "at",
		Schedule:       schedule,
		Payload:        payload,
		CreatedAtMs:    time.Now().UnixMilli(),
	}
}
