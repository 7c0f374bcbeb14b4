package task

import (
	"time"

	"cuebot/internal/schedule"
)

// Status is the lifecycle state of a scheduled task.
//
// Transitions (owned by the engine):
//
//	Active <-> Paused
//	Active -> Completed (one-time fire, or explicit completion)
//	Active -> Failed    (consecutive failure threshold reached)
//	any    -> Cancelled (explicit delete)
//
// Completed, Failed and Cancelled are terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ActionKind selects what a fire does.
type ActionKind string

const (
	// ActionAgentRun hands the action text to an agent runner.
	ActionAgentRun ActionKind = "agent_run"
	// ActionNotification delivers the action text as a plain notification.
	ActionNotification ActionKind = "notification"
)

// Task is the durable unit owned by the scheduling engine.
//
// NextFireAt is always derived from Recurrence and LastFiredAt/CreatedAt by
// the engine; callers never set it directly. It is zero only in terminal
// states; pausing keeps the stored value and Resume recomputes it.
type Task struct {
	ID      string
	OwnerID string

	// RawText is the original natural-language request, kept for display.
	RawText string
	// Action is the residual instruction after the time phrase was removed.
	Action string

	Recurrence schedule.Recurrence
	Timezone   string // IANA zone the recurrence is interpreted in

	Status              Status
	NextFireAt          time.Time
	LastFiredAt         time.Time
	RunCount            int
	ConsecutiveFailures int
	LastError           string

	ActionKind        ActionKind
	NotifyChannel     string // e.g. "telegram"; only for ActionNotification
	NotifyDestination string // channel-specific target (chat id)

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location resolves the task's timezone, falling back to UTC on bad data.
func (t *Task) Location() *time.Location {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

// Run is one execution record, kept for audit and the /runs command.
type Run struct {
	ID        string
	TaskID    string
	StartedAt time.Time
	Duration  time.Duration
	OK        bool
	Detail    string
	Error     string
}
