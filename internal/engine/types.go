package engine

import (
	"context"
	"errors"
	"time"

	"cuebot/internal/task"
)

// Config controls scheduling and failure accounting.
type Config struct {
	// Timezone is the IANA zone assigned to new tasks that don't carry one.
	Timezone string

	// FailureThreshold is the number of consecutive failed runs after which
	// a task transitions to failed and stops being scheduled.
	FailureThreshold int

	// ExecTimeout bounds a single execution. Zero disables the bound.
	ExecTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	return c
}

// Executor performs one task execution and returns a short human-readable
// detail. A non-nil error counts as a failed run.
type Executor interface {
	Execute(ctx context.Context, t task.Task) (detail string, err error)
}

// Notifier delivers a message to an opaque destination on a named channel.
// A non-nil error counts as a failed run for notification tasks.
type Notifier interface {
	Send(ctx context.Context, channel, destination, message string) error
}

var (
	// ErrNotReady is returned by mutating operations before Recover has run.
	ErrNotReady = errors.New("engine: recovery has not completed")

	// ErrInvalidSchedule is returned for recurrences that can never fire.
	ErrInvalidSchedule = errors.New("engine: schedule can never fire")

	// ErrNotFound is returned for unknown or foreign-owner task ids.
	ErrNotFound = errors.New("engine: task not found")

	// ErrTerminal is returned when an operation targets a finished task.
	ErrTerminal = errors.New("engine: task is in a terminal state")
)

// Event types published on the bus.
const (
	EventFired     = "task.fired"
	EventCompleted = "task.completed"
	EventFailed    = "task.failed"
	EventSkipped   = "task.skipped"
	EventRecovered = "task.recovered"
)

// EventData is the payload attached to engine bus events.
type EventData struct {
	TaskID  string
	OwnerID string
	Action  string
	Detail  string
	Error   string
}
