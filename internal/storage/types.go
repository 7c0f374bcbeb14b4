package storage

import (
	"context"
	"errors"
	"time"

	"cuebot/internal/task"
)

// Config controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./cuebot.db" }
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// ErrNotFound is returned by GetTask/UpdateTask for unknown ids.
var ErrNotFound = errors.New("storage: task not found")

// Store is the persistence API used by the scheduling engine.
//
// Writes to a single task's row never interleave: both drivers serialize
// writes (sqlite via a single connection, file via a mutex).
type Store interface {
	// PutTask inserts a new task row.
	PutTask(ctx context.Context, t task.Task) error
	// GetTask loads one task. Returns ErrNotFound for unknown ids.
	GetTask(ctx context.Context, id string) (task.Task, error)
	// UpdateTask replaces an existing task row. Returns ErrNotFound for unknown ids.
	UpdateTask(ctx context.Context, t task.Task) error
	// DeleteTask removes a task row. Deleting an absent id is not an error.
	DeleteTask(ctx context.Context, id string) error
	// ListTasks returns all tasks for one owner, in storage order.
	ListTasks(ctx context.Context, ownerID string) ([]task.Task, error)
	// ListNonTerminal returns every task the recovery scan must consider.
	ListNonTerminal(ctx context.Context) ([]task.Task, error)

	// AppendRun records one execution for audit/history.
	AppendRun(ctx context.Context, r task.Run) error
	// ListRuns returns the most recent runs for a task, newest first.
	ListRuns(ctx context.Context, taskID string, limit int) ([]task.Run, error)

	Close() error
}
