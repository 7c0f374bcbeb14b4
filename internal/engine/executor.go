package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cuebot/internal/agent"
	"cuebot/internal/task"
	logx "cuebot/pkg/logx"
)

// Dispatcher routes a fire to the right backend: agent_run tasks go to the
// agent runner, notification tasks to the notifier.
type Dispatcher struct {
	runner   agent.Runner
	notifier Notifier
	log      logx.Logger
}

func NewDispatcher(runner agent.Runner, notifier Notifier, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{runner: runner, notifier: notifier, log: log}
}

const maxRunDetail = 2000

func (d *Dispatcher) Execute(ctx context.Context, t task.Task) (string, error) {
	switch t.ActionKind {
	case task.ActionAgentRun:
		if d.runner == nil {
			return "", agent.ErrUnavailable
		}
		out, err := d.runner.Run(ctx, t.Action)
		if err != nil {
			return "", fmt.Errorf("agent run: %w", err)
		}
		return clipDetail(out), nil

	case task.ActionNotification:
		if d.notifier == nil {
			return "", errors.New("no notifier configured")
		}
		if err := d.notifier.Send(ctx, t.NotifyChannel, t.NotifyDestination, t.Action); err != nil {
			return "", fmt.Errorf("notification: %w", err)
		}
		return "delivered", nil

	default:
		return "", fmt.Errorf("unknown action kind %q", t.ActionKind)
	}
}

func clipDetail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxRunDetail {
		return s
	}
	return s[:maxRunDetail-3] + "..."
}
