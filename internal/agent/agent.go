// Package agent defines the boundary to the conversational agent that
// executes agent_run tasks and, optionally, parses free-form schedule text
// the rule-based parser could not handle.
package agent

import (
	"context"
	"errors"
)

// Runner executes a prompt and returns the agent's textual result.
//
// Implementations are expected to be safe for concurrent use; the engine may
// run several tasks at once.
type Runner interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// ErrUnavailable is returned when no agent backend is configured.
var ErrUnavailable = errors.New("agent: no backend configured")

// NopRunner satisfies Runner without doing any work. It keeps the engine
// wired in deployments that only use notification tasks.
type NopRunner struct{}

func (NopRunner) Run(ctx context.Context, prompt string) (string, error) {
	return "", ErrUnavailable
}
