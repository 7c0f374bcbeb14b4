package schedule

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Fallback is an optional secondary parser (typically LLM-backed) consulted
// when rule-based parsing is not usable. Implementations live outside this
// package; callers inject one and bound it with a context timeout.
type Fallback interface {
	ParseFallback(ctx context.Context, text string, ref time.Time) (Parsed, error)
}

var errFallbackUnusable = errors.New("schedule: fallback result has no usable recurrence")

// ValidateFallback checks a fallback parser's output against the same shape
// rule-based results satisfy. A malformed or missing recurrence is a parse
// failure, never silently defaulted.
func ValidateFallback(p Parsed, ref time.Time) (Parsed, error) {
	if err := p.Recurrence.Validate(); err != nil {
		return Parsed{}, err
	}
	if p.Recurrence.OneTime() && !p.Recurrence.At.After(ref) {
		return Parsed{}, errFallbackUnusable
	}
	if strings.TrimSpace(p.Action) == "" {
		p.Action = DefaultAction
	}
	if p.Confidence < 0 {
		p.Confidence = 0
	}
	if p.Confidence > 1 {
		p.Confidence = 1
	}
	p.Source = SourceFallback
	return p, nil
}
