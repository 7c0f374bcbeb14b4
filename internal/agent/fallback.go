package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cuebot/internal/schedule"
	logx "cuebot/pkg/logx"
)

// FallbackParser adapts a Runner into a schedule.Fallback: the raw text the
// rule-based parser could not handle is sent to the agent with a strict
// JSON-only prompt, and the reply is validated before use.
type FallbackParser struct {
	runner Runner
	log    logx.Logger
}

func NewFallbackParser(runner Runner, log logx.Logger) *FallbackParser {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FallbackParser{runner: runner, log: log}
}

const fallbackPrompt = `Extract a schedule from the user text below.
Reply with ONLY a JSON object, no prose:
{"cron_spec":"<5-field cron or empty>","fire_at":"<RFC3339 instant or empty>","action":"<what to do>","confidence":<0..1>}
Exactly one of cron_spec / fire_at must be non-empty.
Current time: %s

Text: %s`

type fallbackReply struct {
	CronSpec   string  `json:"cron_spec"`
	FireAt     string  `json:"fire_at"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
}

func (f *FallbackParser) ParseFallback(ctx context.Context, text string, ref time.Time) (schedule.Parsed, error) {
	if f.runner == nil {
		return schedule.Parsed{}, ErrUnavailable
	}

	prompt := fmt.Sprintf(fallbackPrompt, ref.Format(time.RFC3339), text)
	raw, err := f.runner.Run(ctx, prompt)
	if err != nil {
		return schedule.Parsed{}, err
	}

	var reply fallbackReply
	if err := json.Unmarshal([]byte(extractJSON(raw)), &reply); err != nil {
		f.log.Debug("fallback reply not parseable", logx.Err(err))
		return schedule.Parsed{}, fmt.Errorf("agent: malformed fallback reply: %w", err)
	}

	p := schedule.Parsed{
		Action:     strings.TrimSpace(reply.Action),
		Confidence: reply.Confidence,
	}
	if spec := strings.TrimSpace(reply.CronSpec); spec != "" {
		p.Recurrence.Spec = spec
	} else if at := strings.TrimSpace(reply.FireAt); at != "" {
		ts, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return schedule.Parsed{}, fmt.Errorf("agent: malformed fire_at: %w", err)
		}
		p.Recurrence.At = ts
	}

	return schedule.ValidateFallback(p, ref)
}

// extractJSON strips code fences and surrounding prose the agent may add
// despite the JSON-only instruction.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			return s[i : j+1]
		}
	}
	return s
}
