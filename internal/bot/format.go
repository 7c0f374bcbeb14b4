package bot

import (
	"strings"
	"time"

	"cuebot/internal/schedule"
	"cuebot/internal/task"
)

const timeFmt = "2006-01-02 15:04"

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatCreated(t task.Task, parsed schedule.Parsed) string {
	var b strings.Builder
	b.WriteString("Scheduled: ")
	b.WriteString(t.Action)
	b.WriteString("\n")
	b.WriteString(t.Recurrence.Describe(t.Location()))
	b.WriteString(nextFireLine(t))
	b.WriteString("\nid: ")
	b.WriteString(shortID(t.ID))
	if parsed.Source == schedule.SourceFallback {
		b.WriteString("\n(parsed by the agent; double-check the schedule)")
	}
	return b.String()
}

func nextFireLine(t task.Task) string {
	if t.NextFireAt.IsZero() {
		return ""
	}
	return "\nnext: " + t.NextFireAt.In(t.Location()).Format(timeFmt)
}

func formatTaskList(tasks []task.Task) string {
	if len(tasks) == 0 {
		return "No tasks yet. Send me something like \"every day at 9am stretch\"."
	}
	var b strings.Builder
	for _, t := range tasks {
		b.WriteString(shortID(t.ID))
		b.WriteString("  [")
		b.WriteString(string(t.Status))
		b.WriteString("]  ")
		b.WriteString(t.Action)
		b.WriteString("\n    ")
		b.WriteString(t.Recurrence.Describe(t.Location()))
		if t.Status == task.StatusActive && !t.NextFireAt.IsZero() {
			b.WriteString(", next ")
			b.WriteString(t.NextFireAt.In(t.Location()).Format(timeFmt))
		}
		if t.ConsecutiveFailures > 0 {
			b.WriteString(" (failing)")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRuns(id string, runs []task.Run) string {
	if len(runs) == 0 {
		return "No runs recorded for " + shortID(id) + " yet."
	}
	var b strings.Builder
	b.WriteString("Recent runs of ")
	b.WriteString(shortID(id))
	b.WriteString(":\n")
	for _, r := range runs {
		b.WriteString(r.StartedAt.Format(timeFmt))
		if r.OK {
			b.WriteString("  ok")
		} else {
			b.WriteString("  FAIL")
		}
		b.WriteString("  ")
		b.WriteString(r.Duration.Round(time.Millisecond).String())
		if r.Error != "" {
			b.WriteString("\n    ")
			b.WriteString(r.Error)
		} else if r.Detail != "" && r.Detail != "delivered" {
			b.WriteString("\n    ")
			b.WriteString(clip(r.Detail, 200))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
