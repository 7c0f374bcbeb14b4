package bot

import (
	"strings"
	"testing"
)

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in       string
		wantCmd  string
		wantRest string
	}{
		{"/tasks", "tasks", ""},
		{"/remind every day at 9am stretch", "remind", "every day at 9am stretch"},
		{"/pause abc123", "pause", "abc123"},
		{"/TASKS", "tasks", ""},
		{"/tasks@CueBot", "tasks", ""},
		{"/remind@CueBot tomorrow 8pm call mom", "remind", "tomorrow 8pm call mom"},
		{"/runs\tabc", "runs", "abc"},
		{"/help extra   spaced ", "help", "extra   spaced"},
	}
	for _, tt := range tests {
		cmd, rest := splitCommand(tt.in)
		if cmd != tt.wantCmd || rest != tt.wantRest {
			t.Fatalf("splitCommand(%q) = (%q, %q), want (%q, %q)", tt.in, cmd, rest, tt.wantCmd, tt.wantRest)
		}
	}
}

func TestShortID(t *testing.T) {
	t.Parallel()
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Fatalf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("short input must pass through, got %q", got)
	}
}

func TestClip(t *testing.T) {
	t.Parallel()
	if got := clip("short", 10); got != "short" {
		t.Fatalf("clip passthrough = %q", got)
	}
	got := clip(strings.Repeat("x", 50), 10)
	if len(got) != 10 || !strings.HasSuffix(got, "...") {
		t.Fatalf("clip = %q, want 10 chars ending in ellipsis", got)
	}
}
