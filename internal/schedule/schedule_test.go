package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestRecurrenceValidate(t *testing.T) {
	t.Parallel()
	if err := (Recurrence{}).Validate(); !errors.Is(err, ErrEmptyRecurrence) {
		t.Fatalf("empty: err = %v, want ErrEmptyRecurrence", err)
	}
	both := Recurrence{Spec: "0 9 * * *", At: time.Now()}
	if err := both.Validate(); !errors.Is(err, ErrDualRecurrence) {
		t.Fatalf("dual: err = %v, want ErrDualRecurrence", err)
	}
	if err := (Recurrence{Spec: "not cron"}).Validate(); err == nil {
		t.Fatal("expected error for malformed cron spec")
	}
	if err := (Recurrence{Spec: "@hourly"}).Validate(); err == nil {
		t.Fatal("descriptor specs must be rejected")
	}
	if err := (Recurrence{Spec: "*/5 * * * *"}).Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
}

func TestRecurrenceNextCron(t *testing.T) {
	t.Parallel()
	r := Recurrence{Spec: "0 9 * * *"}

	before := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	if got := r.Next(before, time.UTC); !got.Equal(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("Next(08:00) = %v, want same-day 09:00", got)
	}

	after := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	if got := r.Next(after, time.UTC); !got.Equal(time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("Next(10:00) = %v, want next-day 09:00", got)
	}

	// Exactly at the boundary: strictly after, so the next day.
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if got := r.Next(at, time.UTC); !got.Equal(time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("Next(09:00) = %v, want next-day 09:00", got)
	}
}

func TestRecurrenceNextHonorsTimezone(t *testing.T) {
	t.Parallel()
	sh, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	r := Recurrence{Spec: "0 9 * * *"}
	// 02:00 UTC = 10:00 in Shanghai, so today's 09:00 Shanghai has passed.
	ref := time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)
	got := r.Next(ref, sh)
	want := time.Date(2025, 3, 11, 9, 0, 0, 0, sh)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestRecurrenceNextOneTime(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 3, 11, 20, 0, 0, 0, time.UTC)
	r := Recurrence{At: at}
	if got := r.Next(at.Add(-time.Hour), time.UTC); !got.Equal(at) {
		t.Fatalf("future one-time: got %v", got)
	}
	if got := r.Next(at, time.UTC); !got.IsZero() {
		t.Fatalf("exhausted one-time: got %v, want zero", got)
	}
}

func TestRecurrenceWeekdaySetNeverFiresOnWeekend(t *testing.T) {
	t.Parallel()
	r := Recurrence{Spec: "0 9 * * 1-5"}
	cursor := time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC) // a Saturday
	for i := 0; i < 28; i++ {
		next := r.Next(cursor, time.UTC)
		if next.IsZero() {
			t.Fatal("cron rule unexpectedly exhausted")
		}
		if wd := next.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Fatalf("fired on %v at %v", wd, next)
		}
		cursor = next
	}
}

func TestRecurrenceDescribe(t *testing.T) {
	t.Parallel()
	tests := []struct {
		rec  Recurrence
		want string
	}{
		{Recurrence{Spec: "0 9 * * *"}, "every day at 09:00"},
		{Recurrence{Spec: "30 21 * * *"}, "every day at 21:30"},
		{Recurrence{Spec: "15 8 * * 1-5"}, "every weekday at 08:15"},
		{Recurrence{Spec: "0 11 * * 0,6"}, "weekends at 11:00"},
		{Recurrence{Spec: "0 10 * * 1"}, "every Monday at 10:00"},
		{Recurrence{Spec: "*/15 * * * *"}, "every 15 minutes"},
		{Recurrence{Spec: "0 */2 * * *"}, "every 2 hours"},
		{Recurrence{Spec: "0 * * * *"}, "every hour"},
		{Recurrence{Spec: "5 4 1 * *"}, "cron 5 4 1 * *"},
		{Recurrence{At: time.Date(2025, 3, 11, 20, 0, 0, 0, time.UTC)}, "once at 2025-03-11 20:00"},
	}
	for _, tt := range tests {
		if got := tt.rec.Describe(time.UTC); got != tt.want {
			t.Fatalf("Describe(%+v) = %q, want %q", tt.rec, got, tt.want)
		}
	}
}

func TestValidateFallback(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	// Past one-time instants are a parse failure, not a silent default.
	_, err := ValidateFallback(Parsed{
		Recurrence: Recurrence{At: now.Add(-time.Hour)},
		Action:     "x",
		Confidence: 0.9,
	}, now)
	if err == nil {
		t.Fatal("expected error for past one-time instant")
	}

	// Confidence is clamped and the action defaulted.
	got, err := ValidateFallback(Parsed{
		Recurrence: Recurrence{Spec: "0 9 * * *"},
		Confidence: 1.7,
	}, now)
	if err != nil {
		t.Fatalf("ValidateFallback error: %v", err)
	}
	if got.Confidence != 1 {
		t.Fatalf("Confidence = %v, want clamped to 1", got.Confidence)
	}
	if got.Action != DefaultAction {
		t.Fatalf("Action = %q, want %q", got.Action, DefaultAction)
	}
	if got.Source != SourceFallback {
		t.Fatalf("Source = %q, want fallback", got.Source)
	}

	if _, err := ValidateFallback(Parsed{Confidence: 0.9}, now); !errors.Is(err, ErrEmptyRecurrence) {
		t.Fatalf("empty recurrence: err = %v", err)
	}
}
