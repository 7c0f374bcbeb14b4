package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cuebot/internal/schedule"
	"cuebot/internal/task"
	logx "cuebot/pkg/logx"
)

func openTestFileStore(t *testing.T, dir string) Store {
	t.Helper()
	s, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "cue.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	return s
}

func sampleTask(id, owner string) task.Task {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	return task.Task{
		ID:         id,
		OwnerID:    owner,
		RawText:    "every day at 9am stretch",
		Action:     "stretch",
		Recurrence: schedule.Recurrence{Spec: "0 9 * * *"},
		Timezone:   "UTC",
		Status:     task.StatusActive,
		NextFireAt: now.Add(time.Hour),
		ActionKind: task.ActionAgentRun,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestFileStoreCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestFileStore(t, t.TempDir())
	defer s.Close()

	want := sampleTask("t1", "alice")
	if err := s.PutTask(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Action != want.Action || got.Recurrence.Spec != want.Recurrence.Spec {
		t.Fatalf("GetTask = %+v, want %+v", got, want)
	}
	if !got.NextFireAt.Equal(want.NextFireAt) {
		t.Fatalf("NextFireAt = %v, want %v", got.NextFireAt, want.NextFireAt)
	}

	got.Status = task.StatusPaused
	got.NextFireAt = time.Time{}
	if err := s.UpdateTask(ctx, got); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetTask(ctx, "t1")
	if got.Status != task.StatusPaused || !got.NextFireAt.IsZero() {
		t.Fatalf("after update: %+v", got)
	}

	if err := s.UpdateTask(ctx, sampleTask("ghost", "alice")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update unknown id: err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetTask(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get unknown id: err = %v, want ErrNotFound", err)
	}

	if err := s.DeleteTask(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetTask(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete: err = %v, want ErrNotFound", err)
	}
	// Deleting an absent id is not an error.
	if err := s.DeleteTask(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
}

func TestFileStoreListing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestFileStore(t, t.TempDir())
	defer s.Close()

	a := sampleTask("a1", "alice")
	b := sampleTask("b1", "bob")
	done := sampleTask("a2", "alice")
	done.Status = task.StatusCompleted
	done.CreatedAt = a.CreatedAt.Add(time.Minute)
	for _, tt := range []task.Task{a, b, done} {
		if err := s.PutTask(ctx, tt); err != nil {
			t.Fatal(err)
		}
	}

	mine, err := s.ListTasks(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 || mine[0].ID != "a1" || mine[1].ID != "a2" {
		t.Fatalf("ListTasks(alice) = %+v, want a1,a2 in creation order", mine)
	}

	open, err := s.ListNonTerminal(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 {
		t.Fatalf("ListNonTerminal = %d tasks, want 2 (completed excluded)", len(open))
	}
	for _, tt := range open {
		if tt.Status.Terminal() {
			t.Fatalf("terminal task %s in recovery scan", tt.ID)
		}
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	s := openTestFileStore(t, dir)
	if err := s.PutTask(ctx, sampleTask("t1", "alice")); err != nil {
		t.Fatal(err)
	}
	keep := sampleTask("t2", "alice")
	if err := s.PutTask(ctx, keep); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTask(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Journal replay: the put/put/del sequence reduces to just t2.
	s = openTestFileStore(t, dir)
	defer s.Close()
	if _, err := s.GetTask(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted task resurrected: err = %v", err)
	}
	got, err := s.GetTask(ctx, "t2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Action != keep.Action || got.Recurrence.Spec != keep.Recurrence.Spec {
		t.Fatalf("replayed task = %+v, want %+v", got, keep)
	}
}

func TestFileStoreRunHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestFileStore(t, t.TempDir())
	defer s.Close()

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r := task.Run{
			ID:        "r" + string(rune('0'+i)),
			TaskID:    "t1",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Duration:  time.Second,
			OK:        i%2 == 0,
			Detail:    "d",
		}
		if err := s.AppendRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.AppendRun(ctx, task.Run{ID: "other", TaskID: "t2", StartedAt: base}); err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListRuns(ctx, "t1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("ListRuns limit: got %d, want 3", len(runs))
	}
	// Newest first.
	for i := 1; i < len(runs); i++ {
		if runs[i].StartedAt.After(runs[i-1].StartedAt) {
			t.Fatalf("runs out of order: %v before %v", runs[i-1].StartedAt, runs[i].StartedAt)
		}
	}
	if !runs[0].StartedAt.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("newest run = %v, want %v", runs[0].StartedAt, base.Add(4*time.Minute))
	}
	for _, r := range runs {
		if r.TaskID != "t1" {
			t.Fatalf("foreign run %q in listing", r.ID)
		}
	}
}
