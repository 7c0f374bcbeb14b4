package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cuebot/internal/eventbus"
	"cuebot/internal/schedule"
	"cuebot/internal/storage"
	"cuebot/internal/task"
	logx "cuebot/pkg/logx"
)

// memStore is an in-memory Store for engine tests.
type memStore struct {
	mu    sync.Mutex
	tasks map[string]task.Task
	runs  []task.Run
}

func newMemStore() *memStore {
	return &memStore{tasks: map[string]task.Task{}}
}

func (m *memStore) PutTask(_ context.Context, t task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *memStore) GetTask(_ context.Context, id string) (task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return task.Task{}, storage.ErrNotFound
	}
	return t, nil
}

func (m *memStore) UpdateTask(_ context.Context, t task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return storage.ErrNotFound
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *memStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *memStore) ListTasks(_ context.Context, ownerID string) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) ListNonTerminal(_ context.Context) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if !t.Status.Terminal() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) AppendRun(_ context.Context, r task.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *memStore) ListRuns(_ context.Context, taskID string, limit int) ([]task.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Run
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].TaskID != taskID {
			continue
		}
		out = append(out, m.runs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) runCount(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.runs {
		if r.TaskID == taskID {
			n++
		}
	}
	return n
}

// fakeExec counts executions and delegates to fn (nil fn = instant success).
type fakeExec struct {
	mu    sync.Mutex
	calls int
	fn    func(t task.Task) (string, error)
}

func (f *fakeExec) Execute(_ context.Context, t task.Task) (string, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return "ok", nil
	}
	return fn(t)
}

func (f *fakeExec) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestService(t *testing.T, store storage.Store, exec Executor) *Service {
	t.Helper()
	s := New(Config{Timezone: "UTC", FailureThreshold: 3}, store, exec, eventbus.New(), logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateBeforeRecover(t *testing.T) {
	t.Parallel()
	s := newTestService(t, newMemStore(), &fakeExec{})
	_, err := s.Create(context.Background(), task.Task{
		OwnerID:    "o",
		Action:     "x",
		Recurrence: schedule.Recurrence{Spec: "0 9 * * *"},
	})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestOneTimeFiresAndCompletes(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{}
	s := newTestService(t, store, exec)
	ctx := context.Background()
	if err := s.Recover(ctx); err != nil {
		t.Fatal(err)
	}

	created, err := s.Create(ctx, task.Task{
		OwnerID:    "o",
		Action:     "call mom",
		Recurrence: schedule.Recurrence{At: time.Now().Add(40 * time.Millisecond)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if created.Status != task.StatusActive || created.NextFireAt.IsZero() {
		t.Fatalf("created task not armed: %+v", created)
	}

	waitFor(t, "one-time completion", func() bool {
		cur, err := store.GetTask(ctx, created.ID)
		return err == nil && cur.Status == task.StatusCompleted
	})

	cur, _ := store.GetTask(ctx, created.ID)
	if cur.RunCount != 1 {
		t.Fatalf("RunCount = %d, want 1", cur.RunCount)
	}
	if !cur.NextFireAt.IsZero() {
		t.Fatalf("NextFireAt = %v, want zero after completion", cur.NextFireAt)
	}
	if exec.count() != 1 {
		t.Fatalf("executor calls = %d, want 1", exec.count())
	}
	if store.runCount(created.ID) != 1 {
		t.Fatalf("run history entries = %d, want 1", store.runCount(created.ID))
	}
}

func TestRecoverCollapsesBacklog(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{}
	ctx := context.Background()

	// A minutely task that "missed" five occurrences while the process was
	// down must fire exactly once on recovery, then resume cadence.
	seed := task.Task{
		ID:         "backlog-1",
		OwnerID:    "o",
		Action:     "ping",
		Recurrence: schedule.Recurrence{Spec: "* * * * *"},
		Timezone:   "UTC",
		Status:     task.StatusActive,
		NextFireAt: time.Now().Add(-5 * time.Minute),
		ActionKind: task.ActionAgentRun,
	}
	if err := store.PutTask(ctx, seed); err != nil {
		t.Fatal(err)
	}

	s := newTestService(t, store, exec)
	if err := s.Recover(ctx); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "catch-up fire", func() bool {
		cur, err := store.GetTask(ctx, seed.ID)
		return err == nil && cur.RunCount == 1
	})

	cur, _ := store.GetTask(ctx, seed.ID)
	if cur.Status != task.StatusActive {
		t.Fatalf("Status = %s, want active", cur.Status)
	}
	if !cur.NextFireAt.After(time.Now().Add(-time.Second)) {
		t.Fatalf("NextFireAt = %v, want rescheduled into the future", cur.NextFireAt)
	}
	if exec.count() != 1 {
		t.Fatalf("executor calls = %d, want exactly one catch-up run", exec.count())
	}
}

func TestRecoverClosesConsumedOneTime(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	ctx := context.Background()
	seed := task.Task{
		ID:         "spent-1",
		OwnerID:    "o",
		Action:     "x",
		Recurrence: schedule.Recurrence{At: time.Now().Add(-time.Hour)},
		Timezone:   "UTC",
		Status:     task.StatusActive,
		// NextFireAt zero: the fire was consumed before the restart.
	}
	if err := store.PutTask(ctx, seed); err != nil {
		t.Fatal(err)
	}

	s := newTestService(t, store, &fakeExec{})
	if err := s.Recover(ctx); err != nil {
		t.Fatal(err)
	}

	cur, _ := store.GetTask(ctx, seed.ID)
	if cur.Status != task.StatusCompleted {
		t.Fatalf("Status = %s, want completed", cur.Status)
	}
}

func TestRecoverSkipsPaused(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{}
	ctx := context.Background()
	seed := task.Task{
		ID:         "paused-1",
		OwnerID:    "o",
		Action:     "x",
		Recurrence: schedule.Recurrence{Spec: "* * * * *"},
		Timezone:   "UTC",
		Status:     task.StatusPaused,
		NextFireAt: time.Now().Add(-time.Minute),
	}
	if err := store.PutTask(ctx, seed); err != nil {
		t.Fatal(err)
	}

	s := newTestService(t, store, exec)
	if err := s.Recover(ctx); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	if exec.count() != 0 {
		t.Fatalf("paused task executed %d times during recovery", exec.count())
	}
}

func TestFailureThresholdMarksFailed(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{fn: func(task.Task) (string, error) {
		return "", fmt.Errorf("boom")
	}}
	ctx := context.Background()
	seed := task.Task{
		ID:         "flaky-1",
		OwnerID:    "o",
		Action:     "x",
		Recurrence: schedule.Recurrence{Spec: "0 9 * * *"},
		Timezone:   "UTC",
		Status:     task.StatusActive,
	}
	if err := store.PutTask(ctx, seed); err != nil {
		t.Fatal(err)
	}

	s := newTestService(t, store, exec)
	if err := s.Recover(ctx); err != nil {
		t.Fatal(err)
	}
	// The timer path is exercised elsewhere; drive the fires directly so the
	// test doesn't wait on cron minute granularity.
	s.run(seed.ID, time.Now())
	s.run(seed.ID, time.Now())

	cur, _ := store.GetTask(ctx, seed.ID)
	if cur.Status != task.StatusActive || cur.ConsecutiveFailures != 2 {
		t.Fatalf("after 2 failures: status=%s failures=%d", cur.Status, cur.ConsecutiveFailures)
	}

	s.run(seed.ID, time.Now())

	cur, _ = store.GetTask(ctx, seed.ID)
	if cur.Status != task.StatusFailed {
		t.Fatalf("Status = %s, want failed at threshold", cur.Status)
	}
	if cur.ConsecutiveFailures != 3 {
		t.Fatalf("ConsecutiveFailures = %d, want 3", cur.ConsecutiveFailures)
	}
	if !cur.NextFireAt.IsZero() {
		t.Fatalf("NextFireAt = %v, want zero for failed task", cur.NextFireAt)
	}
	if cur.LastError == "" {
		t.Fatal("LastError empty, want the executor error preserved")
	}

	// Terminal tasks reject further lifecycle changes.
	if _, err := s.Pause(ctx, "o", seed.ID); !errors.Is(err, ErrTerminal) {
		t.Fatalf("Pause on failed task: err = %v, want ErrTerminal", err)
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{}
	ctx := context.Background()
	seed := task.Task{
		ID:                  "recovering-1",
		OwnerID:             "o",
		Action:              "x",
		Recurrence:          schedule.Recurrence{Spec: "0 9 * * *"},
		Timezone:            "UTC",
		Status:              task.StatusActive,
		ConsecutiveFailures: 2,
		LastError:           "boom",
	}
	if err := store.PutTask(ctx, seed); err != nil {
		t.Fatal(err)
	}

	s := newTestService(t, store, exec)
	if err := s.Recover(ctx); err != nil {
		t.Fatal(err)
	}
	s.run(seed.ID, time.Now())

	cur, _ := store.GetTask(ctx, seed.ID)
	if cur.ConsecutiveFailures != 0 || cur.LastError != "" {
		t.Fatalf("streak not reset: failures=%d lastError=%q", cur.ConsecutiveFailures, cur.LastError)
	}
	if cur.Status != task.StatusActive {
		t.Fatalf("Status = %s, want active", cur.Status)
	}
}

func TestOverlappingFireIsCoalesced(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	started := make(chan struct{})
	release := make(chan struct{})
	exec := &fakeExec{fn: func(task.Task) (string, error) {
		close(started)
		<-release
		return "slow", nil
	}}
	ctx := context.Background()
	seed := task.Task{
		ID:         "slow-1",
		OwnerID:    "o",
		Action:     "x",
		Recurrence: schedule.Recurrence{Spec: "* * * * *"},
		Timezone:   "UTC",
		Status:     task.StatusActive,
	}
	if err := store.PutTask(ctx, seed); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.New()
	s := New(Config{Timezone: "UTC"}, store, exec, bus, logx.Nop())
	if err := s.Recover(ctx); err != nil {
		t.Fatal(err)
	}
	events, unsub := bus.Subscribe(16)
	defer unsub()

	// Park a timer far in the future so onFire sees a live version.
	s.mu.Lock()
	s.armLocked(seed.ID, time.Now().Add(time.Hour))
	ver := s.vers[seed.ID]
	s.mu.Unlock()

	go s.onFire(seed.ID, ver)
	<-started

	// Second fire of the same registration while the first still runs.
	s.onFire(seed.ID, ver)

	var skipped bool
	timeout := time.After(2 * time.Second)
	for !skipped {
		select {
		case ev := <-events:
			if ev.Type == EventSkipped {
				skipped = true
			}
		case <-timeout:
			t.Fatal("no task.skipped event observed")
		}
	}

	close(release)
	waitFor(t, "slow run to finish", func() bool {
		cur, err := store.GetTask(ctx, seed.ID)
		return err == nil && cur.RunCount == 1
	})
	if exec.count() != 1 {
		t.Fatalf("executor calls = %d, want 1 (overlap coalesced)", exec.count())
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Stop(stopCtx)
}

func TestPanickingExecutorCountsAsFailure(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{fn: func(task.Task) (string, error) {
		panic("kaboom")
	}}
	ctx := context.Background()
	seed := task.Task{
		ID:         "panicky-1",
		OwnerID:    "o",
		Action:     "x",
		Recurrence: schedule.Recurrence{Spec: "0 9 * * *"},
		Timezone:   "UTC",
		Status:     task.StatusActive,
	}
	if err := store.PutTask(ctx, seed); err != nil {
		t.Fatal(err)
	}

	s := newTestService(t, store, exec)
	if err := s.Recover(ctx); err != nil {
		t.Fatal(err)
	}
	s.run(seed.ID, time.Now())

	cur, _ := store.GetTask(ctx, seed.ID)
	if cur.ConsecutiveFailures != 1 {
		t.Fatalf("ConsecutiveFailures = %d, want 1", cur.ConsecutiveFailures)
	}
	runs, _ := store.ListRuns(ctx, seed.ID, 0)
	if len(runs) != 1 || runs[0].OK {
		t.Fatalf("runs = %+v, want one failed record", runs)
	}
}

func TestCreateRejectsPastOneTime(t *testing.T) {
	t.Parallel()
	s := newTestService(t, newMemStore(), &fakeExec{})
	ctx := context.Background()
	if err := s.Recover(ctx); err != nil {
		t.Fatal(err)
	}
	_, err := s.Create(ctx, task.Task{
		OwnerID:    "o",
		Action:     "x",
		Recurrence: schedule.Recurrence{At: time.Now().Add(-time.Minute)},
	})
	if !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("err = %v, want ErrInvalidSchedule", err)
	}
}

func TestOwnershipHidesForeignTasks(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	s := newTestService(t, store, &fakeExec{})
	ctx := context.Background()
	if err := s.Recover(ctx); err != nil {
		t.Fatal(err)
	}
	created, err := s.Create(ctx, task.Task{
		OwnerID:    "alice",
		Action:     "x",
		Recurrence: schedule.Recurrence{Spec: "0 9 * * *"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(ctx, "mallory", created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign Get: err = %v, want ErrNotFound", err)
	}
	if _, err := s.Cancel(ctx, "mallory", created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign Cancel: err = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "alice", created.ID); err != nil {
		t.Fatalf("owner Get: %v", err)
	}
}

func TestPauseResumeCycle(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	s := newTestService(t, store, &fakeExec{})
	ctx := context.Background()
	if err := s.Recover(ctx); err != nil {
		t.Fatal(err)
	}
	created, err := s.Create(ctx, task.Task{
		OwnerID:    "o",
		Action:     "x",
		Recurrence: schedule.Recurrence{Spec: "0 9 * * *"},
	})
	if err != nil {
		t.Fatal(err)
	}

	paused, err := s.Pause(ctx, "o", created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if paused.Status != task.StatusPaused {
		t.Fatalf("after pause: %+v", paused)
	}
	// Pausing keeps the stored next fire; only terminal states clear it.
	if !paused.NextFireAt.Equal(created.NextFireAt) {
		t.Fatalf("pause changed stored next fire: %v, want %v", paused.NextFireAt, created.NextFireAt)
	}

	// Pause is idempotent.
	if _, err := s.Pause(ctx, "o", created.ID); err != nil {
		t.Fatalf("second pause: %v", err)
	}

	resumed, err := s.Resume(ctx, "o", created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Status != task.StatusActive || resumed.NextFireAt.IsZero() {
		t.Fatalf("after resume: %+v", resumed)
	}
}

func TestResumeExpiredOneTimeCompletes(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	s := newTestService(t, store, &fakeExec{})
	ctx := context.Background()
	seed := task.Task{
		ID:         "expired-1",
		OwnerID:    "o",
		Action:     "x",
		Recurrence: schedule.Recurrence{At: time.Now().Add(-time.Hour)},
		Timezone:   "UTC",
		Status:     task.StatusPaused,
	}
	if err := store.PutTask(ctx, seed); err != nil {
		t.Fatal(err)
	}
	if err := s.Recover(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := s.Resume(ctx, "o", seed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusCompleted {
		t.Fatalf("Status = %s, want completed for an instant that passed while paused", got.Status)
	}
}

func TestListOrdersByNextFire(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	s := newTestService(t, store, &fakeExec{})
	ctx := context.Background()

	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	soon := sampleSeed("soon", base, base.Add(time.Hour))
	later := sampleSeed("later", base.Add(time.Minute), base.Add(2*time.Hour))
	parked := sampleSeed("parked", base.Add(2*time.Minute), time.Time{})
	parked.Status = task.StatusPaused
	done := sampleSeed("done", base.Add(3*time.Minute), time.Time{})
	done.Status = task.StatusCompleted
	for _, tt := range []task.Task{done, later, parked, soon} {
		if err := store.PutTask(ctx, tt); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List(ctx, "o")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"soon", "later", "parked", "done"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func sampleSeed(id string, createdAt, nextFireAt time.Time) task.Task {
	return task.Task{
		ID:         id,
		OwnerID:    "o",
		Action:     "x",
		Recurrence: schedule.Recurrence{Spec: "0 9 * * *"},
		Timezone:   "UTC",
		Status:     task.StatusActive,
		NextFireAt: nextFireAt,
		CreatedAt:  createdAt,
	}
}

func TestDeleteRemovesRowAndIsIdempotent(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	s := newTestService(t, store, &fakeExec{})
	ctx := context.Background()
	if err := s.Recover(ctx); err != nil {
		t.Fatal(err)
	}

	// Deleting an id that never existed is not an error.
	if err := s.Delete(ctx, "o", "no-such-id"); err != nil {
		t.Fatalf("delete of absent id: %v", err)
	}

	created, err := s.Create(ctx, task.Task{
		OwnerID:    "o",
		Action:     "x",
		Recurrence: schedule.Recurrence{Spec: "0 9 * * *"},
	})
	if err != nil {
		t.Fatal(err)
	}
	s.run(created.ID, time.Now())

	// A foreign owner's delete is a silent no-op.
	if err := s.Delete(ctx, "mallory", created.ID); err != nil {
		t.Fatalf("foreign delete: %v", err)
	}
	if _, err := s.Get(ctx, "o", created.ID); err != nil {
		t.Fatalf("task vanished after foreign delete: %v", err)
	}

	if err := s.Delete(ctx, "o", created.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "o", created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: err = %v, want ErrNotFound", err)
	}
	runs, err := store.ListRuns(ctx, created.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Fatalf("run history survived delete: %d rows", len(runs))
	}

	// Deleting again is still not an error.
	if err := s.Delete(ctx, "o", created.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestCancelDuringRunWinsOverFailure(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	started := make(chan struct{})
	release := make(chan struct{})
	exec := &fakeExec{fn: func(task.Task) (string, error) {
		close(started)
		<-release
		return "", fmt.Errorf("boom")
	}}
	ctx := context.Background()
	seed := task.Task{
		ID:         "inflight-1",
		OwnerID:    "o",
		Action:     "x",
		Recurrence: schedule.Recurrence{Spec: "0 9 * * *"},
		Timezone:   "UTC",
		Status:     task.StatusActive,
	}
	if err := store.PutTask(ctx, seed); err != nil {
		t.Fatal(err)
	}

	// Threshold 1: the failing run would mark the task failed if the
	// mid-flight cancellation didn't take precedence.
	s := New(Config{Timezone: "UTC", FailureThreshold: 1}, store, exec, eventbus.New(), logx.Nop())
	if err := s.Recover(ctx); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(seed.ID, time.Now())
	}()
	<-started

	if _, err := s.Cancel(ctx, "o", seed.ID); err != nil {
		t.Fatal(err)
	}
	close(release)
	<-done

	cur, _ := store.GetTask(ctx, seed.ID)
	if cur.Status != task.StatusCancelled {
		t.Fatalf("Status = %s, want cancelled to win over the in-flight failure", cur.Status)
	}
	if !cur.NextFireAt.IsZero() {
		t.Fatalf("NextFireAt = %v, want zero for cancelled task", cur.NextFireAt)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Stop(stopCtx)
}

func TestCancelKeepsRowAndHistory(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	s := newTestService(t, store, &fakeExec{})
	ctx := context.Background()
	if err := s.Recover(ctx); err != nil {
		t.Fatal(err)
	}
	created, err := s.Create(ctx, task.Task{
		OwnerID:    "o",
		Action:     "x",
		Recurrence: schedule.Recurrence{Spec: "0 9 * * *"},
	})
	if err != nil {
		t.Fatal(err)
	}
	s.run(created.ID, time.Now())

	got, err := s.Cancel(ctx, "o", created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusCancelled {
		t.Fatalf("Status = %s, want cancelled", got.Status)
	}

	// Cancelling again is a no-op, not an error.
	if _, err := s.Cancel(ctx, "o", created.ID); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}

	// The row and its run history survive for audit.
	if _, err := s.Get(ctx, "o", created.ID); err != nil {
		t.Fatalf("Get after cancel: %v", err)
	}
	runs, err := s.Runs(ctx, "o", created.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want history preserved", len(runs))
	}
}
