// Package engine owns the durable task lifecycle: it persists tasks, arms
// one timer per task, executes fires, and recovers state after a restart.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cuebot/internal/eventbus"
	"cuebot/internal/storage"
	"cuebot/internal/task"
	logx "cuebot/pkg/logx"
)

// Service schedules tasks with one time.AfterFunc per task.
//
// Timer registrations are never persisted; Recover rebuilds them from the
// store. Each arm bumps a per-task version so a stale callback from a timer
// that was re-armed or disarmed concurrently becomes a no-op.
type Service struct {
	store storage.Store
	exec  Executor
	bus   eventbus.Bus
	log   logx.Logger

	cfgMu sync.RWMutex
	cfg   Config

	mu      sync.Mutex
	timers  map[string]*time.Timer
	vers    map[string]uint64
	leases  map[string]struct{}
	ready   bool
	stopped bool

	wg sync.WaitGroup // in-flight executions
}

func New(cfg Config, store storage.Store, exec Executor, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:  store,
		exec:   exec,
		bus:    bus,
		log:    log,
		cfg:    cfg.withDefaults(),
		timers: map[string]*time.Timer{},
		vers:   map[string]uint64{},
		leases: map[string]struct{}{},
	}
}

// Apply updates scheduling knobs at runtime. Already-armed timers keep their
// fire instants; the new config takes effect from the next fire on.
func (s *Service) Apply(cfg Config) {
	s.cfgMu.Lock()
	s.cfg = cfg.withDefaults()
	s.cfgMu.Unlock()
}

func (s *Service) config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Recover rebuilds timers from persisted state. It must complete before the
// engine accepts mutating operations.
//
// Missed fires collapse: however many occurrences passed while the process
// was down, the task fires exactly once immediately, then resumes its normal
// cadence.
func (s *Service) Recover(ctx context.Context) error {
	now := time.Now()
	tasks, err := s.store.ListNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("engine: recovery scan: %w", err)
	}

	var armed, caughtUp, parked, closed int
	for i := range tasks {
		t := tasks[i]
		if t.Status == task.StatusPaused {
			parked++
			continue
		}

		next := t.NextFireAt
		if next.IsZero() {
			next = t.Recurrence.Next(now, t.Location())
		}
		if next.IsZero() {
			// One-time instant already consumed before the restart.
			t.Status = task.StatusCompleted
			t.NextFireAt = time.Time{}
			t.UpdatedAt = now
			if err := s.store.UpdateTask(ctx, t); err != nil {
				s.log.Warn("recovery close-out failed", logx.String("task_id", t.ID), logx.Err(err))
			}
			closed++
			continue
		}

		at := next
		if !next.After(now) {
			// Catch-up: fire once now; the completion handler advances past
			// any remaining backlog.
			at = now
			caughtUp++
		} else {
			armed++
		}

		s.mu.Lock()
		s.armLocked(t.ID, at)
		s.mu.Unlock()

		s.publish(EventRecovered, t, "", "")
	}

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()

	s.log.Info("recovery complete",
		logx.Int("armed", armed),
		logx.Int("caught_up", caughtUp),
		logx.Int("paused", parked),
		logx.Int("closed", closed))
	return nil
}

// Create persists and arms a new task. The recurrence must be able to fire at
// least once in the future.
func (s *Service) Create(ctx context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	ready := s.ready && !s.stopped
	s.mu.Unlock()
	if !ready {
		return task.Task{}, ErrNotReady
	}

	if err := t.Recurrence.Validate(); err != nil {
		return task.Task{}, err
	}

	cfg := s.config()
	if t.Timezone == "" {
		t.Timezone = cfg.Timezone
	}
	now := time.Now()
	next := t.Recurrence.Next(now, t.Location())
	if next.IsZero() {
		return task.Task{}, ErrInvalidSchedule
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.ActionKind == "" {
		t.ActionKind = task.ActionAgentRun
	}
	t.Status = task.StatusActive
	t.NextFireAt = next
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := s.store.PutTask(ctx, t); err != nil {
		return task.Task{}, err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		// Don't leave an orphan row the next recovery would resurrect.
		_ = s.store.DeleteTask(ctx, t.ID)
		return task.Task{}, ErrNotReady
	}
	s.armLocked(t.ID, next)
	s.mu.Unlock()

	s.log.Info("task created",
		logx.String("task_id", t.ID),
		logx.String("owner", t.OwnerID),
		logx.String("kind", string(t.ActionKind)),
		logx.Time("next_fire", next))
	return t, nil
}

// Pause disarms an active task without losing its schedule. The stored next
// fire instant is kept as-is; Resume recomputes it from the current time.
func (s *Service) Pause(ctx context.Context, ownerID, id string) (task.Task, error) {
	t, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return task.Task{}, err
	}
	if t.Status.Terminal() {
		return task.Task{}, ErrTerminal
	}
	if t.Status == task.StatusPaused {
		return t, nil
	}

	s.mu.Lock()
	s.disarmLocked(id)
	s.mu.Unlock()

	t.Status = task.StatusPaused
	t.UpdatedAt = time.Now()
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return task.Task{}, err
	}
	s.log.Info("task paused", logx.String("task_id", id))
	return t, nil
}

// Resume re-arms a paused task from the current time.
func (s *Service) Resume(ctx context.Context, ownerID, id string) (task.Task, error) {
	t, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return task.Task{}, err
	}
	if t.Status.Terminal() {
		return task.Task{}, ErrTerminal
	}
	if t.Status == task.StatusActive {
		return t, nil
	}

	now := time.Now()
	next := t.Recurrence.Next(now, t.Location())
	if next.IsZero() {
		// A one-time instant that passed while paused has nothing left to do.
		t.Status = task.StatusCompleted
		t.NextFireAt = time.Time{}
		t.UpdatedAt = now
		if err := s.store.UpdateTask(ctx, t); err != nil {
			return task.Task{}, err
		}
		return t, nil
	}

	t.Status = task.StatusActive
	t.NextFireAt = next
	t.UpdatedAt = now
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return task.Task{}, err
	}

	s.mu.Lock()
	if !s.stopped {
		s.armLocked(id, next)
	}
	s.mu.Unlock()

	s.log.Info("task resumed", logx.String("task_id", id), logx.Time("next_fire", next))
	return t, nil
}

// Cancel disarms a task and marks it cancelled. The row and its run history
// are kept for audit.
func (s *Service) Cancel(ctx context.Context, ownerID, id string) (task.Task, error) {
	t, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return task.Task{}, err
	}
	if t.Status.Terminal() {
		return t, nil
	}

	s.mu.Lock()
	s.disarmLocked(id)
	s.mu.Unlock()

	t.Status = task.StatusCancelled
	t.NextFireAt = time.Time{}
	t.UpdatedAt = time.Now()
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return task.Task{}, err
	}
	s.log.Info("task cancelled", logx.String("task_id", id))
	return t, nil
}

// Delete disarms a task and removes its row together with its run history.
// Deleting an already-absent id is not an error.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	// Foreign rows look absent; nothing is deleted.
	if ownerID != "" && t.OwnerID != ownerID {
		return nil
	}

	s.mu.Lock()
	s.disarmLocked(id)
	s.mu.Unlock()

	if err := s.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.log.Info("task deleted", logx.String("task_id", id))
	return nil
}

func (s *Service) Get(ctx context.Context, ownerID, id string) (task.Task, error) {
	return s.owned(ctx, ownerID, id)
}

// List returns the owner's tasks ordered by next fire; tasks that will never
// fire again (terminal, or paused with nothing scheduled) sort last.
func (s *Service) List(ctx context.Context, ownerID string) ([]task.Task, error) {
	tasks, err := s.store.ListTasks(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		aFires, bFires := !a.NextFireAt.IsZero(), !b.NextFireAt.IsZero()
		if aFires != bFires {
			return aFires
		}
		if aFires && !a.NextFireAt.Equal(b.NextFireAt) {
			return a.NextFireAt.Before(b.NextFireAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return tasks, nil
}

func (s *Service) Runs(ctx context.Context, ownerID, id string, limit int) ([]task.Run, error) {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, id, limit)
}

// Stop disarms all timers and waits for in-flight executions.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for id, tm := range s.timers {
		tm.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Service) owned(ctx context.Context, ownerID, id string) (task.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return task.Task{}, ErrNotFound
		}
		return task.Task{}, err
	}
	// Ownership mismatch is indistinguishable from absence on purpose.
	if ownerID != "" && t.OwnerID != ownerID {
		return task.Task{}, ErrNotFound
	}
	return t, nil
}

// armLocked schedules a fire at the given instant. Caller holds s.mu.
func (s *Service) armLocked(id string, at time.Time) {
	if s.stopped {
		return
	}
	if tm := s.timers[id]; tm != nil {
		tm.Stop()
	}
	s.vers[id]++
	ver := s.vers[id]
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	s.timers[id] = time.AfterFunc(d, func() { s.onFire(id, ver) })
}

// disarmLocked stops the task's timer and invalidates pending callbacks.
// Caller holds s.mu.
func (s *Service) disarmLocked(id string) {
	if tm := s.timers[id]; tm != nil {
		tm.Stop()
		delete(s.timers, id)
	}
	s.vers[id]++
}

func (s *Service) onFire(id string, ver uint64) {
	s.mu.Lock()
	if s.stopped || s.vers[id] != ver {
		s.mu.Unlock()
		return
	}
	fired := time.Now()
	if _, busy := s.leases[id]; busy {
		// Previous run still executing: this occurrence is skipped, the
		// following one is scheduled.
		s.mu.Unlock()
		s.skipOverlap(id, fired)
		return
	}
	s.leases[id] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.leases, id)
		s.mu.Unlock()
		s.wg.Done()
	}()

	s.run(id, fired)
}

func (s *Service) run(id string, fired time.Time) {
	cfg := s.config()

	ctx := context.Background()
	var cancel context.CancelFunc
	if cfg.ExecTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.ExecTimeout)
		defer cancel()
	}

	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		s.log.Warn("fire for unknown task", logx.String("task_id", id), logx.Err(err))
		return
	}
	if t.Status != task.StatusActive {
		return
	}

	s.publish(EventFired, t, "", "")
	s.log.Debug("task fired", logx.String("task_id", id), logx.String("kind", string(t.ActionKind)))

	detail, execErr := s.safeExecute(ctx, t)
	dur := time.Since(fired)

	// Run history is best-effort; a history write failure never blocks the
	// lifecycle update.
	run := task.Run{
		ID:        uuid.NewString(),
		TaskID:    id,
		StartedAt: fired,
		Duration:  dur,
		OK:        execErr == nil,
		Detail:    detail,
	}
	if execErr != nil {
		run.Error = execErr.Error()
	}
	if err := s.store.AppendRun(ctx, run); err != nil {
		s.log.Warn("run history write failed", logx.String("task_id", id), logx.Err(err))
	}

	// Reload: the task may have been paused or cancelled mid-execution, and
	// that state wins over re-arming.
	cur, err := s.store.GetTask(ctx, id)
	if err != nil {
		return
	}

	now := time.Now()
	cur.RunCount++
	cur.LastFiredAt = fired
	cur.UpdatedAt = now

	if execErr == nil {
		cur.ConsecutiveFailures = 0
		cur.LastError = ""
	} else {
		cur.ConsecutiveFailures++
		cur.LastError = execErr.Error()
	}

	switch {
	case cur.Status != task.StatusActive:
		// Paused, cancelled or deleted while running; that state wins over
		// every outcome of this run, including the failure threshold.

	case execErr != nil && cur.ConsecutiveFailures >= cfg.FailureThreshold:
		cur.Status = task.StatusFailed
		cur.NextFireAt = time.Time{}
		s.log.Warn("task failed permanently",
			logx.String("task_id", id),
			logx.Int("consecutive_failures", cur.ConsecutiveFailures),
			logx.Err(execErr))

	case cur.Recurrence.OneTime():
		cur.Status = task.StatusCompleted
		cur.NextFireAt = time.Time{}

	default:
		// Advance from the fired instant to keep the cadence drift-free; if
		// that still lands in the past (catch-up after downtime), collapse
		// the backlog and continue from now.
		loc := cur.Location()
		next := cur.Recurrence.Next(fired, loc)
		if !next.IsZero() && !next.After(now) {
			next = cur.Recurrence.Next(now, loc)
		}
		if next.IsZero() {
			cur.Status = task.StatusCompleted
			cur.NextFireAt = time.Time{}
		} else {
			cur.NextFireAt = next
			s.mu.Lock()
			s.armLocked(id, next)
			s.mu.Unlock()
		}
	}

	if err := s.store.UpdateTask(ctx, cur); err != nil {
		s.log.Error("task state update failed", logx.String("task_id", id), logx.Err(err))
	}

	if execErr == nil {
		s.publish(EventCompleted, cur, detail, "")
	} else {
		s.publish(EventFailed, cur, detail, execErr.Error())
	}
}

// safeExecute shields the engine from a panicking executor; a panic counts
// as a failed run.
func (s *Service) safeExecute(ctx context.Context, t task.Task) (detail string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
			s.log.Error("executor panicked", logx.String("task_id", t.ID), logx.Any("panic", r))
		}
	}()
	return s.exec.Execute(ctx, t)
}

// skipOverlap records a coalesced fire and schedules the next occurrence.
func (s *Service) skipOverlap(id string, fired time.Time) {
	ctx := context.Background()
	t, err := s.store.GetTask(ctx, id)
	if err != nil || t.Status != task.StatusActive {
		return
	}

	s.log.Debug("fire skipped (previous run still executing)", logx.String("task_id", id))
	s.publish(EventSkipped, t, "", "")

	if t.Recurrence.OneTime() {
		return
	}
	next := t.Recurrence.Next(fired, t.Location())
	if next.IsZero() {
		return
	}
	t.NextFireAt = next
	t.UpdatedAt = time.Now()
	if err := s.store.UpdateTask(ctx, t); err != nil {
		s.log.Warn("skip bookkeeping failed", logx.String("task_id", id), logx.Err(err))
	}

	s.mu.Lock()
	s.armLocked(id, next)
	s.mu.Unlock()
}

func (s *Service) publish(typ string, t task.Task, detail, errStr string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: typ,
		Data: EventData{
			TaskID:  t.ID,
			OwnerID: t.OwnerID,
			Action:  t.Action,
			Detail:  detail,
			Error:   errStr,
		},
	})
}
