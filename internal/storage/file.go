package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cuebot/internal/task"
	logx "cuebot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.tasks.snapshot.json (periodic snapshot of all tasks)
//   - <prefix>.tasks.journal.jsonl (append-only task upserts/deletes)
//   - <prefix>.runs.jsonl          (append-only run history)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File
	runsFile     *os.File

	tasks map[string]task.Task

	journalWrites int
}

type journalRecord struct {
	Op   string     `json:"op"` // "put" or "del"
	ID   string     `json:"id"`
	Task *task.Task `json:"task,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".tasks.snapshot.json"
	journalPath := prefix + ".tasks.journal.jsonl"
	runsPath := prefix + ".runs.jsonl"

	tasks := map[string]task.Task{}
	_ = loadTaskSnapshot(snapPath, tasks)
	_ = replayTaskJournal(journalPath, tasks)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		runsFile:     rf,
		tasks:        tasks,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.journalFile != nil {
		err1 = s.journalFile.Close()
		s.journalFile = nil
	}
	if s.runsFile != nil {
		err2 = s.runsFile.Close()
		s.runsFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) PutTask(ctx context.Context, t task.Task) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(t)
}

func (s *fileStore) UpdateTask(ctx context.Context, t task.Task) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	return s.putLocked(t)
}

func (s *fileStore) putLocked(t task.Task) error {
	if s.journalFile == nil {
		return errors.New("task journal closed")
	}
	tt := t
	if err := json.NewEncoder(s.journalFile).Encode(journalRecord{Op: "put", ID: t.ID, Task: &tt}); err != nil {
		return err
	}
	s.tasks[t.ID] = t
	s.bumpWritesLocked()
	return nil
}

func (s *fileStore) GetTask(ctx context.Context, id string) (task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, ErrNotFound
	}
	return t, nil
}

func (s *fileStore) DeleteTask(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("task journal closed")
	}
	if _, ok := s.tasks[id]; !ok {
		return nil
	}
	if err := json.NewEncoder(s.journalFile).Encode(journalRecord{Op: "del", ID: id}); err != nil {
		return err
	}
	delete(s.tasks, id)
	s.bumpWritesLocked()
	return nil
}

func (s *fileStore) ListTasks(ctx context.Context, ownerID string) ([]task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out, nil
}

func (s *fileStore) ListNonTerminal(ctx context.Context) ([]task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if !t.Status.Terminal() {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out, nil
}

func (s *fileStore) AppendRun(ctx context.Context, r task.Run) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return errors.New("runs file closed")
	}
	return json.NewEncoder(s.runsFile).Encode(r)
}

// ListRuns scans the runs file. The file driver targets small single-user
// deployments, so a full scan per query is acceptable.
func (s *fileStore) ListRuns(ctx context.Context, taskID string, limit int) ([]task.Run, error) {
	_ = ctx
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	path := ""
	if s.runsFile != nil {
		path = s.runsFile.Name()
	}
	s.mu.Unlock()
	if path == "" {
		return nil, errors.New("runs file closed")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []task.Run
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r task.Run
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) bumpWritesLocked() {
	s.journalWrites++
	if s.journalWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("task journal compact failed", logx.Any("err", err))
		}
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.tasks); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadTaskSnapshot(path string, out map[string]task.Task) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]task.Task
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayTaskJournal(path string, out map[string]task.Task) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Op {
		case "put":
			if r.Task != nil && r.ID != "" {
				out[r.ID] = *r.Task
			}
		case "del":
			delete(out, r.ID)
		}
	}
	return sc.Err()
}

func sortTasks(ts []task.Task) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].CreatedAt.Before(ts[j].CreatedAt) })
}
