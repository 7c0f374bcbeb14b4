package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cuebot/internal/schedule"
	"cuebot/internal/task"
	logx "cuebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const taskColumns = `id, owner_id, raw_text, action_text, cron_spec, fire_at_ms, timezone,
	status, next_fire_at_ms, last_fired_at_ms, run_count, consecutive_failures,
	last_error, action_kind, notify_channel, notify_destination, created_at_ms, updated_at_ms`

func (s *sqliteStore) PutTask(ctx context.Context, t task.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		taskArgs(t)...,
	)
	return err
}

func (s *sqliteStore) UpdateTask(ctx context.Context, t task.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET owner_id=?, raw_text=?, action_text=?, cron_spec=?, fire_at_ms=?,
		 timezone=?, status=?, next_fire_at_ms=?, last_fired_at_ms=?, run_count=?,
		 consecutive_failures=?, last_error=?, action_kind=?, notify_channel=?,
		 notify_destination=?, created_at_ms=?, updated_at_ms=? WHERE id=?`,
		append(taskArgs(t)[1:], t.ID)...,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err == nil {
		// Keep run history only for live tasks.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM task_runs WHERE task_id = ?`, id)
	}
	return err
}

func (s *sqliteStore) ListTasks(ctx context.Context, ownerID string) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? ORDER BY created_at_ms`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *sqliteStore) ListNonTerminal(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status IN (?, ?) ORDER BY created_at_ms`,
		string(task.StatusActive), string(task.StatusPaused))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *sqliteStore) AppendRun(ctx context.Context, r task.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_runs(id, task_id, started_at_ms, duration_ms, ok, detail, error)
		 VALUES(?,?,?,?,?,?,?)`,
		r.ID, r.TaskID, r.StartedAt.UnixMilli(), r.Duration.Milliseconds(),
		boolInt(r.OK), nullStr(r.Detail), nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) ListRuns(ctx context.Context, taskID string, limit int) ([]task.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, started_at_ms, duration_ms, ok, detail, error
		 FROM task_runs WHERE task_id = ? ORDER BY started_at_ms DESC LIMIT ?`,
		taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Run
	for rows.Next() {
		var (
			r             task.Run
			startedMS     int64
			durMS         int64
			ok            int
			detail, rerrs sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &startedMS, &durMS, &ok, &detail, &rerrs); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(startedMS)
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.OK = ok != 0
		r.Detail = detail.String
		r.Error = rerrs.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// taskArgs flattens a task into insert-order values (id first).
func taskArgs(t task.Task) []any {
	return []any{
		t.ID, t.OwnerID, t.RawText, t.Action,
		nullStr(t.Recurrence.Spec), nullMS(t.Recurrence.At), t.Timezone,
		string(t.Status), nullMS(t.NextFireAt), nullMS(t.LastFiredAt),
		t.RunCount, t.ConsecutiveFailures, nullStr(t.LastError),
		string(t.ActionKind), nullStr(t.NotifyChannel), nullStr(t.NotifyDestination),
		t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
	}
}

type rowScanner interface{ Scan(dest ...any) error }

func scanTask(row rowScanner) (task.Task, error) {
	var (
		t                                       task.Task
		cronSpec, lastErr, channel, destination sql.NullString
		fireAt, nextAt, lastAt                  sql.NullInt64
		status, kind                            string
		createdMS, updatedMS                    int64
	)
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.RawText, &t.Action, &cronSpec, &fireAt, &t.Timezone,
		&status, &nextAt, &lastAt, &t.RunCount, &t.ConsecutiveFailures,
		&lastErr, &kind, &channel, &destination, &createdMS, &updatedMS,
	)
	if err != nil {
		return task.Task{}, err
	}
	t.Recurrence = schedule.Recurrence{Spec: cronSpec.String, At: msTime(fireAt)}
	t.Status = task.Status(status)
	t.NextFireAt = msTime(nextAt)
	t.LastFiredAt = msTime(lastAt)
	t.LastError = lastErr.String
	t.ActionKind = task.ActionKind(kind)
	t.NotifyChannel = channel.String
	t.NotifyDestination = destination.String
	t.CreatedAt = time.UnixMilli(createdMS)
	t.UpdatedAt = time.UnixMilli(updatedMS)
	return t, nil
}

func collectTasks(rows *sql.Rows) ([]task.Task, error) {
	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullMS(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func msTime(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
