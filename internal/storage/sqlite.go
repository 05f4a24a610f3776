package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aatumaykin/nexbackup/internal/actor"
	"github.com/aatumaykin/nexbackup/internal/logger"
	"github.com/aatumaykin/nexbackup/internal/tasks"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLite implements actor.TimerStore, actor.StateStore and tasks.Store on a
// single database file.
type SQLite struct {
	db  *sql.DB
	log *logger.Logger
}

var (
	_ actor.TimerStore = (*SQLite)(nil)
	_ actor.StateStore = (*SQLite)(nil)
	_ tasks.Store      = (*SQLite)(nil)
)

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations. ":memory:" opens a private in-memory database.
func OpenSQLite(path string, log *logger.Logger) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &SQLite{db: db, log: log.Component("storage.sqlite")}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}
	s.log.Debug("sqlite store opened", logger.Field{Key: "path", Value: path})
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Timers

func (s *SQLite) Upsert(ctx context.Context, t actor.Timer) (int64, error) {
	gen := actor.NextGeneration()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO timers(owner_kind, owner_key, name, due_at, period_ns, state, generation, claim_owner, claimed_until)
		 VALUES(?,?,?,?,?,?,?,NULL,NULL)
		 ON CONFLICT(owner_kind, owner_key, name) DO UPDATE SET
		   due_at=excluded.due_at, period_ns=excluded.period_ns, state=excluded.state,
		   generation=excluded.generation, claim_owner=NULL, claimed_until=NULL`,
		t.Owner.Kind, t.Owner.Key, t.Name, t.DueAt.UnixNano(), int64(t.Period), t.State, gen,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert timer: %w", err)
	}
	return gen, nil
}

func (s *SQLite) Delete(ctx context.Context, owner actor.ID, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM timers WHERE owner_kind = ? AND owner_key = ? AND name = ?`,
		owner.Kind, owner.Key, name)
	if err != nil {
		return false, fmt.Errorf("delete timer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) Get(ctx context.Context, owner actor.ID, name string) (actor.Timer, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT owner_kind, owner_key, name, due_at, period_ns, state, generation
		 FROM timers WHERE owner_kind = ? AND owner_key = ? AND name = ?`,
		owner.Kind, owner.Key, name)
	t, err := scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return actor.Timer{}, false, nil
	}
	if err != nil {
		return actor.Timer{}, false, fmt.Errorf("get timer: %w", err)
	}
	return t, true, nil
}

func (s *SQLite) ClaimDue(ctx context.Context, now time.Time, owner string, ttl time.Duration, limit int) ([]actor.Timer, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_kind, owner_key, name, due_at, period_ns, state, generation
		 FROM timers
		 WHERE due_at <= ? AND (claimed_until IS NULL OR claimed_until <= ?)
		 ORDER BY due_at
		 LIMIT ?`,
		now.UnixNano(), now.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("select due timers: %w", err)
	}
	var candidates []actor.Timer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		candidates = append(candidates, t)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	until := now.Add(ttl).UnixNano()
	claimed := make([]actor.Timer, 0, len(candidates))
	for _, t := range candidates {
		res, err := s.db.ExecContext(ctx,
			`UPDATE timers SET claim_owner = ?, claimed_until = ?
			 WHERE owner_kind = ? AND owner_key = ? AND name = ? AND generation = ?
			   AND (claimed_until IS NULL OR claimed_until <= ?)`,
			owner, until, t.Owner.Kind, t.Owner.Key, t.Name, t.Generation, now.UnixNano())
		if err != nil {
			return claimed, fmt.Errorf("claim timer: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			claimed = append(claimed, t)
		} else {
			s.log.Debug("timer claimed elsewhere",
				logger.Field{Key: "entity", Value: t.Owner.String()},
				logger.Field{Key: "timer", Value: t.Name})
		}
	}
	return claimed, nil
}

func (s *SQLite) Complete(ctx context.Context, t actor.Timer, next time.Time) error {
	var err error
	if next.IsZero() {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM timers WHERE owner_kind = ? AND owner_key = ? AND name = ? AND generation = ?`,
			t.Owner.Kind, t.Owner.Key, t.Name, t.Generation)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE timers SET due_at = ?, claim_owner = NULL, claimed_until = NULL
			 WHERE owner_kind = ? AND owner_key = ? AND name = ? AND generation = ?`,
			next.UnixNano(), t.Owner.Kind, t.Owner.Key, t.Name, t.Generation)
	}
	if err != nil {
		return fmt.Errorf("complete timer: %w", err)
	}
	return nil
}

func (s *SQLite) Release(ctx context.Context, t actor.Timer) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE timers SET claim_owner = NULL, claimed_until = NULL
		 WHERE owner_kind = ? AND owner_key = ? AND name = ? AND generation = ?`,
		t.Owner.Kind, t.Owner.Key, t.Name, t.Generation)
	if err != nil {
		return fmt.Errorf("release timer: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimer(r rowScanner) (actor.Timer, error) {
	var (
		t        actor.Timer
		dueAt    int64
		periodNs int64
	)
	if err := r.Scan(&t.Owner.Kind, &t.Owner.Key, &t.Name, &dueAt, &periodNs, &t.State, &t.Generation); err != nil {
		return actor.Timer{}, err
	}
	t.DueAt = time.Unix(0, dueAt).UTC()
	t.Period = time.Duration(periodNs)
	return t, nil
}

// Entity state

func (s *SQLite) GetState(ctx context.Context, id actor.ID, key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM entity_state WHERE kind = ? AND entity_key = ? AND state_key = ?`,
		id.Kind, id.Key, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get state: %w", err)
	}
	return v, true, nil
}

func (s *SQLite) SetState(ctx context.Context, id actor.ID, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_state(kind, entity_key, state_key, value, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(kind, entity_key, state_key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		id.Kind, id.Key, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteState(ctx context.Context, id actor.ID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entity_state WHERE kind = ? AND entity_key = ? AND state_key = ?`,
		id.Kind, id.Key, key)
	if err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// Tasks

func (s *SQLite) Create(ctx context.Context, d tasks.Definition) error {
	d.Normalize()
	if err := d.Validate(); err != nil {
		return err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	files, err := json.Marshal(d.Files)
	if err != nil {
		return err
	}
	servers, err := json.Marshal(d.Servers)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO task_definitions(id, user_id, task, files, servers, frequency, created_at)
		 VALUES(?,?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`,
		d.ID, d.UserID, d.Task, string(files), string(servers), d.Frequency, d.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", tasks.ErrDuplicate, d.ID)
	}
	return nil
}

func (s *SQLite) ListByOwner(ctx context.Context, userID string) ([]tasks.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, task, files, servers, frequency, created_at
		 FROM task_definitions WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []tasks.Definition
	for rows.Next() {
		var (
			d              tasks.Definition
			files, servers string
			createdAt      int64
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.Task, &files, &servers, &d.Frequency, &createdAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if err := json.Unmarshal([]byte(files), &d.Files); err != nil {
			return nil, fmt.Errorf("decode files of task %s: %w", d.ID, err)
		}
		if err := json.Unmarshal([]byte(servers), &d.Servers); err != nil {
			return nil, fmt.Errorf("decode servers of task %s: %w", d.ID, err)
		}
		d.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLite) AppendStatus(ctx context.Context, r tasks.StatusRecord) error {
	r.Prepare(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status_records(id, user_id, task_id, job_id, server_name, source_path, dest_path, status, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.UserID, r.TaskID, r.JobID, r.ServerName, r.SourcePath, r.DestPath, string(r.Status), r.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("append status: %w", err)
	}
	return nil
}

func (s *SQLite) ListStatus(ctx context.Context, f tasks.StatusFilter) ([]tasks.StatusRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if f.JobID != "" {
		where = append(where, "job_id = ?")
		args = append(args, f.JobID)
	}
	q := `SELECT id, user_id, task_id, job_id, server_name, source_path, dest_path, status, created_at FROM status_records`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, seq"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	defer rows.Close()

	var out []tasks.StatusRecord
	for rows.Next() {
		var (
			r         tasks.StatusRecord
			status    string
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.TaskID, &r.JobID, &r.ServerName, &r.SourcePath, &r.DestPath, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		r.Status = tasks.Status(status)
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks.Tail(out, f.Limit), nil
}
