package storage

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aatumaykin/nexbackup/internal/logger"
	"github.com/aatumaykin/nexbackup/internal/tasks"
)

//go:embed postgres.sql
var postgresSchema string

// Postgres is a tasks.Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

var _ tasks.Store = (*Postgres)(nil)

// OpenPostgres connects to dsn and creates the schema if missing.
func OpenPostgres(ctx context.Context, dsn string, log *logger.Logger) (*Postgres, error) {
	if log == nil {
		log = logger.Nop()
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db config: %w", err)
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach db: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Postgres{pool: pool, log: log.Component("storage.postgres")}, nil
}

func (p *Postgres) Create(ctx context.Context, d tasks.Definition) error {
	d.Normalize()
	if err := d.Validate(); err != nil {
		return err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	tag, err := p.pool.Exec(ctx,
		`INSERT INTO backup_tasks(id, user_id, task, files, servers, frequency, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (id) DO NOTHING`,
		d.ID, d.UserID, d.Task, d.Files, d.Servers, d.Frequency, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", tasks.ErrDuplicate, d.ID)
	}
	return nil
}

func (p *Postgres) ListByOwner(ctx context.Context, userID string) ([]tasks.Definition, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, task, files, servers, frequency, created_at
		 FROM backup_tasks WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}

	defs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (tasks.Definition, error) {
		var d tasks.Definition
		err := row.Scan(&d.ID, &d.UserID, &d.Task, &d.Files, &d.Servers, &d.Frequency, &d.CreatedAt)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	return defs, nil
}

func (p *Postgres) AppendStatus(ctx context.Context, r tasks.StatusRecord) error {
	r.Prepare(time.Now())
	_, err := p.pool.Exec(ctx,
		`INSERT INTO backup_status(id, user_id, task_id, job_id, server_name, source_path, dest_path, status, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.UserID, r.TaskID, r.JobID, r.ServerName, r.SourcePath, r.DestPath, string(r.Status), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("append status: %w", err)
	}
	return nil
}

func (p *Postgres) ListStatus(ctx context.Context, f tasks.StatusFilter) ([]tasks.StatusRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(col, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("user_id", f.UserID)
	add("task_id", f.TaskID)
	add("job_id", f.JobID)

	q := `SELECT id, user_id, task_id, job_id, server_name, source_path, dest_path, status, created_at FROM backup_status`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, seq"

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (tasks.StatusRecord, error) {
		var (
			r      tasks.StatusRecord
			status string
		)
		err := row.Scan(&r.ID, &r.UserID, &r.TaskID, &r.JobID, &r.ServerName, &r.SourcePath, &r.DestPath, &status, &r.CreatedAt)
		r.Status = tasks.Status(status)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan status: %w", err)
	}
	return tasks.Tail(recs, f.Limit), nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
