package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"unix-task-manager/internal/models"
	"unix-task-manager/internal/registry"
)

const uniqueViolation = "23505"

const taskColumns = `id, name, priority, owner, command, status, created_at, updated_at`

// Postgres is a registry.Store backed by pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ registry.Store = (*Postgres)(nil)

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity for /healthz.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Insert(ctx context.Context, t models.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.Name, t.Priority, t.Owner, t.Command, string(t.Status), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return registry.ErrDuplicateID
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id int) (models.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, registry.ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("scan task: %w", err)
	}
	return task, nil
}

// ListAll returns tasks ordered by insertion sequence.
func (s *Postgres) ListAll(ctx context.Context) ([]models.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// UpdateStatus locks the row, checks it still holds from, then writes to and
// updated_at in the same transaction.
func (s *Postgres) UpdateStatus(ctx context.Context, id int, from, to models.Status, now time.Time) (models.Task, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Task{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, registry.ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("lock task: %w", err)
	}
	if models.Status(current) != from {
		return models.Task{}, registry.ErrStaleStatus
	}

	task, err := scanTask(tx.QueryRow(ctx, `
		UPDATE tasks SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+taskColumns, id, string(to), now))
	if err != nil {
		return models.Task{}, fmt.Errorf("update task status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Task{}, fmt.Errorf("commit: %w", err)
	}
	return task, nil
}

func (s *Postgres) IDs(ctx context.Context) (map[int]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("query task ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return nil, fmt.Errorf("collect task ids: %w", err)
	}
	out := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		out[int(id)] = struct{}{}
	}
	return out, nil
}

func scanTask(row pgx.Row) (models.Task, error) {
	var (
		t        models.Task
		priority int16
		status   string
	)
	if err := row.Scan(&t.ID, &t.Name, &priority, &t.Owner, &t.Command, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return models.Task{}, err
	}
	st, err := models.ParseStatus(status)
	if err != nil {
		return models.Task{}, err
	}
	t.Priority = int(priority)
	t.Status = st
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}
