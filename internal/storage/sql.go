package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/relaykit/taskqueue/internal/task"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQL backs the engine with a Postgres table via pgx/v5 (§4.3 "SQL"). Dequeue
// atomicity comes from SELECT ... FOR UPDATE SKIP LOCKED inside a single
// transaction: concurrent pollers against the same table never select the
// same row, and a poller that crashes mid-transaction simply releases its
// lock for the next one. Queries are hand-written; no generated query layer
// sits between this file and the database.
type SQL struct {
	pool      *pgxpool.Pool
	tableName string
}

// SQLOptions configures the SQL adapter.
type SQLOptions struct {
	// TableName defaults to "tasks".
	TableName string
	// UseMigrate runs the embedded goose migrations against dsn before the
	// adapter is returned. Operators who manage schema themselves (and
	// don't want DDL privileges handed to the worker process) set this to
	// false and apply migrations out of band.
	UseMigrate bool
}

// NewSQL connects to dsn and optionally migrates the schema.
func NewSQL(ctx context.Context, dsn string, opts SQLOptions) (*SQL, error) {
	if opts.TableName == "" {
		opts.TableName = "tasks"
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: pinging postgres: %w", err)
	}

	if opts.UseMigrate {
		if err := migrate(dsn); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &SQL{pool: pool, tableName: opts.TableName}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("storage: opening migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("storage: setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("storage: running migrations: %w", err)
	}
	return nil
}

func (s *SQL) Enqueue(ctx context.Context, t *task.Task) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("storage: marshaling payload: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, handler, payload, status, priority, retry_count, max_retries,
			max_processing_time, log, worker_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, s.tableName)

	_, err = s.pool.Exec(ctx, query,
		t.ID, t.Handler, payload, int(t.Status), t.Priority, t.RetryCount, t.MaxRetries,
		t.MaxProcessingTime.Nanoseconds(), t.Log, t.WorkerID, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: enqueue task %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQL) Dequeue(ctx context.Context) (*task.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: beginning dequeue transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	selectQuery := fmt.Sprintf(`
		SELECT id, handler, payload, status, priority, retry_count, max_retries,
			max_processing_time, log, result, worker_id, created_at, updated_at
		FROM %s
		WHERE status = $1
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, s.tableName)

	row := tx.QueryRow(ctx, selectQuery, int(task.StatusPending))
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: selecting next task: %w", err)
	}

	sm := task.NewStateMachine(t)
	if err := sm.Start(""); err != nil {
		return nil, err
	}

	updateQuery := fmt.Sprintf(`UPDATE %s SET status = $1, worker_id = $2, updated_at = $3 WHERE id = $4`, s.tableName)
	if _, err := tx.Exec(ctx, updateQuery, int(t.Status), t.WorkerID, t.UpdatedAt, t.ID); err != nil {
		return nil, fmt.Errorf("storage: marking task %s processing: %w", t.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("storage: committing dequeue transaction: %w", err)
	}
	return t, nil
}

func (s *SQL) LoadTasks(ctx context.Context, status *task.Status) ([]*task.Task, error) {
	baseQuery := fmt.Sprintf(`
		SELECT id, handler, payload, status, priority, retry_count, max_retries,
			max_processing_time, log, result, worker_id, created_at, updated_at
		FROM %s`, s.tableName)

	var rows interface {
		Scan(dest ...interface{}) error
		Next() bool
		Err() error
		Close()
	}
	var err error
	if status != nil {
		rows, err = s.pool.Query(ctx, baseQuery+" WHERE status = $1 ORDER BY priority DESC, created_at ASC", int(*status))
	} else {
		rows, err = s.pool.Query(ctx, baseQuery+" ORDER BY priority DESC, created_at ASC")
	}
	if err != nil {
		return nil, fmt.Errorf("storage: listing tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scanning task row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQL) GetTask(ctx context.Context, id string) (*task.Task, error) {
	query := fmt.Sprintf(`
		SELECT id, handler, payload, status, priority, retry_count, max_retries,
			max_processing_time, log, result, worker_id, created_at, updated_at
		FROM %s WHERE id = $1`, s.tableName)

	t, err := scanTask(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, task.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get task %s: %w", id, err)
	}
	return t, nil
}

func (s *SQL) UpdateTask(ctx context.Context, t *task.Task) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("storage: marshaling payload: %w", err)
	}
	var result []byte
	if t.Result != nil {
		if result, err = json.Marshal(t.Result); err != nil {
			return fmt.Errorf("storage: marshaling result: %w", err)
		}
	}

	query := fmt.Sprintf(`
		UPDATE %s SET handler = $1, payload = $2, status = $3, priority = $4, retry_count = $5,
			max_retries = $6, max_processing_time = $7, log = $8, result = $9, worker_id = $10,
			updated_at = $11
		WHERE id = $12`, s.tableName)

	tag, err := s.pool.Exec(ctx, query,
		t.Handler, payload, int(t.Status), t.Priority, t.RetryCount, t.MaxRetries,
		t.MaxProcessingTime.Nanoseconds(), t.Log, result, t.WorkerID, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return task.ErrTaskNotFound
	}
	return nil
}

func (s *SQL) DeleteTask(ctx context.Context, id string, hard bool) (*task.Task, error) {
	existing, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if hard {
		tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tableName), id)
		if err != nil {
			return nil, fmt.Errorf("storage: hard delete task %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return nil, task.ErrTaskNotFound
		}
		return existing, nil
	}

	sm := task.NewStateMachine(existing)
	if err := sm.SoftDelete(); err != nil {
		return nil, err
	}
	if err := s.UpdateTask(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *SQL) Close() error {
	s.pool.Close()
	return nil
}

var _ Adapter = (*SQL)(nil)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t                 task.Task
		payload           []byte
		result            []byte
		status            int
		maxProcessingTime int64
	)

	if err := row.Scan(
		&t.ID, &t.Handler, &payload, &status, &t.Priority, &t.RetryCount, &t.MaxRetries,
		&maxProcessingTime, &t.Log, &result, &t.WorkerID, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	t.Status = task.Status(status)
	t.MaxProcessingTime = time.Duration(maxProcessingTime)

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			return nil, fmt.Errorf("storage: decoding payload: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &t.Result); err != nil {
			return nil, fmt.Errorf("storage: decoding result: %w", err)
		}
	}

	return &t, nil
}
