package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pharma-cart/internal/db"
	"github.com/sells-group/pharma-cart/internal/model"
)

// PostgresStore implements TaskStore using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects to Postgres.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying pool so the table queue can share it.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, s.pool), "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveTask(ctx context.Context, task *model.Task) error {
	prepare(task)
	doc, err := json.Marshal(task)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal task")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO tasks (id, account_id, pharmacy_id, status, progress, document, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   account_id = EXCLUDED.account_id,
		   pharmacy_id = EXCLUDED.pharmacy_id,
		   status = EXCLUDED.status,
		   progress = EXCLUDED.progress,
		   document = EXCLUDED.document,
		   updated_at = EXCLUDED.updated_at`,
		task.ID, task.AccountID, task.PharmacyID, string(task.Status.Status), task.Status.Progress, doc, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save task %s", task.ID)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM tasks WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrNotFound, "postgres: task %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get task %s", id)
	}

	var t model.Task
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal task %s", id)
	}
	return &t, nil
}
