package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/db"
)

// PostgresOptions tunes the table-backed queue.
type PostgresOptions struct {
	// Lease is how long a received message stays invisible. Default: 30m.
	Lease time.Duration
	// MaxDeliveries dead-letters a message once it was received this many
	// times without completing. Default: 3.
	MaxDeliveries int
	// PollInterval is the sleep between empty claims. Default: 1s.
	PollInterval time.Duration
}

// Postgres is a queue over the queue_messages table. Concurrent receivers
// claim rows with FOR UPDATE SKIP LOCKED.
type Postgres struct {
	pool  db.Pool
	queue string
	opts  PostgresOptions
}

// NewPostgres returns a queue named queue on pool.
func NewPostgres(pool db.Pool, queue string, opts PostgresOptions) *Postgres {
	if opts.Lease <= 0 {
		opts.Lease = 30 * time.Minute
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 3
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Postgres{pool: pool, queue: queue, opts: opts}
}

// Migrate creates the queue tables.
func (q *Postgres) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, q.pool), "queue: migrate")
}

func (q *Postgres) Send(ctx context.Context, body []byte) error {
	_, err := q.pool.Exec(ctx,
		`INSERT INTO queue_messages (id, queue, body) VALUES ($1, $2, $3)`,
		uuid.New().String(), q.queue, body,
	)
	return eris.Wrapf(err, "queue: send to %s", q.queue)
}

func (q *Postgres) Receive(ctx context.Context, maxWait time.Duration) (*Delivery, error) {
	deadline := time.Now().Add(maxWait)
	for {
		d, err := q.claim(ctx)
		if err != nil || d != nil {
			return d, err
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		wait = min(wait, q.opts.PollInterval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// claim leases the oldest visible message. Messages past MaxDeliveries are
// dead-lettered instead and the claim continues with the next one.
func (q *Postgres) claim(ctx context.Context) (*Delivery, error) {
	for {
		tx, err := q.pool.Begin(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "queue: begin claim")
		}

		d, retry, err := q.claimTx(ctx, tx)
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, eris.Wrap(err, "queue: commit claim")
		}
		if !retry {
			return d, nil
		}
	}
}

func (q *Postgres) claimTx(ctx context.Context, tx pgx.Tx) (*Delivery, bool, error) {
	var (
		id       string
		body     []byte
		attempts int
	)
	err := tx.QueryRow(ctx, `
		SELECT id, body, attempts
		FROM queue_messages
		WHERE queue = $1 AND completed_at IS NULL AND dead_lettered = false AND visible_at <= now()
		ORDER BY enqueued_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		q.queue,
	).Scan(&id, &body, &attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "queue: claim from %s", q.queue)
	}

	if attempts >= q.opts.MaxDeliveries {
		if _, err := tx.Exec(ctx, `UPDATE queue_messages SET dead_lettered = true WHERE id = $1`, id); err != nil {
			return nil, false, eris.Wrapf(err, "queue: dead-letter %s", id)
		}
		zap.L().Warn("queue: message exceeded max deliveries",
			zap.String("queue", q.queue),
			zap.String("message_id", id),
			zap.Int("attempts", attempts),
		)
		return nil, true, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE queue_messages
		SET attempts = attempts + 1, visible_at = now() + $2 * interval '1 second'
		WHERE id = $1`,
		id, int(q.opts.Lease/time.Second),
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "queue: lease %s", id)
	}
	return &Delivery{ID: id, Body: body, Attempts: attempts + 1}, false, nil
}

func (q *Postgres) Complete(ctx context.Context, d *Delivery) error {
	_, err := q.pool.Exec(ctx, `UPDATE queue_messages SET completed_at = now() WHERE id = $1`, d.ID)
	return eris.Wrapf(err, "queue: complete %s", d.ID)
}

func (q *Postgres) Abandon(ctx context.Context, d *Delivery) error {
	_, err := q.pool.Exec(ctx, `UPDATE queue_messages SET visible_at = now() WHERE id = $1`, d.ID)
	return eris.Wrapf(err, "queue: abandon %s", d.ID)
}

func (q *Postgres) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	_, err := q.pool.Exec(ctx, `UPDATE queue_messages SET dead_lettered = true WHERE id = $1`, d.ID)
	if err != nil {
		return eris.Wrapf(err, "queue: dead-letter %s", d.ID)
	}
	zap.L().Warn("queue: message dead-lettered",
		zap.String("queue", q.queue),
		zap.String("message_id", d.ID),
		zap.String("reason", reason),
	)
	return nil
}
