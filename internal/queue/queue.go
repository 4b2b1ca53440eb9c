// Package queue moves task messages in and progress updates out. Deliveries
// are at-least-once: a message is only removed once Complete is called.
package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pharma-cart/internal/config"
	"github.com/sells-group/pharma-cart/internal/db"
)

// Delivery is a received message held under a lease or peek-lock.
type Delivery struct {
	ID       string
	Body     []byte
	Attempts int

	handle any
	release func()
}

func (d *Delivery) done() {
	if d.release != nil {
		d.release()
		d.release = nil
	}
}

// Receiver pulls messages from the inbound task queue.
type Receiver interface {
	// Receive waits up to maxWait for a message. It returns nil, nil when
	// the wait elapses with nothing to deliver.
	Receive(ctx context.Context, maxWait time.Duration) (*Delivery, error)
	Complete(ctx context.Context, d *Delivery) error
	// Abandon makes the message visible again for redelivery.
	Abandon(ctx context.Context, d *Delivery) error
	// DeadLetter parks a message that can never be processed.
	DeadLetter(ctx context.Context, d *Delivery, reason string) error
}

// Sender publishes messages to the outbound update queue.
type Sender interface {
	Send(ctx context.Context, body []byte) error
}

// Transport bundles the task receiver with the update sender.
type Transport struct {
	Tasks   Receiver
	Updates Sender

	closeFn func(ctx context.Context) error
}

// Close releases the underlying connections.
func (t *Transport) Close(ctx context.Context) error {
	if t.closeFn == nil {
		return nil
	}
	return t.closeFn(ctx)
}

// Open connects the driver selected by cfg.Driver. databaseURL is used by
// the postgres driver.
func Open(ctx context.Context, cfg config.QueueConfig, databaseURL string, poolCfg db.PoolConfig) (*Transport, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := db.Connect(ctx, databaseURL, poolCfg)
		if err != nil {
			return nil, eris.Wrap(err, "queue: connect postgres")
		}
		opts := PostgresOptions{
			Lease:         time.Duration(cfg.LeaseSecs) * time.Second,
			MaxDeliveries: cfg.MaxDeliveries,
		}
		return &Transport{
			Tasks:   NewPostgres(pool, cfg.TasksName, opts),
			Updates: NewPostgres(pool, cfg.UpdatesName, opts),
			closeFn: func(context.Context) error {
				pool.Close()
				return nil
			},
		}, nil
	case "servicebus":
		sb, err := NewServiceBus(cfg.ConnectionString, cfg.TasksName, cfg.UpdatesName, ServiceBusOptions{})
		if err != nil {
			return nil, err
		}
		return &Transport{Tasks: sb, Updates: sb, closeFn: sb.Close}, nil
	default:
		return nil, eris.Errorf("queue: unsupported driver %q", cfg.Driver)
	}
}
