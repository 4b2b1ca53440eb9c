// Package store persists task documents so progress and reports survive the
// worker and can be read by the intake side.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pharma-cart/internal/config"
	"github.com/sells-group/pharma-cart/internal/model"
)

// TaskStore saves and loads task documents.
type TaskStore interface {
	// SaveTask inserts or replaces the task. An empty ID is generated.
	SaveTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the TaskStore selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (TaskStore, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, cfg.Pool)
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

func prepare(task *model.Task) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if task.DateCreated == "" {
		task.DateCreated = now
	}
}
