package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/blob"
	"github.com/sells-group/pharma-cart/internal/config"
	"github.com/sells-group/pharma-cart/internal/diagnostics"
	"github.com/sells-group/pharma-cart/internal/distributor"
	"github.com/sells-group/pharma-cart/internal/orchestrator"
	"github.com/sells-group/pharma-cart/internal/publisher"
	"github.com/sells-group/pharma-cart/internal/queue"
	"github.com/sells-group/pharma-cart/internal/rowsource"
	"github.com/sells-group/pharma-cart/internal/store"
	"github.com/sells-group/pharma-cart/internal/worker"
)

// workerEnv holds everything the work command needs.
type workerEnv struct {
	Store     store.TaskStore
	Transport *queue.Transport
	Publisher *publisher.Publisher
	Worker    *worker.Worker
}

// Close releases the queue connections and the store.
func (we *workerEnv) Close(ctx context.Context) {
	if we.Transport != nil {
		if err := we.Transport.Close(ctx); err != nil {
			zap.L().Warn("close queue transport", zap.Error(err))
		}
	}
	if we.Store != nil {
		_ = we.Store.Close()
	}
}

// initWorker connects the store, queues and blob storage and assembles the
// worker. Callers should defer env.Close().
func initWorker(ctx context.Context, cfg *config.Config, open distributor.Opener) (*workerEnv, error) {
	if err := cfg.Validate("work"); err != nil {
		return nil, err
	}

	env := &workerEnv{}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	env.Store = st
	if err := st.Migrate(ctx); err != nil {
		env.Close(ctx)
		return nil, eris.Wrap(err, "migrate store")
	}

	transport, err := queue.Open(ctx, cfg.Queue, cfg.QueueDatabaseURL(), cfg.Store.Pool)
	if err != nil {
		env.Close(ctx)
		return nil, eris.Wrap(err, "open queue")
	}
	env.Transport = transport

	blobs, err := blob.New(cfg.Blob)
	if err != nil {
		env.Close(ctx)
		return nil, eris.Wrap(err, "open blob store")
	}

	registry := distributor.NewRegistry(cfg.Distributors, cfg.Browser, open)
	env.Publisher = publisher.New(transport.Updates, st, cfg.Publisher)
	capturer := diagnostics.NewCapturer(blobs, tail, diagnostics.Options{
		ImageContainer: cfg.Blob.OutputContainer,
		LogContainer:   cfg.Blob.LogContainer,
		Concurrency:    cfg.Diagnostics.UploadConcurrency,
	})
	sources := orchestrator.SourcesFrom(rowsource.Deps{
		Blobs:     blobs,
		Container: cfg.Blob.InputContainer,
		Layout: rowsource.Layout{
			StartRow:       cfg.RowSource.StartRow,
			NameColumn:     cfg.RowSource.NameColumn,
			QuantityColumn: cfg.RowSource.QuantityColumn,
		},
	})

	orch := orchestrator.New(registry, sources, env.Publisher, capturer)
	env.Worker = worker.New(transport.Tasks, orch, time.Duration(cfg.Worker.ReceiveWaitSecs)*time.Second)
	orch.OnState(func(taskID string, s orchestrator.State) {
		env.Worker.Observe(taskID, s.String())
	})

	zap.L().Info("worker initialized",
		zap.String("queue_driver", cfg.Queue.Driver),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("blob_driver", cfg.Blob.Driver),
	)

	return env, nil
}
