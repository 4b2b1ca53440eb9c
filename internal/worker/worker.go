// Package worker runs the receive, process, complete loop over the task
// queue, one task at a time.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/model"
	"github.com/sells-group/pharma-cart/internal/queue"
)

// Runner processes one task to a terminal state.
type Runner interface {
	Run(ctx context.Context, task *model.Task) error
}

// Status is a snapshot of the loop for the health endpoint.
type Status struct {
	TaskID    string     `json:"task_id,omitempty"`
	State     string     `json:"state,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Processed int        `json:"processed"`
	Failed    int        `json:"failed"`
	Rejected  int        `json:"rejected"`
}

// Worker pulls tasks and hands them to a Runner. Messages are completed
// only after the Runner returns.
type Worker struct {
	tasks  queue.Receiver
	runner Runner
	wait   time.Duration

	// errorBackoff is the pause after a failed receive.
	errorBackoff time.Duration

	mu     sync.Mutex
	status Status
}

// New returns a Worker that waits up to wait for each receive.
func New(tasks queue.Receiver, runner Runner, wait time.Duration) *Worker {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &Worker{tasks: tasks, runner: runner, wait: wait, errorBackoff: time.Second}
}

// Run loops until ctx is cancelled. Cancellation stops receiving only: a
// task already in flight runs on a detached context and is completed
// before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	zap.L().Info("worker: started", zap.Duration("receive_wait", w.wait))
	for {
		if ctx.Err() != nil {
			zap.L().Info("worker: stopping")
			return nil
		}

		d, err := w.tasks.Receive(ctx, w.wait)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			zap.L().Error("worker: receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(w.errorBackoff):
			}
			continue
		}
		if d == nil {
			continue
		}

		w.handle(context.WithoutCancel(ctx), d)
	}
}

func (w *Worker) handle(ctx context.Context, d *queue.Delivery) {
	log := zap.L().With(zap.String("message_id", d.ID), zap.Int("delivery", d.Attempts))

	task, err := model.DecodeTask(d.Body)
	if err != nil {
		log.Error("worker: undecodable task message", zap.Error(err))
		w.update(func(s *Status) { s.Rejected++ })
		if dlErr := w.tasks.DeadLetter(ctx, d, err.Error()); dlErr != nil {
			log.Warn("worker: dead-letter failed, completing instead", zap.Error(dlErr))
			if err := w.tasks.Complete(ctx, d); err != nil {
				log.Error("worker: complete failed", zap.Error(err))
			}
		}
		return
	}

	log = log.With(zap.String("task_id", task.ID))
	log.Info("worker: task received", zap.Any("distributors", task.Distributors), zap.String("file", task.FileName))

	started := time.Now().UTC()
	w.update(func(s *Status) {
		s.TaskID = task.ID
		s.State = ""
		s.StartedAt = &started
	})

	runErr := w.runner.Run(ctx, task)

	w.update(func(s *Status) {
		s.TaskID = ""
		s.State = ""
		s.StartedAt = nil
		s.Processed++
		if runErr != nil {
			s.Failed++
		}
	})

	if err := w.tasks.Complete(ctx, d); err != nil {
		log.Error("worker: complete failed", zap.Error(err))
		return
	}
	log.Info("worker: task completed", zap.Bool("success", runErr == nil), zap.Duration("elapsed", time.Since(started)))
}

// Observe records the state of the task in flight.
func (w *Worker) Observe(taskID string, state string) {
	w.update(func(s *Status) {
		if s.TaskID == taskID {
			s.State = state
		}
	})
}

// Status returns a snapshot of the loop.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.status
	if out.StartedAt != nil {
		t := *out.StartedAt
		out.StartedAt = &t
	}
	return out
}

func (w *Worker) update(fn func(s *Status)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.status)
}
