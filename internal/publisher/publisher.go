// Package publisher reports task status to the outbound update queue and
// the task store.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/config"
	"github.com/sells-group/pharma-cart/internal/model"
	"github.com/sells-group/pharma-cart/internal/queue"
	"github.com/sells-group/pharma-cart/internal/resilience"
	"github.com/sells-group/pharma-cart/internal/store"
)

// SuccessMessage is the status message of a completed task.
const SuccessMessage = "Задачата приключи успешно!"

const (
	channelQueue = "queue"
	channelStore = "store"
)

// Publisher emits status transitions. Publish failures are logged and
// swallowed. The last published status lives on the task itself: progress
// never decreases and nothing is sent after success or error.
type Publisher struct {
	sender   queue.Sender
	store    store.TaskStore
	breakers *resilience.Breakers
	now      func() time.Time
}

// New creates a Publisher. Each channel gets its own circuit breaker so a
// dead channel is skipped quickly instead of stalling every row.
func New(sender queue.Sender, st store.TaskStore, cfg config.PublisherConfig) *Publisher {
	return &Publisher{
		sender: sender,
		store:  st,
		breakers: resilience.NewBreakers(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			Cooldown:         time.Duration(cfg.CooldownSecs) * time.Second,
			OnStateChange: func(name string, from, to resilience.CircuitState) {
				zap.L().Info("publisher: circuit state changed",
					zap.String("channel", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		}),
		now: time.Now,
	}
}

// Channels returns the breaker state of each outbound channel.
func (p *Publisher) Channels() map[string]resilience.CircuitState {
	return p.breakers.States()
}

// Progress publishes an in-progress update. pct is clamped to 0..99 and
// never below the last published value.
func (p *Publisher) Progress(ctx context.Context, task *model.Task, msg string, pct int) {
	if p.dropped(task, "progress") {
		return
	}
	pct = min(max(pct, task.Status.Progress, 0), 99)
	task.Status = model.TaskStatus{Status: model.StatusInProgress, Message: msg, Progress: pct}
	p.publish(ctx, task, false)
}

// Success publishes the final report with progress 100.
func (p *Publisher) Success(ctx context.Context, task *model.Task, report *model.Report) {
	if p.dropped(task, "success") {
		return
	}
	task.Status = model.TaskStatus{Status: model.StatusSuccess, Message: SuccessMessage, Progress: 100}
	task.Report = report
	p.publish(ctx, task, true)
}

// Error publishes a terminal failure. pct is the last computed progress.
func (p *Publisher) Error(ctx context.Context, task *model.Task, msg, detail string, pct int, images []string) {
	if p.dropped(task, "error") {
		return
	}
	task.Status = model.TaskStatus{
		Status:               model.StatusError,
		Message:              msg,
		Progress:             min(max(pct, task.Status.Progress, 0), 100),
		DetailedErrorMessage: detail,
	}
	task.ImageURLs = images
	p.publish(ctx, task, true)
}

func (p *Publisher) dropped(task *model.Task, kind string) bool {
	if !task.Status.Status.Terminal() {
		return false
	}
	zap.L().Warn("publisher: update after terminal status dropped",
		zap.String("task_id", task.ID),
		zap.String("update", kind),
		zap.String("status", string(task.Status.Status)),
	)
	return true
}

// publish sends and saves the task. An open breaker skips progress updates
// only; a final update is always attempted.
func (p *Publisher) publish(ctx context.Context, task *model.Task, final bool) {
	task.DateUpdated = p.now().UTC().Format(time.RFC3339)

	body, err := json.Marshal(task.Update())
	if err != nil {
		p.warn(task, channelQueue, err)
	} else {
		err = p.guard(ctx, channelQueue, final, func(ctx context.Context) error {
			return p.sender.Send(ctx, body)
		})
		p.warn(task, channelQueue, err)
	}

	err = p.guard(ctx, channelStore, final, func(ctx context.Context) error {
		return p.store.SaveTask(ctx, task)
	})
	p.warn(task, channelStore, err)
}

func (p *Publisher) guard(ctx context.Context, channel string, final bool, fn func(ctx context.Context) error) error {
	cb := p.breakers.Get(channel)
	if final {
		return cb.ExecuteAlways(ctx, fn)
	}
	return cb.Execute(ctx, fn)
}

func (p *Publisher) warn(task *model.Task, channel string, err error) {
	if err == nil {
		return
	}
	zap.L().Warn("publisher: publish failed",
		zap.String("task_id", task.ID),
		zap.String("status", string(task.Status.Status)),
		zap.Int("progress", task.Status.Progress),
		zap.Error(model.PublishError(channel, err)),
	)
}
