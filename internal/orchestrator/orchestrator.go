// Package orchestrator drives one task from its queue message to a final
// report: it opens the input, logs in to every distributor, buys each row
// from the cheapest distributor and publishes the outcome.
package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/diagnostics"
	"github.com/sells-group/pharma-cart/internal/distributor"
	"github.com/sells-group/pharma-cart/internal/model"
	"github.com/sells-group/pharma-cart/internal/pricing"
	"github.com/sells-group/pharma-cart/internal/rowsource"
)

// State is a step of the task state machine.
type State int

const (
	Initializing State = iota
	Authenticating
	Processing
	Finalizing
	Done
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Authenticating:
		return "authenticating"
	case Processing:
		return "processing"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Status messages shown to the user.
const (
	msgInit     = "Couldn't initialize the task handler"
	msgOpen     = "Couldn't open the file: "
	msgValidate = "Couldn't validate the input file: "
	msgNextRow  = "Couldn't get next row"
	msgFailed   = "Failed to handle the task"
)

// Adapters opens one adapter per requested distributor.
type Adapters interface {
	Build(names []model.DistributorName, pharmacyID string) ([]distributor.Adapter, error)
}

// Sources returns an unopened row source for fileType. onSkip receives rows
// without a usable quantity.
type Sources func(fileType model.FileType, onSkip rowsource.SkipFunc) (rowsource.Source, error)

// SourcesFrom returns Sources backed by rowsource.New.
func SourcesFrom(deps rowsource.Deps) Sources {
	return func(fileType model.FileType, onSkip rowsource.SkipFunc) (rowsource.Source, error) {
		d := deps
		d.OnSkip = onSkip
		return rowsource.New(fileType, d)
	}
}

// Publisher emits task status transitions.
type Publisher interface {
	Progress(ctx context.Context, task *model.Task, msg string, pct int)
	Success(ctx context.Context, task *model.Task, report *model.Report)
	Error(ctx context.Context, task *model.Task, msg, detail string, pct int, images []string)
}

// Diagnostics captures screenshots and the log tail.
type Diagnostics interface {
	Reset()
	Capture(ctx context.Context, sources []diagnostics.Source) []string
	Finals(ctx context.Context, sources []diagnostics.Source) []string
	UploadLog(ctx context.Context, source string) (string, error)
}

// Orchestrator runs tasks. It holds no per-task state and may run one task
// after another.
type Orchestrator struct {
	adapters Adapters
	sources  Sources
	pub      Publisher
	diag     Diagnostics
	onState  func(taskID string, s State)
}

// New creates an Orchestrator.
func New(adapters Adapters, sources Sources, pub Publisher, diag Diagnostics) *Orchestrator {
	return &Orchestrator{adapters: adapters, sources: sources, pub: pub, diag: diag}
}

// OnState registers fn to observe state transitions.
func (o *Orchestrator) OnState(fn func(taskID string, s State)) {
	o.onState = fn
}

// Run processes task to a terminal state. Exactly one Success or Error is
// published. The returned error is the failure that was published, for
// logging by the caller.
func (o *Orchestrator) Run(ctx context.Context, task *model.Task) error {
	log := zap.L().With(
		zap.String("task_id", task.ID),
		zap.String("account_id", task.AccountID),
		zap.String("pharmacy_id", task.PharmacyID),
	)
	r := &run{o: o, task: task, log: log}
	defer r.release()

	start := time.Now()
	err := r.execute(ctx)
	r.log.Info("orchestrator: task finished",
		zap.Bool("success", err == nil),
		zap.Int("bought", len(r.report.BoughtProducts)),
		zap.Int("unbought", len(r.report.UnboughtProducts)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return err
}

// run is the state of one task.
type run struct {
	o        *Orchestrator
	task     *model.Task
	log      *zap.Logger
	state    State
	source   rowsource.Source
	adapters []distributor.Adapter
	// started holds the adapters whose login has begun.
	started  []distributor.Adapter
	previous *model.Report
	report   model.Report
	pct      int
}

func (r *run) set(s State) {
	r.state = s
	r.log.Info("orchestrator: state", zap.Stringer("state", s))
	if r.o.onState != nil {
		r.o.onState(r.task.ID, s)
	}
}

func (r *run) execute(ctx context.Context) error {
	r.set(Initializing)
	r.begin()

	if err := r.task.Validate(); err != nil {
		return r.fail(ctx, msgInit, err)
	}
	src, err := r.o.sources(r.task.FileType, r.skip)
	if err != nil {
		return r.fail(ctx, msgInit, err)
	}
	if err := src.Open(ctx, r.task.FileData); err != nil {
		return r.fail(ctx, msgOpen+r.task.FileName, err)
	}
	r.source = src

	adapters, err := r.o.adapters.Build(r.task.Distributors, r.task.PharmacyID)
	if err != nil {
		return r.fail(ctx, msgInit, err)
	}
	r.adapters = adapters

	r.set(Authenticating)
	for _, a := range r.adapters {
		r.started = append(r.started, a)
		if err := a.Login(ctx); err != nil {
			return r.fail(ctx, msgFailed, attribute(a.Name(), err))
		}
		if err := a.PrepareSession(ctx); err != nil {
			return r.fail(ctx, msgFailed, attribute(a.Name(), err))
		}
	}

	r.set(Processing)
	if err := r.source.Validate(); err != nil {
		return r.fail(ctx, msgValidate+r.task.FileName, err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, msgFailed, eris.Wrap(err, "orchestrator: processing interrupted"))
		}
		row, err := r.source.Next()
		if err != nil {
			return r.fail(ctx, msgNextRow, err)
		}
		if row.End() {
			break
		}
		if err := r.buy(ctx, row.Product); err != nil {
			return r.fail(ctx, msgFailed, err)
		}
		r.progress(ctx)
	}

	r.set(Finalizing)
	r.task.ImageURLs = r.o.diag.Finals(ctx, r.sources())
	report := r.report
	r.o.pub.Success(ctx, r.task, &report)
	r.set(Done)
	return nil
}

// begin resets the task's status for a fresh run. A resumed task keeps the
// outcomes of its previous report.
func (r *run) begin() {
	r.o.diag.Reset()
	if r.task.TaskType == model.TaskTypeResume && r.task.Report != nil {
		r.previous = r.task.Report
	}
	r.report = model.Report{BoughtProducts: []model.Bought{}, UnboughtProducts: []model.Unbought{}}
	if r.previous != nil {
		r.report.BoughtProducts = append(r.report.BoughtProducts, r.previous.BoughtProducts...)
		r.report.UnboughtProducts = append(r.report.UnboughtProducts, r.previous.UnboughtProducts...)
		r.log.Info("orchestrator: resuming from previous report",
			zap.Int("bought", len(r.previous.BoughtProducts)),
			zap.Int("unbought", len(r.previous.UnboughtProducts)),
		)
	}
	r.task.Status = model.TaskStatus{Status: model.StatusInProgress}
	r.task.Report = nil
	r.task.ImageURLs = nil
}

// buy compares every adapter's offer for p and adds it to the cheapest cart.
func (r *run) buy(ctx context.Context, p model.ProductRow) error {
	if r.previous.Has(p.OriginalName) {
		r.log.Debug("orchestrator: product already in previous report", zap.String("product", p.OriginalName))
		return nil
	}

	offers, err := r.offers(ctx, p.NameVariations)
	if err != nil {
		return err
	}

	best, ok := pricing.Select(offers)
	if !ok {
		r.log.Info("orchestrator: product not found", zap.String("product", p.OriginalName))
		r.unbought(p.OriginalName, p.Quantity)
		return nil
	}

	winner := r.adapter(best.Distributor)
	if winner == nil {
		return model.FatalError(best.Distributor, eris.New("orchestrator: winning offer has no adapter"))
	}
	added, err := winner.AddToCart(ctx, best.Name, p.Quantity)
	if err != nil {
		if model.KindOf(err) != model.KindTransient {
			if added {
				r.bought(p, offers, best)
			}
			return attribute(winner.Name(), err)
		}
		r.log.Warn("orchestrator: add to cart failed",
			zap.String("product", p.OriginalName),
			zap.String("distributor", winner.Name()),
			zap.Error(err),
		)
		added = false
	}
	if !added {
		r.log.Warn("orchestrator: product found but not added to cart",
			zap.String("product", p.OriginalName),
			zap.String("distributor", winner.Name()),
		)
		r.unbought(p.OriginalName, p.Quantity)
		return nil
	}

	r.bought(p, offers, best)
	return nil
}

func (r *run) bought(p model.ProductRow, offers []model.Offer, best model.Offer) {
	r.log.Info("orchestrator: product bought",
		zap.String("product", p.OriginalName),
		zap.String("distributor", best.Distributor),
		zap.String("name", best.Name),
		zap.Float64("price", best.Price),
	)
	r.report.BoughtProducts = append(r.report.BoughtProducts, model.Bought{
		OriginalProductName:   p.OriginalName,
		Offers:                offers,
		BoughtFromDistributor: best.Distributor,
	})
}

// offers asks every adapter in order. An adapter that fails transiently
// contributes no offer for this row.
func (r *run) offers(ctx context.Context, variants []string) ([]model.Offer, error) {
	var offers []model.Offer
	for _, a := range r.adapters {
		res, err := a.Search(ctx, variants)
		if err != nil {
			if model.KindOf(err) != model.KindTransient {
				return nil, attribute(a.Name(), err)
			}
			r.log.Warn("orchestrator: search failed, no offer from distributor",
				zap.String("distributor", a.Name()),
				zap.Strings("variants", variants),
				zap.Error(err),
			)
			continue
		}
		if res.Found() {
			offers = append(offers, res.Offer)
		}
	}
	return offers, nil
}

func (r *run) progress(ctx context.Context) {
	p := r.source.Progress()
	r.pct = p.Percent()
	label, err := json.Marshal(p)
	if err != nil {
		label = []byte(p.ProductName)
	}
	r.o.pub.Progress(ctx, r.task, string(label), r.pct)
}

// skip records a row without a usable quantity.
func (r *run) skip(name string, quantity int) {
	if r.previous.Has(name) {
		return
	}
	r.unbought(name, quantity)
}

func (r *run) unbought(name string, quantity int) {
	r.report.UnboughtProducts = append(r.report.UnboughtProducts, model.Unbought{ProductName: name, Quantity: quantity})
}

func (r *run) adapter(name string) distributor.Adapter {
	for _, a := range r.adapters {
		if a.Name() == name {
			return a
		}
	}
	return nil
}

// sources returns the adapters that have a page worth capturing.
func (r *run) sources() []diagnostics.Source {
	out := make([]diagnostics.Source, len(r.started))
	for i, a := range r.started {
		out[i] = a
	}
	return out
}

// fail publishes err with diagnostics from every started adapter.
func (r *run) fail(ctx context.Context, msg string, err error) error {
	r.log.Error("orchestrator: task failed",
		zap.Stringer("state", r.state),
		zap.Stringer("kind", model.KindOf(err)),
		zap.String("source", model.SourceOf(err)),
		zap.Error(err),
	)

	images := r.o.diag.Capture(ctx, r.sources())
	url, logErr := r.o.diag.UploadLog(ctx, r.task.ID)
	if logErr != nil {
		r.log.Warn("orchestrator: log upload failed", zap.Error(logErr))
	} else if url != "" {
		images = append(images, url)
	}

	detail := err.Error()
	if strings.TrimSpace(detail) == "" {
		detail = model.KindOf(err).String() + " error"
	}
	r.o.pub.Error(ctx, r.task, msg, detail, r.pct, images)
	r.set(Done)
	return err
}

// release closes every adapter. Close errors are logged only.
func (r *run) release() {
	for _, a := range r.adapters {
		if err := a.Close(); err != nil {
			r.log.Warn("orchestrator: close adapter", zap.String("distributor", a.Name()), zap.Error(err))
		}
	}
}

// attribute makes sure err names the distributor it came from.
func attribute(name string, err error) error {
	if model.KindOf(err) == model.KindUnknown {
		return model.FatalError(name, err)
	}
	return err
}
