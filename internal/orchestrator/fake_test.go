package orchestrator

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/diagnostics"
	"github.com/sells-group/pharma-cart/internal/distributor"
	"github.com/sells-group/pharma-cart/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeAdapter prices products by search variant.
type fakeAdapter struct {
	name     string
	priority int
	prices   map[string]float64

	loginErr  error
	searchErr error
	addErr    error
	rejectAdd bool
	// addedOnErr reports the product as added alongside addErr.
	addedOnErr bool

	ring     *distributor.Ring
	searches [][]string
	added    []string
	closed   bool
}

func newFakeAdapter(name string, priority int, prices map[string]float64) *fakeAdapter {
	return &fakeAdapter{name: name, priority: priority, prices: prices, ring: distributor.NewRing(3)}
}

func (f *fakeAdapter) Name() string                               { return f.name }
func (f *fakeAdapter) Priority() int                              { return f.priority }
func (f *fakeAdapter) Login(context.Context) error                { return f.loginErr }
func (f *fakeAdapter) PrepareSession(context.Context) error       { return nil }
func (f *fakeAdapter) RefreshSession(context.Context) error       { return nil }
func (f *fakeAdapter) Diagnostics() *distributor.Ring             { return f.ring }
func (f *fakeAdapter) Screenshot(context.Context) ([]byte, error) { return []byte(f.name), nil }

func (f *fakeAdapter) Search(_ context.Context, variants []string) (distributor.Result, error) {
	f.searches = append(f.searches, variants)
	if f.searchErr != nil {
		return distributor.Result{}, f.searchErr
	}
	for _, v := range variants {
		if p, ok := f.prices[v]; ok {
			return distributor.Hit(model.Offer{Distributor: f.name, Priority: f.priority, Name: v, Price: p}), nil
		}
	}
	return distributor.Miss(f.name, f.priority), nil
}

func (f *fakeAdapter) AddToCart(_ context.Context, name string, _ int) (bool, error) {
	if f.addErr != nil {
		if f.addedOnErr {
			f.added = append(f.added, name)
		}
		return f.addedOnErr, f.addErr
	}
	if f.rejectAdd {
		return false, nil
	}
	f.added = append(f.added, name)
	return true, nil
}

func (f *fakeAdapter) Close() error {
	f.closed = true
	return nil
}

type fakeBuilder struct {
	adapters []distributor.Adapter
	err      error
	calls    int
}

func (b *fakeBuilder) Build([]model.DistributorName, string) ([]distributor.Adapter, error) {
	b.calls++
	return b.adapters, b.err
}

type published struct {
	kind   string
	status model.TaskStatus
	report *model.Report
	images []string
}

type fakePublisher struct {
	calls []published
}

func (p *fakePublisher) Progress(_ context.Context, task *model.Task, msg string, pct int) {
	p.calls = append(p.calls, published{kind: "progress", status: model.TaskStatus{
		Status: model.StatusInProgress, Message: msg, Progress: pct,
	}})
	task.Status.Progress = pct
}

func (p *fakePublisher) Success(_ context.Context, task *model.Task, report *model.Report) {
	task.Status = model.TaskStatus{Status: model.StatusSuccess, Progress: 100}
	task.Report = report
	p.calls = append(p.calls, published{kind: "success", status: task.Status, report: report, images: task.ImageURLs})
}

func (p *fakePublisher) Error(_ context.Context, task *model.Task, msg, detail string, pct int, images []string) {
	task.Status = model.TaskStatus{Status: model.StatusError, Message: msg, Progress: pct, DetailedErrorMessage: detail}
	p.calls = append(p.calls, published{kind: "error", status: task.Status, images: images})
}

func (p *fakePublisher) kinds() []string {
	out := make([]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.kind
	}
	return out
}

func (p *fakePublisher) last() published {
	return p.calls[len(p.calls)-1]
}

type fakeDiagnostics struct {
	resets   int
	captured []string
	finals   []string
}

func (d *fakeDiagnostics) Reset() { d.resets++ }

func (d *fakeDiagnostics) Capture(_ context.Context, sources []diagnostics.Source) []string {
	var urls []string
	for _, s := range sources {
		d.captured = append(d.captured, s.Name())
		urls = append(urls, "img/"+s.Name())
	}
	return urls
}

func (d *fakeDiagnostics) Finals(_ context.Context, sources []diagnostics.Source) []string {
	var urls []string
	for _, s := range sources {
		d.finals = append(d.finals, s.Name())
		urls = append(urls, "final/"+s.Name())
	}
	return urls
}

func (d *fakeDiagnostics) UploadLog(_ context.Context, source string) (string, error) {
	return "log/" + source, nil
}

// stubDriver satisfies distributor.Driver for sessions whose storefront
// never touches the page.
type stubDriver struct {
	mu     sync.Mutex
	closed bool
}

func (d *stubDriver) Navigate(context.Context, string) error            { return nil }
func (d *stubDriver) Reload(context.Context) error                      { return nil }
func (d *stubDriver) WaitVisible(context.Context, string) error         { return nil }
func (d *stubDriver) WaitGone(context.Context, string) error            { return nil }
func (d *stubDriver) Click(context.Context, string) error               { return nil }
func (d *stubDriver) SetValue(context.Context, string, string) error    { return nil }
func (d *stubDriver) SendKeys(context.Context, string, string) error    { return nil }
func (d *stubDriver) Count(context.Context, string) (int, error)        { return 0, nil }
func (d *stubDriver) OuterHTML(context.Context, string) (string, error) { return "", nil }
func (d *stubDriver) Cookie(context.Context, string) (string, error)    { return "", nil }
func (d *stubDriver) Screenshot(context.Context) ([]byte, error)        { return []byte("png"), nil }

func (d *stubDriver) SetCookies(context.Context, string, []*http.Cookie) error {
	return nil
}

func (d *stubDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// flakyFront fails its first lookup with a volatile page error.
type flakyFront struct {
	prices    map[string]float64
	lookups   int
	refreshes int
}

func (f *flakyFront) Login(context.Context, *distributor.Page) error   { return nil }
func (f *flakyFront) Prepare(context.Context, *distributor.Page) error { return nil }

func (f *flakyFront) Lookup(_ context.Context, _ *distributor.Page, variant string) (distributor.Match, bool, error) {
	f.lookups++
	if f.lookups == 1 {
		return distributor.Match{}, false, errStale
	}
	p, ok := f.prices[variant]
	return distributor.Match{Name: variant, Price: p}, ok, nil
}

func (f *flakyFront) Locate(context.Context, *distributor.Page, string) (bool, error) {
	return true, nil
}

func (f *flakyFront) AddToCart(context.Context, *distributor.Page, int) error {
	return nil
}

func (f *flakyFront) Refresh(context.Context, *distributor.Page) error {
	f.refreshes++
	return nil
}
