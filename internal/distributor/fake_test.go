package distributor

import (
	"context"
	"net/http"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeDriver records calls and answers from fixed tables.
type fakeDriver struct {
	mu      sync.Mutex
	calls   []string
	shots   int
	closed  int
	fail    map[string]error
	once    map[string]error
	visible map[string]bool
	counts  map[string]int
	html    map[string]string
	cookies map[string]string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		fail:    map[string]error{},
		once:    map[string]error{},
		visible: map[string]bool{},
		counts:  map[string]int{},
		html:    map[string]string{},
		cookies: map[string]string{},
	}
}

func (d *fakeDriver) record(call string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	if err, ok := d.once[call]; ok {
		delete(d.once, call)
		return err
	}
	return d.fail[call]
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	return d.record("navigate " + url)
}

func (d *fakeDriver) Reload(context.Context) error { return d.record("reload") }

func (d *fakeDriver) WaitVisible(ctx context.Context, sel string) error {
	if err := d.record("wait " + sel); err != nil {
		return err
	}
	if d.visible[sel] {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *fakeDriver) WaitGone(_ context.Context, sel string) error {
	return d.record("gone " + sel)
}

func (d *fakeDriver) Click(_ context.Context, sel string) error {
	return d.record("click " + sel)
}

func (d *fakeDriver) SetValue(_ context.Context, sel, value string) error {
	return d.record("type " + sel + " " + value)
}

func (d *fakeDriver) SendKeys(_ context.Context, sel, keys string) error {
	return d.record("keys " + sel)
}

func (d *fakeDriver) Count(_ context.Context, sel string) (int, error) {
	if err := d.record("count " + sel); err != nil {
		return 0, err
	}
	return d.counts[sel], nil
}

func (d *fakeDriver) OuterHTML(_ context.Context, sel string) (string, error) {
	if err := d.record("html " + sel); err != nil {
		return "", err
	}
	return d.html[sel], nil
}

func (d *fakeDriver) SetCookies(_ context.Context, _ string, cookies []*http.Cookie) error {
	if err := d.record("cookies"); err != nil {
		return err
	}
	for _, c := range cookies {
		d.cookies[c.Name] = c.Value
	}
	return nil
}

func (d *fakeDriver) Cookie(_ context.Context, name string) (string, error) {
	if err := d.record("cookie " + name); err != nil {
		return "", err
	}
	v, ok := d.cookies[name]
	if !ok {
		return "", eris.Errorf("cookie %s is not set", name)
	}
	return v, nil
}

func (d *fakeDriver) Screenshot(context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shots++
	return []byte{byte(d.shots)}, nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *fakeDriver) called(call string) bool {
	return d.times(call) > 0
}

func (d *fakeDriver) times(call string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c == call {
			n++
		}
	}
	return n
}

// mockStorefront is a testify mock of Storefront.
type mockStorefront struct {
	mock.Mock
}

func (m *mockStorefront) Login(ctx context.Context, p *Page) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockStorefront) Prepare(ctx context.Context, p *Page) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockStorefront) Lookup(ctx context.Context, p *Page, variant string) (Match, bool, error) {
	ret := m.Called(ctx, p, variant)
	return ret.Get(0).(Match), ret.Bool(1), ret.Error(2)
}

func (m *mockStorefront) Locate(ctx context.Context, p *Page, name string) (bool, error) {
	ret := m.Called(ctx, p, name)
	return ret.Bool(0), ret.Error(1)
}

func (m *mockStorefront) AddToCart(ctx context.Context, p *Page, quantity int) error {
	return m.Called(ctx, p, quantity).Error(0)
}

func (m *mockStorefront) Refresh(ctx context.Context, p *Page) error {
	return m.Called(ctx, p).Error(0)
}
