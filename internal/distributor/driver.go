package distributor

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/resilience"
)

// Driver is the set of browser primitives the storefronts need. Selectors
// may be CSS or XPath.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	WaitVisible(ctx context.Context, sel string) error
	WaitGone(ctx context.Context, sel string) error
	Click(ctx context.Context, sel string) error
	// SetValue clears the field and types value into it.
	SetValue(ctx context.Context, sel, value string) error
	SendKeys(ctx context.Context, sel, keys string) error
	// Count returns the number of nodes matching sel without waiting.
	Count(ctx context.Context, sel string) (int, error)
	OuterHTML(ctx context.Context, sel string) (string, error)
	SetCookies(ctx context.Context, url string, cookies []*http.Cookie) error
	Cookie(ctx context.Context, name string) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Timeouts bound individual page actions.
type Timeouts struct {
	// Action bounds required steps.
	Action time.Duration
	// Probe bounds waits for elements that may legitimately never appear.
	Probe time.Duration
}

// DefaultTimeouts are used for zero Timeouts fields.
var DefaultTimeouts = Timeouts{Action: 10 * time.Second, Probe: 2 * time.Second}

// Page wraps a Driver with timeouts, error classification and a screenshot
// before every interaction.
type Page struct {
	drv      Driver
	ring     *Ring
	timeouts Timeouts
	name     string
}

// NewPage returns a Page for the adapter called name.
func NewPage(name string, drv Driver, ring *Ring, t Timeouts) *Page {
	if t.Action <= 0 {
		t.Action = DefaultTimeouts.Action
	}
	if t.Probe <= 0 {
		t.Probe = DefaultTimeouts.Probe
	}
	return &Page{drv: drv, ring: ring, timeouts: t, name: name}
}

// Driver exposes the underlying driver.
func (p *Page) Driver() Driver { return p.drv }

func (p *Page) snap(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, p.timeouts.Action)
	defer cancel()
	img, err := p.drv.Screenshot(sctx)
	if err != nil {
		zap.L().Debug("distributor: screenshot failed", zap.String("adapter", p.name), zap.Error(err))
		return
	}
	p.ring.Push(img)
}

func (p *Page) do(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return classify(op, fn(actx))
}

// classify turns a detached-node failure into a volatile error. Anything else
// is wrapped with the operation name.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if resilience.IsVolatile(err) {
		return resilience.Volatile(op, err)
	}
	return eris.Wrapf(err, "distributor: %s", op)
}

// Open navigates to url.
func (p *Page) Open(ctx context.Context, url string) error {
	return p.do(ctx, p.timeouts.Action, "open "+url, func(ctx context.Context) error {
		return p.drv.Navigate(ctx, url)
	})
}

// Reload reloads the current document.
func (p *Page) Reload(ctx context.Context) error {
	return p.do(ctx, p.timeouts.Action, "reload", p.drv.Reload)
}

// Click screenshots then clicks sel once it is visible.
func (p *Page) Click(ctx context.Context, sel string) error {
	p.snap(ctx)
	return p.do(ctx, p.timeouts.Action, "click "+sel, func(ctx context.Context) error {
		return p.drv.Click(ctx, sel)
	})
}

// Type screenshots then replaces the value of sel.
func (p *Page) Type(ctx context.Context, sel, value string) error {
	p.snap(ctx)
	return p.do(ctx, p.timeouts.Action, "type into "+sel, func(ctx context.Context) error {
		return p.drv.SetValue(ctx, sel, value)
	})
}

// Keys sends keystrokes to sel without clearing it.
func (p *Page) Keys(ctx context.Context, sel, keys string) error {
	p.snap(ctx)
	return p.do(ctx, p.timeouts.Action, "send keys to "+sel, func(ctx context.Context) error {
		return p.drv.SendKeys(ctx, sel, keys)
	})
}

// Wait blocks until sel is visible or the action timeout passes.
func (p *Page) Wait(ctx context.Context, sel string) error {
	return p.do(ctx, p.timeouts.Action, "wait for "+sel, func(ctx context.Context) error {
		return p.drv.WaitVisible(ctx, sel)
	})
}

// Probe reports whether sel becomes visible within the probe timeout.
func (p *Page) Probe(ctx context.Context, sel string) bool {
	pctx, cancel := context.WithTimeout(ctx, p.timeouts.Probe)
	defer cancel()
	return p.drv.WaitVisible(pctx, sel) == nil
}

// ClickIfPresent clicks sel when it shows up within the probe timeout.
func (p *Page) ClickIfPresent(ctx context.Context, sel string) bool {
	if !p.Probe(ctx, sel) {
		return false
	}
	if err := p.Click(ctx, sel); err != nil {
		zap.L().Debug("distributor: optional click failed", zap.String("adapter", p.name), zap.String("selector", sel), zap.Error(err))
		return false
	}
	return true
}

// WaitGone waits for sel to leave the document. Failure is logged only.
func (p *Page) WaitGone(ctx context.Context, sel string) {
	wctx, cancel := context.WithTimeout(ctx, p.timeouts.Action)
	defer cancel()
	if err := p.drv.WaitGone(wctx, sel); err != nil {
		zap.L().Debug("distributor: element did not disappear", zap.String("adapter", p.name), zap.String("selector", sel), zap.Error(err))
	}
}

// Count returns how many nodes match sel.
func (p *Page) Count(ctx context.Context, sel string) (int, error) {
	var n int
	err := p.do(ctx, p.timeouts.Action, "count "+sel, func(ctx context.Context) error {
		var err error
		n, err = p.drv.Count(ctx, sel)
		return err
	})
	return n, err
}

// HTML returns the outer HTML of sel.
func (p *Page) HTML(ctx context.Context, sel string) (string, error) {
	var html string
	err := p.do(ctx, p.timeouts.Action, "read "+sel, func(ctx context.Context) error {
		var err error
		html, err = p.drv.OuterHTML(ctx, sel)
		return err
	})
	return html, err
}

// SetCookies stores cookies for url.
func (p *Page) SetCookies(ctx context.Context, url string, cookies []*http.Cookie) error {
	return p.do(ctx, p.timeouts.Action, "set cookies", func(ctx context.Context) error {
		return p.drv.SetCookies(ctx, url, cookies)
	})
}

// Cookie returns the value of the named cookie.
func (p *Page) Cookie(ctx context.Context, name string) (string, error) {
	var v string
	err := p.do(ctx, p.timeouts.Action, "read cookie "+name, func(ctx context.Context) error {
		var err error
		v, err = p.drv.Cookie(ctx, name)
		return err
	})
	return v, err
}

// Screenshot captures the viewport without touching the ring.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var img []byte
	err := p.do(ctx, p.timeouts.Action, "screenshot", func(ctx context.Context) error {
		var err error
		img, err = p.drv.Screenshot(ctx)
		return err
	})
	return img, err
}
