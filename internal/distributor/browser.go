package distributor

import (
	"context"
	"net/http"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BrowserOptions configures a Chrome instance.
type BrowserOptions struct {
	Headless bool
	ExecPath string
	Width    int
	Height   int
}

// Browser is a Driver backed by one headless Chrome tab.
type Browser struct {
	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	closeOnce   sync.Once
}

// NewBrowser starts Chrome and opens a tab. JavaScript dialogs are accepted
// as soon as they open.
func NewBrowser(opts BrowserOptions) (*Browser, error) {
	if opts.Width <= 0 {
		opts.Width = 1920
	}
	if opts.Height <= 0 {
		opts.Height = 1080
	}
	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(opts.Width, opts.Height),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tab, cancelTab := chromedp.NewContext(allocCtx)

	chromedp.ListenTarget(tab, func(ev any) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			go func() {
				if err := chromedp.Run(tab, page.HandleJavaScriptDialog(true)); err != nil {
					zap.L().Debug("distributor: accept dialog", zap.Error(err))
				}
			}()
		}
	})

	if err := chromedp.Run(tab); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, eris.Wrap(err, "distributor: start browser")
	}

	return &Browser{tab: tab, cancelTab: cancelTab, cancelAlloc: cancelAlloc}, nil
}

// run executes actions in the tab, bounded by ctx's deadline and cancellation.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.tab)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, chromedp.Navigate(url))
}

func (b *Browser) Reload(ctx context.Context) error {
	return b.run(ctx, chromedp.Reload())
}

func (b *Browser) WaitVisible(ctx context.Context, sel string) error {
	return b.run(ctx, chromedp.WaitVisible(sel, chromedp.BySearch))
}

func (b *Browser) WaitGone(ctx context.Context, sel string) error {
	return b.run(ctx, chromedp.WaitNotPresent(sel, chromedp.BySearch))
}

func (b *Browser) Click(ctx context.Context, sel string) error {
	return b.run(ctx, chromedp.Click(sel, chromedp.BySearch, chromedp.NodeVisible))
}

func (b *Browser) SetValue(ctx context.Context, sel, value string) error {
	return b.run(ctx,
		chromedp.Clear(sel, chromedp.BySearch),
		chromedp.SendKeys(sel, value, chromedp.BySearch),
	)
}

func (b *Browser) SendKeys(ctx context.Context, sel, keys string) error {
	return b.run(ctx, chromedp.SendKeys(sel, keys, chromedp.BySearch))
}

func (b *Browser) Count(ctx context.Context, sel string) (int, error) {
	var nodes []*cdp.Node
	if err := b.run(ctx, chromedp.Nodes(sel, &nodes, chromedp.BySearch, chromedp.AtLeast(0))); err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func (b *Browser) OuterHTML(ctx context.Context, sel string) (string, error) {
	var html string
	err := b.run(ctx, chromedp.OuterHTML(sel, &html, chromedp.BySearch))
	return html, err
}

func (b *Browser) SetCookies(ctx context.Context, url string, cookies []*http.Cookie) error {
	return b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			path := c.Path
			if path == "" {
				path = "/"
			}
			if err := network.SetCookie(c.Name, c.Value).WithURL(url).WithPath(path).Do(ctx); err != nil {
				return eris.Wrapf(err, "set cookie %s", c.Name)
			}
		}
		return nil
	}))
}

func (b *Browser) Cookie(ctx context.Context, name string) (string, error) {
	var value string
	found := false
	err := b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			if c.Name == name {
				value, found = c.Value, true
				return nil
			}
		}
		return nil
	}))
	if err != nil {
		return "", err
	}
	if !found {
		return "", eris.Errorf("cookie %s is not set", name)
	}
	return value, nil
}

func (b *Browser) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := b.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

// Close shuts the tab and the browser process. Safe to call more than once.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.cancelTab()
		b.cancelAlloc()
	})
	return nil
}
