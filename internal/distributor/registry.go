package distributor

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/config"
	"github.com/sells-group/pharma-cart/internal/model"
)

// Opener starts a browser for one adapter.
type Opener func(opts BrowserOptions) (Driver, error)

// OpenChrome is the Opener backed by NewBrowser.
func OpenChrome(opts BrowserOptions) (Driver, error) {
	return NewBrowser(opts)
}

// Registry builds adapters for a task from configuration.
type Registry struct {
	cfg     config.DistributorsConfig
	browser config.BrowserConfig
	open    Opener
}

// NewRegistry returns a Registry. A nil open uses OpenChrome.
func NewRegistry(cfg config.DistributorsConfig, browser config.BrowserConfig, open Opener) *Registry {
	if open == nil {
		open = OpenChrome
	}
	return &Registry{cfg: cfg, browser: browser, open: open}
}

type plan struct {
	name     model.DistributorName
	priority int
	front    Storefront
}

// Build returns one adapter per name, in the given order. Credentials for
// every name are resolved before any browser starts.
func (r *Registry) Build(names []model.DistributorName, pharmacyID string) ([]Adapter, error) {
	plans := make([]plan, 0, len(names))
	for _, name := range names {
		p, err := r.plan(name, pharmacyID)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}

	opts := SessionOptions{
		Timeouts: Timeouts{
			Action: r.browser.ActionTimeout(),
			Probe:  r.browser.ProbeTimeout(),
		},
		RefreshBackoff: time.Duration(r.browser.RetryBackoffMillis) * time.Millisecond,
	}
	bopts := BrowserOptions{
		Headless: r.browser.Headless,
		ExecPath: r.browser.ExecPath,
		Width:    r.browser.WindowWidth,
		Height:   r.browser.WindowHeight,
	}

	adapters := make([]Adapter, 0, len(plans))
	for _, p := range plans {
		drv, err := r.open(bopts)
		if err != nil {
			closeAll(adapters)
			return nil, model.FatalError(string(p.name), eris.Wrap(err, "distributor: open browser"))
		}
		adapters = append(adapters, NewSession(string(p.name), p.priority, p.front, drv, opts))
	}
	return adapters, nil
}

func (r *Registry) plan(name model.DistributorName, pharmacyID string) (plan, error) {
	var dc config.DistributorConfig
	switch name {
	case model.DistributorSting:
		dc = r.cfg.Sting.DistributorConfig
	case model.DistributorPhoenix:
		dc = r.cfg.Phoenix.DistributorConfig
	default:
		return plan{}, model.ConfigurationError(string(name), eris.Errorf("distributor: unknown distributor %q", name))
	}

	cred, ok, err := dc.CredentialFor(pharmacyID)
	if err != nil {
		return plan{}, model.ConfigurationError(string(name), err)
	}
	if !ok {
		return plan{}, model.ConfigurationError(string(name), eris.Errorf("distributor: no %s credentials for pharmacy %q", name, pharmacyID))
	}

	switch name {
	case model.DistributorSting:
		return plan{name: name, priority: dc.Priority, front: NewSting(r.cfg.Sting, cred)}, nil
	default:
		catalog := NewCatalog(CatalogOptions{
			BaseURL:   dc.BaseURL,
			PartnerID: pharmacyID,
			RPS:       r.cfg.Phoenix.SearchRPS,
		})
		return plan{name: name, priority: dc.Priority, front: NewPhoenix(r.cfg.Phoenix, cred, pharmacyID, catalog)}, nil
	}
}

func closeAll(adapters []Adapter) {
	for _, a := range adapters {
		if err := a.Close(); err != nil {
			zap.L().Warn("distributor: close adapter", zap.String("adapter", a.Name()), zap.Error(err))
		}
	}
}
