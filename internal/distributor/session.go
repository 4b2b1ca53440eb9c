package distributor

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/model"
	"github.com/sells-group/pharma-cart/internal/resilience"
)

// Match is a single product a storefront found for one name variant.
type Match struct {
	Name  string
	Price float64
}

// Storefront holds the site-specific page steps. A Session supplies the
// lifecycle checks and the refresh-and-retry policy around them.
type Storefront interface {
	Login(ctx context.Context, p *Page) error
	Prepare(ctx context.Context, p *Page) error
	// Lookup searches one variant. ok is false for zero or several matches.
	Lookup(ctx context.Context, p *Page, variant string) (m Match, ok bool, err error)
	// Locate brings the product called name on screen as the only result,
	// ready to be added. ok is false when it can no longer be found. Locate
	// changes nothing in the cart and may be repeated.
	Locate(ctx context.Context, p *Page, name string) (ok bool, err error)
	// AddToCart puts quantity of the located product in the cart. It is
	// never repeated: a failure may leave the cart changed.
	AddToCart(ctx context.Context, p *Page, quantity int) error
	// Refresh returns the page to the search screen.
	Refresh(ctx context.Context, p *Page) error
}

// SessionOptions tunes a Session.
type SessionOptions struct {
	Timeouts Timeouts
	// RefreshAttempts bounds how often a failed session refresh is repeated.
	RefreshAttempts int
	RefreshBackoff  time.Duration
}

// Session is an Adapter running a Storefront in one browser tab.
type Session struct {
	name     string
	priority int
	front    Storefront
	page     *Page
	ring     *Ring
	state    State
	refresh  resilience.RetryConfig
}

// NewSession returns an Adapter in the Uninitialized state.
func NewSession(name string, priority int, front Storefront, drv Driver, opts SessionOptions) *Session {
	ring := NewRing(DefaultRingSize)
	attempts := opts.RefreshAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Session{
		name:     name,
		priority: priority,
		front:    front,
		page:     NewPage(name, drv, ring, opts.Timeouts),
		ring:     ring,
		refresh: resilience.RetryConfig{
			MaxAttempts:    attempts,
			InitialBackoff: opts.RefreshBackoff,
			ShouldRetry:    func(error) bool { return true },
			OnRetry:        resilience.RetryLogger(name, "refresh"),
		},
	}
}

// Name returns the distributor name.
func (s *Session) Name() string { return s.name }

// Priority orders equal prices; lower wins.
func (s *Session) Priority() int { return s.priority }

// Diagnostics returns the screenshots taken before recent actions.
func (s *Session) Diagnostics() *Ring { return s.ring }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

func (s *Session) expect(op string, allowed ...State) error {
	for _, a := range allowed {
		if s.state == a {
			return nil
		}
	}
	return model.FatalError(s.name, eris.Errorf("distributor: %s called while %s", op, s.state))
}

// Login signs in with the pharmacy's credentials.
func (s *Session) Login(ctx context.Context) error {
	if err := s.expect("login", StateUninitialized); err != nil {
		return err
	}
	if err := s.front.Login(ctx, s.page); err != nil {
		return model.FatalError(s.name, eris.Wrap(err, "distributor: login"))
	}
	s.state = StateLoggedIn
	zap.L().Info("distributor: logged in", zap.String("adapter", s.name))
	return nil
}

// PrepareSession makes the storefront ready for searching.
func (s *Session) PrepareSession(ctx context.Context) error {
	if err := s.expect("prepare session", StateLoggedIn); err != nil {
		return err
	}
	if err := s.front.Prepare(ctx, s.page); err != nil {
		return model.FatalError(s.name, eris.Wrap(err, "distributor: prepare session"))
	}
	s.state = StateSessionReady
	return nil
}

// Search tries variants in order and returns the first single match. A
// volatile page error is retried once after a refresh.
func (s *Session) Search(ctx context.Context, variants []string) (Result, error) {
	if err := s.expect("search", StateSessionReady); err != nil {
		return Result{}, err
	}
	s.state = StateSearching
	defer s.settle()

	res, err := resilience.DoVal(ctx, resilience.SingleRetry(s.recoverFrom("search")), func(ctx context.Context) (Result, error) {
		return s.lookup(ctx, variants)
	})
	if err != nil {
		return Result{}, s.fail(err)
	}
	return res, nil
}

func (s *Session) lookup(ctx context.Context, variants []string) (Result, error) {
	for _, v := range variants {
		m, ok, err := s.front.Lookup(ctx, s.page, v)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			continue
		}
		offer := model.Offer{Distributor: s.name, Priority: s.priority, Name: m.Name, Price: m.Price}
		if !offer.Found() {
			continue
		}
		zap.L().Debug("distributor: product found",
			zap.String("adapter", s.name),
			zap.String("variant", v),
			zap.String("name", m.Name),
			zap.Float64("price", m.Price),
		)
		return Hit(offer), nil
	}
	return Miss(s.name, s.priority), nil
}

// AddToCart finds name again and adds quantity of it to the cart. Finding
// is retried once after a volatile page error; the add itself never is. The
// page is refreshed after every add attempt. added is true when the cart
// holds the product, even if the following refresh failed.
func (s *Session) AddToCart(ctx context.Context, name string, quantity int) (added bool, err error) {
	if err := s.expect("add to cart", StateSessionReady); err != nil {
		return false, err
	}
	s.state = StateSearching
	defer s.settle()

	found, err := resilience.DoVal(ctx, resilience.SingleRetry(s.recoverFrom("locate")), func(ctx context.Context) (bool, error) {
		return s.front.Locate(ctx, s.page, name)
	})
	if err != nil {
		return false, s.fail(err)
	}
	if !found {
		zap.L().Warn("distributor: product vanished before add to cart",
			zap.String("adapter", s.name),
			zap.String("name", name),
		)
		return false, nil
	}

	if err := s.front.AddToCart(ctx, s.page, quantity); err != nil {
		zap.L().Warn("distributor: add to cart failed, not repeating it",
			zap.String("adapter", s.name),
			zap.String("name", name),
			zap.Error(err),
		)
		if rerr := s.reset(ctx); rerr != nil {
			return false, rerr
		}
		return false, s.fail(err)
	}

	if err := s.reset(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// RefreshSession returns the page to the search screen, repeating the
// refresh on failure.
func (s *Session) RefreshSession(ctx context.Context) error {
	if err := s.expect("refresh session", StateSessionReady, StateSearching); err != nil {
		return err
	}
	return s.reset(ctx)
}

func (s *Session) reset(ctx context.Context) error {
	if err := resilience.Do(ctx, s.refresh, func(ctx context.Context) error {
		return s.front.Refresh(ctx, s.page)
	}); err != nil {
		return model.FatalError(s.name, eris.Wrap(err, "distributor: refresh session"))
	}
	return nil
}

// Screenshot captures the live page.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if s.state == StateClosed {
		return nil, eris.Errorf("distributor: %s is closed", s.name)
	}
	return s.page.Screenshot(ctx)
}

// Close releases the browser. Later calls are no-ops.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	if err := s.page.Driver().Close(); err != nil {
		return eris.Wrapf(err, "distributor: close %s", s.name)
	}
	return nil
}

func (s *Session) settle() {
	if s.state == StateSearching {
		s.state = StateSessionReady
	}
}

func (s *Session) recoverFrom(op string) func(ctx context.Context, attempt int, err error) error {
	return func(ctx context.Context, attempt int, err error) error {
		zap.L().Warn("distributor: page changed under action, refreshing",
			zap.String("adapter", s.name),
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return s.front.Refresh(ctx, s.page)
	}
}

// fail tags err with the adapter name. A volatile failure that survived the
// retry stays transient so the caller can treat it as no offer.
func (s *Session) fail(err error) error {
	if resilience.IsVolatile(err) {
		return model.NewError(model.KindTransient, s.name, err)
	}
	return model.FatalError(s.name, err)
}
