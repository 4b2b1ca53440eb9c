// Package distributor drives distributor storefronts through an automated
// browser. Each Adapter owns one browser tab and walks a fixed lifecycle:
// login, session preparation, then any number of searches and cart additions.
package distributor

import (
	"context"
	"fmt"

	"github.com/sells-group/pharma-cart/internal/model"
)

// State is the lifecycle position of an adapter.
type State int

const (
	StateUninitialized State = iota
	StateLoggedIn
	StateSessionReady
	StateSearching
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoggedIn:
		return "logged_in"
	case StateSessionReady:
		return "session_ready"
	case StateSearching:
		return "searching"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the outcome of a search. The zero value is not found.
type Result struct {
	Offer model.Offer
	found bool
}

// Hit returns a found Result.
func Hit(o model.Offer) Result { return Result{Offer: o, found: true} }

// Miss returns a Result whose offer can never be selected.
func Miss(distributor string, priority int) Result {
	return Result{Offer: model.NotFound(distributor, priority)}
}

// Found reports whether exactly one product matched a name variant.
func (r Result) Found() bool { return r.found && r.Offer.Found() }

// Adapter is one distributor storefront session.
type Adapter interface {
	Name() string
	Priority() int
	Login(ctx context.Context) error
	PrepareSession(ctx context.Context) error
	// Search tries variants in order and returns the first unambiguous match.
	Search(ctx context.Context, variants []string) (Result, error)
	// AddToCart puts quantity units of the product called name in the cart.
	// added can be true together with an error when the cart changed but the
	// page could not be reset afterwards.
	AddToCart(ctx context.Context, name string, quantity int) (bool, error)
	RefreshSession(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
	Diagnostics() *Ring
	Close() error
}
