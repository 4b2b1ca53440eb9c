package distributor

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"

	"github.com/sells-group/pharma-cart/internal/resilience"
)

const catalogPath = "/bg/build/production/BgShop/resources/php/combo/article.php"

// AdaptiveLimiter wraps a rate.Limiter whose rate grows by 20% on success
// up to twice the initial rate and halves on 429 down to a quarter of it.
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter returns a limiter starting at initial events per second.
func NewAdaptiveLimiter(initial rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initial, burst),
		maxRate:     initial * 2,
		minRate:     initial / 4,
		currentRate: initial,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("distributor: catalog rate limited, slowing down",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// CatalogRow is one article in a catalog response.
type CatalogRow struct {
	Name       string `xml:"CyrName"`
	Price      string `xml:"pdPrice"`
	ExpiryDate string `xml:"ExpiryDate"`
}

type catalogDataset struct {
	XMLName xml.Name     `xml:"dataset"`
	Results int          `xml:"results"`
	Rows    []CatalogRow `xml:"row"`
}

// CatalogOptions configures a Catalog.
type CatalogOptions struct {
	BaseURL   string
	PartnerID string
	OrderType string
	RPS       float64
	Timeout   time.Duration
	Client    *http.Client
}

// Catalog queries the Phoenix article endpoint directly with a browser
// session id. It returns the discounted price for the partner. A failed
// request is not repeated here; the session decides whether to retry.
type Catalog struct {
	client  *http.Client
	opts    CatalogOptions
	limiter *AdaptiveLimiter
}

// NewCatalog returns a Catalog client.
func NewCatalog(opts CatalogOptions) *Catalog {
	if opts.RPS <= 0 {
		opts.RPS = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.OrderType == "" {
		opts.OrderType = "F"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				MaxConnsPerHost:     4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Catalog{
		client:  client,
		opts:    opts,
		limiter: NewAdaptiveLimiter(rate.Limit(opts.RPS), 1),
	}
}

// SearchURL builds the article query for q.
func (c *Catalog) SearchURL(q string) string {
	v := url.Values{}
	v.Set("selby", "article")
	v.Set("query", q)
	v.Set("order_type", c.opts.OrderType)
	v.Set("order_partner_id", c.opts.PartnerID)
	v.Set("mode", "name_inside")
	return strings.TrimRight(c.opts.BaseURL, "/") + catalogPath + "?" + v.Encode()
}

// Search returns the article matching q. ok is false when the query matches
// zero or several articles, or when the single match has no expiry date.
func (c *Catalog) Search(ctx context.Context, sessionID, q string) (Match, bool, error) {
	ds, err := c.fetch(ctx, sessionID, q)
	if err != nil {
		return Match{}, false, err
	}

	if ds.Results != 1 || len(ds.Rows) == 0 {
		return Match{}, false, nil
	}
	row := ds.Rows[0]
	if strings.TrimSpace(row.ExpiryDate) == "" {
		zap.L().Info("distributor: phoenix article has no expiry date, skipping", zap.String("name", row.Name))
		return Match{}, false, nil
	}
	price, ok := parsePrice(row.Price)
	if !ok {
		zap.L().Warn("distributor: phoenix price is not a number", zap.String("price", row.Price))
		return Match{}, false, nil
	}
	return Match{Name: strings.TrimSpace(row.Name), Price: price}, true, nil
}

func (c *Catalog) fetch(ctx context.Context, sessionID, q string) (*catalogDataset, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "distributor: catalog rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SearchURL(q), nil)
	if err != nil {
		return nil, eris.Wrap(err, "distributor: build catalog request")
	}
	req.AddCookie(&http.Cookie{Name: "PHPSESSID", Value: sessionID})

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "distributor: catalog request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.OnRateLimit()
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("distributor: catalog returned %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	ds, err := decodeCatalog(resp.Body)
	if err != nil {
		return nil, err
	}
	c.limiter.OnSuccess()
	return ds, nil
}

func decodeCatalog(r io.Reader) (*catalogDataset, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "distributor: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}
	var ds catalogDataset
	if err := dec.Decode(&ds); err != nil {
		return nil, eris.Wrap(err, "distributor: decode catalog response")
	}
	return &ds, nil
}
