package distributor

import (
	"context"
	"net/http"
	"strings"

	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/config"
	"github.com/sells-group/pharma-cart/internal/resilience"
)

const (
	phoenixLoginPath     = "/bg/build/production/BgShop/index.php"
	phoenixCookiePath    = "/dummy_page"
	phoenixUserField     = "input[name='loginUsername']"
	phoenixPasswordField = "input[name='loginPasswordText']"
	phoenixOrderMenu     = "//span[contains(text(), 'Поръчка')]"
	phoenixOrderList     = "//span[contains(text(), 'Списък поръчки')]"
	phoenixLatestOrder   = "//div[@class='x-grid-item-container']//table[1]//td[contains(@class, 'x-grid-cell')][1]"
	phoenixPartnerField  = "input[name='order_partner_id']"
	phoenixSpellcheck    = "//div[contains(@data-componentid, 'order-spellcheckwindow')]//div[contains(@class, 'x-tool-tool-el')]"
	phoenixSearchBox     = "//fieldset[starts-with(@aria-label, 'Търсене в номенклатура')]//input[starts-with(@id,'textfield') and starts-with(@name, 'textfield')]"
	phoenixSearchButton  = "span.fa-search"
	phoenixPlusButton    = "//span[text()='Добави']/ancestor::*/div[contains(@role,'grid')]//span[text()='+']"
	phoenixAddButton     = "//span[text()='Добави']"
	phoenixCloseDialog   = "//div[contains(@data-qtip,'Close dialog')]"
	phoenixSessionCookie = "PHPSESSID"
)

// Phoenix is the storefront of Phoenix Pharma, an ExtJS shop. Prices come
// from the shop's article endpoint; cart changes go through the UI.
type Phoenix struct {
	cfg        config.PhoenixConfig
	cred       config.Credential
	pharmacyID string
	catalog    *Catalog

	gridEmpty bool
}

// NewPhoenix returns the Phoenix storefront for one pharmacy login.
func NewPhoenix(cfg config.PhoenixConfig, cred config.Credential, pharmacyID string, catalog *Catalog) *Phoenix {
	return &Phoenix{cfg: cfg, cred: cred, pharmacyID: pharmacyID, catalog: catalog, gridEmpty: true}
}

func (f *Phoenix) base() string {
	return strings.TrimRight(f.cfg.BaseURL, "/")
}

// Login seeds the consent cookies and signs in.
func (f *Phoenix) Login(ctx context.Context, p *Page) error {
	// Consent cookies must exist on the domain before the shop loads.
	if err := p.Open(ctx, f.base()+phoenixCookiePath); err != nil {
		return err
	}
	consent := []*http.Cookie{
		{Name: "cookiesAsked", Value: "true"},
		{Name: "cookiesAllowedMarketing", Value: "false"},
		{Name: "cookiesAllowedAnalytical", Value: "false"},
	}
	if err := p.SetCookies(ctx, f.base(), consent); err != nil {
		return err
	}
	if err := p.Open(ctx, f.base()+phoenixLoginPath); err != nil {
		return err
	}
	if err := p.Type(ctx, phoenixUserField, f.cred.Username); err != nil {
		return err
	}
	if err := p.Click(ctx, phoenixPasswordField); err != nil {
		return err
	}
	if err := p.Type(ctx, phoenixPasswordField, f.cred.Password); err != nil {
		return err
	}
	return p.Keys(ctx, phoenixPasswordField, kb.Enter)
}

// Prepare opens a new order for the pharmacy's partner id.
func (f *Phoenix) Prepare(ctx context.Context, p *Page) error {
	if err := p.Click(ctx, phoenixOrderMenu); err != nil {
		return err
	}
	if err := p.Click(ctx, "//span[contains(text(), '"+f.cfg.OrderType+"')]"); err != nil {
		return err
	}
	if err := p.Type(ctx, phoenixPartnerField, f.pharmacyID); err != nil {
		return err
	}
	// The partner picker only opens when several partners match.
	p.ClickIfPresent(ctx, "//div[contains(@class, 'x-grid-cell-inner') and text() = '"+f.pharmacyID+"']")
	return nil
}

// Lookup prices variant through the catalog endpoint with the browser's
// session cookie.
func (f *Phoenix) Lookup(ctx context.Context, p *Page, variant string) (Match, bool, error) {
	sid, err := p.Cookie(ctx, phoenixSessionCookie)
	if err != nil {
		if resilience.IsVolatile(err) {
			return Match{}, false, err
		}
		zap.L().Error("distributor: phoenix session cookie is missing", zap.Error(err))
		return Match{}, false, nil
	}
	return f.catalog.Search(ctx, sid, variant)
}

// find runs a UI search for name and reports whether exactly one row with a
// plus button is shown.
func (f *Phoenix) find(ctx context.Context, p *Page, name string) (bool, error) {
	if err := f.clearResults(ctx, p); err != nil {
		return false, err
	}
	if err := p.Type(ctx, phoenixSearchBox, name); err != nil {
		return false, err
	}
	if err := p.Click(ctx, phoenixSearchButton); err != nil {
		return false, err
	}

	if err := p.Wait(ctx, phoenixSpellcheck+"|"+phoenixPlusButton); err != nil {
		if resilience.IsVolatile(err) {
			return false, err
		}
		return false, nil
	}
	// The spellcheck window only shows up when nothing matched.
	if n, err := p.Count(ctx, phoenixSpellcheck); err != nil {
		return false, err
	} else if n > 0 {
		p.ClickIfPresent(ctx, phoenixSpellcheck)
		return false, nil
	}

	n, err := p.Count(ctx, phoenixPlusButton)
	if err != nil {
		return false, err
	}
	if n > 0 {
		f.gridEmpty = false
	}
	return n == 1, nil
}

func (f *Phoenix) clearResults(ctx context.Context, p *Page) error {
	if f.gridEmpty {
		return nil
	}
	f.gridEmpty = true
	if err := p.Type(ctx, phoenixSearchBox, impossibleProduct); err != nil {
		return err
	}
	if err := p.Click(ctx, phoenixSearchButton); err != nil {
		p.ClickIfPresent(ctx, phoenixSpellcheck)
		return p.Click(ctx, phoenixSearchButton)
	}
	return nil
}

func (f *Phoenix) add(ctx context.Context, p *Page, quantity int) error {
	for range quantity {
		if err := p.Click(ctx, phoenixPlusButton); err != nil {
			return err
		}
	}
	return p.Click(ctx, phoenixAddButton)
}

// Locate searches the order screen for name.
func (f *Phoenix) Locate(ctx context.Context, p *Page, name string) (bool, error) {
	return f.find(ctx, p, name)
}

// AddToCart presses "+" once per unit, then "Добави". A dialog covering the
// grid intercepts the clicks; it is closed and the clicks repeated once.
func (f *Phoenix) AddToCart(ctx context.Context, p *Page, quantity int) error {
	err := f.add(ctx, p, quantity)
	if err == nil || resilience.IsVolatile(err) {
		return err
	}
	zap.L().Warn("distributor: phoenix add to cart failed, closing dialog", zap.Error(err))
	p.ClickIfPresent(ctx, phoenixCloseDialog)
	return f.add(ctx, p, quantity)
}

// Refresh reloads and reopens the latest order.
func (f *Phoenix) Refresh(ctx context.Context, p *Page) error {
	if err := p.Reload(ctx); err != nil {
		return err
	}
	f.gridEmpty = true
	for _, sel := range []string{phoenixOrderMenu, phoenixOrderList, phoenixLatestOrder} {
		if err := p.Click(ctx, sel); err != nil {
			return err
		}
	}
	return nil
}
