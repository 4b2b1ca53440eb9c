package distributor

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp/kb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/config"
	"github.com/sells-group/pharma-cart/internal/resilience"
)

const (
	stingUserField      = "input[id='Login1_UserName']"
	stingPasswordField  = "input[id='Login1_Password']"
	stingChannelLink    = "li a[href='Users/CartChooseChannel.aspx']"
	stingPaymentArrow   = "td.rcbArrowCell.rcbArrowCellRight"
	stingConfirmChannel = "td input[type='image']"
	stingClearCart      = "//tfoot//div[contains(text(), 'Изчисти количката')]"
	stingModeStartsWith = "//input[starts-with(@value, 'започва с')]"
	stingModeContains   = "//ul[@class='rcbList']//li[contains(text(), 'съдържа')]"
	stingSearchBox      = "//input[starts-with(@value, 'Име на Артикул')]"
	stingSearchButton   = "//input[contains(@title, 'Търси')]"
	stingSpinner        = "body > .RadAjax.RadAjax_Vista"
	stingNoResults      = "//div[contains(text(), 'Няма открити артикули.')]"
	stingAddButton      = "//input[starts-with(@title, 'Добави количеството')]"
	stingQuantityField  = "//td//input[contains(@id, 'QtyResults') and contains(@type, 'text')]"
	stingResultGrid     = "//table[contains(@id, 'RadGridResult')]"

	stingPriceHeader = "Цена с ТО"
	stingNameHeader  = "Артикул"

	// impossibleProduct is searched to empty the result grid between searches.
	impossibleProduct = "IMPOSSIBLE_PRODUCT"
)

// Sting is the storefront of Sting Pharma, a Telerik WebForms shop.
type Sting struct {
	cfg  config.StingConfig
	cred config.Credential

	gridEmpty bool
	// shown is the product the grid currently holds as its only result.
	shown string
	// queries maps a found product to the variant that found it.
	queries map[string]string
}

// NewSting returns the Sting storefront for one pharmacy login.
func NewSting(cfg config.StingConfig, cred config.Credential) *Sting {
	return &Sting{cfg: cfg, cred: cred, gridEmpty: true, queries: map[string]string{}}
}

// Login signs in through the login form.
func (s *Sting) Login(ctx context.Context, p *Page) error {
	if err := p.Open(ctx, strings.TrimRight(s.cfg.BaseURL, "/")+"/"); err != nil {
		return err
	}
	if err := p.Type(ctx, stingUserField, s.cred.Username); err != nil {
		return err
	}
	if err := p.Type(ctx, stingPasswordField, s.cred.Password); err != nil {
		return err
	}
	return p.Keys(ctx, stingPasswordField, kb.Enter)
}

// Prepare picks the sales channel and payment method, empties the cart and
// switches search to "contains".
func (s *Sting) Prepare(ctx context.Context, p *Page) error {
	steps := []string{
		stingChannelLink,
		stingPaymentArrow,
		"//li[contains(text(),'" + s.cfg.PaymentMethod + "')]",
		stingConfirmChannel,
	}
	for _, sel := range steps {
		if err := p.Click(ctx, sel); err != nil {
			return err
		}
	}

	// An empty cart has no clear button.
	if p.ClickIfPresent(ctx, stingClearCart) {
		if err := p.Reload(ctx); err != nil {
			zap.L().Info("distributor: reload after clearing cart failed", zap.Error(err))
		}
	}

	return s.containsMode(ctx, p)
}

func (s *Sting) containsMode(ctx context.Context, p *Page) error {
	if err := p.Click(ctx, stingModeStartsWith); err != nil {
		return err
	}
	return p.Click(ctx, stingModeContains)
}

func (s *Sting) search(ctx context.Context, p *Page, query string) error {
	if err := p.Type(ctx, stingSearchBox, query); err != nil {
		return err
	}
	if err := p.Click(ctx, stingSearchButton); err != nil {
		return err
	}
	if p.Probe(ctx, stingSpinner) {
		p.WaitGone(ctx, stingSpinner)
	}
	return nil
}

func (s *Sting) clearResults(ctx context.Context, p *Page) error {
	if s.gridEmpty {
		return nil
	}
	s.gridEmpty = true
	return s.search(ctx, p, impossibleProduct)
}

// Lookup searches the grid for variant and reads the single result row.
func (s *Sting) Lookup(ctx context.Context, p *Page, variant string) (Match, bool, error) {
	if err := s.clearResults(ctx, p); err != nil {
		return Match{}, false, err
	}
	s.shown = ""
	if err := s.search(ctx, p, variant); err != nil {
		return Match{}, false, err
	}

	if err := p.Wait(ctx, stingNoResults+"|"+stingAddButton); err != nil {
		if resilience.IsVolatile(err) {
			return Match{}, false, err
		}
		zap.L().Warn("distributor: sting search produced no result grid", zap.String("variant", variant), zap.Error(err))
		return Match{}, false, nil
	}

	n, err := p.Count(ctx, stingAddButton)
	if err != nil {
		return Match{}, false, err
	}
	if n == 0 {
		return Match{}, false, nil
	}
	s.gridEmpty = false
	if n > 1 {
		zap.L().Debug("distributor: sting search is ambiguous", zap.String("variant", variant), zap.Int("results", n))
		return Match{}, false, nil
	}

	html, err := p.HTML(ctx, stingResultGrid)
	if err != nil {
		return Match{}, false, err
	}
	m, ok, err := parseStingGrid(html)
	if err != nil || !ok {
		return m, ok, err
	}
	s.shown = m.Name
	s.queries[m.Name] = variant
	return m, true, nil
}

// Locate keeps the grid of the last lookup when it still shows name, and
// otherwise repeats the search that found it.
func (s *Sting) Locate(ctx context.Context, p *Page, name string) (bool, error) {
	if !s.gridEmpty && s.shown == name {
		return true, nil
	}
	query, ok := s.queries[name]
	if !ok {
		query = name
	}
	m, ok, err := s.Lookup(ctx, p, query)
	if err != nil {
		return false, err
	}
	return ok && m.Name == name, nil
}

// AddToCart types quantity into the result row and presses add.
func (s *Sting) AddToCart(ctx context.Context, p *Page, quantity int) error {
	if err := p.Type(ctx, stingQuantityField, strconv.Itoa(quantity)); err != nil {
		return err
	}
	return p.Click(ctx, stingAddButton)
}

// Refresh reloads the page and restores the search mode.
func (s *Sting) Refresh(ctx context.Context, p *Page) error {
	if err := p.Reload(ctx); err != nil {
		return err
	}
	s.gridEmpty = true
	s.shown = ""
	return s.containsMode(ctx, p)
}

// parseStingGrid reads the single result row of the search grid. Columns are
// located by header text among the visible header cells.
func parseStingGrid(html string) (Match, bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Match{}, false, eris.Wrap(err, "distributor: parse sting grid")
	}

	var headers []string
	doc.Find("thead th").Each(func(_ int, th *goquery.Selection) {
		if hidden(th) {
			return
		}
		headers = append(headers, cellText(th))
	})
	priceCol := indexOf(headers, stingPriceHeader)
	if priceCol < 0 {
		zap.L().Warn("distributor: sting price column not found", zap.Strings("headers", headers))
		return Match{}, false, nil
	}
	nameCol := indexOf(headers, stingNameHeader)
	if nameCol < 0 {
		nameCol = 2
	}

	var cells []string
	doc.Find("tbody tr").First().Find("td").Each(func(_ int, td *goquery.Selection) {
		if hidden(td) {
			return
		}
		cells = append(cells, cellText(td))
	})
	if priceCol >= len(cells) {
		return Match{}, false, nil
	}

	price, ok := parsePrice(cells[priceCol])
	if !ok {
		zap.L().Warn("distributor: sting price is not a number", zap.String("price", cells[priceCol]))
		return Match{}, false, nil
	}
	var name string
	if nameCol < len(cells) {
		name = cells[nameCol]
	}
	return Match{Name: name, Price: price}, true, nil
}

func hidden(s *goquery.Selection) bool {
	style, _ := s.Attr("style")
	return strings.Contains(style, "none")
}

func cellText(s *goquery.Selection) string {
	return strings.TrimSpace(strings.ReplaceAll(s.Text(), "\u00a0", " "))
}

func indexOf(values []string, want string) int {
	for i, v := range values {
		if v == want {
			return i
		}
	}
	return -1
}

// parsePrice accepts both decimal separators and ignores spaces.
func parsePrice(raw string) (float64, bool) {
	raw = strings.NewReplacer("\u00a0", "", " ", "", "&nbsp;", "", ",", ".").Replace(raw)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
