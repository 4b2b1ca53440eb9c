// Package rowsource yields deduplicated product rows from a task's input,
// either inline JSON rows or a spreadsheet held in the object store.
package rowsource

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/model"
)

// Row is either a product or the end of the input.
type Row struct {
	Product model.ProductRow
	end     bool
}

// End reports whether the source is exhausted.
func (r Row) End() bool { return r.end }

// Of wraps p as a product Row.
func Of(p model.ProductRow) Row { return Row{Product: p} }

// Done returns the Row that marks exhaustion.
func Done() Row { return Row{end: true} }

// Progress reports how far a source has been consumed.
type Progress struct {
	Current     int    `json:"current_input_row"`
	Total       int    `json:"total_number_of_rows"`
	ProductName string `json:"original_product_name"`
}

// Percent returns floor(Current/Total*100), or 0 for an empty source.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	pct := p.Current * 100 / p.Total
	return min(max(pct, 0), 100)
}

// Source is a cursor over the product rows of one task.
type Source interface {
	// Open loads the input. data is Task.FileData.
	Open(ctx context.Context, data json.RawMessage) error
	// Validate checks every row without moving the cursor.
	Validate() error
	// Next returns the next unique product row, or a Row whose End is true.
	Next() (Row, error)
	// Progress reports rows consumed so far against the total.
	Progress() Progress
}

// SkipFunc receives rows whose quantity could not be used. quantity is -1.
type SkipFunc func(name string, quantity int)

// Downloader fetches blobs by container and name.
type Downloader interface {
	Download(ctx context.Context, container, name string) ([]byte, error)
}

// Layout fixes where products sit in a spreadsheet. All values are 1-based.
type Layout struct {
	StartRow       int
	NameColumn     int
	QuantityColumn int
}

// DefaultLayout is the column B name, column D quantity layout.
var DefaultLayout = Layout{StartRow: 1, NameColumn: 2, QuantityColumn: 4}

// Deps are the collaborators a Source may need.
type Deps struct {
	Blobs     Downloader
	Container string
	Layout    Layout
	OnSkip    SkipFunc
}

// New returns the Source variant for fileType.
func New(fileType model.FileType, deps Deps) (Source, error) {
	switch fileType {
	case model.FileTypeJSONContent:
		return NewInline(deps.OnSkip), nil
	case model.FileTypeBlobStorageURL:
		if deps.Blobs == nil {
			return nil, model.ConfigurationError("rowsource", eris.New("spreadsheet input requires a blob store"))
		}
		return NewSpreadsheet(deps.Blobs, deps.Container, deps.Layout, deps.OnSkip), nil
	default:
		return nil, model.InputError("rowsource", eris.Errorf("unsupported file type %q", fileType))
	}
}

// cell is a raw input value: nil, string or float64.
type cell = any

type rawRow struct {
	line     int
	name     cell
	quantity cell
}

func (r rawRow) blank() bool {
	return isEmpty(r.name) && isEmpty(r.quantity)
}

// cursor holds the iteration state shared by both variants.
type cursor struct {
	label   string
	rows    []rawRow
	pos     int
	seen    map[string]bool
	current string
	onSkip  SkipFunc
	opened  bool
}

func newCursor(label string, onSkip SkipFunc) cursor {
	return cursor{label: label, seen: make(map[string]bool), onSkip: onSkip}
}

func (c *cursor) load(rows []rawRow) {
	c.rows = rows
	c.pos = 0
	c.current = ""
	c.seen = make(map[string]bool)
	c.opened = true
}

func (c *cursor) Validate() error {
	if !c.opened {
		return model.InputError("rowsource", eris.New("input is not open"))
	}
	for _, r := range c.rows {
		if r.blank() {
			continue
		}
		name, ok := r.name.(string)
		if !ok || strings.TrimSpace(name) == "" {
			return model.InputError(c.label, eris.Errorf(
				"row %d: product name %v must be non-empty text (%d rows in input)", r.line, display(r.name), len(c.rows)))
		}
		if isEmpty(r.quantity) {
			continue
		}
		if _, ok := numeric(r.quantity); !ok {
			return model.InputError(c.label, eris.Errorf(
				"row %d: quantity %v for %q must be a number (%d rows in input)", r.line, display(r.quantity), name, len(c.rows)))
		}
	}
	return nil
}

func (c *cursor) Next() (Row, error) {
	if !c.opened {
		return Row{}, model.InputError("rowsource", eris.New("input is not open"))
	}
	for c.pos < len(c.rows) {
		r := c.rows[c.pos]
		c.pos++
		if r.blank() {
			continue
		}

		name, _ := r.name.(string)
		c.current = name
		if c.seen[name] {
			zap.L().Debug("rowsource: skipping duplicate product",
				zap.String("product", name), zap.Int("row", r.line))
			continue
		}
		c.seen[name] = true

		qty, ok := quantity(r.quantity)
		if !ok {
			zap.L().Info("rowsource: product has no usable quantity",
				zap.String("product", name), zap.Int("row", r.line), zap.Any("quantity", r.quantity))
			if c.onSkip != nil {
				c.onSkip(name, -1)
			}
			continue
		}

		return Row{Product: model.ProductRow{
			OriginalName:   name,
			NameVariations: Variants(name),
			Quantity:       qty,
		}}, nil
	}
	return Done(), nil
}

func (c *cursor) Progress() Progress {
	return Progress{Current: c.pos, Total: len(c.rows), ProductName: c.current}
}

func isEmpty(v cell) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	default:
		return false
	}
}

// numeric parses v as a number. Text cells holding a number count.
func numeric(v cell) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x) && !math.IsInf(x, 0)
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(x, ",", ".")), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

// quantity accepts non-negative integers and integral floats.
func quantity(v cell) (int, bool) {
	f, ok := numeric(v)
	if !ok || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func display(v cell) string {
	if v == nil {
		return "<empty>"
	}
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
