package rowsource

import (
	"context"
	"encoding/json"
	"net/url"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/model"
)

// Spreadsheet reads the first sheet of an .xlsx workbook downloaded from
// the input container. data is the blob URL; its path basename is the blob
// name.
type Spreadsheet struct {
	cursor
	blobs     Downloader
	container string
	layout    Layout
	fileName  string
}

// NewSpreadsheet returns an unopened spreadsheet source. Zero layout fields
// fall back to DefaultLayout.
func NewSpreadsheet(blobs Downloader, container string, layout Layout, onSkip SkipFunc) *Spreadsheet {
	if layout.StartRow <= 0 {
		layout.StartRow = DefaultLayout.StartRow
	}
	if layout.NameColumn <= 0 {
		layout.NameColumn = DefaultLayout.NameColumn
	}
	if layout.QuantityColumn <= 0 {
		layout.QuantityColumn = DefaultLayout.QuantityColumn
	}
	return &Spreadsheet{
		cursor:    newCursor("spreadsheet", onSkip),
		blobs:     blobs,
		container: container,
		layout:    layout,
	}
}

// FileName is the blob name resolved by Open.
func (s *Spreadsheet) FileName() string { return s.fileName }

// Open downloads and parses the workbook.
func (s *Spreadsheet) Open(ctx context.Context, data json.RawMessage) error {
	ref := strings.TrimSpace(string(data))
	var quoted string
	if err := json.Unmarshal(data, &quoted); err == nil {
		ref = strings.TrimSpace(quoted)
	}
	name, err := BlobName(ref)
	if err != nil {
		return model.InputError("spreadsheet", err)
	}
	s.fileName = name
	s.label = name

	body, err := s.blobs.Download(ctx, s.container, name)
	if err != nil {
		return eris.Wrapf(err, "rowsource: download %s", name)
	}
	return s.parse(body)
}

func (s *Spreadsheet) parse(body []byte) error {
	f, err := xlsx.OpenBinary(body)
	if err != nil {
		return model.InputError(s.label, eris.Wrap(err, "rowsource: open workbook"))
	}
	if len(f.Sheets) == 0 {
		return model.InputError(s.label, eris.New("rowsource: workbook has no sheets"))
	}
	sheet := f.Sheets[0]

	var rows []rawRow
	for i := s.layout.StartRow - 1; i < len(sheet.Rows); i++ {
		r := sheet.Rows[i]
		rows = append(rows, rawRow{
			line:     i + 1,
			name:     cellValue(r, s.layout.NameColumn),
			quantity: cellValue(r, s.layout.QuantityColumn),
		})
	}
	zap.L().Info("rowsource: spreadsheet opened",
		zap.String("file", s.fileName),
		zap.String("sheet", sheet.Name),
		zap.Int("rows", len(rows)),
	)
	s.load(rows)
	return nil
}

// cellValue returns the 1-based column of r as nil, string or float64.
func cellValue(r *xlsx.Row, column int) cell {
	if r == nil || column > len(r.Cells) {
		return nil
	}
	c := r.Cells[column-1]
	if c == nil || c.Value == "" {
		return nil
	}
	if c.Type() == xlsx.CellTypeNumeric {
		if f, err := c.Float(); err == nil {
			return f
		}
	}
	return c.String()
}

// BlobName extracts the object name from a blob URL or bare name.
func BlobName(ref string) (string, error) {
	if ref == "" {
		return "", eris.New("rowsource: empty file reference")
	}
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(p)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "" || name == "." || name == "/" {
		return "", eris.Errorf("rowsource: no file name in %q", ref)
	}
	return name, nil
}
