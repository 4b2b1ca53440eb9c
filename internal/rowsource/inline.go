package rowsource

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pharma-cart/internal/model"
)

// Inline reads rows embedded in the task as
// {"rows":[{"product_name":"...","quantity":10}]}. The object may also
// arrive as a JSON string containing it.
type Inline struct {
	cursor
}

// NewInline returns an unopened inline source.
func NewInline(onSkip SkipFunc) *Inline {
	return &Inline{cursor: newCursor("inline rows", onSkip)}
}

type inlineDoc struct {
	Rows []map[string]json.RawMessage `json:"rows"`
}

// Open decodes the rows.
func (s *Inline) Open(_ context.Context, data json.RawMessage) error {
	raw := bytes.TrimSpace(data)
	for len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return model.InputError("inline rows", eris.Wrap(err, "rowsource: decode quoted rows"))
		}
		raw = bytes.TrimSpace([]byte(inner))
	}

	var doc inlineDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.InputError("inline rows", eris.Wrap(err, "rowsource: decode rows"))
	}
	if doc.Rows == nil {
		return model.InputError("inline rows", eris.New(`rowsource: missing "rows"`))
	}

	rows := make([]rawRow, len(doc.Rows))
	for i, r := range doc.Rows {
		rows[i] = rawRow{
			line:     i + 1,
			name:     decodeCell(r["product_name"]),
			quantity: decodeCell(r["quantity"]),
		}
	}
	s.load(rows)
	return nil
}

// decodeCell maps a JSON value to nil, string, float64 or, for anything
// else, the raw text so validation can report it.
func decodeCell(raw json.RawMessage) cell {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch v.(type) {
	case nil, string, float64:
		return v
	default:
		return json.RawMessage(raw)
	}
}
