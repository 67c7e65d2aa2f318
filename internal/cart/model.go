package cart

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Product is the catalog record the cart snapshots prices from.
type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category,omitempty"`
	Origin   string          `json:"origin,omitempty"`
	Material string          `json:"material,omitempty"`
}

// Line is one product in the cart. PriceAtPurchase is fixed when the line is created.
type Line struct {
	ProductID       string          `json:"product_id"`
	Name            string          `json:"name,omitempty"`
	Category        string          `json:"category,omitempty"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

// Subtotal is price times quantity for the line.
func (l Line) Subtotal() decimal.Decimal {
	return l.PriceAtPurchase.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// State is an immutable cart aggregate. Totals are derived by Recompute only.
type State struct {
	lines     []Line
	total     decimal.Decimal
	itemCount int
	loading   bool
	err       string
}

// Empty returns a cart with no lines.
func Empty() State {
	return Recompute(nil)
}

// Lines returns a copy of the lines in cart order.
func (s State) Lines() []Line {
	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// Line looks up the line for productID.
func (s State) Line(productID string) (Line, bool) {
	if i := s.indexOf(productID); i >= 0 {
		return s.lines[i], true
	}
	return Line{}, false
}

// Quantity returns the quantity held for productID, or 0.
func (s State) Quantity(productID string) int {
	if line, ok := s.Line(productID); ok {
		return line.Quantity
	}
	return 0
}

func (s State) TotalAmount() decimal.Decimal { return s.total }
func (s State) ItemCount() int               { return s.itemCount }
func (s State) LineCount() int               { return len(s.lines) }
func (s State) IsLoading() bool              { return s.loading }
func (s State) Error() string                { return s.err }
func (s State) IsEmpty() bool                { return len(s.lines) == 0 }

// WithLoading returns a copy carrying the loading hint.
func (s State) WithLoading(loading bool) State {
	s.loading = loading
	return s
}

// WithError returns a copy carrying a user-facing error, clearing loading.
func (s State) WithError(msg string) State {
	s.err = msg
	s.loading = false
	return s
}

func (s State) indexOf(productID string) int {
	for i, line := range s.lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

type stateJSON struct {
	Lines       []Line          `json:"lines"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ItemCount   int             `json:"item_count"`
	LineCount   int             `json:"line_count"`
	IsLoading   bool            `json:"is_loading"`
	Error       string          `json:"error,omitempty"`
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateJSON{
		Lines:       s.Lines(),
		TotalAmount: s.total,
		ItemCount:   s.itemCount,
		LineCount:   len(s.lines),
		IsLoading:   s.loading,
		Error:       s.err,
	})
}
