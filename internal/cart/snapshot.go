package cart

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ProductSummary is the product data the cart service echoes back on each line.
type ProductSummary struct {
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
}

// SnapshotLine is one line of an authoritative cart.
type SnapshotLine struct {
	ProductID       string          `json:"product_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
	Product         ProductSummary  `json:"product"`
}

// Snapshot is the authoritative cart as reported by the remote cart store.
type Snapshot struct {
	Lines       []SnapshotLine  `json:"lines"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// FromSnapshot converts an authoritative snapshot into a State. Totals are
// recomputed from the lines; the reported TotalAmount is not trusted.
func FromSnapshot(snap Snapshot) State {
	lines := make([]Line, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		lines = append(lines, Line{
			ProductID:       l.ProductID,
			Name:            l.Product.Name,
			Category:        l.Product.Category,
			Quantity:        l.Quantity,
			PriceAtPurchase: l.PriceAtPurchase,
		})
	}
	return Recompute(lines)
}

// ToSnapshot renders the state in the authoritative wire shape.
func ToSnapshot(s State) Snapshot {
	lines := make([]SnapshotLine, 0, len(s.lines))
	for _, l := range s.lines {
		lines = append(lines, SnapshotLine{
			ProductID:       l.ProductID,
			Quantity:        l.Quantity,
			PriceAtPurchase: l.PriceAtPurchase,
			Product:         ProductSummary{Name: l.Name, Category: l.Category},
		})
	}
	return Snapshot{Lines: lines, TotalAmount: s.total}
}

// TotalsMatch reports whether the snapshot's reported total agrees with its lines.
func TotalsMatch(snap Snapshot) bool {
	return FromSnapshot(snap).TotalAmount().Equal(snap.TotalAmount)
}

// Drift is a per-product quantity disagreement between two cart states.
type Drift struct {
	ProductID string `json:"product_id"`
	Local     int    `json:"local"`
	Remote    int    `json:"remote"`
}

// Diff lists products whose quantity differs between local and remote,
// sorted by product id.
func Diff(local, remote State) []Drift {
	seen := map[string]struct{}{}
	var drifts []Drift
	check := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		l, r := local.Quantity(id), remote.Quantity(id)
		if l != r {
			drifts = append(drifts, Drift{ProductID: id, Local: l, Remote: r})
		}
	}
	for _, line := range local.lines {
		check(line.ProductID)
	}
	for _, line := range remote.lines {
		check(line.ProductID)
	}
	sort.Slice(drifts, func(i, j int) bool { return drifts[i].ProductID < drifts[j].ProductID })
	return drifts
}
