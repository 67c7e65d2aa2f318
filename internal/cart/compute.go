package cart

import "github.com/shopspring/decimal"

// Recompute builds a State from lines and derives totals. Lines with a
// non-positive quantity are dropped and duplicate product ids are merged into
// the first occurrence, keeping its price snapshot.
func Recompute(lines []Line) State {
	out := make([]Line, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		if i, ok := index[line.ProductID]; ok {
			out[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line)
	}

	total := decimal.Zero
	count := 0
	for _, line := range out {
		total = total.Add(line.Subtotal())
		count += line.Quantity
	}
	return State{lines: out, total: total, itemCount: count}
}

// rebuild recomputes totals for lines while carrying the status hints of s.
func rebuild(s State, lines []Line) State {
	next := Recompute(lines)
	next.loading = s.loading
	next.err = s.err
	return next
}

// UpsertLine adjusts the quantity of product by delta. A missing line is
// inserted with max(delta, 1) units priced at product.Price; an existing line
// that drops to zero or below is removed.
func UpsertLine(s State, product Product, delta int) State {
	lines := s.Lines()
	if i := s.indexOf(product.ID); i >= 0 {
		lines[i].Quantity += delta
		return rebuild(s, lines)
	}
	qty := delta
	if qty < 1 {
		qty = 1
	}
	lines = append(lines, Line{
		ProductID:       product.ID,
		Name:            product.Name,
		Category:        product.Category,
		Quantity:        qty,
		PriceAtPurchase: product.Price,
	})
	return rebuild(s, lines)
}

// SetQuantity replaces the quantity of an existing line. qty <= 0 removes the
// line. Unknown products leave the state unchanged since there is no price to
// snapshot.
func SetQuantity(s State, productID string, qty int) State {
	i := s.indexOf(productID)
	if i < 0 {
		return s
	}
	lines := s.Lines()
	lines[i].Quantity = qty
	return rebuild(s, lines)
}

// RemoveLine drops the line for productID if present.
func RemoveLine(s State, productID string) State {
	if s.indexOf(productID) < 0 {
		return s
	}
	return SetQuantity(s, productID, 0)
}
