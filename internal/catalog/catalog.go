// Package catalog is the read-only product source the cart snapshots prices from.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/angelmondragon/cartsync/internal/cart"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/shopspring/decimal"
)

// Item is a catalog product with optional stock. A nil Stock means unlimited.
type Item struct {
	cart.Product
	Stock *int `json:"stock,omitempty"`
}

// Reader is what the cart engine and stores need from the catalog.
type Reader interface {
	Product(ctx context.Context, id string) (cart.Product, error)
	List(ctx context.Context) ([]cart.Product, error)
	Available(ctx context.Context, id string) (int, bool, error)
}

// Static is an in-memory catalog.
type Static struct {
	mu    sync.RWMutex
	items map[string]Item
}

func NewStatic(items []Item) (*Static, error) {
	c := &Static{items: make(map[string]Item, len(items))}
	for _, item := range items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "catalog product id is required")
		}
		if item.Price.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("product %s has a negative price", id))
		}
		if _, dup := c.items[id]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duplicate product %s", id))
		}
		item.ID = id
		c.items[id] = item
	}
	return c, nil
}

// LoadFile reads a JSON array of items.
func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode catalog file")
	}
	return NewStatic(items)
}

// Default returns the built-in demo catalog.
func Default() *Static {
	c, err := NewStatic(defaultItems())
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Static) Product(ctx context.Context, id string) (cart.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	if !ok {
		return cart.Product{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", id))
	}
	return item.Product, nil
}

// List returns every product sorted by id.
func (c *Static) List(ctx context.Context) ([]cart.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]cart.Product, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item.Product)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Available reports the stock for id. limited is false when stock is not tracked.
func (c *Static) Available(ctx context.Context, id string) (int, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	if !ok {
		return 0, false, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", id))
	}
	if item.Stock == nil {
		return 0, false, nil
	}
	return *item.Stock, true, nil
}

func defaultItems() []Item {
	stock := func(n int) *int { return &n }
	return []Item{
		{Product: cart.Product{ID: "bowl-celadon", Name: "Celadon Bowl", Price: decimal.RequireFromString("28.00"), Category: "tableware", Origin: "Gangjin", Material: "stoneware"}, Stock: stock(12)},
		{Product: cart.Product{ID: "mug-ash", Name: "Ash Glaze Mug", Price: decimal.RequireFromString("18.50"), Category: "tableware", Origin: "Mashiko", Material: "stoneware"}},
		{Product: cart.Product{ID: "vase-raku", Name: "Raku Vase", Price: decimal.RequireFromString("96.00"), Category: "decor", Origin: "Kyoto", Material: "raku clay"}, Stock: stock(2)},
		{Product: cart.Product{ID: "basket-rattan", Name: "Rattan Basket", Price: decimal.RequireFromString("42.00"), Category: "storage", Origin: "Cirebon", Material: "rattan"}, Stock: stock(20)},
		{Product: cart.Product{ID: "throw-linen", Name: "Linen Throw", Price: decimal.RequireFromString("74.90"), Category: "textile", Origin: "Lithuania", Material: "linen"}},
	}
}
