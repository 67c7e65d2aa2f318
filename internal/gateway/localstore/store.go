// Package localstore is a self-contained cart store used when no remote cart
// service is configured. It applies the same rules a cart service would:
// prices come from the catalog and adds beyond stock are refused.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/catalog"
	"github.com/angelmondragon/cartsync/internal/gateway"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
)

type Store struct {
	blobs   Blobs
	catalog catalog.Reader

	mu sync.Mutex
}

func New(blobs Blobs, products catalog.Reader) *Store {
	if blobs == nil {
		blobs = NewMemoryBlobs()
	}
	return &Store{blobs: blobs, catalog: products}
}

func (s *Store) ForSession(sessionID string) gateway.Gateway {
	return &session{store: s, id: sessionID}
}

type session struct {
	store *Store
	id    string
}

func (c *session) FetchCart(ctx context.Context) (cart.Snapshot, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	state, found, err := c.store.load(ctx, c.id)
	if err != nil {
		return cart.Snapshot{}, err
	}
	if !found {
		return cart.Snapshot{}, gateway.ErrNoCart
	}
	return cart.ToSnapshot(state), nil
}

func (c *session) AddItem(ctx context.Context, productID string, quantity int) (cart.Snapshot, error) {
	if quantity < 1 {
		return cart.Snapshot{}, gateway.Rejected(http.StatusBadRequest, "quantity must be at least 1")
	}
	return c.store.mutate(ctx, c.id, func(state cart.State) (cart.State, error) {
		product, err := c.store.catalog.Product(ctx, productID)
		if err != nil {
			return state, rejectLookup(err)
		}
		if err := c.store.checkStock(ctx, productID, state.Quantity(productID)+quantity); err != nil {
			return state, err
		}
		return cart.UpsertLine(state, product, quantity), nil
	})
}

func (c *session) SetQuantity(ctx context.Context, productID string, quantity int) (cart.Snapshot, error) {
	return c.store.mutate(ctx, c.id, func(state cart.State) (cart.State, error) {
		if _, ok := state.Line(productID); !ok {
			return state, gateway.Rejected(http.StatusNotFound, fmt.Sprintf("product %s is not in the cart", productID))
		}
		if quantity > 0 {
			if err := c.store.checkStock(ctx, productID, quantity); err != nil {
				return state, err
			}
		}
		return cart.SetQuantity(state, productID, quantity), nil
	})
}

func (c *session) RemoveItem(ctx context.Context, productID string) (cart.Snapshot, error) {
	return c.store.mutate(ctx, c.id, func(state cart.State) (cart.State, error) {
		return cart.RemoveLine(state, productID), nil
	})
}

func (s *Store) mutate(ctx context.Context, sessionID string, apply func(cart.State) (cart.State, error)) (cart.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, _, err := s.load(ctx, sessionID)
	if err != nil {
		return cart.Snapshot{}, err
	}
	next, err := apply(state)
	if err != nil {
		return cart.Snapshot{}, err
	}
	snap := cart.ToSnapshot(next)
	raw, err := json.Marshal(snap)
	if err != nil {
		return cart.Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode cart")
	}
	if err := s.blobs.Save(ctx, sessionID, raw); err != nil {
		return cart.Snapshot{}, gateway.Network(err)
	}
	return snap, nil
}

func (s *Store) load(ctx context.Context, sessionID string) (cart.State, bool, error) {
	raw, found, err := s.blobs.Load(ctx, sessionID)
	if err != nil {
		return cart.State{}, false, gateway.Network(err)
	}
	if !found {
		return cart.Empty(), false, nil
	}
	var snap cart.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return cart.State{}, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode stored cart")
	}
	return cart.FromSnapshot(snap), true, nil
}

func (s *Store) checkStock(ctx context.Context, productID string, want int) error {
	stock, limited, err := s.catalog.Available(ctx, productID)
	if err != nil {
		return rejectLookup(err)
	}
	if limited && want > stock {
		return gateway.Rejected(http.StatusConflict, fmt.Sprintf("only %d left in stock", stock))
	}
	return nil
}

func rejectLookup(err error) error {
	if pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound {
		return gateway.Rejected(http.StatusNotFound, pkgerrors.As(err).Message())
	}
	return gateway.Network(err)
}
