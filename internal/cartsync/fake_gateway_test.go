package cartsync

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/debounce"
	"github.com/angelmondragon/cartsync/internal/gateway"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeGateway is an in-memory authoritative cart that records every call.
type fakeGateway struct {
	mu       sync.Mutex
	server   cart.State
	hasCart  bool
	products map[string]cart.Product
	calls    []string

	gate       chan struct{}
	fetchGate  chan struct{}
	failAdd    error
	failSet    error
	failRemove error
	failFetch  error
}

func newFakeGateway(products ...cart.Product) *fakeGateway {
	g := &fakeGateway{server: cart.Empty(), products: map[string]cart.Product{}}
	for _, p := range products {
		g.products[p.ID] = p
	}
	return g
}

// seed puts qty units of p in the authoritative cart.
func (g *fakeGateway) seed(p cart.Product, qty int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.products[p.ID] = p
	g.server = cart.UpsertLine(g.server, p, qty)
	g.hasCart = true
}

// hold makes mutations block until release is called.
func (g *fakeGateway) hold() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate = make(chan struct{})
}

func (g *fakeGateway) release() {
	g.mu.Lock()
	gate := g.gate
	g.gate = nil
	g.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// holdFetches makes fetches read the store and then block until
// releaseFetches is called, returning what they read.
func (g *fakeGateway) holdFetches() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchGate = make(chan struct{})
}

func (g *fakeGateway) releaseFetches() {
	g.mu.Lock()
	gate := g.fetchGate
	g.fetchGate = nil
	g.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (g *fakeGateway) wait(ctx context.Context) error {
	g.mu.Lock()
	gate := g.gate
	g.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return gateway.Network(ctx.Err())
	}
}

func (g *fakeGateway) record(call string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
}

func (g *fakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	copy(out, g.calls)
	return out
}

func (g *fakeGateway) Server() cart.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.server
}

func (g *fakeGateway) FetchCart(ctx context.Context) (cart.Snapshot, error) {
	g.record("fetch")
	g.mu.Lock()
	gate := g.fetchGate
	var (
		snap cart.Snapshot
		err  error
	)
	switch {
	case g.failFetch != nil:
		err = g.failFetch
	case !g.hasCart:
		err = gateway.ErrNoCart
	default:
		snap = cart.ToSnapshot(g.server)
	}
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return cart.Snapshot{}, gateway.Network(ctx.Err())
		}
	}
	return snap, err
}

func (g *fakeGateway) AddItem(ctx context.Context, productID string, quantity int) (cart.Snapshot, error) {
	g.record(fmt.Sprintf("add %s %d", productID, quantity))
	if err := g.wait(ctx); err != nil {
		return cart.Snapshot{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAdd != nil {
		return cart.Snapshot{}, g.failAdd
	}
	p, ok := g.products[productID]
	if !ok {
		return cart.Snapshot{}, gateway.Rejected(http.StatusNotFound, "unknown product")
	}
	g.server = cart.UpsertLine(g.server, p, quantity)
	g.hasCart = true
	return cart.ToSnapshot(g.server), nil
}

func (g *fakeGateway) SetQuantity(ctx context.Context, productID string, quantity int) (cart.Snapshot, error) {
	g.record(fmt.Sprintf("set %s %d", productID, quantity))
	if err := g.wait(ctx); err != nil {
		return cart.Snapshot{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failSet != nil {
		return cart.Snapshot{}, g.failSet
	}
	g.server = cart.SetQuantity(g.server, productID, quantity)
	return cart.ToSnapshot(g.server), nil
}

func (g *fakeGateway) RemoveItem(ctx context.Context, productID string) (cart.Snapshot, error) {
	g.record("remove " + productID)
	if err := g.wait(ctx); err != nil {
		return cart.Snapshot{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failRemove != nil {
		return cart.Snapshot{}, g.failRemove
	}
	g.server = cart.RemoveLine(g.server, productID)
	return cart.ToSnapshot(g.server), nil
}

func product(id string, price int64) cart.Product {
	return cart.Product{ID: id, Name: "Product " + id, Price: decimal.NewFromInt(price)}
}

func newTestEngine(t *testing.T, gw gateway.Gateway, opts ...func(*Params)) (*Engine, *debounce.ManualClock) {
	t.Helper()
	clock := debounce.NewManualClock()
	params := Params{
		Gateway:          gw,
		Clock:            clock,
		DebounceInterval: 500 * time.Millisecond,
		RemoteTimeout:    5 * time.Second,
		SessionID:        "session-1",
	}
	for _, opt := range opts {
		opt(&params)
	}
	engine, err := New(params)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Close(ctx)
	})
	return engine, clock
}

func settle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Wait(ctx))
}

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func requireSameLines(t *testing.T, want, got cart.State) {
	t.Helper()
	if diff := cmp.Diff(want.Lines(), got.Lines(), decimalEqual); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
	require.True(t, want.TotalAmount().Equal(got.TotalAmount()), "total %s != %s", got.TotalAmount(), want.TotalAmount())
	require.Equal(t, want.ItemCount(), got.ItemCount())
}

func requireTotalsInvariant(t *testing.T, s cart.State) {
	t.Helper()
	total := decimal.Zero
	count := 0
	seen := map[string]bool{}
	for _, line := range s.Lines() {
		require.False(t, seen[line.ProductID], "duplicate line for %s", line.ProductID)
		seen[line.ProductID] = true
		require.GreaterOrEqual(t, line.Quantity, 1)
		total = total.Add(line.Subtotal())
		count += line.Quantity
	}
	require.True(t, total.Equal(s.TotalAmount()), "total %s != %s", s.TotalAmount(), total)
	require.Equal(t, count, s.ItemCount())
}
