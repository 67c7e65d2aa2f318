package cartsync

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/gateway"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresGateway(t *testing.T) {
	_, err := New(Params{})
	require.Error(t, err)
}

func TestAddItemOptimisticThenAccepted(t *testing.T) {
	p1 := product("p1", 100)
	gw := newFakeGateway(p1)
	gw.hold()
	e, _ := newTestEngine(t, gw)

	require.NoError(t, e.AddItem(context.Background(), p1, 2))

	speculative := e.State()
	assert.Equal(t, 2, speculative.ItemCount())
	assert.True(t, decimal.NewFromInt(200).Equal(speculative.TotalAmount()))
	assert.True(t, speculative.IsLoading())
	assert.Equal(t, map[string]int{"p1": 2}, e.PendingDeltas())
	assert.Equal(t, 2, e.EffectiveQuantity("p1"))
	assert.True(t, e.Confirmed().IsEmpty())

	gw.release()
	settle(t, e)

	final := e.State()
	requireSameLines(t, speculative, final)
	assert.False(t, final.IsLoading())
	assert.Empty(t, e.PendingDeltas())
	assert.Equal(t, 2, e.Confirmed().Quantity("p1"))
	assert.Equal(t, []string{"add p1 2"}, gw.Calls())

	msgs := e.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Adding Product p1...", msgs[0].Text)
	assert.Equal(t, "Added Product p1 to your cart", msgs[1].Text)
	assert.False(t, msgs[1].IsError)
}

func TestAddItemValidation(t *testing.T) {
	e, _ := newTestEngine(t, newFakeGateway())

	err := e.AddItem(context.Background(), product("p1", 1), 0)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	err = e.AddItem(context.Background(), cart.Product{}, 1)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestSetQuantityDebounceCoalesces(t *testing.T) {
	p := product("p", 10)
	gw := newFakeGateway()
	gw.seed(p, 1)
	e, clock := newTestEngine(t, gw)
	require.NoError(t, e.Reconcile(context.Background()))

	ctx := context.Background()
	for _, qty := range []int{2, 5, 3} {
		require.NoError(t, e.SetQuantity(ctx, "p", qty))
		assert.Equal(t, qty, e.State().Quantity("p"))
		assert.Equal(t, qty, e.EffectiveQuantity("p"))
		clock.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, []string{"fetch"}, gw.Calls(), "nothing is sent before the quiet interval")
	assert.True(t, e.State().IsLoading())

	clock.Advance(500 * time.Millisecond)
	settle(t, e)

	assert.Equal(t, []string{"fetch", "set p 3"}, gw.Calls())
	assert.Equal(t, 3, e.State().Quantity("p"))
	assert.Empty(t, e.PendingDeltas())
	assert.False(t, e.State().IsLoading())
	requireTotalsInvariant(t, e.State())
}

func TestRemoveCancelsArmedQuantityUpdate(t *testing.T) {
	p := product("p", 10)
	gw := newFakeGateway()
	gw.seed(p, 1)
	e, clock := newTestEngine(t, gw)
	require.NoError(t, e.Reconcile(context.Background()))

	ctx := context.Background()
	require.NoError(t, e.SetQuantity(ctx, "p", 5))
	require.NoError(t, e.RemoveItem(ctx, "p"))
	assert.Equal(t, 0, e.EffectiveQuantity("p"))

	clock.Advance(time.Second)
	settle(t, e)

	for _, call := range gw.Calls() {
		assert.False(t, strings.HasPrefix(call, "set "), "unexpected call %q", call)
	}
	assert.Contains(t, gw.Calls(), "remove p")
	assert.True(t, e.State().IsEmpty())
	assert.Zero(t, clock.Pending())
}

func TestSetQuantityZeroRemovesImmediately(t *testing.T) {
	p1 := product("p1", 50)
	gw := newFakeGateway()
	gw.seed(p1, 3)
	e, clock := newTestEngine(t, gw)
	require.NoError(t, e.Reconcile(context.Background()))
	require.Equal(t, 3, e.State().ItemCount())

	gw.hold()
	require.NoError(t, e.SetQuantity(context.Background(), "p1", 0))

	state := e.State()
	assert.True(t, state.IsEmpty())
	assert.Equal(t, 0, state.ItemCount())
	assert.True(t, state.TotalAmount().IsZero())
	assert.Zero(t, clock.Pending(), "no debounce timer may be armed")

	gw.release()
	settle(t, e)
	assert.Equal(t, []string{"fetch", "remove p1"}, gw.Calls())
	assert.True(t, e.Confirmed().IsEmpty())
}

func TestAddFailureReconciles(t *testing.T) {
	p1 := product("p1", 100)
	p2 := product("p2", 5)
	gw := newFakeGateway(p1)
	gw.seed(p2, 1)
	gw.failAdd = gateway.Rejected(http.StatusConflict, "out of stock")
	e, _ := newTestEngine(t, gw)

	require.NoError(t, e.AddItem(context.Background(), p1, 2))
	requireTotalsInvariant(t, e.State())
	settle(t, e)

	requireSameLines(t, gw.Server(), e.State())
	assert.Equal(t, 0, e.State().Quantity("p1"), "optimistic line must not survive a failed add")
	assert.Equal(t, []string{"add p1 2", "fetch"}, gw.Calls())
	assert.Empty(t, e.PendingDeltas())
	requireTotalsInvariant(t, e.State())

	msgs := e.Messages()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.True(t, last.IsError)
	assert.Contains(t, last.Text, "Could not add Product p1")
	assert.Contains(t, last.Text, "out of stock")
}

func TestFailureWithUnreachableFetchFallsBackToConfirmed(t *testing.T) {
	p1 := product("p1", 100)
	gw := newFakeGateway(p1)
	gw.failAdd = gateway.Network(errors.New("connection refused"))
	gw.failFetch = gateway.Network(errors.New("connection refused"))
	e, _ := newTestEngine(t, gw)

	require.NoError(t, e.AddItem(context.Background(), p1, 1))
	assert.Equal(t, 1, e.State().Quantity("p1"))
	settle(t, e)

	state := e.State()
	assert.Equal(t, 0, state.Quantity("p1"), "failed add must not stay in the cart")
	assert.Contains(t, state.Error(), "could not be reached")
	assert.False(t, state.IsLoading())
	requireSameLines(t, e.Confirmed(), state)
	requireTotalsInvariant(t, state)
	assert.Empty(t, e.PendingDeltas())
}

func TestRemoveFailureReconciles(t *testing.T) {
	p := product("p", 12)
	gw := newFakeGateway()
	gw.seed(p, 2)
	gw.failRemove = gateway.Rejected(http.StatusConflict, "cart is locked")
	e, _ := newTestEngine(t, gw)
	require.NoError(t, e.Reconcile(context.Background()))

	require.NoError(t, e.RemoveItem(context.Background(), "p"))
	assert.Equal(t, 0, e.State().Quantity("p"))
	settle(t, e)

	assert.Equal(t, []string{"fetch", "remove p", "fetch"}, gw.Calls())
	assert.Equal(t, 2, e.State().Quantity("p"), "line comes back after a refused remove")
	assert.Equal(t, 2, e.EffectiveQuantity("p"))
	requireSameLines(t, gw.Server(), e.State())
	requireTotalsInvariant(t, e.State())

	msgs := e.Messages()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.True(t, last.IsError)
	assert.Contains(t, last.Text, "Could not remove")
	assert.Contains(t, last.Text, "cart is locked")
}

func TestSetQuantityFailureReconciles(t *testing.T) {
	p := product("p", 20)
	gw := newFakeGateway()
	gw.seed(p, 2)
	gw.failSet = gateway.Rejected(http.StatusConflict, "only 2 left")
	e, clock := newTestEngine(t, gw)
	require.NoError(t, e.Reconcile(context.Background()))

	require.NoError(t, e.SetQuantity(context.Background(), "p", 9))
	assert.Equal(t, 9, e.State().Quantity("p"))

	clock.Advance(time.Second)
	settle(t, e)

	assert.Equal(t, 2, e.State().Quantity("p"))
	assert.Equal(t, []string{"fetch", "set p 9", "fetch"}, gw.Calls())
	requireTotalsInvariant(t, e.State())
}

func TestAdditivePendingTracking(t *testing.T) {
	p := product("p", 10)
	gw := newFakeGateway()
	gw.seed(p, 1)
	e, _ := newTestEngine(t, gw)
	require.NoError(t, e.Reconcile(context.Background()))

	gw.hold()
	ctx := context.Background()
	require.NoError(t, e.AddItem(ctx, p, 1))
	require.NoError(t, e.AddItem(ctx, p, 1))

	assert.Equal(t, 1, e.Confirmed().Quantity("p"))
	assert.Equal(t, 3, e.EffectiveQuantity("p"))
	assert.Equal(t, 3, e.State().Quantity("p"))

	gw.release()
	settle(t, e)

	assert.Empty(t, e.PendingDeltas())
	assert.Equal(t, e.Confirmed().Quantity("p"), e.EffectiveQuantity("p"))
	assert.Equal(t, 3, gw.Server().Quantity("p"))
}

func TestReconcileWithoutCartIsEmpty(t *testing.T) {
	e, _ := newTestEngine(t, newFakeGateway())

	require.NoError(t, e.Reconcile(context.Background()))
	state := e.State()
	assert.True(t, state.IsEmpty())
	assert.False(t, state.IsLoading())
	assert.Empty(t, state.Error())
}

func TestReconcileFailureSetsError(t *testing.T) {
	gw := newFakeGateway()
	gw.failFetch = gateway.Network(errors.New("timeout"))
	e, _ := newTestEngine(t, gw)

	err := e.Reconcile(context.Background())
	require.Error(t, err)
	assert.Equal(t, gateway.KindNetwork, gateway.Classify(err))
	assert.Contains(t, e.State().Error(), "could not be reached")
	assert.False(t, e.State().IsLoading())

	gw.mu.Lock()
	gw.failFetch = nil
	gw.mu.Unlock()
	require.NoError(t, e.Reconcile(context.Background()))
	assert.Empty(t, e.State().Error(), "a successful reconcile clears the error")
}

func TestRefetchAfterSuccess(t *testing.T) {
	p1 := product("p1", 100)
	gw := newFakeGateway(p1)
	e, _ := newTestEngine(t, gw, func(p *Params) { p.RefetchAfterSuccess = true })

	require.NoError(t, e.AddItem(context.Background(), p1, 1))
	settle(t, e)

	assert.Equal(t, []string{"add p1 1", "fetch"}, gw.Calls())
	assert.Equal(t, 1, e.State().Quantity("p1"))
}

func TestCloseFlushesArmedEdits(t *testing.T) {
	p := product("p", 10)
	gw := newFakeGateway()
	gw.seed(p, 1)
	e, clock := newTestEngine(t, gw)
	require.NoError(t, e.Reconcile(context.Background()))

	require.NoError(t, e.SetQuantity(context.Background(), "p", 4))
	require.NoError(t, e.Close(context.Background()))

	assert.Equal(t, []string{"fetch", "set p 4"}, gw.Calls())
	assert.Zero(t, clock.Pending())
	assert.Equal(t, 4, gw.Server().Quantity("p"))

	err := e.AddItem(context.Background(), p, 1)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestRefetchAfterSuccessIgnoresEarlierFetch(t *testing.T) {
	p1 := product("p1", 100)
	gw := newFakeGateway(p1)
	e, _ := newTestEngine(t, gw, func(p *Params) { p.RefetchAfterSuccess = true })

	gw.holdFetches()
	reconciled := make(chan error, 1)
	go func() { reconciled <- e.Reconcile(context.Background()) }()
	require.Eventually(t, func() bool { return len(gw.Calls()) == 1 }, 5*time.Second, time.Millisecond)

	require.NoError(t, e.AddItem(context.Background(), p1, 2))
	require.Eventually(t, func() bool { return len(gw.Calls()) == 3 }, 5*time.Second, time.Millisecond,
		"the refetch must not join the fetch that started before the add")
	assert.Equal(t, []string{"fetch", "add p1 2", "fetch"}, gw.Calls())

	gw.releaseFetches()
	settle(t, e)
	require.NoError(t, <-reconciled)

	assert.Equal(t, 2, e.State().Quantity("p1"))
	assert.Equal(t, 2, e.Confirmed().Quantity("p1"))
	assert.False(t, e.State().IsLoading())
	requireTotalsInvariant(t, e.State())
}

func TestCloseWithExpiredContextDropsArmedEdits(t *testing.T) {
	p := product("p", 10)
	gw := newFakeGateway()
	gw.seed(p, 1)
	e, clock := newTestEngine(t, gw)
	require.NoError(t, e.Reconcile(context.Background()))

	require.NoError(t, e.SetQuantity(context.Background(), "p", 4))
	assert.True(t, e.State().IsLoading())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Close(ctx))

	assert.Equal(t, []string{"fetch"}, gw.Calls())
	assert.Zero(t, clock.Pending())
	assert.False(t, e.State().IsLoading())
	assert.Equal(t, 1, gw.Server().Quantity("p"))
}

func TestWaitCoversCallsDispatchedWhileWaiting(t *testing.T) {
	a := product("a", 1)
	b := product("b", 2)
	gw := newFakeGateway(a, b)
	e, _ := newTestEngine(t, gw)

	gw.hold()
	ctx := context.Background()
	require.NoError(t, e.AddItem(ctx, a, 1))

	waited := make(chan error, 1)
	go func() { waited <- e.Wait(ctx) }()

	require.NoError(t, e.AddItem(ctx, b, 1))
	select {
	case err := <-waited:
		t.Fatalf("wait returned with calls held: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	gw.release()
	select {
	case err := <-waited:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return after calls settled")
	}
	settle(t, e)
	assert.Equal(t, 1, gw.Server().Quantity("a"))
	assert.Equal(t, 1, gw.Server().Quantity("b"))
	assert.Empty(t, e.PendingDeltas())

	timeout, cancel := context.WithCancel(ctx)
	gw.hold()
	require.NoError(t, e.AddItem(ctx, a, 1))
	cancel()
	assert.ErrorIs(t, e.Wait(timeout), context.Canceled)
	gw.release()
	settle(t, e)
}

func TestAcknowledgeMessages(t *testing.T) {
	p1 := product("p1", 1)
	e, _ := newTestEngine(t, newFakeGateway(p1))

	require.NoError(t, e.AddItem(context.Background(), p1, 1))
	settle(t, e)

	msgs := e.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, e.Acknowledge(msgs[0].ID))
	assert.False(t, e.Acknowledge(msgs[0].ID))

	remaining := e.Messages()
	require.Len(t, remaining, 1)
	assert.Equal(t, msgs[1].ID, remaining[0].ID)
}

func TestSubscribeSeesLatestState(t *testing.T) {
	p1 := product("p1", 7)
	gw := newFakeGateway(p1)
	e, _ := newTestEngine(t, gw)

	updates, unsubscribe := e.Subscribe()
	initial := <-updates
	assert.True(t, initial.IsEmpty())

	require.NoError(t, e.AddItem(context.Background(), p1, 3))
	settle(t, e)

	latest := <-updates
	assert.Equal(t, 3, latest.Quantity("p1"))

	unsubscribe()
	_, open := <-updates
	assert.False(t, open)
}

func TestConcurrentKeysDoNotInterfere(t *testing.T) {
	a := product("a", 2)
	b := product("b", 3)
	gw := newFakeGateway(a)
	gw.seed(b, 1)
	e, clock := newTestEngine(t, gw)
	require.NoError(t, e.Reconcile(context.Background()))

	ctx := context.Background()
	require.NoError(t, e.SetQuantity(ctx, "b", 4))
	require.NoError(t, e.AddItem(ctx, a, 1))
	settle(t, e)

	clock.Advance(time.Second)
	settle(t, e)

	assert.Contains(t, gw.Calls(), "add a 1")
	assert.Contains(t, gw.Calls(), "set b 4")
	assert.Equal(t, 1, e.State().Quantity("a"))
	assert.Equal(t, 4, e.State().Quantity("b"))
	requireTotalsInvariant(t, e.State())
}
