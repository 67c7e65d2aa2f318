// Package cartsync keeps a speculative cart view in step with the authoritative
// remote cart. Mutations are applied locally first, sent to the remote store,
// and settled by either accepting the store's cart or refetching it.
package cartsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/debounce"
	"github.com/angelmondragon/cartsync/internal/gateway"
	"github.com/angelmondragon/cartsync/internal/notify"
	"github.com/angelmondragon/cartsync/internal/pending"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultDebounceInterval = 500 * time.Millisecond
	DefaultRemoteTimeout    = 10 * time.Second

	opAdd         = "add_item"
	opSetQuantity = "set_quantity"
	opRemove      = "remove_item"
	opFetch       = "fetch_cart"

	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeEmpty   = "empty"

	reconcileKey = "reconcile"
)

// ErrClosed is returned by mutations issued after Close.
var ErrClosed = pkgerrors.New(pkgerrors.CodeConflict, "cart session is closed")

// Params wires an Engine.
type Params struct {
	Gateway             gateway.Gateway
	Logger              *logger.Logger
	Metrics             *metrics.SyncMetrics
	Clock               debounce.Clock
	DebounceInterval    time.Duration
	RemoteTimeout       time.Duration
	RefetchAfterSuccess bool
	MessageCapacity     int
	SessionID           string
}

// Engine owns one session's cart. All state changes go through its entry points.
type Engine struct {
	gw        gateway.Gateway
	logg      *logger.Logger
	metrics   *metrics.SyncMetrics
	debouncer *debounce.Scheduler
	pending   *pending.Tracker
	messages  *notify.Queue
	interval  time.Duration
	timeout   time.Duration
	refetch   bool
	sessionID string

	mu          sync.RWMutex
	confirmed   cart.State
	view        cart.State
	active      int
	scheduleSeq uint64
	scheduled   map[string]uint64
	subscribers map[int]chan cart.State
	nextSub     int
	closed      bool

	// inflight counts dispatched calls; idle is closed when it drops to zero.
	inflight int
	idle     chan struct{}
	// epoch advances each time a mutation's own snapshot is accepted. A fetch
	// that started under an older epoch is discarded.
	epoch uint64

	loadOnce  sync.Once
	loaded    chan struct{}
	reconcile singleflight.Group
}

// call is one remote mutation waiting to be dispatched.
type call struct {
	op        string
	productID string
	okText    string
	failText  string
	do        func(ctx context.Context) (cart.Snapshot, error)
}

func New(p Params) (*Engine, error) {
	if p.Gateway == nil {
		return nil, errors.New("cart gateway is required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.DebounceInterval <= 0 {
		p.DebounceInterval = DefaultDebounceInterval
	}
	if p.RemoteTimeout <= 0 {
		p.RemoteTimeout = DefaultRemoteTimeout
	}

	return &Engine{
		gw:          p.Gateway,
		logg:        p.Logger,
		metrics:     p.Metrics,
		debouncer:   debounce.NewScheduler(debounce.WithClock(p.Clock)),
		pending:     pending.NewTracker(),
		messages:    notify.NewQueue(p.MessageCapacity),
		interval:    p.DebounceInterval,
		timeout:     p.RemoteTimeout,
		refetch:     p.RefetchAfterSuccess,
		sessionID:   p.SessionID,
		confirmed:   cart.Empty(),
		view:        cart.Empty(),
		scheduled:   make(map[string]uint64),
		subscribers: make(map[int]chan cart.State),
		loaded:      make(chan struct{}),
	}, nil
}

func (e *Engine) SessionID() string { return e.sessionID }

// AddItem puts quantity units of product in the view right away and sends the
// add to the remote store without debouncing.
func (e *Engine) AddItem(ctx context.Context, product cart.Product, quantity int) error {
	if strings.TrimSpace(product.ID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if quantity < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.view = cart.UpsertLine(e.view, product, quantity)
	e.pending.Record(product.ID, quantity)
	e.beginLocked()
	e.mu.Unlock()

	name := displayName(product.Name, product.ID)
	e.notify(fmt.Sprintf("Adding %s...", name), false)

	productID := product.ID
	go e.run(context.WithoutCancel(ctx), call{
		op:        opAdd,
		productID: productID,
		okText:    fmt.Sprintf("Added %s to your cart", name),
		failText:  fmt.Sprintf("Could not add %s", name),
		do: func(ctx context.Context) (cart.Snapshot, error) {
			return e.gw.AddItem(ctx, productID, quantity)
		},
	})
	return nil
}

// SetQuantity replaces the quantity of productID in the view and arms a
// debounced remote update. Only the last value before the quiet interval
// elapses is sent. A quantity of zero or less removes the line immediately.
func (e *Engine) SetQuantity(ctx context.Context, productID string, quantity int) error {
	if strings.TrimSpace(productID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if quantity <= 0 {
		return e.RemoveItem(ctx, productID)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	name := e.lineNameLocked(productID)
	current := e.pending.EffectiveQuantity(e.confirmed, productID)
	e.view = cart.SetQuantity(e.view, productID, quantity)
	if delta := quantity - current; delta != 0 {
		e.pending.Record(productID, delta)
	}

	e.scheduleSeq++
	gen := e.scheduleSeq
	e.scheduled[productID] = gen
	detached := context.WithoutCancel(ctx)
	replaced := e.debouncer.Schedule(productID, e.interval, func() {
		e.fireQuantity(detached, gen, call{
			op:        opSetQuantity,
			productID: productID,
			okText:    fmt.Sprintf("Updated %s to %d", name, quantity),
			failText:  fmt.Sprintf("Could not update %s", name),
			do: func(ctx context.Context) (cart.Snapshot, error) {
				return e.gw.SetQuantity(ctx, productID, quantity)
			},
		})
	})
	e.view = e.view.WithLoading(e.busyLocked())
	e.publishLocked()
	e.mu.Unlock()

	if replaced {
		e.metrics.IncCoalesced()
		e.logg.Debug(e.logg.WithProductID(ctx, productID), "superseded pending quantity update")
	}
	return nil
}

// fireQuantity dispatches a debounced update unless it was superseded or the
// line was removed after the timer fired.
func (e *Engine) fireQuantity(ctx context.Context, gen uint64, c call) {
	e.mu.Lock()
	if e.scheduled[c.productID] != gen {
		e.mu.Unlock()
		return
	}
	delete(e.scheduled, c.productID)
	e.beginLocked()
	e.mu.Unlock()

	go e.run(ctx, c)
}

// RemoveItem cancels any armed quantity update for productID, drops the line
// from the view and sends the removal immediately.
func (e *Engine) RemoveItem(ctx context.Context, productID string) error {
	if strings.TrimSpace(productID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	delete(e.scheduled, productID)
	cancelled := e.debouncer.Cancel(productID)
	name := e.lineNameLocked(productID)
	if current := e.pending.EffectiveQuantity(e.confirmed, productID); current != 0 {
		e.pending.Record(productID, -current)
	}
	e.view = cart.RemoveLine(e.view, productID)
	e.beginLocked()
	e.mu.Unlock()

	if cancelled {
		e.logg.Debug(e.logg.WithProductID(ctx, productID), "cancelled pending quantity update")
	}
	e.notify(fmt.Sprintf("Removing %s...", name), false)

	go e.run(context.WithoutCancel(ctx), call{
		op:        opRemove,
		productID: productID,
		okText:    fmt.Sprintf("Removed %s", name),
		failText:  fmt.Sprintf("Could not remove %s", name),
		do: func(ctx context.Context) (cart.Snapshot, error) {
			return e.gw.RemoveItem(ctx, productID)
		},
	})
	return nil
}

// Load fetches the authoritative cart the first time it is called and waits
// for that fetch to finish. Later calls wait on the same first fetch. A failed
// load is reported through the cart error, not returned.
func (e *Engine) Load(ctx context.Context) error {
	e.loadOnce.Do(func() {
		e.mu.Lock()
		e.trackLocked()
		e.view = e.view.WithLoading(true)
		e.publishLocked()
		e.mu.Unlock()

		detached := context.WithoutCancel(ctx)
		go func() {
			defer e.untrack()
			defer close(e.loaded)
			if err := e.reconcileNow(detached); err != nil {
				e.logg.Warn(e.logg.WithSessionID(detached, e.sessionID), "initial cart load failed")
			}
		}()
	})

	select {
	case <-e.loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconcile replaces the cart with a fresh fetch from the remote store.
// Concurrent reconciliations share one fetch. The fetch keeps running if ctx
// is cancelled; only the wait is abandoned.
func (e *Engine) Reconcile(ctx context.Context) error {
	e.mu.Lock()
	e.view = e.view.WithLoading(true)
	e.publishLocked()
	e.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := e.reconcile.DoChan(reconcileKey, func() (any, error) {
		return nil, e.fetchAndReplace(detached)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) reconcileNow(ctx context.Context) error {
	_, err, _ := e.reconcile.Do(reconcileKey, func() (any, error) {
		return nil, e.fetchAndReplace(ctx)
	})
	return err
}

func (e *Engine) fetchAndReplace(ctx context.Context) error {
	ctx = e.logg.WithOperation(ctx, opFetch)
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.mu.RLock()
	startEpoch := e.epoch
	e.mu.RUnlock()

	start := time.Now()
	snap, err := e.gw.FetchCart(callCtx)
	e.metrics.ObserveRemoteCall(opFetch, time.Since(start))

	state := cart.Empty()
	outcome := outcomeSuccess
	switch {
	case err == nil:
		state = cart.FromSnapshot(snap)
		if !cart.TotalsMatch(snap) {
			e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
				"reported_total": snap.TotalAmount.String(),
				"derived_total":  state.TotalAmount().String(),
			}), "remote cart total disagrees with its lines")
		}
	case errors.Is(err, gateway.ErrNoCart):
		outcome = outcomeEmpty
	default:
		e.metrics.IncReconciliation(outcomeFailure)
		e.mu.Lock()
		e.view = e.confirmed.WithError("Could not refresh your cart: " + gateway.Describe(err)).WithLoading(e.busyLocked())
		e.publishLocked()
		e.mu.Unlock()
		return err
	}
	e.metrics.IncReconciliation(outcome)

	e.mu.Lock()
	if e.epoch != startEpoch {
		e.view = e.view.WithLoading(e.busyLocked())
		e.publishLocked()
		e.mu.Unlock()
		e.logg.Debug(ctx, "discarding cart fetched before a newer mutation settled")
		return nil
	}
	drift := cart.Diff(e.view, state)
	e.acceptLocked(state)
	e.mu.Unlock()

	if len(drift) > 0 {
		e.logg.Info(e.logg.WithField(ctx, "drift", drift), "reconciliation replaced local speculation")
	}
	return nil
}

func (e *Engine) run(ctx context.Context, c call) {
	defer e.untrack()

	ctx = e.logg.WithOperation(e.logg.WithProductID(ctx, c.productID), c.op)
	e.logg.Debug(ctx, "dispatching remote cart call")

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	start := time.Now()
	snap, err := c.do(callCtx)
	cancel()
	e.metrics.ObserveRemoteCall(c.op, time.Since(start))

	if err != nil {
		e.fail(ctx, c, err)
		return
	}
	e.succeed(ctx, c, snap)
}

func (e *Engine) succeed(ctx context.Context, c call, snap cart.Snapshot) {
	e.metrics.IncMutation(c.op, outcomeSuccess)

	e.mu.Lock()
	e.pending.Clear(c.productID)
	e.active--
	e.epoch++
	e.acceptLocked(cart.FromSnapshot(snap))
	e.mu.Unlock()

	if e.refetch {
		// A fetch already in flight may have read the store before this call
		// committed, so start a fresh one instead of joining it.
		e.reconcile.Forget(reconcileKey)
		if err := e.reconcileNow(ctx); err != nil {
			e.logg.Warn(ctx, "refetch after successful call failed")
		}
	}

	e.logg.Info(ctx, "remote cart call succeeded")
	e.notify(c.okText, false)
}

func (e *Engine) fail(ctx context.Context, c call, err error) {
	e.metrics.IncMutation(c.op, outcomeFailure)
	e.logg.Error(e.logg.WithField(ctx, "failure_kind", gateway.Classify(err).String()), "remote cart call failed", err)

	e.mu.Lock()
	e.pending.Clear(c.productID)
	e.active--
	e.mu.Unlock()

	if rerr := e.reconcileNow(ctx); rerr != nil {
		e.logg.Error(ctx, "reconciliation after failed call failed", multierr.Combine(err, rerr))
	}
	e.notify(fmt.Sprintf("%s: %s", c.failText, gateway.Describe(err)), true)
}

// beginLocked accounts for a call about to be dispatched.
func (e *Engine) beginLocked() {
	e.active++
	e.trackLocked()
	e.view = e.view.WithLoading(true)
	e.publishLocked()
}

func (e *Engine) trackLocked() {
	if e.inflight == 0 {
		e.idle = make(chan struct{})
	}
	e.inflight++
}

func (e *Engine) untrack() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight--
	if e.inflight == 0 {
		close(e.idle)
	}
}

// acceptLocked makes state the authoritative cart and the view.
func (e *Engine) acceptLocked(state cart.State) {
	e.confirmed = state
	e.view = state.WithLoading(e.busyLocked())
	e.publishLocked()
}

func (e *Engine) busyLocked() bool {
	return e.active > 0 || len(e.scheduled) > 0
}

func (e *Engine) lineNameLocked(productID string) string {
	if line, ok := e.view.Line(productID); ok {
		return displayName(line.Name, productID)
	}
	return productID
}

func (e *Engine) publishLocked() {
	for _, ch := range e.subscribers {
		select {
		case ch <- e.view:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e.view:
			default:
			}
		}
	}
}

func (e *Engine) notify(text string, isError bool) {
	e.messages.Enqueue(text, isError)
	e.metrics.IncMessage(isError)
}

// State returns the speculative cart the UI should render.
func (e *Engine) State() cart.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view
}

// Confirmed returns the last cart reported by the remote store.
func (e *Engine) Confirmed() cart.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.confirmed
}

// EffectiveQuantity is the confirmed quantity plus any unsettled delta.
func (e *Engine) EffectiveQuantity(productID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pending.EffectiveQuantity(e.confirmed, productID)
}

// PendingDeltas returns the unsettled quantity deltas by product.
func (e *Engine) PendingDeltas() map[string]int {
	return e.pending.Snapshot()
}

func (e *Engine) Messages() []notify.Message {
	return e.messages.Pending()
}

func (e *Engine) Acknowledge(id string) bool {
	return e.messages.Acknowledge(id)
}

// Subscribe returns a channel that always holds the most recent view. Slow
// readers skip intermediate states. The returned func unsubscribes.
func (e *Engine) Subscribe() (<-chan cart.State, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan cart.State, 1)
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	ch <- e.view
	e.subscribers[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(sub)
		}
	}
}

// Wait blocks until every call dispatched so far has settled or ctx is done.
// Calls dispatched while waiting extend the wait.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	if e.inflight == 0 {
		e.mu.Unlock()
		return nil
	}
	idle := e.idle
	e.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further mutations, sends any armed quantity updates now and
// waits for in-flight calls to settle.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	alreadyClosed := e.closed
	e.closed = true
	e.mu.Unlock()

	if !alreadyClosed {
		if ctx.Err() != nil {
			e.dropArmed(ctx)
		} else {
			e.debouncer.Flush()
		}
	}
	err := e.Wait(ctx)

	e.mu.Lock()
	for id, ch := range e.subscribers {
		delete(e.subscribers, id)
		close(ch)
	}
	e.mu.Unlock()
	return err
}

// dropArmed discards armed quantity updates when there is no time left to send them.
func (e *Engine) dropArmed(ctx context.Context) {
	dropped := e.debouncer.Stop()
	e.mu.Lock()
	clear(e.scheduled)
	e.view = e.view.WithLoading(e.busyLocked())
	e.publishLocked()
	e.mu.Unlock()
	if dropped > 0 {
		e.logg.Warn(e.logg.WithField(ctx, "dropped", dropped), "closed before armed quantity updates could be sent")
	}
}

func displayName(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
