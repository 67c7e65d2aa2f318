// Package pending tracks quantity changes that have been applied locally but
// not yet confirmed by the remote cart store.
//
// Entries are hints for UI queries. They are never used to derive totals and
// are never persisted.
package pending

import (
	"sync"

	"github.com/angelmondragon/cartsync/internal/cart"
)

// Tracker maps product ids to an in-flight quantity delta.
type Tracker struct {
	mu     sync.RWMutex
	deltas map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{deltas: make(map[string]int)}
}

// Record adds delta to the entry for productID, creating it if needed.
// Overlapping records accumulate.
func (t *Tracker) Record(productID string, delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deltas[productID] += delta
}

// Clear drops the entry for productID. Called when the owning remote call
// settles, whatever its outcome.
func (t *Tracker) Clear(productID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.deltas, productID)
}

// Delta returns the pending delta for productID, or 0.
func (t *Tracker) Delta(productID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.deltas[productID]
}

// Snapshot returns a copy of all entries.
func (t *Tracker) Snapshot() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.deltas))
	for k, v := range t.deltas {
		out[k] = v
	}
	return out
}

// EffectiveQuantity is the confirmed quantity plus whatever is still in flight.
func (t *Tracker) EffectiveQuantity(confirmed cart.State, productID string) int {
	return confirmed.Quantity(productID) + t.Delta(productID)
}
