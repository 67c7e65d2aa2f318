// Package debounce coalesces rapid repeated actions under the same key into a
// single call once a quiet interval has elapsed.
package debounce

import (
	"sync"
	"time"
)

// Scheduler holds at most one armed action per key. Arming a key that is
// already armed cancels the previous action.
type Scheduler struct {
	clock Clock

	mu    sync.Mutex
	seq   uint64
	armed map[string]*slot
}

type slot struct {
	id     uint64
	timer  Timer
	action func()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the clock used to arm timers.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock: RealClock(),
		armed: make(map[string]*slot),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Schedule arms action to run after delay unless superseded or cancelled.
// It reports whether an armed action for key was replaced.
func (s *Scheduler) Schedule(key string, delay time.Duration, action func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := s.disarmLocked(key)
	s.seq++
	id := s.seq
	entry := &slot{id: id, action: action}
	entry.timer = s.clock.AfterFunc(delay, func() { s.fire(key, id) })
	s.armed[key] = entry
	return replaced
}

// Cancel disarms key. It reports whether an action was armed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disarmLocked(key)
}

// Flush runs every armed action now, in no particular order.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	actions := make([]func(), 0, len(s.armed))
	for key, entry := range s.armed {
		entry.timer.Stop()
		actions = append(actions, entry.action)
		delete(s.armed, key)
	}
	s.mu.Unlock()

	for _, action := range actions {
		action()
	}
}

// Stop cancels every armed action and reports how many were dropped.
func (s *Scheduler) Stop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for key := range s.armed {
		if s.disarmLocked(key) {
			dropped++
		}
	}
	return dropped
}

func (s *Scheduler) disarmLocked(key string) bool {
	entry, ok := s.armed[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.armed, key)
	return true
}

// fire runs the action for key only if the timer that fired is still the armed one.
func (s *Scheduler) fire(key string, id uint64) {
	s.mu.Lock()
	entry, ok := s.armed[key]
	if !ok || entry.id != id {
		s.mu.Unlock()
		return
	}
	delete(s.armed, key)
	s.mu.Unlock()

	entry.action()
}
