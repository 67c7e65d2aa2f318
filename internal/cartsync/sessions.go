package cartsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/cartsync/internal/gateway"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/multierr"
)

const (
	DefaultMaxSessions = 1000
	evictCloseTimeout  = 30 * time.Second
)

// Sessions keeps one Engine per shopping session. The least recently used
// session is closed once MaxSessions is exceeded.
type Sessions struct {
	factory  gateway.Factory
	template Params
	logg     *logger.Logger

	mu      sync.Mutex
	cache   *lru.Cache
	closing sync.WaitGroup
	errMu   sync.Mutex
	errs    error
	closed  bool
}

func NewSessions(factory gateway.Factory, template Params, maxSessions int) (*Sessions, error) {
	if factory == nil {
		return nil, errors.New("gateway factory is required")
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if template.Logger == nil {
		template.Logger = logger.Nop()
	}

	s := &Sessions{factory: factory, template: template, logg: template.Logger}
	cache, err := lru.NewWithEvict(maxSessions, s.onEvict)
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

// Get returns the engine for sessionID, creating it on first use. A new
// engine loads the authoritative cart before it is returned.
func (s *Sessions) Get(ctx context.Context, sessionID string) (*Engine, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}

	engine, err := s.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := engine.Load(ctx); err != nil {
		return nil, err
	}
	return engine, nil
}

func (s *Sessions) lookup(ctx context.Context, sessionID string) (*Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if value, ok := s.cache.Get(sessionID); ok {
		return value.(*Engine), nil
	}

	params := s.template
	params.Gateway = s.factory.ForSession(sessionID)
	params.SessionID = sessionID
	engine, err := New(params)
	if err != nil {
		return nil, err
	}
	s.cache.Add(sessionID, engine)
	s.template.Metrics.SetSessions(s.Len())
	s.logg.Debug(s.logg.WithSessionID(ctx, sessionID), "session engine created")
	return engine, nil
}

func (s *Sessions) Len() int {
	return s.cache.Len()
}

// onEvict runs under the cache lock, so it only hands the engine off.
func (s *Sessions) onEvict(key, value interface{}) {
	engine, ok := value.(*Engine)
	if !ok {
		return
	}
	s.closing.Add(1)
	go func() {
		defer s.closing.Done()
		ctx, cancel := context.WithTimeout(context.Background(), evictCloseTimeout)
		defer cancel()
		ctx = s.logg.WithSessionID(ctx, engine.SessionID())
		if err := engine.Close(ctx); err != nil {
			s.logg.Error(ctx, "closing evicted session", err)
			s.errMu.Lock()
			s.errs = multierr.Append(s.errs, err)
			s.errMu.Unlock()
			return
		}
		s.logg.Debug(ctx, "session engine closed")
	}()
}

// Close closes every engine, flushing their armed edits, and waits for them.
func (s *Sessions) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.cache.Purge()
	s.mu.Unlock()
	s.template.Metrics.SetSessions(0)

	done := make(chan struct{})
	go func() {
		s.closing.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return multierr.Append(s.takeErrs(), ctx.Err())
	}
	return s.takeErrs()
}

func (s *Sessions) takeErrs() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.errs
	s.errs = nil
	return err
}
