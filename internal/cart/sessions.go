package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/shop-service/pkg/logger"
	"golang.org/x/sync/singleflight"
)

// Sessions keeps one Store per session, loading it from the persister on
// first use. Stores that have not changed for the idle TTL are dropped and
// reloaded on the next request.
type Sessions struct {
	mu        sync.Mutex
	entries   map[string]*session
	persister Persister
	log       logger.Logger
	sfg       singleflight.Group // collapses concurrent loads of one session

	idleTTL   time.Duration
	now       func() time.Time
	lastSweep time.Time
}

type session struct {
	store   *Store
	touched atomic.Int64 // unix nanos of the last load or change
	cancel  func()
}

type SessionsOption func(*Sessions)

// WithIdleTTL evicts stores that were neither loaded nor changed for d.
// It should not exceed the persister's expiry, otherwise a cached cart can
// outlive its persisted copy.
func WithIdleTTL(d time.Duration) SessionsOption {
	return func(s *Sessions) { s.idleTTL = d }
}

func WithSessionsClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) { s.now = now }
}

func NewSessions(persister Persister, log logger.Logger, opts ...SessionsOption) *Sessions {
	s := &Sessions{
		entries:   make(map[string]*session),
		persister: persister,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastSweep = s.now()
	return s
}

// Get returns the session's cart. A cart that exists but cannot be read
// is reported as an error and nothing is cached, so the next call retries
// the load instead of overwriting the stored cart with an empty one.
func (s *Sessions) Get(ctx context.Context, sessionID string) (*Store, error) {
	s.mu.Lock()
	s.sweepLocked()
	if e, ok := s.entries[sessionID]; ok {
		s.mu.Unlock()
		return e.store, nil
	}
	s.mu.Unlock()

	v, err, _ := s.sfg.Do(sessionID, func() (interface{}, error) {
		opts := []Option{WithLogger(s.log)}
		if s.persister != nil {
			items, err := s.persister.Load(ctx, sessionID)
			switch {
			case err == nil:
				opts = append(opts, WithItems(items))
			case errors.Is(err, ErrCartNotFound):
			default:
				s.log.Warn("cart load failed", logger.String("session_id", sessionID), logger.Error(err))
				return nil, fmt.Errorf("load cart: %w", err)
			}
			opts = append(opts, WithPersister(s.persister))
		}
		return NewStore(sessionID, opts...), nil
	})
	if err != nil {
		return nil, err
	}
	loaded := v.(*Store)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[sessionID]; ok {
		return e.store, nil
	}
	e := &session{store: loaded}
	e.touched.Store(s.now().UnixNano())
	e.cancel = loaded.Subscribe(func(Event) {
		e.touched.Store(s.now().UnixNano())
	})
	s.entries[sessionID] = e
	return loaded, nil
}

// Transient returns a cart that lives for the caller only: it is neither
// cached nor persisted.
func (s *Sessions) Transient(sessionID string) *Store {
	return NewStore(sessionID, WithLogger(s.log))
}

// Forget drops the in-memory store; the persisted copy is kept.
func (s *Sessions) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(sessionID)
}

// Len is the number of carts held in memory.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Sessions) sweepLocked() {
	if s.idleTTL <= 0 {
		return
	}
	now := s.now()
	if now.Sub(s.lastSweep) < s.idleTTL/2 {
		return
	}
	s.lastSweep = now

	cutoff := now.Add(-s.idleTTL).UnixNano()
	for id, e := range s.entries {
		if e.touched.Load() <= cutoff {
			s.dropLocked(id)
		}
	}
}

func (s *Sessions) dropLocked(sessionID string) {
	if e, ok := s.entries[sessionID]; ok {
		e.cancel()
		delete(s.entries, sessionID)
	}
}
