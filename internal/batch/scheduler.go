// Package batch coalesces subscriptions to the same movie id into a single
// cache-aware load. The pending table holds at most one entry per key; the
// entry lives until its load has completed and been delivered, so a waiter
// that subscribes while the load is in flight shares its result.
package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/boxoffice_relay/internal/cache"
)

// DefaultDebounce is the delay between the first subscription to a key and
// its flush.
const DefaultDebounce = 100 * time.Millisecond

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("batch: scheduler closed")

// Loader is the cache-aware fetch a flush performs.
type Loader interface {
	Load(ctx context.Context, key string) (cache.Entry, bool)
}

// DeliverFunc hands a flushed result to the waiters still present.
type DeliverFunc func(ctx context.Context, key string, entry cache.Entry, waiters []string)

type pendingFetch struct {
	waiters  map[string]struct{}
	timer    *time.Timer
	flushing bool
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	loader   Loader
	deliver  DeliverFunc
	debounce time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*pendingFetch
	closed  bool
}

// New creates a scheduler. debounce <= 0 uses DefaultDebounce.
func New(loader Loader, deliver DeliverFunc, debounce time.Duration) *Scheduler {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		loader:   loader,
		deliver:  deliver,
		debounce: debounce,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]*pendingFetch),
	}
}

// Subscribe adds waiter to key's pending fetch, creating it and arming the
// debounce timer if none exists.
func (s *Scheduler) Subscribe(key, waiter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	pf, ok := s.pending[key]
	if !ok {
		pf = &pendingFetch{waiters: make(map[string]struct{})}
		pf.timer = time.AfterFunc(s.debounce, func() { s.flush(key, pf) })
		s.pending[key] = pf
	}
	pf.waiters[waiter] = struct{}{}
	return nil
}

// Cancel removes waiter from key's pending fetch. A pending fetch left with
// no waiters before its flush is discarded without loading.
func (s *Scheduler) Cancel(key, waiter string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pf, ok := s.pending[key]
	if !ok {
		return
	}
	delete(pf.waiters, waiter)
	if len(pf.waiters) == 0 && !pf.flushing {
		pf.timer.Stop()
		delete(s.pending, key)
	}
}

// Pending returns the number of waiters on key's pending fetch.
func (s *Scheduler) Pending(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pf, ok := s.pending[key]; ok {
		return len(pf.waiters)
	}
	return 0
}

// InFlight returns the number of keys with a pending fetch.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush resolves key's pending fetch now instead of waiting for its timer.
// It reports whether a pending fetch was flushed by this call.
func (s *Scheduler) Flush(key string) bool {
	s.mu.Lock()
	pf, ok := s.pending[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.flush(key, pf)
}

// Close stops every timer and drops pending fetches. Loads already in flight
// finish but are not delivered.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for key, pf := range s.pending {
		pf.timer.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *Scheduler) flush(key string, pf *pendingFetch) bool {
	s.mu.Lock()
	if s.closed || s.pending[key] != pf || pf.flushing {
		s.mu.Unlock()
		return false
	}
	pf.flushing = true
	pf.timer.Stop()
	if len(pf.waiters) == 0 {
		delete(s.pending, key)
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	entry, hit := s.loader.Load(s.ctx, key)

	s.mu.Lock()
	if s.pending[key] == pf {
		delete(s.pending, key)
	}
	closed := s.closed
	waiters := make([]string, 0, len(pf.waiters))
	for id := range pf.waiters {
		waiters = append(waiters, id)
	}
	s.mu.Unlock()

	slog.Debug("batch flushed", "movie_id", key, "waiters", len(waiters), "cache_hit", hit)
	if closed || len(waiters) == 0 {
		return true
	}
	s.deliver(s.ctx, key, entry, waiters)
	return true
}
