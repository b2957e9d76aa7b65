// Package admission gates new websocket upgrades and HTTP polls per source
// address: a sliding one-minute request ceiling, a per-address connection
// ceiling and a global connection ceiling.
package admission

import (
	"fmt"
	"sync"
	"time"
)

// Reason explains why an attempt was refused.
type Reason string

const (
	ReasonRateLimited    Reason = "rate_limited"
	ReasonAddrConnLimit  Reason = "address_connection_limit"
	ReasonTotalConnLimit Reason = "total_connection_limit"
)

// RejectError is returned for every refused attempt.
type RejectError struct {
	Reason Reason
	Addr   string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("admission rejected %s: %s", e.Addr, e.Reason)
}

// Config holds the ceilings. A ceiling <= 0 disables that check.
type Config struct {
	MaxRequestsPerAddr int
	MaxConnPerAddr     int
	MaxTotalConn       int
	Window             time.Duration
}

// Limiter is safe for concurrent use.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	requests map[string][]time.Time // admitted request times inside the window, oldest first
	conns    map[string]int
	total    int
}

// New creates a limiter. Window defaults to one minute.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{
		cfg:      cfg,
		now:      time.Now,
		requests: make(map[string][]time.Time),
		conns:    make(map[string]int),
	}
}

// Admit checks and records one HTTP poll from addr.
func (l *Limiter) Admit(addr string) error {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	window, ok := l.requestAllowed(addr, now)
	if !ok {
		return &RejectError{Reason: ReasonRateLimited, Addr: addr}
	}
	l.requests[addr] = append(window, now)
	return nil
}

// AcquireConn checks the request window and both connection ceilings, and
// on success records the request and reserves one connection slot for addr.
// A rejected attempt leaves every counter untouched.
func (l *Limiter) AcquireConn(addr string) error {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	window, ok := l.requestAllowed(addr, now)
	if !ok {
		return &RejectError{Reason: ReasonRateLimited, Addr: addr}
	}
	if l.cfg.MaxConnPerAddr > 0 && l.conns[addr] >= l.cfg.MaxConnPerAddr {
		return &RejectError{Reason: ReasonAddrConnLimit, Addr: addr}
	}
	if l.cfg.MaxTotalConn > 0 && l.total >= l.cfg.MaxTotalConn {
		return &RejectError{Reason: ReasonTotalConnLimit, Addr: addr}
	}

	l.requests[addr] = append(window, now)
	l.conns[addr]++
	l.total++
	return nil
}

// ReleaseConn frees a slot reserved by AcquireConn.
func (l *Limiter) ReleaseConn(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.conns[addr]
	if !ok {
		return
	}
	if n <= 1 {
		delete(l.conns, addr)
	} else {
		l.conns[addr] = n - 1
	}
	if l.total > 0 {
		l.total--
	}
}

// Connections returns the live connection count for addr.
func (l *Limiter) Connections(addr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conns[addr]
}

// Total returns the global live connection count.
func (l *Limiter) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Prune drops request history that has left the window and forgets idle
// addresses. It returns the number of addresses forgotten.
func (l *Limiter) Prune() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for addr := range l.requests {
		window := l.trim(l.requests[addr], now)
		if len(window) == 0 {
			delete(l.requests, addr)
			dropped++
			continue
		}
		l.requests[addr] = window
	}
	return dropped
}

// requestAllowed prunes addr's history lazily and reports whether one more
// request fits. Callers hold l.mu.
func (l *Limiter) requestAllowed(addr string, now time.Time) ([]time.Time, bool) {
	window := l.trim(l.requests[addr], now)
	if len(window) == 0 {
		delete(l.requests, addr)
	} else {
		l.requests[addr] = window
	}
	if l.cfg.MaxRequestsPerAddr > 0 && len(window) >= l.cfg.MaxRequestsPerAddr {
		return window, false
	}
	return window, true
}

func (l *Limiter) trim(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}
