// Package ratelimit implements the collector's per-key fixed-window
// submission limiter (the admission pipeline keys it by source address),
// built as a mutex-guarded per-key map.
//
// This is deliberately NOT golang.org/x/time/rate: a token bucket smooths
// bursts across a rolling window, but the admission pipeline needs a literal
// fixed window that resets on its boundary, so the count is hand-rolled.
package ratelimit

import (
	"sync"
	"time"
)

// window tracks one key's submission count within the current fixed window.
type window struct {
	start time.Time
	count int
}

// Limiter enforces "at most Max submissions per Window" per key, where a key
// is normally a submitter's source address.
type Limiter struct {
	mu     sync.Mutex
	byKey  map[string]*window
	max    int
	window time.Duration
}

// New returns a Limiter allowing max submissions per window, per key.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		byKey:  make(map[string]*window),
		max:    max,
		window: window,
	}
}

// Allow reports whether key may submit now, and records the submission if so.
// A fresh window is opened for key the first time it is seen, or once the
// previous window has elapsed.
func (l *Limiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.byKey[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.byKey[key] = &window{start: now, count: 1}
		return true
	}
	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// Reset clears all tracked windows, used by tests and by a clean restart.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byKey = make(map[string]*window)
}

// Prune drops windows that started at least 2*window ago, bounding memory for
// long-running collectors with many transient keys.
func (l *Limiter) Prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, w := range l.byKey {
		if now.Sub(w.start) >= 2*l.window {
			delete(l.byKey, k)
		}
	}
}
