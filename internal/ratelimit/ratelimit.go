// Package ratelimit implements per-nickname sliding-window admission control.
package ratelimit

import (
	"sync"
	"time"
)

// Defaults match the server's advertised policy: 10 messages per minute.
const (
	DefaultLimit  = 10
	DefaultWindow = 60 * time.Second
)

// Limiter admits up to limit messages per nickname within a trailing
// window. Windows are independent per nickname; a throttled sender cannot
// starve anyone else. Safe for concurrent use.
type Limiter struct {
	limit  int
	window time.Duration

	mu    sync.Mutex
	times map[string][]time.Time
}

// New creates a Limiter. Non-positive arguments fall back to the defaults.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		limit:  limit,
		window: window,
		times:  make(map[string][]time.Time),
	}
}

// Admit reports whether nickname may send a message at time now. Entries
// older than the window are evicted lazily; on admission now is recorded,
// so the per-nickname window never holds more than limit entries.
func (l *Limiter) Admit(nickname string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.times[nickname][:0]
	for _, t := range l.times[nickname] {
		if now.Sub(t) < l.window {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.limit {
		l.times[nickname] = recent
		return false
	}

	l.times[nickname] = append(recent, now)
	return true
}

// Forget discards the window for nickname. Called on disconnect so state
// does not outlive the session.
func (l *Limiter) Forget(nickname string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.times, nickname)
}
