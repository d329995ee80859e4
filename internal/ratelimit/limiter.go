// Package ratelimit provides the per-connection signaling message limiter
// used by the store server.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time so limiter behavior is deterministic in tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Limiter caps events to a fixed budget per one-second window.
//
// Signaling traffic is tiny (one offer, one answer, a few dozen trickled
// candidates), so a fixed window is plenty; anything sustained above the
// budget is a misbehaving client.
type Limiter struct {
	mu    sync.Mutex
	clock Clock

	maxPerSecond int
	windowStart  time.Time
	used         int
}

func NewLimiter(clock Clock, maxPerSecond int) *Limiter {
	if clock == nil {
		clock = RealClock{}
	}
	return &Limiter{clock: clock, maxPerSecond: maxPerSecond}
}

// Allow reports whether one more event fits the current window. A limiter
// with a non-positive budget allows everything.
func (l *Limiter) Allow() bool {
	if l.maxPerSecond <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.Sub(l.windowStart) >= time.Second || now.Before(l.windowStart) {
		l.windowStart = now
		l.used = 0
	}
	if l.used >= l.maxPerSecond {
		return false
	}
	l.used++
	return true
}
