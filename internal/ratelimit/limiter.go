// Package ratelimit guards the relay's accept path: a global cap on
// concurrent bridges per listener and a per-IP cap with a short-window rate
// limit. All state is touched only by the single orchestration thread, so
// plain counters suffice.
package ratelimit

// Limiter caps the number of concurrent bridges one listener will carry.
type Limiter struct {
	maxConns int64
	current  int64
}

// NewLimiter creates a new bridge-count limiter
func NewLimiter(maxConns int64) *Limiter {
	return &Limiter{
		maxConns: maxConns,
	}
}

// Allow checks if a new bridge is allowed and claims a slot if so
func (l *Limiter) Allow() bool {
	if l.current >= l.maxConns {
		return false
	}
	l.current++
	return true
}

// Release releases a bridge slot
func (l *Limiter) Release() {
	if l.current > 0 {
		l.current--
	}
}

// Current returns the current number of bridges
func (l *Limiter) Current() int64 {
	return l.current
}

// Max returns the maximum allowed bridges
func (l *Limiter) Max() int64 {
	return l.maxConns
}
