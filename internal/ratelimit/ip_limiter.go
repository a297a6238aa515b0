package ratelimit

import (
	"time"
)

// IPLimiter limits concurrent clients and connection rate per IP address.
type IPLimiter struct {
	maxConnsPerIP int
	rateLimit     int // connections per second per IP

	ipConns     map[string]int         // IP -> current bridge count
	ipRates     map[string][]time.Time // IP -> recent connection timestamps
	lastCleanup time.Time
}

// NewIPLimiter creates a new IP-based rate limiter
func NewIPLimiter(maxConnsPerIP, rateLimit int) *IPLimiter {
	return &IPLimiter{
		maxConnsPerIP: maxConnsPerIP,
		rateLimit:     rateLimit,
		ipConns:       make(map[string]int),
		ipRates:       make(map[string][]time.Time),
		lastCleanup:   time.Now(),
	}
}

// Allow checks if a connection from IP is allowed and claims a slot if so.
func (l *IPLimiter) Allow(ip string) bool {
	// Cleanup stale entries periodically
	if time.Since(l.lastCleanup) > 5*time.Minute {
		l.cleanup()
		l.lastCleanup = time.Now()
	}

	if l.ipConns[ip] >= l.maxConnsPerIP {
		return false
	}

	// Drop rate-window entries older than one second
	now := time.Now()
	cutoff := now.Add(-time.Second)
	window := l.ipRates[ip]
	valid := 0
	for _, ts := range window {
		if ts.After(cutoff) {
			window[valid] = ts
			valid++
		}
	}
	window = window[:valid]

	if len(window) >= l.rateLimit {
		l.ipRates[ip] = window
		return false
	}

	l.ipRates[ip] = append(window, now)
	l.ipConns[ip]++
	return true
}

// Release releases a connection slot for an IP
func (l *IPLimiter) Release(ip string) {
	if count, ok := l.ipConns[ip]; ok && count > 0 {
		l.ipConns[ip] = count - 1
		if l.ipConns[ip] == 0 {
			delete(l.ipConns, ip)
		}
	}
}

// cleanup removes IPs with no live connections
func (l *IPLimiter) cleanup() {
	for ip, count := range l.ipConns {
		if count == 0 {
			delete(l.ipConns, ip)
		}
	}
	for ip := range l.ipRates {
		if l.ipConns[ip] == 0 {
			delete(l.ipRates, ip)
		}
	}
}
