// Package ratelimit provides per-client token-bucket limiting for inbound
// endpoints. This is separate from the outbound store pacing in the airtable
// client: here the goal is protecting the write and webhook paths from a
// misbehaving caller, not respecting someone else's request budget.
package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per client key. Buckets idle past
// maxAge are swept periodically so the map does not grow with every client
// ever seen.
type Limiter struct {
	rate  rate.Limit
	burst int

	limiters   sync.Map // key -> *rate.Limiter
	lastAccess sync.Map // key -> time.Time

	cleanupInterval time.Duration
	maxAge          time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

// New creates a limiter allowing rps requests per second with the given
// burst per client, and starts its background sweep.
func New(rps float64, burst int) *Limiter {
	l := &Limiter{
		rate:            rate.Limit(rps),
		burst:           burst,
		cleanupInterval: 5 * time.Minute,
		maxAge:          10 * time.Minute,
		stop:            make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow reports whether the client identified by key may proceed.
func (l *Limiter) Allow(key string) bool {
	l.lastAccess.Store(key, time.Now().UTC())
	return l.bucket(key).Allow()
}

// Stop ends the background sweep. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// KeyFromAddr reduces a RemoteAddr to its host part so every port a client
// dials from shares one bucket. chi's RealIP middleware has already replaced
// RemoteAddr with the forwarded client address by the time this runs.
func KeyFromAddr(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	if existing, ok := l.limiters.Load(key); ok {
		return existing.(*rate.Limiter)
	}
	created := rate.NewLimiter(l.rate, l.burst)
	actual, _ := l.limiters.LoadOrStore(key, created)
	return actual.(*rate.Limiter)
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-l.maxAge)
			l.lastAccess.Range(func(key, value any) bool {
				if value.(time.Time).Before(cutoff) {
					l.limiters.Delete(key)
					l.lastAccess.Delete(key)
				}
				return true
			})
		case <-l.stop:
			return
		}
	}
}
