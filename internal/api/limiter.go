package api

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/config"
)

const defaultBurst = 5

// staleClientAfter ages out per-client limiters. Keyless clients are keyed
// by IP, and those churn as the device roams between networks over a long
// agent uptime.
const staleClientAfter = time.Hour

// pruneEvery bounds how often a new client triggers a stale scan.
const pruneEvery = 64

type clientLimiter struct {
	lim      *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

type rateLimiter struct {
	clients    sync.Map
	newClients atomic.Int64
	cfg        *config.APIConfig
}

func newRateLimiter(cfg *config.APIConfig) *rateLimiter {
	return &rateLimiter{cfg: cfg}
}

// allow reports whether the client may proceed now and stamps its activity.
func (l *rateLimiter) allow(key string) bool {
	entry := l.entryFor(key)
	entry.mu.Lock()
	entry.lastSeen = time.Now()
	entry.mu.Unlock()
	return entry.lim.Allow()
}

func (l *rateLimiter) entryFor(key string) *clientLimiter {
	if v, ok := l.clients.Load(key); ok {
		if entry, ok := v.(*clientLimiter); ok {
			return entry
		}
	}

	burst := l.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	entry := &clientLimiter{
		lim:      rate.NewLimiter(rate.Limit(l.cfg.RateLimit.RPS), burst),
		lastSeen: time.Now(),
	}
	actual, loaded := l.clients.LoadOrStore(key, entry)
	if loaded {
		if actualEntry, ok := actual.(*clientLimiter); ok {
			return actualEntry
		}
		return entry
	}

	if l.newClients.Add(1)%pruneEvery == 0 {
		l.prune(time.Now().Add(-staleClientAfter))
	}
	return entry
}

// prune drops limiters idle since before cutoff and returns how many went.
func (l *rateLimiter) prune(cutoff time.Time) int {
	removed := 0
	l.clients.Range(func(key, v interface{}) bool {
		entry, ok := v.(*clientLimiter)
		if !ok {
			l.clients.Delete(key)
			return true
		}
		entry.mu.Lock()
		stale := entry.lastSeen.Before(cutoff)
		entry.mu.Unlock()
		if stale {
			l.clients.Delete(key)
			removed++
		}
		return true
	})
	return removed
}
