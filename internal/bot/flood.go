package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// FloodGuard drops bursts of messages from a single user before they reach
// the assistant. It is unrelated to the daily quota.
type FloodGuard struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu      sync.Mutex
	entries map[int64]*floodEntry

	stopCh chan struct{}
	once   sync.Once
}

type floodEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	warned   bool // set after the first dropped message of a burst
}

// NewFloodGuard allows perSecond messages per user with the given burst.
// A non-positive rate disables the guard.
func NewFloodGuard(perSecond float64, burst int) *FloodGuard {
	if burst < 1 {
		burst = 1
	}
	g := &FloodGuard{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    10 * time.Minute,
		entries: make(map[int64]*floodEntry),
		stopCh:  make(chan struct{}),
	}
	if perSecond <= 0 {
		g.limit = rate.Inf
	}

	go g.cleanup()

	return g
}

// Allow reports whether a message from userID may be processed now. When
// it may not, warn is true only for the first dropped message of a burst.
func (g *FloodGuard) Allow(userID int64) (ok, warn bool) {
	if g.limit == rate.Inf {
		return true, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	entry, exists := g.entries[userID]
	if !exists {
		entry = &floodEntry{limiter: rate.NewLimiter(g.limit, g.burst)}
		g.entries[userID] = entry
	}
	entry.lastSeen = now

	if entry.limiter.AllowN(now, 1) {
		entry.warned = false
		return true, false
	}
	warn = !entry.warned
	entry.warned = true
	return false, warn
}

// Len returns the number of tracked users.
func (g *FloodGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Stop ends the cleanup goroutine.
func (g *FloodGuard) Stop() {
	g.once.Do(func() { close(g.stopCh) })
}

// cleanup periodically forgets users that have been idle.
func (g *FloodGuard) cleanup() {
	ticker := time.NewTicker(g.idle)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.evictIdle(time.Now())
		}
	}
}

func (g *FloodGuard) evictIdle(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, entry := range g.entries {
		if now.Sub(entry.lastSeen) > g.idle {
			delete(g.entries, key)
		}
	}
}
