package ingest

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// RateLimiter caps attempts per zone over a sliding window.
// Only admitted attempts occupy the window.
type RateLimiter struct {
	limit  int
	window time.Duration
	zones  *xsync.Map[int64, *attempts]
}

type attempts struct {
	mu    sync.Mutex
	times []time.Time
}

// NewRateLimiter allows limit attempts per zone within any window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		zones:  xsync.NewMap[int64, *attempts](),
	}
}

// Allow records an attempt at now and reports whether it is admitted.
// When rejected, retryAfter is how long until the oldest attempt leaves
// the window.
func (l *RateLimiter) Allow(zoneID int64, now time.Time) (ok bool, retryAfter time.Duration) {
	a, _ := l.zones.LoadOrStore(zoneID, &attempts{})
	a.mu.Lock()
	defer a.mu.Unlock()

	// Keep only attempts strictly inside (now-window, now].
	kept := a.times[:0]
	for _, t := range a.times {
		if now.Sub(t) < l.window {
			kept = append(kept, t)
		}
	}
	a.times = kept

	if len(a.times) >= l.limit {
		return false, l.window - now.Sub(a.times[0])
	}
	a.times = append(a.times, now)
	return true, 0
}

// Limit returns the per-window ceiling.
func (l *RateLimiter) Limit() int { return l.limit }

// Window returns the window length.
func (l *RateLimiter) Window() time.Duration { return l.window }
