package decision

import (
	"sync"
	"time"
)

// Cooldown remembers when each zone last had a redirect issued.
type Cooldown struct {
	period time.Duration

	mu   sync.Mutex
	last map[int64]time.Time
}

// NewCooldown blocks re-issuance within period of the previous issue.
func NewCooldown(period time.Duration) *Cooldown {
	return &Cooldown{period: period, last: make(map[int64]time.Time)}
}

// Ready reports whether zoneID may be issued a redirect at now: never
// issued, or at least one period has passed.
func (c *Cooldown) Ready(zoneID int64, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[zoneID]
	return !ok || now.Sub(last) >= c.period
}

// Remaining returns how long until zoneID is ready, or zero.
func (c *Cooldown) Remaining(zoneID int64, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[zoneID]
	if !ok {
		return 0
	}
	if left := c.period - now.Sub(last); left > 0 {
		return left
	}
	return 0
}

// Record marks an issue at now.
func (c *Cooldown) Record(zoneID int64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[zoneID] = now
}
