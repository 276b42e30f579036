package attendance

import (
	"context"
	"sync"
	"time"
)

type cachedStats struct {
	stats   DailyStats
	expires time.Time
}

// MemoryCache is a process-local StatsCache. Entries expire after the TTL
// and expired entries are swept at most once per TTL on writes.
type MemoryCache struct {
	mu        sync.RWMutex
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
	daily     map[string]map[Date]cachedStats
}

// NewMemoryCache creates an empty cache whose entries live for ttl. A
// non-positive ttl means ten minutes.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryCache{ttl: ttl, now: time.Now, daily: make(map[string]map[Date]cachedStats)}
}

func (c *MemoryCache) GetDaily(_ context.Context, classID string, date Date) (DailyStats, bool) {
	c.mu.RLock()
	e, ok := c.daily[classID][date]
	c.mu.RUnlock()
	if !ok {
		return DailyStats{}, false
	}
	if !c.now().Before(e.expires) {
		c.mu.Lock()
		if cur, ok := c.daily[classID][date]; ok && cur.expires.Equal(e.expires) {
			delete(c.daily[classID], date)
		}
		c.mu.Unlock()
		return DailyStats{}, false
	}
	return e.stats, true
}

func (c *MemoryCache) PutDaily(_ context.Context, st DailyStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if now.Sub(c.lastSweep) >= c.ttl {
		c.sweepLocked(now)
	}
	days, ok := c.daily[st.ClassID]
	if !ok {
		days = make(map[Date]cachedStats)
		c.daily[st.ClassID] = days
	}
	days[st.Date] = cachedStats{stats: st, expires: now.Add(c.ttl)}
}

func (c *MemoryCache) sweepLocked(now time.Time) {
	for classID, days := range c.daily {
		for d, e := range days {
			if !now.Before(e.expires) {
				delete(days, d)
			}
		}
		if len(days) == 0 {
			delete(c.daily, classID)
		}
	}
	c.lastSweep = now
}

// Len reports how many entries are held, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, days := range c.daily {
		n += len(days)
	}
	return n
}

func (c *MemoryCache) Invalidate(_ context.Context, classID string, date Date) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.daily[classID], date)
}

func (c *MemoryCache) InvalidateClass(_ context.Context, classID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.daily, classID)
}

var _ StatsCache = (*MemoryCache)(nil)
