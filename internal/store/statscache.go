package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"classattend/internal/attendance"
)

// StatsCache keeps daily class stats in Redis as JSON. Redis failures are
// logged and treated as misses.
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewStatsCache creates a cache whose entries expire after ttl.
func NewStatsCache(client *redis.Client, ttl time.Duration, log *slog.Logger) *StatsCache {
	if log == nil {
		log = slog.Default()
	}
	return &StatsCache{client: client, ttl: ttl, log: log}
}

func statsKey(classID string, date attendance.Date) string {
	return fmt.Sprintf("stats:%s:%s", classID, date)
}

func (c *StatsCache) GetDaily(ctx context.Context, classID string, date attendance.Date) (attendance.DailyStats, bool) {
	raw, err := c.client.Get(ctx, statsKey(classID, date)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("stats cache read failed", "class_id", classID, "date", date, "error", err)
		}
		return attendance.DailyStats{}, false
	}
	var st attendance.DailyStats
	if err := json.Unmarshal(raw, &st); err != nil {
		return attendance.DailyStats{}, false
	}
	return st, true
}

func (c *StatsCache) PutDaily(ctx context.Context, st attendance.DailyStats) {
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, statsKey(st.ClassID, st.Date), raw, c.ttl).Err(); err != nil {
		c.log.Warn("stats cache write failed", "class_id", st.ClassID, "date", st.Date, "error", err)
	}
}

func (c *StatsCache) Invalidate(ctx context.Context, classID string, date attendance.Date) {
	if err := c.client.Del(ctx, statsKey(classID, date)).Err(); err != nil {
		c.log.Warn("stats cache invalidate failed", "class_id", classID, "date", date, "error", err)
	}
}

func (c *StatsCache) InvalidateClass(ctx context.Context, classID string) {
	iter := c.client.Scan(ctx, 0, fmt.Sprintf("stats:%s:*", classID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Warn("stats cache scan failed", "class_id", classID, "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("stats cache invalidate failed", "class_id", classID, "error", err)
	}
}

var _ attendance.StatsCache = (*StatsCache)(nil)
