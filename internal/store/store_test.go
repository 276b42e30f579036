package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classattend/internal/attendance"
)

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "attend.db"))
	require.NoError(t, err)
	defer db.Close()

	repo := db.Repository()
	require.NoError(t, repo.Migrate(ctx, attendance.DefaultTeacher("p@x.test"), attendance.SeedClasses(time.Now())))
	classes, err := repo.ListClasses(ctx)
	require.NoError(t, err)
	assert.Len(t, classes, 3)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "mongo", "")
	assert.Error(t, err)
}

func TestStatsKey(t *testing.T) {
	assert.Equal(t, "stats:c1:2026-03-02", statsKey("c1", "2026-03-02"))
}

func TestStatsCacheDegradesWithoutRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	cache := NewStatsCache(client, time.Minute, nil)
	ctx := context.Background()

	cache.PutDaily(ctx, attendance.DailyStats{ClassID: "c1", Date: "2026-03-02", Rate: 50})
	_, ok := cache.GetDaily(ctx, "c1", "2026-03-02")
	assert.False(t, ok)
	cache.Invalidate(ctx, "c1", "2026-03-02")
	cache.InvalidateClass(ctx, "c1")

	assert.False(t, (&Redis{Client: client}).Healthy(ctx))
}
