package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"classattend/internal/queue"
)

// ChangesKey is the Redis list carrying stats change messages.
const ChangesKey = "classattend:changes"

// Redis wraps the client shared by the stats cache and the change queue.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  6 * time.Second, // above the BRPOP block time
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Queue returns the change queue on this connection.
func (r *Redis) Queue() *queue.RedisQueue {
	return queue.NewRedisQueue(r.Client, ChangesKey)
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close closes the client.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
