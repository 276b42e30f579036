package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"classattend/internal/attendance"
	"classattend/internal/config"
	"classattend/internal/store"
)

// Worker consumes stats change messages from Redis and keeps the shared
// daily stats cache up to date.
func main() {
	cfg := config.Load()
	log := cfg.NewLogger().With("component", "worker")
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RedisAddr == "" || cfg.StoreBackend == "memory" {
		log.Error("worker needs REDIS_ADDR and a shared store (STORE_BACKEND=postgres or sqlite)")
		os.Exit(1)
	}

	dsn := cfg.DatabaseURL
	if cfg.StoreBackend == "sqlite" {
		dsn = cfg.SQLitePath
	}
	db, err := store.Open(ctx, cfg.StoreBackend, dsn)
	if err != nil {
		log.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		log.Warn("redis not reachable yet; consumer will keep retrying")
	}

	messages, err := rdb.Queue().Consume(ctx)
	if err != nil {
		log.Error("queue consume init failed", "error", err)
		os.Exit(1)
	}

	cache := store.NewStatsCache(rdb.Client, cfg.StatsTTL, log)
	log.Info("worker started, waiting for messages")
	attendance.NewRefresher(db.Repository(), cache, log).Run(ctx, messages)
	log.Info("worker stopped")
}
