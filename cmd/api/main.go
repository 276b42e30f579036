package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"classattend/internal/api"
	"classattend/internal/assistant"
	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/cloudinary"
	"classattend/internal/config"
	"classattend/internal/queue"
	"classattend/internal/session"
	"classattend/internal/store"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]func(context.Context) bool{}
	teacher := attendance.DefaultTeacher(cfg.TeacherEmail)
	classes := attendance.SeedClasses(time.Now())

	var st attendance.Store
	if cfg.StoreBackend == "memory" {
		st = attendance.NewMemoryStore(teacher, classes)
		log.Info("using in-memory store; data is lost on restart")
	} else {
		dsn := cfg.DatabaseURL
		if cfg.StoreBackend == "sqlite" {
			dsn = cfg.SQLitePath
		}
		db, err := store.Open(ctx, cfg.StoreBackend, dsn)
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
		}
		defer db.Close()
		repo := db.Repository()
		if err := repo.Migrate(ctx, teacher, classes); err != nil {
			return err
		}
		checks["db"] = func(ctx context.Context) bool { return db.Client.PingContext(ctx) == nil }
		st = repo
	}

	opts := []attendance.Option{
		attendance.WithLocation(cfg.Location()),
		attendance.WithLogger(log),
	}

	var cache attendance.StatsCache = attendance.NewMemoryCache(cfg.StatsTTL)
	var rdb *store.Redis
	if cfg.RedisAddr != "" {
		rdb = store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
		checks["redis"] = rdb.Healthy
		cache = store.NewStatsCache(rdb.Client, cfg.StatsTTL, log)
	}
	opts = append(opts, attendance.WithStatsCache(cache))

	switch cfg.QueueBackend {
	case "redis":
		if rdb == nil {
			return errors.New("QUEUE_BACKEND=redis requires REDIS_ADDR")
		}
		// cmd/worker consumes and refreshes the shared cache
		opts = append(opts, attendance.WithNotifier(attendance.QueueNotifier{Queue: rdb.Queue()}))
	default:
		q := queue.NewInMemory(256)
		messages, err := q.Consume(ctx)
		if err != nil {
			return err
		}
		go attendance.NewRefresher(st, cache, log).Run(ctx, messages)
		opts = append(opts, attendance.WithNotifier(attendance.QueueNotifier{Queue: q}))
	}

	svc := attendance.NewService(st, opts...)
	if n, err := svc.Reconcile(ctx, svc.Today()); err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	} else if n > 0 {
		log.Info("reconciled attendance at startup", "created", n)
	}

	signer := auth.Signer{
		Issuer:     cfg.JWTIssuer,
		Key:        cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}
	sessions, err := session.NewManager(svc, session.Config{
		TeacherEmail:    cfg.TeacherEmail,
		TeacherPassword: cfg.TeacherPassword,
		Signer:          signer,
	}, log)
	if err != nil {
		return err
	}

	var gen assistant.Generator = assistant.Unavailable{}
	if cfg.GeminiAPIKey != "" {
		gemini, err := assistant.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return err
		}
		defer gemini.Close()
		gen = gemini
		log.Info("text generation enabled", "model", cfg.GeminiModel)
	} else {
		log.Warn("GEMINI_API_KEY not set; assistant replies with the fallback message")
	}

	photos := cloudinary.New(cfg.CloudinaryCloud, cfg.CloudinaryKey, cfg.CloudinarySecret, cfg.CloudinaryFolder)
	if photos.Configured() {
		log.Info("cloudinary configured", "cloud", cfg.CloudinaryCloud)
	} else {
		log.Info("cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	router := api.NewRouter(api.Deps{
		Service:         svc,
		Sessions:        sessions,
		Assistant:       assistant.New(svc, gen, 60*time.Second, log),
		Signer:          signer,
		Photos:          photos,
		Checks:          checks,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		Log:             log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // assistant calls are slow
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.HTTPPort, "store", cfg.StoreBackend, "queue", cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced shutdown", "error", err)
	}
	log.Info("server exited")
	return nil
}
