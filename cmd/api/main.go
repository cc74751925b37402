package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"attendly/internal/attendance"
	"attendly/internal/auth"
	"attendly/internal/config"
	"attendly/internal/logging"
	"attendly/internal/queue"
	"attendly/internal/server"
	"attendly/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, "attendly-api")

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(cfg config.App, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]server.HealthCheck{}

	var repo attendance.Repository
	db, err := store.NewDB(cfg.DatabaseURL)
	switch {
	case err != nil && cfg.IsProduction():
		return err
	case err != nil:
		logger.Warn().Err(err).Msg("db not reachable, using in-memory repository")
		_ = db.Close()
		repo = attendance.NewMemoryRepository()
	default:
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		repo = attendance.NewRepository(db.Client)
		checks["db"] = func(ctx context.Context) bool { return db.Client.PingContext(ctx) == nil }
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	checks["redis"] = redisClient.Healthy

	opts := []attendance.Option{
		attendance.WithLogger(logger),
		attendance.WithBcryptCost(cfg.BcryptCost),
	}
	if redisClient.Healthy(ctx) {
		opts = append(opts, attendance.WithCache(store.NewReportCache(redisClient.Client, cfg.ReportCacheTTL)))
	} else {
		logger.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable, report cache disabled")
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}
	opts = append(opts, attendance.WithPublisher(q))
	svc := attendance.NewService(repo, opts...)

	// with an in-process queue nobody else can consume it
	if cfg.QueueBackend == "memory" {
		go func() {
			if err := attendance.NewWarmer(svc, logger.With().Str("component", "warmer").Logger()).Run(ctx, q); err != nil {
				logger.Error().Err(err).Msg("warmer failed")
			}
		}()
	}

	app := server.New(server.Options{
		Service:         svc,
		Issuer:          auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL),
		Logger:          logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		Checks:          checks,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      app,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down server")

	// give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced shutdown")
	}
	logger.Info().Msg("server exited")
	return nil
}

func init() {
	// keep gin's debug route dump out of the structured log
	gin.DebugPrintRouteFunc = func(string, string, string, int) {}
}
