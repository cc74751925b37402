package main

import (
	"context"
	"os/signal"
	"syscall"

	"attendly/internal/attendance"
	"attendly/internal/config"
	"attendly/internal/logging"
	"attendly/internal/queue"
	"attendly/internal/store"
)

// Worker consumes attendance events from redis and warms the month-to-date
// report of each marked class.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, "attendly-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		logger.Fatal().Msg("QUEUE_BACKEND=memory runs the warmer inside the api, nothing to do here")
	}

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Fatal().Str("addr", cfg.RedisAddr).Msg("redis not reachable")
	}

	svc := attendance.NewService(
		attendance.NewRepository(db.Client),
		attendance.WithLogger(logger),
		attendance.WithCache(store.NewReportCache(redisClient.Client, cfg.ReportCacheTTL)),
	)

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	if err := attendance.NewWarmer(svc, logger).Run(ctx, q); err != nil {
		logger.Fatal().Err(err).Msg("queue consume init failed")
	}
}
