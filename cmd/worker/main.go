package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"studx/internal/buspass"
	"studx/internal/config"
	"studx/internal/issuance"
	"studx/internal/logging"
	"studx/internal/queue"
	"studx/internal/store"
)

// Worker consumes pass.issued events and appends an audit row for each.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With(slog.String("service", "worker"))
	slog.SetDefault(logger)

	if cfg.QueueBackend == "memory" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis; the in-memory queue is drained by the api process")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseURL, cfg.StoreTimeout)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet; consumer will keep retrying", slog.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	q.OnError(func(err error) {
		logger.Warn("queue error", slog.String("error", err.Error()))
	})

	processor := issuance.NewProcessor(buspass.NewRepository(db.Client), cfg.StoreTimeout, logger)

	logger.Info("worker started, waiting for messages", slog.String("queue", queue.DefaultKey))
	if err := processor.Run(ctx, q); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
	logger.Info("worker stopped")
}
