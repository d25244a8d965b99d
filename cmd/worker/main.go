package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"rfidattend/internal/attendance"
	"rfidattend/internal/config"
	"rfidattend/internal/logging"
	"rfidattend/internal/queue"
	"rfidattend/internal/scan"
	"rfidattend/internal/store"
	"rfidattend/internal/worker"
)

// Worker consumes scans and reader status reports from the bus.
func main() {
	cfg, warnings := config.Load()
	logger, err := logging.New(cfg.Production(), cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range warnings {
		logger.Warn("config", zap.String("detail", w))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("invalid school time zone", zap.Error(err))
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	var (
		q    queue.Queue
		dead worker.Publisher
	)
	if cfg.QueueBackend == "memory" {
		logger.Warn("in-memory queue only sees messages published by this process; failed scans are dropped")
		q = queue.NewInMemory(64)
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
		dead = queue.NewRedisQueue(redisClient.Client, cfg.DeadLetterKey)
	}

	repo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(repo, scan.SystemClock(), loc, logger, nil, scan.WithMaxSkew(cfg.ScanMaxSkew))

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}

	logger.Info("worker started", zap.Int("consumers", cfg.WorkerConcurrency))
	p := worker.NewProcessor(svc, logger, 3, 500*time.Millisecond, cfg.ScanTimeout).WithDeadLetter(dead)
	if err := p.Run(ctx, messages, cfg.WorkerConcurrency); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("worker stopped")
}
