package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"rfidattend/internal/attendance"
	"rfidattend/internal/auth"
	"rfidattend/internal/config"
	"rfidattend/internal/httpapi"
	"rfidattend/internal/logging"
	"rfidattend/internal/metrics"
	"rfidattend/internal/scan"
	"rfidattend/internal/store"
)

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

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx := context.Background()
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	health := map[string]httpapi.HealthCheck{}
	var backend attendance.Store
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory store; directories start empty and nothing is persisted")
		backend = attendance.NewMemoryStore()
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if db == nil {
			return err
		}
		if err != nil {
			logger.Warn("db not reachable", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		if cfg.AutoMigrate {
			if err := attendance.Migrate(ctx, db.Client); err != nil {
				return err
			}
		}
		backend = attendance.NewRepository(db.Client)
		health["db"] = db.Healthy
	}

	if cfg.QueueBackend == "redis" {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		health["redis"] = redisClient.Healthy
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc := attendance.NewService(backend, scan.SystemClock(), loc, logger, metrics.NewScans(reg),
		scan.WithMaxSkew(cfg.ScanMaxSkew))

	router := httpapi.New(httpapi.Options{
		Service: svc,
		Signer: auth.Signer{
			Key:        cfg.JWTSigningKey,
			Issuer:     cfg.JWTIssuer,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		},
		Log:             logger,
		Gatherer:        reg,
		Health:          health,
		RateLimitPerMin: cfg.RateLimitPerMin,
		ScanTimeout:     cfg.ScanTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("school_tz", loc.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info("shutting down server")

	// Give outstanding scans 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}
