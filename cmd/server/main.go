package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koios/qr-decoder/internal/config"
	"github.com/koios/qr-decoder/internal/handlers"
	"github.com/koios/qr-decoder/internal/ratelimit"
	"github.com/koios/qr-decoder/internal/redis"
	"github.com/koios/qr-decoder/internal/scanner"
	"github.com/koios/qr-decoder/internal/store"
	"github.com/koios/qr-decoder/internal/usagelog"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is only dialled when a component is configured to use it
	var redisClient *redis.Client
	if cfg.RateLimit.Backend == "redis" || cfg.Store.Driver == store.DriverRedis {
		redisClient, err = redis.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
	}

	// Usage log store; decoding stays available when it cannot be opened
	deps := store.Dependencies{}
	if redisClient != nil {
		deps.Redis = redisClient.Redis()
		deps.RedisPrefix = redisClient.Prefix()
	}
	usageStore, err := store.New(ctx, cfg.Store, deps, logger)
	if err != nil {
		logger.Error("Usage log store unavailable, falling back to in-memory store",
			zap.String("driver", cfg.Store.Driver), zap.Error(err))
		usageStore = store.NewMemory()
	}

	// Rate limiter
	limiterCfg := ratelimit.Config{
		Window:        cfg.RateLimit.Window,
		MaxRequests:   cfg.RateLimit.MaxRequests,
		MaxClients:    cfg.RateLimit.MaxClients,
		SweepInterval: cfg.RateLimit.SweepInterval,
	}
	var limiter ratelimit.Limiter
	var memoryLimiter *ratelimit.MemoryLimiter
	if redisClient != nil && cfg.RateLimit.Backend == "redis" {
		limiter = ratelimit.NewRedisLimiterFromClient(redisClient.Redis(), redisClient.Prefix(), limiterCfg, logger)
	} else {
		memoryLimiter = ratelimit.NewMemoryLimiter(limiterCfg, logger)
		memoryLimiter.Start()
		limiter = memoryLimiter
	}

	// Decoder
	qrScanner := scanner.New(&cfg.Scanner, logger)
	qrScanner.Start()

	// Usage logging and statistics
	usage := usagelog.New(usageStore, usagelog.ConfigFrom(cfg.UsageLog), logger)
	usage.Start()
	aggregator := usagelog.NewAggregator(usageStore, logger)

	// HTTP API
	mux := http.NewServeMux()
	scanHandler := handlers.NewScanHandler(qrScanner, limiter, usage, handlers.NewUploadValidator(cfg.Upload), logger)
	scanHandler.AddHealthCheck("usage_store", usageStore.Ping)
	if redisClient != nil {
		scanHandler.AddHealthCheck("redis", func(ctx context.Context) error {
			if !redisClient.IsHealthy(ctx) {
				return fmt.Errorf("redis ping failed at %s", cfg.Redis.Addr)
			}
			return nil
		})
	}
	scanHandler.RegisterRoutes(mux)
	statsHandler := handlers.NewStatsHandler(aggregator, usage, logger)
	statsHandler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handlers.Chain(mux,
			handlers.RequestLogger(logger),
			handlers.Recover(logger),
			handlers.SecurityHeaders,
			handlers.APIKeyAuth(cfg.Security.APIKeys, logger),
			handlers.Compression,
		),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Start HTTP server
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	logger.Info("Server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("rate_limit_backend", cfg.RateLimit.Backend),
		zap.Int("scanner_workers", cfg.Scanner.Workers))

	// Wait for interrupt signal or a server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	// Stop accepting requests first, then drain the workers behind them
	var shutdownErr error
	shutdownErr = multierr.Append(shutdownErr, httpServer.Shutdown(shutdownCtx))
	qrScanner.Stop()
	shutdownErr = multierr.Append(shutdownErr, usage.Stop(shutdownCtx))
	if memoryLimiter != nil {
		memoryLimiter.Stop()
	}
	shutdownErr = multierr.Append(shutdownErr, usageStore.Close())
	if redisClient != nil {
		shutdownErr = multierr.Append(shutdownErr, redisClient.Close())
	}
	cancel()

	if shutdownErr != nil {
		logger.Error("Shutdown completed with errors", zap.Errors("errors", multierr.Errors(shutdownErr)))
		return
	}
	logger.Info("Server shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	return zapCfg.Build()
}
