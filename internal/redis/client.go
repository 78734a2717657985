// Package redis owns the shared Redis connection used by the rate limiter and
// the usage log store.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/koios/qr-decoder/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps the Redis client with the configured key prefix
type Client struct {
	client *redis.Client
	config config.RedisConfig
	logger *zap.Logger
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.String("prefix", cfg.Prefix))

	return &Client{
		client: rdb,
		config: cfg,
		logger: logger,
	}, nil
}

// Redis exposes the underlying go-redis client
func (c *Client) Redis() *redis.Client {
	return c.client
}

// Prefix is the namespace every key written by this service starts with
func (c *Client) Prefix() string {
	return c.config.Prefix
}

// IsHealthy checks if Redis connection is healthy
func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection", zap.String("addr", c.config.Addr))
	return c.client.Close()
}
