package store

import (
	"context"
	"fmt"

	"github.com/koios/qr-decoder/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dependencies captures external handles required by certain drivers.
type Dependencies struct {
	Redis       *redis.Client
	RedisPrefix string
}

// New opens the store selected by cfg and checks it is reachable within
// cfg.ConnectTimeout.
func New(ctx context.Context, cfg config.StoreConfig, deps Dependencies, logger *zap.Logger) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		s   Store
		err error
	)
	switch driver {
	case DriverMemory:
		s = NewMemory()
	case DriverRedis:
		s, err = NewRedis(deps.Redis, deps.RedisPrefix)
	case DriverSQLite, DriverPostgres, DriverMySQL:
		db, openErr := OpenGorm(driver, cfg.DSN)
		if openErr != nil {
			return nil, openErr
		}
		s, err = NewGorm(db)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("store %s is unreachable: %w", driver, err)
	}

	logger.Info("Usage log store ready", zap.String("driver", driver))
	return s, nil
}
