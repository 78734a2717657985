// Package store persists processing log entries.
//
// Every driver implements Store. Errors leave this package as persistence
// errors from internal/errors so callers can absorb them uniformly.
package store

import (
	"context"
	"time"

	apperrors "github.com/koios/qr-decoder/internal/errors"
	"github.com/koios/qr-decoder/pkg/models"
)

// Driver identifiers accepted by New.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Store is the persistence contract for processing logs.
type Store interface {
	// Insert writes entry once. Entries are never updated afterwards.
	Insert(ctx context.Context, entry *models.ProcessingLog) error
	// CountSuccessful counts successful entries with a timestamp at or after
	// since. A zero since counts every successful entry.
	CountSuccessful(ctx context.Context, since time.Time) (int64, error)
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]models.ProcessingLog, error)
	// Summary aggregates every stored entry.
	Summary(ctx context.Context) (models.ProcessingSummary, error)
	// Prune deletes entries with a timestamp strictly before before.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.KindPersistence, op, "usage log store unavailable", err)
}

func summarize(total, successful int64, avgMs float64) models.ProcessingSummary {
	summary := models.ProcessingSummary{TotalProcessed: total, AverageProcessingTime: avgMs}
	if total > 0 {
		summary.SuccessRate = float64(successful) / float64(total) * 100
	}
	return summary
}
