package usagelog

import (
	"context"
	"time"

	"github.com/koios/qr-decoder/internal/store"
	"github.com/koios/qr-decoder/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Aggregator answers read-side queries over the usage log. Every method
// returns a well-formed value even when the store fails.
type Aggregator struct {
	store    store.Store
	logger   *zap.Logger
	now      func() time.Time
	location *time.Location
}

// NewAggregator creates an aggregator that computes day and week boundaries
// in the process's local time zone.
func NewAggregator(s store.Store, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		store:    s,
		logger:   logger,
		now:      time.Now,
		location: time.Local,
	}
}

// StartOfDay is midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// StartOfWeek is midnight of the Sunday on or before t in loc.
func StartOfWeek(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day()-int(t.Weekday()), 0, 0, 0, 0, loc)
}

// Snapshot counts successful entries all-time, today and this week. The three
// counts run concurrently. On failure the snapshot is zero and err is set.
func (a *Aggregator) Snapshot(ctx context.Context) (models.StatsSnapshot, error) {
	now := a.now()
	dayStart := StartOfDay(now, a.location)
	weekStart := StartOfWeek(now, a.location)

	var snapshot models.StatsSnapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := a.store.CountSuccessful(gctx, time.Time{})
		snapshot.Total = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountSuccessful(gctx, dayStart)
		snapshot.Today = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountSuccessful(gctx, weekStart)
		snapshot.ThisWeek = n
		return err
	})

	if err := g.Wait(); err != nil {
		a.logger.Warn("Failed to compute stats snapshot", zap.Error(err))
		return models.StatsSnapshot{}, err
	}
	return snapshot, nil
}

// Summary returns totals over every entry, or zeros and err on failure.
func (a *Aggregator) Summary(ctx context.Context) (models.ProcessingSummary, error) {
	summary, err := a.store.Summary(ctx)
	if err != nil {
		a.logger.Warn("Failed to compute processing summary", zap.Error(err))
		return models.ProcessingSummary{}, err
	}
	return summary, nil
}

// Recent returns up to limit entries newest first, or an empty slice and err.
func (a *Aggregator) Recent(ctx context.Context, limit int) ([]models.ProcessingLog, error) {
	entries, err := a.store.Recent(ctx, limit)
	if err != nil {
		a.logger.Warn("Failed to load recent entries", zap.Int("limit", limit), zap.Error(err))
		return []models.ProcessingLog{}, err
	}
	return entries, nil
}
