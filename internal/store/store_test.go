package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/koios/qr-decoder/internal/config"
	apperrors "github.com/koios/qr-decoder/internal/errors"
	"github.com/koios/qr-decoder/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2025, 6, 11, 9, 30, 0, 0, time.UTC)

func entry(id string, offset time.Duration, success bool, ms float64) *models.ProcessingLog {
	e := &models.ProcessingLog{
		ID:               id,
		FileName:         id + ".png",
		FileSize:         2048,
		FileType:         "image/png",
		ProcessingTimeMs: ms,
		Success:          success,
		Timestamp:        base.Add(offset),
	}
	if success {
		e.Content = "payload-" + id
	} else {
		e.ErrorMessage = "No QR code found in the image"
	}
	return e
}

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	dsn := fmt.Sprintf("file:test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := OpenGorm(DriverSQLite, dsn)
	require.NoError(t, err)
	s, err := NewGorm(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRedisStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s, err := NewRedis(client, "test:")
	require.NoError(t, err)
	return s, mr
}

func TestStoreDrivers(t *testing.T) {
	drivers := map[string]func(t *testing.T) Store{
		DriverMemory: func(*testing.T) Store { return NewMemory() },
		DriverSQLite: newSQLiteStore,
		DriverRedis: func(t *testing.T) Store {
			s, _ := newRedisStore(t)
			return s
		},
	}

	for name, open := range drivers {
		t.Run(name, func(t *testing.T) {
			exerciseStore(t, open(t))
		})
	}
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	fixtures := []*models.ProcessingLog{
		entry("a", -48*time.Hour, true, 100),
		entry("b", -2*time.Hour, false, 50),
		entry("c", -time.Hour, true, 30),
		entry("d", 0, true, 20),
	}
	for _, e := range fixtures {
		require.NoError(t, s.Insert(ctx, e))
	}

	t.Run("count successful", func(t *testing.T) {
		all, err := s.CountSuccessful(ctx, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), all)

		since, err := s.CountSuccessful(ctx, base.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(2), since, "lower bound is inclusive")

		future, err := s.CountSuccessful(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(0), future)
	})

	t.Run("recent newest first", func(t *testing.T) {
		recent, err := s.Recent(ctx, 3)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.Equal(t, []string{"d", "c", "b"}, []string{recent[0].ID, recent[1].ID, recent[2].ID})
		assert.Equal(t, "payload-d", recent[0].Content)
		assert.True(t, recent[0].Timestamp.Equal(base))
		assert.Equal(t, "No QR code found in the image", recent[2].ErrorMessage)
	})

	t.Run("summary", func(t *testing.T) {
		summary, err := s.Summary(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), summary.TotalProcessed)
		assert.InDelta(t, 75.0, summary.SuccessRate, 1e-9)
		assert.InDelta(t, 50.0, summary.AverageProcessingTime, 1e-9)
	})

	t.Run("prune", func(t *testing.T) {
		removed, err := s.Prune(ctx, base.Add(-2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed, "cutoff is exclusive")

		all, err := s.CountSuccessful(ctx, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), all)

		summary, err := s.Summary(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), summary.TotalProcessed)
	})
}

func TestEmptyStoreSummary(t *testing.T) {
	summary, err := NewMemory().Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingSummary{}, summary)

	sqliteSummary, err := newSQLiteStore(t).Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingSummary{}, sqliteSummary)
}

func TestRedisStoreUnavailable(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	ctx := context.Background()
	err := s.Insert(ctx, entry("x", 0, true, 1))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindPersistence))

	_, err = s.CountSuccessful(ctx, time.Time{})
	assert.True(t, apperrors.IsKind(err, apperrors.KindPersistence))

	assert.Error(t, s.Ping(ctx))
}

func TestSQLiteStoreClosed(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.Close())

	_, err := s.CountSuccessful(context.Background(), time.Time{})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindPersistence))
}

func TestNewFactory(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("memory", func(t *testing.T) {
		s, err := New(ctx, config.StoreConfig{Driver: DriverMemory}, Dependencies{}, logger)
		require.NoError(t, err)
		assert.NoError(t, s.Close())
	})

	t.Run("sqlite", func(t *testing.T) {
		dsn := fmt.Sprintf("file:factory-%d?mode=memory&cache=shared", time.Now().UnixNano())
		s, err := New(ctx, config.StoreConfig{Driver: DriverSQLite, DSN: dsn, ConnectTimeout: time.Second}, Dependencies{}, logger)
		require.NoError(t, err)
		assert.NoError(t, s.Close())
	})

	t.Run("redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		s, err := New(ctx, config.StoreConfig{Driver: DriverRedis}, Dependencies{Redis: client, RedisPrefix: "f:"}, logger)
		require.NoError(t, err)
		assert.NoError(t, s.Close())
	})

	t.Run("redis without client", func(t *testing.T) {
		_, err := New(ctx, config.StoreConfig{Driver: DriverRedis}, Dependencies{}, logger)
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := New(ctx, config.StoreConfig{Driver: "mongodb"}, Dependencies{}, logger)
		assert.Error(t, err)
	})
}

func TestRedisPruneKeepsTotalsWithDamagedEntries(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, entry("old-ok", -2*time.Hour, true, 10)))
	require.NoError(t, s.Insert(ctx, entry("old-miss", -2*time.Hour, false, 20)))
	require.NoError(t, s.Insert(ctx, entry("fresh", 0, true, 30)))

	require.NoError(t, mr.Set("test:log:old-ok", "{not json"))
	mr.Del("test:log:old-miss")

	removed, err := s.Prune(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	summary, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.TotalProcessed)
	assert.InDelta(t, 100.0, summary.SuccessRate, 0.001)
	assert.InDelta(t, 30.0, summary.AverageProcessingTime, 0.001)

	count, err := s.CountSuccessful(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
