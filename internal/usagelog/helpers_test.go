package usagelog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/koios/qr-decoder/internal/store"
	"github.com/koios/qr-decoder/pkg/models"
)

var errStoreDown = errors.New("connection refused")

// brokenStore fails every call, like a database that never came up.
type brokenStore struct{}

func (brokenStore) Insert(context.Context, *models.ProcessingLog) error { return errStoreDown }
func (brokenStore) CountSuccessful(context.Context, time.Time) (int64, error) {
	return 0, errStoreDown
}
func (brokenStore) Recent(context.Context, int) ([]models.ProcessingLog, error) {
	return nil, errStoreDown
}
func (brokenStore) Summary(context.Context) (models.ProcessingSummary, error) {
	return models.ProcessingSummary{}, errStoreDown
}
func (brokenStore) Prune(context.Context, time.Time) (int64, error) { return 0, errStoreDown }
func (brokenStore) Ping(context.Context) error                      { return errStoreDown }
func (brokenStore) Close() error                                    { return nil }

// gatedStore blocks inserts until release is closed.
type gatedStore struct {
	store.Store
	release chan struct{}
	once    sync.Once
}

func newGatedStore() *gatedStore {
	return &gatedStore{Store: store.NewMemory(), release: make(chan struct{})}
}

func (s *gatedStore) Insert(ctx context.Context, entry *models.ProcessingLog) error {
	<-s.release
	return s.Store.Insert(ctx, entry)
}

func (s *gatedStore) open() {
	s.once.Do(func() { close(s.release) })
}
