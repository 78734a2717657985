package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/koios/qr-decoder/pkg/models"
)

type memoryStore struct {
	mu      sync.RWMutex
	entries []models.ProcessingLog
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return &memoryStore{}
}

func (s *memoryStore) Insert(_ context.Context, entry *models.ProcessingLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memoryStore) CountSuccessful(_ context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, e := range s.entries {
		if e.Success && !e.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *memoryStore) Recent(_ context.Context, limit int) ([]models.ProcessingLog, error) {
	s.mu.RLock()
	sorted := make([]models.ProcessingLog, len(s.entries))
	copy(sorted, s.entries)
	s.mu.RUnlock()

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if limit >= 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

func (s *memoryStore) Summary(_ context.Context) (models.ProcessingSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var successful int64
	var totalMs float64
	for _, e := range s.entries {
		if e.Success {
			successful++
		}
		totalMs += e.ProcessingTimeMs
	}

	total := int64(len(s.entries))
	avg := 0.0
	if total > 0 {
		avg = totalMs / float64(total)
	}
	return summarize(total, successful, avg), nil
}

func (s *memoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	for _, e := range s.entries {
		if !e.Timestamp.Before(before) {
			kept = append(kept, e)
		}
	}
	removed := int64(len(s.entries) - len(kept))
	s.entries = kept
	return removed, nil
}

func (s *memoryStore) Ping(context.Context) error {
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}
