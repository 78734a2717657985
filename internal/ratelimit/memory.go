package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type entry struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps per-client windows in a bounded map guarded by a mutex.
// Start launches the periodic sweep of expired windows; Stop ends it and clears state.
type MemoryLimiter struct {
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]*entry

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(cfg Config, logger *zap.Logger) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
func (l *MemoryLimiter) Start() {
	l.logger.Info("Starting rate limiter sweep",
		zap.Duration("interval", l.cfg.SweepInterval),
		zap.Int("max_clients", l.cfg.MaxClients))

	go func() {
		ticker := time.NewTicker(l.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := l.Sweep(); removed > 0 {
					l.logger.Debug("Swept expired rate limit windows", zap.Int("removed", removed))
				}
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop ends the sweep loop and drops all windows. Safe to call without Start.
func (l *MemoryLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})

	l.mu.Lock()
	l.entries = make(map[string]*entry)
	l.mu.Unlock()

	l.logger.Info("Rate limiter stopped")
}

// Allow applies the fixed-window rule for clientID.
func (l *MemoryLimiter) Allow(_ context.Context, clientID string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[clientID]
	if !ok || now.After(e.resetAt) {
		if !ok && len(l.entries) >= l.cfg.MaxClients {
			l.sweepLocked(now)
			if len(l.entries) >= l.cfg.MaxClients {
				l.logger.Warn("Rate limiter at capacity, rejecting new client",
					zap.String("client_id", clientID),
					zap.Int("max_clients", l.cfg.MaxClients))
				return Decision{Allowed: false, Limit: l.cfg.MaxRequests, ResetAt: now.Add(l.cfg.SweepInterval)}, nil
			}
		}
		e = &entry{count: 1, resetAt: now.Add(l.cfg.Window)}
		l.entries[clientID] = e
		return Decision{Allowed: true, Count: 1, Limit: l.cfg.MaxRequests, ResetAt: e.resetAt}, nil
	}

	if e.count >= l.cfg.MaxRequests {
		return Decision{Allowed: false, Count: e.count, Limit: l.cfg.MaxRequests, ResetAt: e.resetAt}, nil
	}

	e.count++
	return Decision{Allowed: true, Count: e.count, Limit: l.cfg.MaxRequests, ResetAt: e.resetAt}, nil
}

// Sweep removes expired windows and returns how many were dropped.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now)
}

func (l *MemoryLimiter) sweepLocked(now time.Time) int {
	removed := 0
	for id, e := range l.entries {
		if now.After(e.resetAt) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
