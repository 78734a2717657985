// Package usagelog records processing attempts off the request path and
// answers the read-side statistics queries.
//
// Logging failures never reach the caller of Enqueue. Write reports them
// explicitly through WriteOutcome so the synchronous log endpoint can still
// answer success while saying what happened.
package usagelog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/koios/qr-decoder/internal/config"
	"github.com/koios/qr-decoder/internal/store"
	"github.com/koios/qr-decoder/pkg/models"
	"go.uber.org/zap"
)

// EnqueueResult reports what happened to an entry handed to Enqueue.
type EnqueueResult int

const (
	Queued EnqueueResult = iota
	// Dropped means the queue was full. The entry is discarded.
	Dropped
	// Closed means the logger is stopping and accepts nothing new.
	Closed
)

func (r EnqueueResult) String() string {
	switch r {
	case Queued:
		return "queued"
	case Dropped:
		return "dropped"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// WriteOutcome is the result of a synchronous Write. Err is set when the
// entry was not persisted; it is informational and never a request failure.
type WriteOutcome struct {
	Persisted bool
	Err       error
}

// Counters are cumulative since the logger was created.
type Counters struct {
	Persisted int64 `json:"persisted"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pruned    int64 `json:"pruned"`
}

// Config controls the queue and the privacy and retention policy.
type Config struct {
	QueueSize     int
	Workers       int
	WriteTimeout  time.Duration
	RetentionDays int
	PruneInterval time.Duration
	StoreClientIP bool
	StorePayload  bool
}

// ConfigFrom maps the service configuration onto Config.
func ConfigFrom(cfg config.UsageLogConfig) Config {
	return Config{
		QueueSize:     cfg.QueueSize,
		Workers:       cfg.Workers,
		WriteTimeout:  cfg.WriteTimeout,
		RetentionDays: cfg.RetentionDays,
		StoreClientIP: cfg.StoreClientIP,
		StorePayload:  cfg.StorePayload,
	}
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = time.Hour
	}
	return c
}

// Logger hands entries to a bounded queue drained by dedicated workers.
type Logger struct {
	store  store.Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	queue chan models.ProcessingLog
	wg    sync.WaitGroup
	stop  chan struct{}

	mu     sync.RWMutex
	closed bool

	persisted atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	pruned    atomic.Int64
}

// New creates a logger. Start must be called before queued entries are written.
func New(s store.Store, cfg Config, logger *zap.Logger) *Logger {
	cfg = cfg.withDefaults()
	return &Logger{
		store:  s,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		queue:  make(chan models.ProcessingLog, cfg.QueueSize),
		stop:   make(chan struct{}),
	}
}

// Start launches the writer workers and, when retention is set, the pruner.
func (l *Logger) Start() {
	l.logger.Info("Starting usage logger",
		zap.Int("workers", l.cfg.Workers),
		zap.Int("queue_size", l.cfg.QueueSize),
		zap.Int("retention_days", l.cfg.RetentionDays))

	for i := 0; i < l.cfg.Workers; i++ {
		l.wg.Add(1)
		go l.worker(i)
	}

	if l.cfg.RetentionDays > 0 {
		l.wg.Add(1)
		go l.pruneLoop()
	}
}

// Stop refuses new entries, drains the queue and waits for the workers.
// It returns ctx.Err() if the drain does not finish in time.
func (l *Logger) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
		close(l.stop)
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("Usage logger stopped", zap.Any("counters", l.Counters()))
		return nil
	case <-ctx.Done():
		l.logger.Warn("Usage logger stop timed out", zap.Int("pending", len(l.queue)))
		return ctx.Err()
	}
}

// Enqueue hands entry to the workers without blocking.
func (l *Logger) Enqueue(entry models.ProcessingLog) EnqueueResult {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return Closed
	}

	select {
	case l.queue <- l.prepare(entry):
		return Queued
	default:
		l.dropped.Add(1)
		l.logger.Warn("Usage log queue full, dropping entry",
			zap.String("file_name", entry.FileName),
			zap.Int("queue_size", l.cfg.QueueSize))
		return Dropped
	}
}

// Write persists entry synchronously within the configured write timeout.
func (l *Logger) Write(ctx context.Context, entry models.ProcessingLog) WriteOutcome {
	prepared := l.prepare(entry)
	if err := l.persist(ctx, &prepared); err != nil {
		return WriteOutcome{Err: err}
	}
	return WriteOutcome{Persisted: true}
}

// Counters returns a snapshot of the delivery counters.
func (l *Logger) Counters() Counters {
	return Counters{
		Persisted: l.persisted.Load(),
		Failed:    l.failed.Load(),
		Dropped:   l.dropped.Load(),
		Pruned:    l.pruned.Load(),
	}
}

// prepare assigns identity and time and applies the privacy policy.
func (l *Logger) prepare(entry models.ProcessingLog) models.ProcessingLog {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	if !l.cfg.StoreClientIP {
		entry.ClientID = ""
	}
	if !l.cfg.StorePayload {
		entry.Content = ""
	}
	return entry
}

func (l *Logger) persist(ctx context.Context, entry *models.ProcessingLog) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.WriteTimeout)
	defer cancel()

	if err := l.store.Insert(ctx, entry); err != nil {
		l.failed.Add(1)
		l.logger.Warn("Failed to persist usage log entry",
			zap.String("id", entry.ID),
			zap.Bool("success", entry.Success),
			zap.Error(err))
		return err
	}

	l.persisted.Add(1)
	return nil
}

func (l *Logger) worker(id int) {
	defer l.wg.Done()

	l.logger.Debug("Usage log worker started", zap.Int("worker_id", id))
	for entry := range l.queue {
		_ = l.persist(context.Background(), &entry)
	}
	l.logger.Debug("Usage log worker stopping (queue closed)", zap.Int("worker_id", id))
}

func (l *Logger) pruneLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.PruneInterval)
	defer ticker.Stop()

	l.Prune(context.Background())
	for {
		select {
		case <-ticker.C:
			l.Prune(context.Background())
		case <-l.stop:
			return
		}
	}
}

// Prune deletes entries older than the retention horizon. It is a no-op when
// retention is disabled.
func (l *Logger) Prune(ctx context.Context) int64 {
	if l.cfg.RetentionDays <= 0 {
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.WriteTimeout)
	defer cancel()

	cutoff := l.now().AddDate(0, 0, -l.cfg.RetentionDays)
	removed, err := l.store.Prune(ctx, cutoff)
	if err != nil {
		l.logger.Warn("Failed to prune usage log", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0
	}

	if removed > 0 {
		l.pruned.Add(removed)
		l.logger.Info("Pruned usage log", zap.Int64("removed", removed), zap.Time("cutoff", cutoff))
	}
	return removed
}
