package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/koios/qr-decoder/internal/errors"
	"github.com/koios/qr-decoder/pkg/models"
	"go.uber.org/zap"
)

// ScanJob is one upload waiting for a worker.
type ScanJob struct {
	Raw      []byte
	Declared Dimensions
	Result   chan *ScanResult
}

// ScanResult is what a worker hands back for a job.
type ScanResult struct {
	Decoded models.DecodedResult
	Error   error
}

// WorkerPool bounds how many decodes run at once. Decoding is CPU bound, so the
// worker count is the effective concurrency limit of the service.
type WorkerPool struct {
	workers      int
	jobQueue     chan *ScanJob
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	logger       *zap.Logger
	preprocessor *Preprocessor
	engine       *Engine

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int, logger *zap.Logger, preprocessor *Preprocessor, engine *Engine) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workers:      workers,
		jobQueue:     make(chan *ScanJob, workers*2),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger,
		preprocessor: preprocessor,
		engine:       engine,
	}
}

// Start launches all worker goroutines
func (wp *WorkerPool) Start() {
	wp.logger.Info("Starting scan worker pool",
		zap.Int("workers", wp.workers),
		zap.Int("queue_size", cap(wp.jobQueue)))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels pending jobs and waits for running decodes to finish.
func (wp *WorkerPool) Stop() {
	wp.logger.Info("Stopping scan worker pool")
	wp.cancel()

	wp.mu.Lock()
	if !wp.closed {
		wp.closed = true
		close(wp.jobQueue)
	}
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.logger.Info("Scan worker pool stopped")
}

// Submit queues raw for decoding and waits for the outcome or ctx.
func (wp *WorkerPool) Submit(ctx context.Context, raw []byte, declared Dimensions) (models.DecodedResult, error) {
	job := &ScanJob{
		Raw:      raw,
		Declared: declared,
		Result:   make(chan *ScanResult, 1),
	}

	if err := wp.enqueue(ctx, job); err != nil {
		return models.DecodedResult{}, err
	}

	select {
	case result := <-job.Result:
		return result.Decoded, result.Error
	case <-ctx.Done():
		return models.DecodedResult{}, ctx.Err()
	case <-wp.ctx.Done():
		return models.DecodedResult{}, errPoolStopped
	}
}

var errPoolStopped = apperrors.New(apperrors.KindInternal, "scanner.Submit", "worker pool is shutting down")

func (wp *WorkerPool) enqueue(ctx context.Context, job *ScanJob) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return errPoolStopped
	}

	select {
	case wp.jobQueue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.ctx.Done():
		return errPoolStopped
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.Debug("Scan worker started", zap.Int("worker_id", id))

	for {
		select {
		case job, ok := <-wp.jobQueue:
			if !ok {
				wp.logger.Debug("Scan worker stopping (queue closed)", zap.Int("worker_id", id))
				return
			}
			wp.processJob(id, job)
		case <-wp.ctx.Done():
			wp.logger.Debug("Scan worker stopping (context cancelled)", zap.Int("worker_id", id))
			return
		}
	}
}

func (wp *WorkerPool) processJob(workerID int, job *ScanJob) {
	start := time.Now()
	result := wp.scan(job)
	job.Result <- result

	fields := []zap.Field{
		zap.Int("worker_id", workerID),
		zap.Int("bytes", len(job.Raw)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if result.Error != nil {
		wp.logger.Debug("Worker completed scan with error", append(fields, zap.Error(result.Error))...)
	} else {
		wp.logger.Debug("Worker completed scan", append(fields, zap.Bool("found", result.Decoded.IsFound()))...)
	}
}

// scan runs Prepare and the decode cascade. A panic inside a codec becomes an
// internal error for this job only.
func (wp *WorkerPool) scan(job *ScanJob) (result *ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("Recovered from panic during scan", zap.Any("panic", r))
			result = &ScanResult{
				Error: apperrors.Wrap(apperrors.KindInternal, "scanner.scan", "decode panicked", fmt.Errorf("%v", r)),
			}
		}
	}()

	buf, err := wp.preprocessor.Prepare(job.Raw, job.Declared)
	if err != nil {
		return &ScanResult{Error: err}
	}
	return &ScanResult{Decoded: wp.engine.Decode(buf)}
}
