// Package scanner turns uploaded image bytes into a decoded QR payload.
//
// Prepare normalizes the raster so the estimated module width sits in a range
// the decoder handles well. The Engine then runs up to three polarity passes.
// Scanner ties both to a bounded WorkerPool and an end-to-end deadline.
package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/koios/qr-decoder/internal/config"
	apperrors "github.com/koios/qr-decoder/internal/errors"
	"github.com/koios/qr-decoder/pkg/models"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// Scanner is the decode path used by the HTTP layer.
type Scanner struct {
	pool    *WorkerPool
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a scanner backed by the production gozxing decoder.
func New(cfg *config.ScannerConfig, logger *zap.Logger) *Scanner {
	preprocessor := NewPreprocessor(PreprocessConfig{
		MinModulePixels: cfg.MinModulePixels,
		MaxModulePixels: cfg.MaxModulePixels,
		MaxPixels:       cfg.MaxPixels,
		MaxSourcePixels: cfg.MaxSourcePixels,
		Resampler:       cfg.Resampler,
	})
	return NewWithDecoder(preprocessor, NewZXingDecoder(), cfg.Workers, cfg.Timeout, logger)
}

// NewWithDecoder builds a scanner around an arbitrary Decoder.
func NewWithDecoder(preprocessor *Preprocessor, decoder Decoder, workers int, timeout time.Duration, logger *zap.Logger) *Scanner {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Scanner{
		pool:    NewWorkerPool(workers, logger, preprocessor, NewEngine(decoder)),
		timeout: timeout,
		logger:  logger,
	}
}

// Start launches the worker pool.
func (s *Scanner) Start() {
	s.pool.Start()
}

// Stop waits for in-flight decodes and shuts the pool down.
func (s *Scanner) Stop() {
	s.pool.Stop()
}

// Scan prepares and decodes raw within the configured deadline. A code that
// cannot be found is a NotFound result, not an error. Errors carry a kind from
// internal/errors: image_load, timeout, or internal.
func (s *Scanner) Scan(ctx context.Context, raw []byte, declared Dimensions) (models.DecodedResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.pool.Submit(ctx, raw, declared)
	if err == nil {
		return result, nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("Scan exceeded deadline", zap.Duration("timeout", s.timeout), zap.Int("bytes", len(raw)))
		return models.DecodedResult{}, apperrors.Wrap(apperrors.KindTimeout, "scanner.Scan",
			"Processing timed out", err)
	case errors.Is(err, context.Canceled):
		return models.DecodedResult{}, apperrors.Wrap(apperrors.KindInternal, "scanner.Scan",
			"request cancelled", err)
	default:
		return models.DecodedResult{}, apperrors.Wrap(apperrors.KindInternal, "scanner.Scan",
			"scan failed", err)
	}
}
