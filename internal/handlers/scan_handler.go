package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/koios/qr-decoder/internal/errors"
	"github.com/koios/qr-decoder/internal/ratelimit"
	"github.com/koios/qr-decoder/internal/scanner"
	"github.com/koios/qr-decoder/internal/usagelog"
	"github.com/koios/qr-decoder/pkg/models"
	"go.uber.org/zap"
)

const (
	// multipartOverhead is the slack allowed on top of the file ceiling for
	// boundaries, part headers and the optional dimension fields.
	multipartOverhead = 1 << 20
	formMemory        = 1 << 20

	msgRateLimited = "Rate limit exceeded. Please try again later."
	msgNotFound    = "No QR code found in the image"
	msgBadForm     = "Invalid multipart form"

	serviceName    = "qr-decoder"
	serviceVersion = "1.0.0"

	healthCheckTimeout = 2 * time.Second
)

// Scanner decodes an uploaded image.
type Scanner interface {
	Scan(ctx context.Context, raw []byte, declared scanner.Dimensions) (models.DecodedResult, error)
	SelfCheck(ctx context.Context) error
}

// UsageRecorder receives one entry per processing attempt.
type UsageRecorder interface {
	Enqueue(entry models.ProcessingLog) usagelog.EnqueueResult
	Write(ctx context.Context, entry models.ProcessingLog) usagelog.WriteOutcome
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check HealthCheck
}

// processResponse is the body of a 200 reply from POST /process.
type processResponse struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ScanHandler serves the decode endpoint and the health checks.
type ScanHandler struct {
	scanner  Scanner
	limiter  ratelimit.Limiter
	recorder UsageRecorder
	uploads  *UploadValidator
	logger   *zap.Logger
	now      func() time.Time
	checks   []namedCheck
}

// NewScanHandler creates a new scan handler
func NewScanHandler(s Scanner, limiter ratelimit.Limiter, recorder UsageRecorder, uploads *UploadValidator, logger *zap.Logger) *ScanHandler {
	return &ScanHandler{
		scanner:  s,
		limiter:  limiter,
		recorder: recorder,
		uploads:  uploads,
		logger:   logger,
		now:      time.Now,
	}
}

// AddHealthCheck reports the named dependency on GET /health. A failing check
// marks the service degraded; the status code stays 200.
func (h *ScanHandler) AddHealthCheck(name string, check HealthCheck) {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
}

// RegisterRoutes registers the decode and health routes
func (h *ScanHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/process", h.handleProcess)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/health/decoder", h.handleDecoderHealth)
}

// handleProcess handles POST /process - decodes the QR code in an uploaded image
func (h *ScanHandler) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, h.logger, http.MethodPost)
		return
	}

	start := h.now()
	clientID := ratelimit.ClientKey(r)

	if !h.admit(r.Context(), w, clientID) {
		writeError(w, h.logger, apperrors.New(apperrors.KindRateLimit, "handlers.process", msgRateLimited))
		return
	}

	upload, err := h.readUpload(w, r)
	if err != nil {
		h.logger.Debug("Rejected upload", zap.String("client_id", clientID), zap.Error(err))
		writeError(w, h.logger, err)
		return
	}

	// The decode is bounded by the scanner deadline only; a client hanging up
	// does not abort it.
	result, scanErr := h.scanner.Scan(context.WithoutCancel(r.Context()), upload.raw, upload.declared)
	elapsed := h.now().Sub(start)

	entry := models.ProcessingLog{
		FileName:         upload.fileName,
		FileSize:         int64(len(upload.raw)),
		FileType:         upload.contentType,
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000,
		Timestamp:        h.now(),
		ClientID:         clientID,
	}

	if scanErr != nil {
		entry.ErrorMessage = apperrors.MessageOf(scanErr)
		h.record(entry)
		writeError(w, h.logger, scanErr)
		return
	}

	status := http.StatusOK
	var response processResponse
	if payload, ok := result.Payload(); ok {
		entry.Success = true
		entry.Content = payload
		response = processResponse{Success: true, Content: payload}
	} else {
		notFound := apperrors.New(apperrors.KindCodeNotFound, "handlers.process", msgNotFound)
		entry.ErrorMessage = apperrors.MessageOf(notFound)
		status = apperrors.HTTPStatus(notFound.Kind)
		response = processResponse{Success: false, Error: entry.ErrorMessage, Code: string(notFound.Kind)}
	}
	h.record(entry)

	h.logger.Info("Processed image",
		zap.String("file_type", upload.contentType),
		zap.Int("bytes", len(upload.raw)),
		zap.Bool("found", entry.Success),
		zap.Duration("elapsed", elapsed))

	writeJSON(w, h.logger, status, response)
}

// admit applies the rate limit and sets the X-RateLimit headers. A limiter
// backend failure admits the request.
func (h *ScanHandler) admit(ctx context.Context, w http.ResponseWriter, clientID string) bool {
	decision, err := h.limiter.Allow(ctx, clientID)
	if err != nil {
		h.logger.Warn("Rate limiter unavailable, admitting request",
			zap.String("client_id", clientID), zap.Error(err))
		return true
	}

	header := w.Header()
	header.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	header.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining()))
	header.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

	if !decision.Allowed {
		retry := decision.RetryAfter(h.now())
		header.Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
		h.logger.Info("Rate limit exceeded", zap.String("client_id", clientID), zap.Int("count", decision.Count))
	}
	return decision.Allowed
}

type upload struct {
	raw         []byte
	fileName    string
	contentType string
	declared    scanner.Dimensions
}

// readUpload parses the multipart body and validates the image part.
func (h *ScanHandler) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.uploads.MaxSize()+multipartOverhead)

	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.New(apperrors.KindValidation, "handlers.readUpload", msgFileTooLarge)
		}
		return nil, apperrors.Wrap(apperrors.KindValidation, "handlers.readUpload", msgBadForm, err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "handlers.readUpload", msgNoFile, err)
	}
	defer file.Close()

	if err := h.uploads.Validate(header); err != nil {
		return nil, err
	}

	declared, err := parseDimensions(r.FormValue("width"), r.FormValue("height"))
	if err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(io.LimitReader(file, h.uploads.MaxSize()+1))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "handlers.readUpload", msgBadForm, err)
	}
	if int64(len(raw)) > h.uploads.MaxSize() {
		return nil, apperrors.New(apperrors.KindValidation, "handlers.readUpload", msgFileTooLarge)
	}

	return &upload{
		raw:         raw,
		fileName:    header.Filename,
		contentType: ContentType(header),
		declared:    declared,
	}, nil
}

// record hands the entry to the usage logger without waiting on it.
func (h *ScanHandler) record(entry models.ProcessingLog) {
	if res := h.recorder.Enqueue(entry); res != usagelog.Queued {
		h.logger.Debug("Usage log entry not queued", zap.Stringer("result", res))
	}
}

// handleHealth handles GET /health - returns service health status
func (h *ScanHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, h.logger, http.MethodGet)
		return
	}

	body := map[string]interface{}{
		"status":  "healthy",
		"service": serviceName,
		"version": serviceVersion,
	}

	if len(h.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		deps := make(map[string]string, len(h.checks))
		for _, c := range h.checks {
			if err := c.check(ctx); err != nil {
				h.logger.Warn("Dependency health check failed", zap.String("dependency", c.name), zap.Error(err))
				deps[c.name] = "down"
				body["status"] = "degraded"
				continue
			}
			deps[c.name] = "up"
		}
		body["dependencies"] = deps
	}

	writeJSON(w, h.logger, http.StatusOK, body)
}

// handleDecoderHealth handles GET /health/decoder - round-trips a generated code
func (h *ScanHandler) handleDecoderHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, h.logger, http.MethodGet)
		return
	}

	if err := h.scanner.SelfCheck(r.Context()); err != nil {
		h.logger.Error("Decoder self-check failed", zap.Error(err))
		writeJSON(w, h.logger, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  "decoder self-check failed",
		})
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"decoder": "gozxing",
	})
}
