package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	apperrors "github.com/koios/qr-decoder/internal/errors"
	"github.com/koios/qr-decoder/internal/ratelimit"
	"github.com/koios/qr-decoder/pkg/models"
	"go.uber.org/zap"
)

const (
	maxLogBody = 64 << 10

	msgStatsFailed   = "Failed to fetch statistics"
	msgSummaryFailed = "Failed to fetch processing summary"
	msgRecentFailed  = "Failed to fetch recent logs"
	msgLogCreated    = "Log created successfully"
	msgLogAbsorbed   = "QR code processed successfully, but logging failed"
	msgLogError      = "Failed to save processing log"
)

// StatsReader answers the read-side usage queries.
type StatsReader interface {
	Snapshot(ctx context.Context) (models.StatsSnapshot, error)
	Summary(ctx context.Context) (models.ProcessingSummary, error)
	Recent(ctx context.Context, limit int) ([]models.ProcessingLog, error)
}

// dataResponse wraps read-side replies. Data is always present, zero-valued
// when the store could not be read.
type dataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error,omitempty"`
}

// logResponse is the reply to POST /log. Success is true whenever the body was
// well-formed, even if the entry could not be stored.
type logResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	LogError string `json:"logError,omitempty"`
}

// StatsHandler serves the usage statistics and the client-side log endpoint.
type StatsHandler struct {
	stats    StatsReader
	recorder UsageRecorder
	logger   *zap.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(stats StatsReader, recorder UsageRecorder, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{
		stats:    stats,
		recorder: recorder,
		logger:   logger,
	}
}

// RegisterRoutes registers the statistics and logging routes
func (h *StatsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stats", h.handleStats)
	mux.HandleFunc("/stats/summary", h.handleSummary)
	mux.HandleFunc("/logs/recent", h.handleRecent)
	mux.HandleFunc("/log", h.handleLog)
}

// handleStats handles GET /stats - successful scan counts
func (h *StatsHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, h.logger, http.MethodGet)
		return
	}

	snapshot, err := h.stats.Snapshot(r.Context())
	if err != nil {
		writeJSON(w, h.logger, http.StatusOK, dataResponse{Success: false, Data: models.StatsSnapshot{}, Error: msgStatsFailed})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dataResponse{Success: true, Data: snapshot})
}

// handleSummary handles GET /stats/summary - totals over every attempt
func (h *StatsHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, h.logger, http.MethodGet)
		return
	}

	summary, err := h.stats.Summary(r.Context())
	if err != nil {
		writeJSON(w, h.logger, http.StatusOK, dataResponse{Success: false, Data: models.ProcessingSummary{}, Error: msgSummaryFailed})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dataResponse{Success: true, Data: summary})
}

// handleRecent handles GET /logs/recent?limit=N - newest entries first
func (h *StatsHandler) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, h.logger, http.MethodGet)
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	entries, err := h.stats.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, h.logger, http.StatusOK, dataResponse{Success: false, Data: []models.ProcessingLog{}, Error: msgRecentFailed})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dataResponse{Success: true, Data: entries})
}

// handleLog handles POST /log - records an attempt reported by a client
func (h *StatsHandler) handleLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, h.logger, http.MethodPost)
		return
	}

	var req LogRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLogBody))
	if err := decoder.Decode(&req); err != nil {
		writeError(w, h.logger, apperrors.Wrap(apperrors.KindValidation, "handlers.log", msgInvalidLog, err))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, err)
		return
	}

	outcome := h.recorder.Write(r.Context(), req.Entry(ratelimit.ClientKey(r)))
	if !outcome.Persisted {
		h.logger.Warn("Client log entry not persisted", zap.String("file_name", req.FileName), zap.Error(outcome.Err))
		writeJSON(w, h.logger, http.StatusOK, logResponse{Success: true, Message: msgLogAbsorbed, LogError: msgLogError})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, logResponse{Success: true, Message: msgLogCreated})
}
