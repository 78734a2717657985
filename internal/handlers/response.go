package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/koios/qr-decoder/internal/errors"
	"go.uber.org/zap"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", zap.Int("status", status), zap.Error(err))
	}
}

// writeError maps err onto its HTTP status. Internal failures get a generic message.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := apperrors.KindOf(err)
	status := apperrors.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("kind", string(kind)), zap.Error(err))
	}

	writeJSON(w, logger, status, errorResponse{
		Success: false,
		Error:   apperrors.MessageOf(err),
		Code:    string(kind),
	})
}

func methodNotAllowed(w http.ResponseWriter, logger *zap.Logger, allowed string) {
	w.Header().Set("Allow", allowed)
	writeJSON(w, logger, http.StatusMethodNotAllowed, errorResponse{
		Success: false,
		Error:   "Method not allowed",
		Code:    "method_not_allowed",
	})
}
