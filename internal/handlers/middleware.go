package handlers

import (
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	apperrors "github.com/koios/qr-decoder/internal/errors"
	"go.uber.org/zap"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one is outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// RequestLogger assigns a request ID and logs every request when it completes.
// An incoming X-Request-ID is kept.
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			logger.Info("HTTP request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Int("bytes", rec.bytes),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

// Recover turns a handler panic into a 500 JSON reply. http.ErrAbortHandler
// is re-raised so net/http can abort the response as asked.
func Recover(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("Recovered from handler panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.Stack("stack"))
				writeError(w, logger, apperrors.New(apperrors.KindInternal, "handlers.Recover", fmt.Sprintf("panic: %v", rec)))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

var securityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"X-XSS-Protection":        "1; mode=block",
	"Referrer-Policy":         "strict-origin-when-cross-origin",
	"Content-Security-Policy": "default-src 'self'",
}

// SecurityHeaders sets the standard hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range securityHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// APIKeyAuth requires one of keys in X-API-Key or an Authorization bearer
// token. Health checks stay open. With no keys configured it is a no-op.
func APIKeyAuth(keys []string, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					presented = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
				}
			}

			if !validKey(keys, presented) {
				logger.Warn("Rejected request without valid API key", zap.String("path", r.URL.Path))
				writeJSON(w, logger, http.StatusUnauthorized, errorResponse{
					Success: false,
					Error:   "Unauthorized",
					Code:    "unauthorized",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validKey(keys []string, presented string) bool {
	if presented == "" {
		return false
	}
	match := 0
	for _, k := range keys {
		match |= subtle.ConstantTimeCompare([]byte(k), []byte(presented))
	}
	return match == 1
}

type compressResponseWriter struct {
	http.ResponseWriter
	writer io.Writer
}

func (w *compressResponseWriter) WriteHeader(status int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(status)
}

func (w *compressResponseWriter) Write(b []byte) (int, error) {
	return w.writer.Write(b)
}

// Compression encodes responses with zstd or gzip when the client accepts it.
func Compression(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acceptEncoding := r.Header.Get("Accept-Encoding")
		w.Header().Add("Vary", "Accept-Encoding")

		switch {
		case strings.Contains(acceptEncoding, "zstd"):
			encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			defer encoder.Close()
			w.Header().Set("Content-Encoding", "zstd")
			next.ServeHTTP(&compressResponseWriter{ResponseWriter: w, writer: encoder}, r)
		case strings.Contains(acceptEncoding, "gzip"):
			gz := gzip.NewWriter(w)
			defer gz.Close()
			w.Header().Set("Content-Encoding", "gzip")
			next.ServeHTTP(&compressResponseWriter{ResponseWriter: w, writer: gz}, r)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
