package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/koios/qr-decoder/internal/config"
	"github.com/koios/qr-decoder/internal/ratelimit"
	"github.com/koios/qr-decoder/internal/scanner"
	"github.com/koios/qr-decoder/internal/store"
	"github.com/koios/qr-decoder/internal/usagelog"
	"go.uber.org/zap"
)

// TestScanThenStats drives the full stack: a real decoder, the usage logger
// and the aggregator over an in-memory store.
func TestScanThenStats(t *testing.T) {
	logger := zap.NewNop()
	cfg := config.Default()

	s := scanner.New(&cfg.Scanner, logger)
	s.Start()
	defer s.Stop()

	st := store.NewMemory()
	usage := usagelog.New(st, usagelog.ConfigFrom(cfg.UsageLog), logger)
	usage.Start()

	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{Window: time.Minute, MaxRequests: 10}, logger)

	mux := http.NewServeMux()
	NewScanHandler(s, limiter, usage, NewUploadValidator(cfg.Upload), logger).RegisterRoutes(mux)
	NewStatsHandler(usagelog.NewAggregator(st, logger), usage, logger).RegisterRoutes(mux)

	for _, inverted := range []bool{false, true} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, multipartRequest(t, uploadPart{
			field: "image", fileName: "code.png", contentType: "image/png",
			data: qrPNG(t, "https://example.com/ticket/42", inverted),
		}))
		if rec.Code != http.StatusOK {
			t.Fatalf("inverted=%v: status = %d, body %s", inverted, rec.Code, rec.Body.String())
		}
		body := decodeBody(t, rec)
		if body["success"] != true || body["content"] != "https://example.com/ticket/42" {
			t.Fatalf("inverted=%v: unexpected body %v", inverted, body)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, multipartRequest(t, uploadPart{
		field: "image", fileName: "broken.png", contentType: "image/png", data: []byte("not an image"),
	}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("broken upload status = %d", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := usage.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	body := decodeBody(t, get(mux, "/stats"))
	data := body["data"].(map[string]interface{})
	if data["total"] != float64(2) || data["today"] != float64(2) || data["thisWeek"] != float64(2) {
		t.Errorf("unexpected stats: %v", data)
	}

	body = decodeBody(t, get(mux, "/stats/summary"))
	summary := body["data"].(map[string]interface{})
	if summary["totalProcessed"] != float64(3) {
		t.Errorf("unexpected summary: %v", summary)
	}

	body = decodeBody(t, get(mux, "/logs/recent?limit=5"))
	entries := body["data"].([]interface{})
	if len(entries) != 3 {
		t.Fatalf("recent returned %d entries", len(entries))
	}
	for _, e := range entries {
		entry := e.(map[string]interface{})
		if _, ok := entry["qrCodeContent"]; ok {
			t.Errorf("payload stored despite privacy default: %v", entry)
		}
		if _, ok := entry["ipAddress"]; ok {
			t.Errorf("client address stored despite privacy default: %v", entry)
		}
	}
}

// TestScanWithUnavailableStore closes the database before serving: decoding
// is unaffected and statistics degrade to zeros.
func TestScanWithUnavailableStore(t *testing.T) {
	logger := zap.NewNop()
	cfg := config.Default()

	db, err := store.OpenGorm(store.DriverSQLite, "file::memory:")
	if err != nil {
		t.Fatalf("OpenGorm: %v", err)
	}
	st, err := store.NewGorm(db)
	if err != nil {
		t.Fatalf("NewGorm: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s := scanner.New(&cfg.Scanner, logger)
	s.Start()
	defer s.Stop()

	usage := usagelog.New(st, usagelog.ConfigFrom(cfg.UsageLog), logger)
	usage.Start()
	defer usage.Stop(context.Background())

	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{}, logger)

	mux := http.NewServeMux()
	NewScanHandler(s, limiter, usage, NewUploadValidator(cfg.Upload), logger).RegisterRoutes(mux)
	NewStatsHandler(usagelog.NewAggregator(st, logger), usage, logger).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, multipartRequest(t, uploadPart{
		field: "image", fileName: "code.png", contentType: "image/png",
		data: qrPNG(t, "still decoding", false),
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["success"] != true || body["content"] != "still decoding" {
		t.Errorf("unexpected body: %v", body)
	}

	rec = get(mux, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	data := body["data"].(map[string]interface{})
	if body["success"] != false || data["total"] != float64(0) {
		t.Errorf("unexpected stats body: %v", body)
	}

	rec = postLog(mux, `{"fileName":"a.png","fileSize":1,"fileType":"image/png","processingTime":1,"success":true}`)
	if body := decodeBody(t, rec); rec.Code != http.StatusOK || body["success"] != true || body["logError"] != msgLogError {
		t.Errorf("unexpected log reply: %d %v", rec.Code, body)
	}
}
