package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := New(KindImageLoad, "scanner.prepare", "Failed to load image")
	wrapped := Wrap(KindInternal, "handlers.process", "unexpected", fmt.Errorf("outer: %w", inner))

	if wrapped.Kind != KindImageLoad {
		t.Fatalf("expected kind %s, got %s", KindImageLoad, wrapped.Kind)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindInternal, "op", "msg", nil) != nil {
		t.Fatal("expected nil for nil cause")
	}
}

func TestKindOf(t *testing.T) {
	t.Run("typed", func(t *testing.T) {
		err := fmt.Errorf("ctx: %w", New(KindTimeout, "scanner.scan", "timed out"))
		if !IsKind(err, KindTimeout) {
			t.Errorf("expected timeout kind, got %s", KindOf(err))
		}
	})

	t.Run("untyped defaults to internal", func(t *testing.T) {
		if got := KindOf(fmt.Errorf("boom")); got != KindInternal {
			t.Errorf("got %s, want internal", got)
		}
	})
}

func TestMessageOf(t *testing.T) {
	if got := MessageOf(New(KindValidation, "op", "Invalid file type")); got != "Invalid file type" {
		t.Errorf("got %q", got)
	}
	if got := MessageOf(Wrap(KindInternal, "op", "db password wrong", fmt.Errorf("x"))); got != "Failed to process image" {
		t.Errorf("internal message leaked: %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:   http.StatusBadRequest,
		KindImageLoad:    http.StatusBadRequest,
		KindRateLimit:    http.StatusTooManyRequests,
		KindTimeout:      http.StatusGatewayTimeout,
		KindCodeNotFound: http.StatusOK,
		KindPersistence:  http.StatusInternalServerError,
		KindInternal:     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("%s: got %d, want %d", kind, got, want)
		}
	}
}
