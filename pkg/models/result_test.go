package models

import "testing"

func TestDecodedResultVariants(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		r := NewFound("https://example.com")
		payload, ok := r.Payload()
		if !ok || payload != "https://example.com" {
			t.Fatalf("Payload() = %q, %v", payload, ok)
		}
		if _, isNotFound := r.Reason(); isNotFound {
			t.Error("found result must not report a reason")
		}
	})

	t.Run("found with empty payload", func(t *testing.T) {
		r := NewFound("")
		if !r.IsFound() {
			t.Error("empty payload is still a found result")
		}
	})

	t.Run("not found", func(t *testing.T) {
		r := NewNotFound(ReasonCodeNotFound)
		if r.IsFound() {
			t.Fatal("expected not found")
		}
		if _, ok := r.Payload(); ok {
			t.Error("not found result must not report a payload")
		}
		reason, ok := r.Reason()
		if !ok || reason != ReasonCodeNotFound {
			t.Errorf("Reason() = %q, %v", reason, ok)
		}
	})

	t.Run("identical inputs compare equal", func(t *testing.T) {
		if NewFound("abc") != NewFound("abc") {
			t.Error("results with same payload should be equal")
		}
	})
}
