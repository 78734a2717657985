package scanner

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	qrencode "github.com/skip2/go-qrcode"
)

// SelfCheckPayload is the text the decoder self-check round-trips.
const SelfCheckPayload = "qr-decoder self-check"

// SelfCheck encodes a known payload, runs it through Scan and confirms the
// text comes back unchanged.
func (s *Scanner) SelfCheck(ctx context.Context) error {
	code, err := qrencode.New(SelfCheckPayload, qrencode.Medium)
	if err != nil {
		return fmt.Errorf("failed to encode self-check payload: %w", err)
	}

	var encoded bytes.Buffer
	if err := png.Encode(&encoded, code.Image(256)); err != nil {
		return fmt.Errorf("failed to render self-check image: %w", err)
	}

	result, err := s.Scan(ctx, encoded.Bytes(), Dimensions{})
	if err != nil {
		return fmt.Errorf("self-check scan failed: %w", err)
	}

	payload, ok := result.Payload()
	if !ok {
		return fmt.Errorf("self-check code was not found")
	}
	if payload != SelfCheckPayload {
		return fmt.Errorf("self-check decoded %q, want %q", payload, SelfCheckPayload)
	}
	return nil
}
