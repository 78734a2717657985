package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/koios/qr-decoder/internal/config"
	apperrors "github.com/koios/qr-decoder/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type blockingDecoder struct {
	release chan struct{}
}

func (d *blockingDecoder) Decode(_ *PixelBuffer, _ InversionMode) (string, bool) {
	<-d.release
	return "", false
}

type panickingDecoder struct{}

func (panickingDecoder) Decode(_ *PixelBuffer, _ InversionMode) (string, bool) {
	panic("corrupt bitstream")
}

func newTestScanner(t *testing.T) *Scanner {
	t.Helper()
	cfg := config.Default().Scanner
	s := New(&cfg, zap.NewNop())
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestScannerScan(t *testing.T) {
	s := newTestScanner(t)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		result, err := s.Scan(ctx, qrFixture(t, "scan me", 256, false), Dimensions{Width: 256, Height: 256})
		require.NoError(t, err)
		payload, ok := result.Payload()
		assert.True(t, ok)
		assert.Equal(t, "scan me", payload)
	})

	t.Run("not found is not an error", func(t *testing.T) {
		raw := encodePNG(t, NewPixelBuffer(300, 300).Image())
		result, err := s.Scan(ctx, raw, Dimensions{})
		require.NoError(t, err)
		assert.False(t, result.IsFound())
	})

	t.Run("unreadable bytes", func(t *testing.T) {
		_, err := s.Scan(ctx, []byte{0x00, 0x01, 0x02}, Dimensions{})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindImageLoad))
	})
}

func TestScannerConcurrentScans(t *testing.T) {
	s := newTestScanner(t)
	raw := qrFixture(t, "concurrent", 256, false)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.Scan(context.Background(), raw, Dimensions{})
			if err != nil {
				errs <- err
				return
			}
			if payload, ok := result.Payload(); !ok || payload != "concurrent" {
				errs <- assert.AnError
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("scan failed: %v", err)
	}
}

func TestScannerTimeout(t *testing.T) {
	decoder := &blockingDecoder{release: make(chan struct{})}
	s := NewWithDecoder(NewPreprocessor(PreprocessConfig{}), decoder, 1, 20*time.Millisecond, zap.NewNop())
	s.Start()
	defer s.Stop()
	defer close(decoder.release)

	raw := encodePNG(t, NewPixelBuffer(50, 50).Image())
	_, err := s.Scan(context.Background(), raw, Dimensions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindTimeout))
	assert.Equal(t, 504, apperrors.HTTPStatus(apperrors.KindOf(err)))
}

func TestScannerRecoversFromDecoderPanic(t *testing.T) {
	s := NewWithDecoder(NewPreprocessor(PreprocessConfig{}), panickingDecoder{}, 1, time.Second, zap.NewNop())
	s.Start()
	defer s.Stop()

	raw := encodePNG(t, NewPixelBuffer(50, 50).Image())
	_, err := s.Scan(context.Background(), raw, Dimensions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInternal))

	_, err = s.Scan(context.Background(), raw, Dimensions{})
	assert.Error(t, err, "worker survives the panic and keeps serving")
}

func TestScannerStoppedPool(t *testing.T) {
	s := NewWithDecoder(NewPreprocessor(PreprocessConfig{}), panickingDecoder{}, 1, time.Second, zap.NewNop())
	s.Start()
	s.Stop()

	_, err := s.Scan(context.Background(), []byte("x"), Dimensions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInternal))
}

func TestSelfCheck(t *testing.T) {
	s := newTestScanner(t)
	assert.NoError(t, s.SelfCheck(context.Background()))
}
