package scanner

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	apperrors "github.com/koios/qr-decoder/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPreprocessorScale(t *testing.T) {
	p := NewPreprocessor(PreprocessConfig{})

	tests := []struct {
		name          string
		width, height int
		want          float64
	}{
		{"module exactly at lower bound", 210, 400, 1},
		{"module exactly at upper bound", 315, 315, 1},
		{"small image is enlarged", 105, 105, 2},
		{"large image is reduced", 630, 900, 0.5},
		{"shorter edge decides", 2000, 105, 2},
		{"tiny image", 21, 21, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, p.Scale(tt.width, tt.height), 1e-9)
		})
	}
}

func TestPreprocessorOutputSize(t *testing.T) {
	t.Run("follows scale", func(t *testing.T) {
		p := NewPreprocessor(PreprocessConfig{})
		w, h := p.OutputSize(105, 210)
		assert.Equal(t, 210, w)
		assert.Equal(t, 420, h)
	})

	t.Run("single pixel is enlarged", func(t *testing.T) {
		p := NewPreprocessor(PreprocessConfig{})
		w, h := p.OutputSize(1, 1)
		assert.Equal(t, 210, w)
		assert.Equal(t, 210, h)
	})

	t.Run("extreme aspect ratio stays within the pixel budget", func(t *testing.T) {
		p := NewPreprocessor(PreprocessConfig{MaxPixels: 10000})
		w, h := p.OutputSize(1, 5000)
		assert.GreaterOrEqual(t, w, 1)
		assert.GreaterOrEqual(t, h, 1)
		assert.LessOrEqual(t, w*h, 10000)
	})
}

func TestPrepareRejectsUnreadableInput(t *testing.T) {
	p := NewPreprocessor(PreprocessConfig{})

	t.Run("zero bytes", func(t *testing.T) {
		_, err := p.Prepare(nil, Dimensions{})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindImageLoad))
	})

	t.Run("text payload", func(t *testing.T) {
		_, err := p.Prepare([]byte("definitely not an image"), Dimensions{})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindImageLoad))
		assert.Contains(t, apperrors.MessageOf(err), "text/plain")
	})

	t.Run("truncated png", func(t *testing.T) {
		raw := encodePNG(t, image.NewGray(image.Rect(0, 0, 64, 64)))
		_, err := p.Prepare(raw[:len(raw)/2], Dimensions{})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindImageLoad))
	})

	t.Run("declared size mismatch", func(t *testing.T) {
		raw := encodePNG(t, image.NewGray(image.Rect(0, 0, 64, 32)))
		_, err := p.Prepare(raw, Dimensions{Width: 32, Height: 64})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindImageLoad))

		_, err = p.Prepare(raw, Dimensions{Width: 64, Height: 32})
		assert.NoError(t, err)
	})

	t.Run("source above pixel limit", func(t *testing.T) {
		small := NewPreprocessor(PreprocessConfig{MaxSourcePixels: 100})
		raw := encodePNG(t, image.NewGray(image.Rect(0, 0, 64, 64)))
		_, err := small.Prepare(raw, Dimensions{})
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindImageLoad))
	})
}

func TestPrepareFillsTransparencyWithWhite(t *testing.T) {
	p := NewPreprocessor(PreprocessConfig{})
	raw := encodePNG(t, image.NewNRGBA(image.Rect(0, 0, 210, 210)))

	buf, err := p.Prepare(raw, Dimensions{})
	require.NoError(t, err)
	assert.Equal(t, 210, buf.Width)
	assert.Equal(t, 210, buf.Height)

	for i, v := range buf.Pix() {
		if v != 0xff {
			t.Fatalf("byte %d = %d, want 255", i, v)
		}
	}
}

func TestPrepareIsDeterministic(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 50, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 50; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*13) % 256)})
		}
	}
	raw := encodePNG(t, img)

	for _, resampler := range []string{ResamplerCatmullRom, ResamplerApproxBiLinear, ResamplerLanczos} {
		t.Run(resampler, func(t *testing.T) {
			p := NewPreprocessor(PreprocessConfig{Resampler: resampler})

			first, err := p.Prepare(raw, Dimensions{})
			require.NoError(t, err)
			second, err := p.Prepare(raw, Dimensions{})
			require.NoError(t, err)

			assert.Equal(t, 210, first.Width)
			assert.Equal(t, 336, first.Height)
			assert.True(t, bytes.Equal(first.Pix(), second.Pix()))
		})
	}
}
