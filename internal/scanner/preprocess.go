package scanner

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/gabriel-vasile/mimetype"
	apperrors "github.com/koios/qr-decoder/internal/errors"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Resampler names accepted by PreprocessConfig.Resampler.
const (
	ResamplerCatmullRom     = "catmullrom"
	ResamplerApproxBiLinear = "approxbilinear"
	ResamplerLanczos        = "lanczos"
)

// A code is estimated as a third of the shorter edge and a module as a
// seventh of that, the width of one finder pattern.
const (
	codeFraction   = 3.0
	finderModules  = 7.0
	defaultMinMod  = 10.0
	defaultMaxMod  = 15.0
	defaultMaxPix  = 16 << 20
	defaultMaxSrc  = 50_000_000
	opPrepare      = "scanner.Prepare"
	loadErrMessage = "Failed to load image"
)

// PreprocessConfig controls how uploads are normalized before decoding.
type PreprocessConfig struct {
	MinModulePixels float64
	MaxModulePixels float64
	MaxPixels       int
	MaxSourcePixels int
	Resampler       string
}

func (c PreprocessConfig) withDefaults() PreprocessConfig {
	if c.MinModulePixels <= 0 {
		c.MinModulePixels = defaultMinMod
	}
	if c.MaxModulePixels < c.MinModulePixels {
		c.MaxModulePixels = math.Max(defaultMaxMod, c.MinModulePixels)
	}
	if c.MaxPixels <= 0 {
		c.MaxPixels = defaultMaxPix
	}
	if c.MaxSourcePixels <= 0 {
		c.MaxSourcePixels = defaultMaxSrc
	}
	if c.Resampler == "" {
		c.Resampler = ResamplerCatmullRom
	}
	return c
}

// Preprocessor turns encoded image bytes into a white-backed RGBA buffer whose
// estimated module width falls inside [MinModulePixels, MaxModulePixels].
// It holds no mutable state and is safe for concurrent use.
type Preprocessor struct {
	cfg PreprocessConfig
}

func NewPreprocessor(cfg PreprocessConfig) *Preprocessor {
	return &Preprocessor{cfg: cfg.withDefaults()}
}

// Prepare decodes raw and rescales it. A declared dimension that is set must
// match the decoded raster.
func (p *Preprocessor) Prepare(raw []byte, declared Dimensions) (*PixelBuffer, error) {
	if len(raw) == 0 {
		return nil, apperrors.New(apperrors.KindImageLoad, opPrepare, "Failed to load image: empty file")
	}

	header, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, loadError(raw, err)
	}
	if header.Width <= 0 || header.Height <= 0 {
		return nil, apperrors.New(apperrors.KindImageLoad, opPrepare, "Failed to load image: empty raster")
	}
	if header.Width*header.Height > p.cfg.MaxSourcePixels {
		return nil, apperrors.New(apperrors.KindImageLoad, opPrepare,
			fmt.Sprintf("Failed to load image: %dx%d exceeds the pixel limit", header.Width, header.Height))
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, loadError(raw, err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if (declared.Width > 0 && declared.Width != width) || (declared.Height > 0 && declared.Height != height) {
		return nil, apperrors.New(apperrors.KindImageLoad, opPrepare,
			fmt.Sprintf("Failed to load image: declared %dx%d but decoded %dx%d",
				declared.Width, declared.Height, width, height))
	}

	outW, outH := p.OutputSize(width, height)
	buf := NewPixelBuffer(outW, outH)
	dst := buf.Image()
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	p.render(dst, src, width, height)

	return buf, nil
}

// Scale returns the factor applied to a width x height raster before the
// pixel budget is considered.
func (p *Preprocessor) Scale(width, height int) float64 {
	shorter := float64(min(width, height))
	module := shorter / codeFraction / finderModules
	if module <= 0 {
		return 1
	}

	switch {
	case module < p.cfg.MinModulePixels:
		return p.cfg.MinModulePixels / module
	case module > p.cfg.MaxModulePixels:
		return p.cfg.MaxModulePixels / module
	default:
		return 1
	}
}

// OutputSize applies Scale and then shrinks the result to fit MaxPixels.
// Both edges are at least one pixel.
func (p *Preprocessor) OutputSize(width, height int) (int, int) {
	scale := p.Scale(width, height)
	outW := math.Round(float64(width) * scale)
	outH := math.Round(float64(height) * scale)

	if outW*outH > float64(p.cfg.MaxPixels) {
		shrink := math.Sqrt(float64(p.cfg.MaxPixels) / (outW * outH))
		outW = math.Floor(outW * shrink)
		outH = math.Floor(outH * shrink)
	}

	return max(int(outW), 1), max(int(outH), 1)
}

func (p *Preprocessor) render(dst *image.RGBA, src image.Image, width, height int) {
	rect := dst.Bounds()
	if rect.Dx() == width && rect.Dy() == height {
		draw.Draw(dst, rect, src, src.Bounds().Min, draw.Over)
		return
	}

	switch p.cfg.Resampler {
	case ResamplerLanczos:
		resized := resize.Resize(uint(rect.Dx()), uint(rect.Dy()), src, resize.Lanczos3)
		draw.Draw(dst, rect, resized, resized.Bounds().Min, draw.Over)
	case ResamplerApproxBiLinear:
		draw.ApproxBiLinear.Scale(dst, rect, src, src.Bounds(), draw.Over, nil)
	default:
		draw.CatmullRom.Scale(dst, rect, src, src.Bounds(), draw.Over, nil)
	}
}

func loadError(raw []byte, cause error) *apperrors.Error {
	detected := mimetype.Detect(raw)
	return apperrors.Wrap(apperrors.KindImageLoad, opPrepare,
		fmt.Sprintf("%s: unsupported or corrupt content (%s)", loadErrMessage, detected.String()), cause)
}
