package scanner

import (
	"image"
)

// Dimensions are the width and height a caller declares for an upload.
// Zero values mean "not declared".
type Dimensions struct {
	Width  int
	Height int
}

// PixelBuffer is an RGBA raster owned by a single request.
type PixelBuffer struct {
	Width  int
	Height int
	img    *image.RGBA
}

// NewPixelBuffer allocates a zeroed buffer of the given size.
func NewPixelBuffer(width, height int) *PixelBuffer {
	return &PixelBuffer{
		Width:  width,
		Height: height,
		img:    image.NewRGBA(image.Rect(0, 0, width, height)),
	}
}

// Image exposes the buffer as a draw target and decode source.
func (b *PixelBuffer) Image() *image.RGBA {
	return b.img
}

// Pix returns the raw RGBA bytes, four per pixel, row-major.
func (b *PixelBuffer) Pix() []uint8 {
	return b.img.Pix
}
