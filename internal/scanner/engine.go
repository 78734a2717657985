package scanner

import (
	"github.com/koios/qr-decoder/pkg/models"
)

// InversionMode selects which polarity a decode pass reads.
type InversionMode int

const (
	// DontInvert reads dark modules on a light background.
	DontInvert InversionMode = iota
	// OnlyInvert reads light modules on a dark background.
	OnlyInvert
	// AttemptBoth lets the primitive try every polarity and binarization it knows.
	AttemptBoth
)

func (m InversionMode) String() string {
	switch m {
	case DontInvert:
		return "dontInvert"
	case OnlyInvert:
		return "onlyInvert"
	case AttemptBoth:
		return "attemptBoth"
	default:
		return "unknown"
	}
}

// cascade is the fixed pass order. Cheap passes run first.
var cascade = []InversionMode{DontInvert, OnlyInvert, AttemptBoth}

// Decoder is the primitive that locates and reads a code in a buffer.
type Decoder interface {
	Decode(buf *PixelBuffer, mode InversionMode) (string, bool)
}

// Engine runs the polarity cascade over a Decoder.
type Engine struct {
	decoder Decoder
}

func NewEngine(decoder Decoder) *Engine {
	return &Engine{decoder: decoder}
}

// Decode returns the first successful pass. When every pass fails the
// result is NotFound with ReasonCodeNotFound.
func (e *Engine) Decode(buf *PixelBuffer) models.DecodedResult {
	for _, mode := range cascade {
		if payload, ok := e.decoder.Decode(buf, mode); ok {
			return models.NewFound(payload)
		}
	}
	return models.NewNotFound(models.ReasonCodeNotFound)
}
