package scanner

import (
	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"
)

// ZXingDecoder reads QR codes with gozxing. Readers keep per-call state, so a
// fresh one is built for every attempt.
type ZXingDecoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

func NewZXingDecoder() *ZXingDecoder {
	return &ZXingDecoder{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER:    true,
			gozxing.DecodeHintType_CHARACTER_SET: "UTF-8",
		},
	}
}

// Decode implements Decoder.
func (d *ZXingDecoder) Decode(buf *PixelBuffer, mode InversionMode) (string, bool) {
	source := gozxing.NewLuminanceSourceFromImage(buf.Image())

	switch mode {
	case DontInvert:
		return d.read(gozxing.NewHybridBinarizer(source))
	case OnlyInvert:
		return d.read(gozxing.NewHybridBinarizer(source.Invert()))
	default:
		inverted := source.Invert()
		for _, binarizer := range []gozxing.Binarizer{
			gozxing.NewHybridBinarizer(source),
			gozxing.NewHybridBinarizer(inverted),
			gozxing.NewGlobalHistgramBinarizer(source),
			gozxing.NewGlobalHistgramBinarizer(inverted),
		} {
			if text, ok := d.read(binarizer); ok {
				return text, true
			}
		}
		return "", false
	}
}

func (d *ZXingDecoder) read(binarizer gozxing.Binarizer) (string, bool) {
	bitmap, err := gozxing.NewBinaryBitmap(binarizer)
	if err != nil {
		return "", false
	}

	result, err := zxingqr.NewQRCodeReader().Decode(bitmap, d.hints)
	if err != nil {
		return "", false
	}
	return result.GetText(), true
}
