package scan

import (
	"errors"
	"image"
	"unicode/utf8"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Decoder extracts the text of the first QR code found in an image.
//
// Implementations return ErrNoCode when the image holds no code,
// ErrDecodeFailed when a code was found but its data could not be read and
// ErrNotText when the data is not valid text.
type Decoder interface {
	Decode(img image.Image) (string, error)
}

// ZXingDecoder is a Decoder backed by the gozxing QR reader.
// It is not safe for concurrent use.
type ZXingDecoder struct {
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}
}

// NewZXingDecoder creates a QR decoder.
func NewZXingDecoder() *ZXingDecoder {
	return &ZXingDecoder{
		reader: qrcode.NewQRCodeReader(),
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Decode implements Decoder.
func (d *ZXingDecoder) Decode(img image.Image) (string, error) {
	// Reduce to luminance samples, then binarize for the locator.
	source := gozxing.NewLuminanceSourceFromImage(img)
	bitmap, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(source))
	if err != nil {
		return "", errors.Join(ErrNoCode, err)
	}

	result, err := d.reader.Decode(bitmap, d.hints)
	if err != nil {
		var notFound gozxing.NotFoundException
		if errors.As(err, &notFound) {
			return "", ErrNoCode
		}
		return "", errors.Join(ErrDecodeFailed, err)
	}

	text := result.GetText()
	if !utf8.ValidString(text) {
		return "", ErrNotText
	}
	return text, nil
}
