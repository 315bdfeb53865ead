package testutils

import (
	"bytes"
	"image"
	"image/draw"
	"image/png"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/require"
)

// QRCodePNG renders text as a QR code and returns the PNG-encoded image.
func QRCodePNG(t *testing.T, text string) []byte {
	t.Helper()

	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 256, 256, nil)
	require.NoError(t, err, "Failed to encode QR code")

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, matrix), "Failed to encode PNG")
	return buf.Bytes()
}

// BlankPNG returns a valid PNG image that contains no QR code.
func BlankPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, 64, 64))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img), "Failed to encode PNG")
	return buf.Bytes()
}
