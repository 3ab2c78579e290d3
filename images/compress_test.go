package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func gradientPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: uint8((x + y) % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestRecompressRoundTrip(t *testing.T) {
	original := gradientPNG(t, 800, 600)

	encoded, err := Recompress(original)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := DecodePreview(encoded)
	require.NoError(t, err)

	// re-encoded preview must still be a decodable image
	img, err := jpeg.Decode(bytes.NewReader(decoded))
	require.NoError(t, err)

	// and no larger than the original
	require.LessOrEqual(t, len(decoded), len(original))

	// downscaled to fit the preview box
	bounds := img.Bounds()
	require.LessOrEqual(t, bounds.Dx(), MaxDimension)
	require.LessOrEqual(t, bounds.Dy(), MaxDimension)
}

func TestRecompressKeepsSmallImages(t *testing.T) {
	original := gradientPNG(t, 120, 80)

	encoded, err := Recompress(original)
	require.NoError(t, err)

	decoded, err := DecodePreview(encoded)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(decoded))
	require.NoError(t, err)
	require.Equal(t, 120, img.Bounds().Dx())
	require.Equal(t, 80, img.Bounds().Dy())
}

func TestRecompressRejectsNonImage(t *testing.T) {
	_, err := Recompress([]byte("definitely not an image"))
	require.Error(t, err)
}

func TestDecodeJPEGInput(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	decoded, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, 40, decoded.Bounds().Dx())
}

func TestEncodeOriginalRoundTrip(t *testing.T) {
	data := []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff}
	decoded, err := DecodePreview(EncodeOriginal(data))
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}
