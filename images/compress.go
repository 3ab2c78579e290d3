package images

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"math"

	xdraw "golang.org/x/image/draw"
)

// Preview targets. Quality 30 and a 500px box keep encoded previews small
// enough for the resumability store while staying legible.
const (
	MaxDimension = 500
	JPEGQuality  = 30
)

// Decode attempts to decode image bytes, trying JPEG first (most common),
// then PNG, then the generic registry.
func Decode(data []byte) (image.Image, error) {
	if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := png.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("unsupported or invalid image format")
}

// Recompress decodes an uploaded image, downscales it to fit within
// MaxDimension and re-encodes it as base64 JPEG. Non-JPEG inputs are
// normalized to JPEG in the process.
func Recompress(data []byte) (string, error) {
	img, err := Decode(data)
	if err != nil {
		return "", err
	}

	bounds := img.Bounds()
	slog.Debug("Recompressing image", "width", bounds.Dx(), "height", bounds.Dy(), "input_size", len(data))

	return EncodeJPEGBase64(img, MaxDimension, MaxDimension, JPEGQuality)
}

// EncodeJPEGBase64 encodes an image to base64 JPEG, downscaled to fit
// within maxW x maxH (keeping aspect ratio) when either is > 0.
func EncodeJPEGBase64(img image.Image, maxW, maxH, quality int) (string, error) {
	if maxW > 0 || maxH > 0 {
		img = resizeToFit(img, maxW, maxH)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// EncodeOriginal base64-encodes bytes unmodified. Used as the fallback when
// recompression fails and for non-image files.
func EncodeOriginal(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodePreview reverses the base64 encoding of a stored preview.
func DecodePreview(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}

// resizeToFit scales img to fit within maxW x maxH (keeping aspect ratio)
func resizeToFit(src image.Image, maxW, maxH int) image.Image {
	bw := src.Bounds().Dx()
	bh := src.Bounds().Dy()

	if maxW <= 0 && maxH <= 0 {
		return src
	}
	if maxW <= 0 {
		scale := float64(maxH) / float64(bh)
		maxW = int(math.Round(float64(bw) * scale))
	}
	if maxH <= 0 {
		scale := float64(maxW) / float64(bw)
		maxH = int(math.Round(float64(bh) * scale))
	}

	scale := math.Min(float64(maxW)/float64(bw), float64(maxH)/float64(bh))
	if scale >= 1.0 {
		return src // already small enough
	}
	w := int(math.Max(1, math.Round(float64(bw)*scale)))
	h := int(math.Max(1, math.Round(float64(bh)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// CatmullRom = high quality, good for photos/faces
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}
