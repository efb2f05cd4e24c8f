// Package images validates and normalizes uploaded project images.
// Every accepted upload is re-encoded as a plain RGB JPEG, which strips
// EXIF blocks and any other metadata the original carried.
package images

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
)

// Upload bounds.
const (
	MinBytes     = 100
	MaxBytes     = 2 << 20 // 2 MB
	MinDimension = 50
	MaxDimension = 4000

	jpegQuality = 85
)

// Accepted input formats.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatGIF  = "gif"
	FormatWEBP = "webp"
)

// Image is a processed upload, safe to persist and serve.
type Image struct {
	// JPEG is the re-encoded image.
	JPEG []byte

	// SourceFormat is the sniffed input format.
	SourceFormat string

	Width  int
	Height int
}

// DetectFormat sniffs the image format from magic bytes. Anything that
// is not JPEG, PNG, GIF, or WEBP is rejected.
func DetectFormat(data []byte) (string, error) {
	switch {
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG, nil
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return FormatPNG, nil
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return FormatGIF, nil
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWEBP, nil
	default:
		return "", apperr.Validationf("unrecognized image format, expected JPEG, PNG, GIF, or WEBP")
	}
}

// Process validates raw upload bytes and returns the normalized JPEG.
func Process(data []byte) (*Image, error) {
	if len(data) < MinBytes {
		return nil, apperr.Validationf("image too small: %d bytes, minimum %d", len(data), MinBytes)
	}
	if len(data) > MaxBytes {
		return nil, apperr.Validationf("image too large: %d bytes, maximum %d", len(data), MaxBytes)
	}

	format, err := DetectFormat(data)
	if err != nil {
		return nil, err
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Validationf("image does not decode as %s: %v", format, err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < MinDimension || h < MinDimension {
		return nil, apperr.Validationf("image %dx%d below minimum %dpx per side", w, h, MinDimension)
	}
	if w > MaxDimension || h > MaxDimension {
		return nil, apperr.Validationf("image %dx%d exceeds maximum %dpx per side", w, h, MaxDimension)
	}

	// Flatten onto white so transparent PNGs come out presentable, then
	// re-encode. The fresh JPEG carries no metadata from the original.
	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, bounds, src, bounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &Image{
		JPEG:         buf.Bytes(),
		SourceFormat: format,
		Width:        w,
		Height:       h,
	}, nil
}
