package helper

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

const (
	ThumbnailDimension    = 72
	MaxDecompressedSizeMB = 50
	MaxDecompressedSize   = MaxDecompressedSizeMB * 1024 * 1024
)

var ErrUnsupportedImage = errors.New("unsupported image format")

// ImageMimeType sniffs the content type of raw image bytes.
func ImageMimeType(data []byte) string {
	return http.DetectContentType(data)
}

// DecodeImage decodes jpeg, png or webp bytes.
func DecodeImage(data []byte) (image.Image, error) {
	r := bytes.NewReader(data)
	switch ImageMimeType(data) {
	case "image/jpeg":
		return jpeg.Decode(r)
	case "image/png":
		return png.Decode(r)
	case "image/webp":
		return webp.Decode(r)
	default:
		return nil, ErrUnsupportedImage
	}
}

// ValidateDecompressedSize prevents decompression bomb attacks
func ValidateDecompressedSize(img image.Image) error {
	bounds := img.Bounds()
	decompressedSize := bounds.Dx() * bounds.Dy() * 4

	if decompressedSize > MaxDecompressedSize {
		return fmt.Errorf("image too large when decompressed (%d MB)", decompressedSize/(1024*1024))
	}
	return nil
}

// Thumbnail renders the small JPEG preview carried inside image messages.
func Thumbnail(data []byte) ([]byte, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	if err := ValidateDecompressedSize(img); err != nil {
		return nil, err
	}

	thumb := imaging.Fit(img, ThumbnailDimension, ThumbnailDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(70)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
