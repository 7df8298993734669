package upscaler

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"upscaler/internal/domain"
)

// Inspect reads the image header and returns its pixel dimensions without
// decoding the full bitmap.
func Inspect(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, domain.ErrInvalidImage
	}
	return cfg.Width, cfg.Height, nil
}

// NeedsCompression reports whether either edge exceeds the hard input limit.
// Exceeding it pauses the pipeline for user confirmation; it never silently
// downscales.
func NeedsCompression(width, height, maxDimension int) bool {
	return width > maxDimension || height > maxDimension
}

// Normalize bounds the image to the working dimension on its long edge
// before upload. Inputs already within bounds pass through untouched so no
// quality is lost on a needless re-encode.
func Normalize(data []byte, maxDimension int) ([]byte, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", domain.ErrInvalidImage
	}
	if cfg.Width <= maxDimension && cfg.Height <= maxDimension {
		return data, mimeForFormat(format), nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", domain.ErrInvalidImage
	}
	resized := imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if format == "png" {
		if err := imaging.Encode(&buf, resized, imaging.PNG); err != nil {
			return nil, "", fmt.Errorf("encode png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	}
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(92)); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

func mimeForFormat(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}

func extensionForMIME(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	default:
		return ".jpg"
	}
}
