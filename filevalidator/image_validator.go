package filevalidator

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/tiff"
)

// ImageValidator fully decodes raster images. A truncated or corrupted file
// whose header still parses fails here, unlike a header-only check.
type ImageValidator struct {
	MaxWidth  int
	MaxHeight int
	MaxPixels int
}

// DefaultImageValidator creates an image validator with sensible defaults
func DefaultImageValidator() *ImageValidator {
	return &ImageValidator{
		MaxWidth:  20000,
		MaxHeight: 20000,
		MaxPixels: 100000000, // 100 megapixels
	}
}

// ValidateContent checks dimensions from the header first, so decompression
// bombs are refused before any pixel data is allocated, then decodes the
// whole image.
func (v *ImageValidator) ValidateContent(reader io.ReadSeeker, size int64) error {
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return NewValidationError(ErrorTypeRead, "failed to seek to image start")
	}

	cfg, _, err := image.DecodeConfig(reader)
	if err != nil {
		return NewValidationError(ErrorTypeImage, fmt.Sprintf("cannot decode image header: %v", err))
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return NewValidationError(ErrorTypeImage,
			fmt.Sprintf("invalid image dimensions %dx%d", cfg.Width, cfg.Height))
	}
	if cfg.Width > v.MaxWidth {
		return NewValidationError(ErrorTypeImage,
			fmt.Sprintf("image width %d exceeds maximum %d", cfg.Width, v.MaxWidth))
	}
	if cfg.Height > v.MaxHeight {
		return NewValidationError(ErrorTypeImage,
			fmt.Sprintf("image height %d exceeds maximum %d", cfg.Height, v.MaxHeight))
	}
	if totalPixels := cfg.Width * cfg.Height; totalPixels > v.MaxPixels {
		return NewValidationError(ErrorTypeImage,
			fmt.Sprintf("total pixels %d exceeds maximum %d", totalPixels, v.MaxPixels))
	}

	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return NewValidationError(ErrorTypeRead, "failed to seek to image start")
	}

	img, _, err := image.Decode(reader)
	if err != nil {
		return NewValidationError(ErrorTypeImage, fmt.Sprintf("cannot decode image: %v", err))
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return NewValidationError(ErrorTypeImage, "decoded image is empty")
	}

	return nil
}

// SupportedMIMETypes returns the MIME types this validator can handle
func (v *ImageValidator) SupportedMIMETypes() []string {
	return []string{
		MIMEJPEG,
		"image/jpg",
		MIMEPNG,
		MIMEGIF,
		MIMETIFF,
	}
}
