// internal/screenshot/screenshot.go
//
// Package screenshot turns raw capture bytes into images and files.
package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/xkilldash9x/fluentweb/api/schemas"
)

// Decode parses an encoded capture (PNG or JPEG).
func Decode(raw []byte) (image.Image, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty screenshot")
	}
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return img, nil
}

// Crop cuts r, in document coordinates, out of a full-document capture. The
// rectangle is clamped to the image; an empty intersection is an error.
func Crop(img image.Image, r schemas.DomRectangle) (image.Image, error) {
	rect := image.Rect(
		int(math.Floor(r.X)),
		int(math.Floor(r.Y)),
		int(math.Ceil(r.X+r.Width)),
		int(math.Ceil(r.Y+r.Height)),
	).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("element rectangle %v lies outside the %v screenshot", r, img.Bounds().Size())
	}
	return imaging.Crop(img, rect), nil
}

// Save writes img to path in the format named by the file extension
// (.png, .jpg, .jpeg, .gif, .bmp, .tif, .tiff), creating parent directories.
func Save(img image.Image, path string) error {
	if _, err := imaging.FormatFromFilename(path); err != nil {
		return fmt.Errorf("unsupported screenshot format for %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create screenshot directory: %w", err)
		}
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save screenshot %s: %w", path, err)
	}
	return nil
}
