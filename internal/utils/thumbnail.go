package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// CreateThumbnail writes a JPEG of at most size×size pixels for the image at src.
// EXIF orientation is honoured. Returns an error for undecodable formats.
func CreateThumbnail(src, dst string, size int) error {
	if size <= 0 {
		return fmt.Errorf("invalid thumbnail size %d", size)
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	thumb := imaging.Fit(img, size, size, imaging.Lanczos)

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}
	if err := imaging.Save(thumb, dst, imaging.JPEGQuality(80)); err != nil {
		return fmt.Errorf("failed to save thumbnail: %w", err)
	}
	return nil
}
