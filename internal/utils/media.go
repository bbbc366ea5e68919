package utils

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/gabriel-vasile/mimetype"
)

// MediaTypes classifies files by extension.
// Extensions are lower-case and include the leading dot.
type MediaTypes struct {
	photo map[string]bool
	video map[string]bool
}

// NewMediaTypes builds a classifier from extension lists.
func NewMediaTypes(photoExts, videoExts []string) *MediaTypes {
	m := &MediaTypes{
		photo: make(map[string]bool, len(photoExts)),
		video: make(map[string]bool, len(videoExts)),
	}
	for _, ext := range photoExts {
		m.photo[normalizeExt(ext)] = true
	}
	for _, ext := range videoExts {
		m.video[normalizeExt(ext)] = true
	}
	return m
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Kind returns the media kind for name and whether it is a supported media file.
func (m *MediaTypes) Kind(name string) (models.MediaKind, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case m.photo[ext]:
		return models.MediaKindPhoto, true
	case m.video[ext]:
		return models.MediaKindVideo, true
	default:
		return "", false
	}
}

// IsMedia reports whether name has a photo or video extension.
func (m *MediaTypes) IsMedia(name string) bool {
	_, ok := m.Kind(name)
	return ok
}

// DetectContentType sniffs the content type of the file at path.
// Falls back to application/octet-stream when the file cannot be read.
func DetectContentType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}

// KindFromContent classifies by sniffed content when the extension is unknown,
// e.g. a network upload named without an extension.
func KindFromContent(path string) (models.MediaKind, bool) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", false
	}
	for m := mtype; m != nil; m = m.Parent() {
		switch {
		case strings.HasPrefix(m.String(), "image/"):
			return models.MediaKindPhoto, true
		case strings.HasPrefix(m.String(), "video/"):
			return models.MediaKindVideo, true
		}
	}
	return "", false
}

// FileExists reports whether a regular file exists at path.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
