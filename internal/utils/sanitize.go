package utils

import (
	"path/filepath"
	"strings"
	"unicode"
)

// maxFilenameLength is the usual filesystem limit on a single path component.
const maxFilenameLength = 255

// SanitizeFilename reduces an uploaded filename to a safe single path component.
// This prevents:
// - Path traversal (slashes, backslashes, "..")
// - Control characters that could break logs or displays
// - Hidden files created from names starting with a dot
func SanitizeFilename(filename string) string {
	// Windows clients may send backslash-separated paths
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)

	var sanitized strings.Builder
	sanitized.Grow(len(filename))

	for _, r := range filename {
		// Allow: letters, digits, spaces, hyphens, underscores, periods, parentheses
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(" -_.()", r) {
			sanitized.WriteRune(r)
		} else {
			sanitized.WriteRune('_')
		}
	}

	result := strings.Trim(sanitized.String(), " .")
	if result == "" || strings.Trim(result, "._") == "" {
		return "unnamed"
	}

	if len(result) > maxFilenameLength {
		ext := filepath.Ext(result)
		if len(ext) > 0 && len(ext) < 20 {
			result = result[:maxFilenameLength-len(ext)] + ext
		} else {
			result = result[:maxFilenameLength]
		}
	}

	return result
}

// ValidSessionID reports whether id is usable as a chunk staging directory name.
// Accepts 1-128 characters of letters, digits, '-' and '_'.
func ValidSessionID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
