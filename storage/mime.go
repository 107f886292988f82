package storage

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	csvMimeType     = "text/csv"
	defaultMimeType = "application/octet-stream"

	// defaultExtension keeps files with an unknown MIME type discoverable by
	// the "<id>." prefix search.
	defaultExtension = ".bin"
)

// ExtensionForMime returns the file extension, including the dot, for a MIME type.
// text/csv is answered directly since generic tables do not agree on it.
func ExtensionForMime(mimeType string) string {
	mediaType := mimeType
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mediaType = parsed
	}
	mediaType = strings.ToLower(mediaType)

	if mediaType == csvMimeType {
		return ".csv"
	}
	if m := mimetype.Lookup(mediaType); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return defaultExtension
}

// MimeForFilename guesses a MIME type, without parameters, from a file name.
func MimeForFilename(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".csv") {
		return csvMimeType
	}
	t := mime.TypeByExtension(filepath.Ext(name))
	if t == "" {
		return defaultMimeType
	}
	if parsed, _, err := mime.ParseMediaType(t); err == nil {
		return parsed
	}
	return t
}

// detectFileMime sniffs the content of the file at path. It is used when the
// extension alone does not identify the type.
func detectFileMime(path string) string {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return defaultMimeType
	}
	if parsed, _, err := mime.ParseMediaType(m.String()); err == nil {
		return parsed
	}
	return m.String()
}

// hasExplicitExtension reports whether fileID already ends in a short
// alphanumeric extension such as ".pdf" or ".jpeg".
func hasExplicitExtension(fileID string) bool {
	ext := filepath.Ext(fileID)
	if len(ext) < 2 || len(ext) > 6 || len(ext) == len(fileID) {
		return false
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
