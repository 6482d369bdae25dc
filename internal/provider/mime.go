package provider

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnsupportedImage is returned for source files that are not images the provider accepts.
var ErrUnsupportedImage = errors.New("unsupported image type")

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".heic": "image/heic",
	".heif": "image/heif",
}

// ImageMimeType infers the MIME type from the file extension, falling back to
// sniffing the content when the extension is missing or unknown.
func ImageMimeType(path string) (string, error) {
	if mt, ok := imageTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt, nil
	}

	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to detect image type: %w", err)
	}
	if !strings.HasPrefix(detected.String(), "image/") {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, detected.String())
	}
	return detected.String(), nil
}

// IsImageExtension reports whether ext (with dot) names a supported image type.
func IsImageExtension(ext string) bool {
	_, ok := imageTypes[strings.ToLower(ext)]
	return ok
}
