package storage

import (
	"mime"
	"path/filepath"
	"strings"
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

func baseType(contentType string) string {
	return strings.TrimSpace(strings.ToLower(strings.Split(contentType, ";")[0]))
}

// ExtensionFor returns a file extension for a MIME type, ".bin" if unknown.
func ExtensionFor(contentType string) string {
	if ext, ok := imageExtensions[baseType(contentType)]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// ContentTypeFor guesses a MIME type from a key's extension.
func ContentTypeFor(key string) string {
	ext := strings.ToLower(filepath.Ext(key))
	for ct, e := range imageExtensions {
		if e == ext {
			return ct
		}
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// IsAllowedImageType reports whether photos of this type are forwarded
// upstream.
func IsAllowedImageType(contentType string) bool {
	_, ok := imageExtensions[baseType(contentType)]
	return ok
}
