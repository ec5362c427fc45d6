package scanner

import (
	"path/filepath"
	"strings"
)

// IsImageFile checks if a file extension belongs to a scannable image
func IsImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".bmp":
		return true
	case ".tif", ".tiff":
		return true
	case ".heic", ".heif":
		return true
	default:
		return false
	}
}

// IsTiffFormat checks if a file is in TIF format
func IsTiffFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".tif" || ext == ".tiff"
}

// IsHeifFormat checks if a file is in HEIC/HEIF format
func IsHeifFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".heic" || ext == ".heif"
}
