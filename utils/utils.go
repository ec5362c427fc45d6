package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GetDefaultDatabasePath returns the default path for the database file
func GetDefaultDatabasePath() string {
	exePath, err := os.Executable()
	if err != nil {
		// Fallback to current directory if executable path can't be determined
		return "imagededup.db"
	}
	return filepath.Join(filepath.Dir(exePath), "imagededup.db")
}

// PathDepth counts the segments of a path, the root of an absolute path
// counting as one
func PathDepth(path string) int {
	clean := filepath.Clean(path)
	depth := 0
	if vol := filepath.VolumeName(clean); vol != "" {
		clean = clean[len(vol):]
	}
	if strings.HasPrefix(clean, string(filepath.Separator)) {
		depth++
	}
	for _, part := range strings.Split(clean, string(filepath.Separator)) {
		if part != "" && part != "." {
			depth++
		}
	}
	return depth
}

// ValidatePerceptualThreshold checks a Hamming distance threshold for 64-bit hashes
func ValidatePerceptualThreshold(threshold int) error {
	if threshold < 0 || threshold > 64 {
		return fmt.Errorf("invalid perceptual threshold %d (want 0-64)", threshold)
	}
	return nil
}

// ValidateSimilarity checks a cosine similarity threshold
func ValidateSimilarity(threshold float64) error {
	if threshold < -1 || threshold > 1 {
		return fmt.Errorf("invalid similarity threshold %g (want -1.0-1.0)", threshold)
	}
	return nil
}

// FormatResolution renders image dimensions as WxH
func FormatResolution(width, height int) string {
	return fmt.Sprintf("%dx%d", width, height)
}

// ExistingFolders splits folders into those that exist as directories and
// those that do not
func ExistingFolders(folders []string) (existing, missing []string) {
	for _, f := range folders {
		if info, err := os.Stat(f); err == nil && info.IsDir() {
			existing = append(existing, f)
		} else {
			missing = append(missing, f)
		}
	}
	return existing, missing
}
