package imageprocessor

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/barasher/go-exiftool"
	"gocv.io/x/gocv"
)

// previewTimeout bounds one exiftool preview extraction
const previewTimeout = 30 * time.Second

// previewTags are tried in order; the first one that decodes wins
var previewTags = []string{
	"LargestImagePreview",
	"PreviewImage",
	"OtherImage",
	"JpgFromRaw",
	"ThumbnailImage",
}

// PreviewLoader decodes the JPEG preview embedded in containers OpenCV cannot
// read, such as HEIC. The reported dimensions come from the container
// metadata, so quality ranking still sees the full resolution.
type PreviewLoader struct {
	mu sync.Mutex
	et *exiftool.Exiftool
}

// NewPreviewLoader starts an exiftool process. It fails when exiftool is not
// installed.
func NewPreviewLoader() (*PreviewLoader, error) {
	if _, err := exec.LookPath("exiftool"); err != nil {
		return nil, fmt.Errorf("exiftool not found: %w", err)
	}
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize exiftool: %w", err)
	}
	return &PreviewLoader{et: et}, nil
}

func (l *PreviewLoader) Name() string { return "exiftool-preview" }

// Close stops the exiftool process
func (l *PreviewLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.et.Close()
}

// LoadImage decodes the largest available embedded preview of path
func (l *PreviewLoader) LoadImage(path string) (LoadedImage, error) {
	var mat gocv.Mat
	found := false
	for _, tag := range previewTags {
		data, err := extractPreview(path, tag)
		if err != nil || len(data) == 0 {
			continue
		}
		decoded, err := gocv.IMDecode(data, gocv.IMReadColor)
		if err != nil {
			continue
		}
		if decoded.Empty() {
			decoded.Close()
			continue
		}
		log.Debug("decoded embedded preview", "path", path, "tag", tag)
		mat, found = decoded, true
		break
	}
	if !found {
		return LoadedImage{}, fmt.Errorf("no decodable preview in %s", path)
	}

	img := newLoadedImage(mat)
	if w, h, ok := l.dimensions(path); ok {
		img.Width, img.Height = w, h
	}
	return img, nil
}

// dimensions reads the full image size from the container metadata
func (l *PreviewLoader) dimensions(path string) (int, int, bool) {
	l.mu.Lock()
	infos := l.et.ExtractMetadata(path)
	l.mu.Unlock()

	if len(infos) == 0 || infos[0].Err != nil {
		return 0, 0, false
	}
	w, errW := infos[0].GetInt("ImageWidth")
	h, errH := infos[0].GetInt("ImageHeight")
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return int(w), int(h), true
}

// extractPreview writes one binary preview tag to stdout and returns it.
// go-exiftool only reads textual metadata, so this shells out.
func extractPreview(path, tag string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), previewTimeout)
	defer cancel()
	return exec.CommandContext(ctx, "exiftool", "-b", "-"+tag, path).Output()
}
