package imageprocessor

import "gocv.io/x/gocv"

// LoadedImage is a decoded BGR image. Width and Height are the dimensions of
// the original file, which differ from the Mat when a loader decoded an
// embedded preview.
type LoadedImage struct {
	Mat    gocv.Mat
	Width  int
	Height int
}

// Close releases the pixel buffer
func (l *LoadedImage) Close() error {
	return l.Mat.Close()
}

// ImageLoader is the interface that all image loaders must implement
type ImageLoader interface {
	// Name identifies the loader in logs
	Name() string

	// LoadImage loads and returns the image
	LoadImage(path string) (LoadedImage, error)
}

func newLoadedImage(mat gocv.Mat) LoadedImage {
	return LoadedImage{Mat: mat, Width: mat.Cols(), Height: mat.Rows()}
}
