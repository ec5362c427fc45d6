package imageprocessor

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"gocv.io/x/gocv"
)

// StandardImageLoader reads any format the linked OpenCV build understands
type StandardImageLoader struct{}

// NewStandardImageLoader creates a new loader for standard image formats
func NewStandardImageLoader() *StandardImageLoader {
	return &StandardImageLoader{}
}

func (l *StandardImageLoader) Name() string { return "opencv" }

// LoadImage decodes path as a 3-channel BGR image
func (l *StandardImageLoader) LoadImage(path string) (LoadedImage, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return LoadedImage{}, fmt.Errorf("failed to load image: %s", path)
	}
	return newLoadedImage(img), nil
}

// GoImageLoader decodes with the Go image packages. It covers OpenCV builds
// compiled without webp or tiff support.
type GoImageLoader struct{}

// NewGoImageLoader creates the pure Go fallback loader
func NewGoImageLoader() *GoImageLoader {
	return &GoImageLoader{}
}

func (l *GoImageLoader) Name() string { return "go-image" }

// Formats lists the formats with a registered Go decoder
func (l *GoImageLoader) Formats() []FormatType {
	return []FormatType{FormatJPEG, FormatPNG, FormatBMP, FormatTIFF, FormatWEBP}
}

// LoadImage decodes path and converts the result to a BGR Mat
func (l *GoImageLoader) LoadImage(path string) (LoadedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return LoadedImage{}, err
	}
	defer f.Close()

	decoded, _, err := image.Decode(f)
	if err != nil {
		return LoadedImage{}, err
	}

	mat, err := gocv.ImageToMatRGB(decoded)
	if err != nil {
		return LoadedImage{}, fmt.Errorf("failed to convert image: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return LoadedImage{}, fmt.Errorf("image is empty after conversion: %s", path)
	}
	return newLoadedImage(mat), nil
}
