package imageprocessor

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// ImageLoaderRegistry maps file extensions to an ordered chain of loaders.
// The first loader in the chain that succeeds wins.
type ImageLoaderRegistry struct {
	loaders map[string][]ImageLoader
	mutex   sync.RWMutex
}

// NewImageLoaderRegistry creates a registry with the OpenCV loader for every
// known format and the pure Go decoders as fallback where they exist
func NewImageLoaderRegistry() *ImageLoaderRegistry {
	registry := &ImageLoaderRegistry{
		loaders: make(map[string][]ImageLoader),
	}

	standardLoader := NewStandardImageLoader()
	for ext := range formatExtensions {
		registry.RegisterLoader(ext, standardLoader)
	}

	goLoader := NewGoImageLoader()
	for _, format := range goLoader.Formats() {
		for _, ext := range extensionsOf(format) {
			registry.RegisterLoader(ext, goLoader)
		}
	}

	return registry
}

// RegisterLoader appends loader to the chain for ext
func (r *ImageLoaderRegistry) RegisterLoader(ext string, loader ImageLoader) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ext = strings.ToLower(ext)
	r.loaders[ext] = append(r.loaders[ext], loader)
}

// GetLoaders returns the chain registered for the extension of path
func (r *ImageLoaderRegistry) GetLoaders(path string) []ImageLoader {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.loaders[strings.ToLower(filepath.Ext(path))]
}

// CanLoadFile checks if any registered loader can handle the given file
func (r *ImageLoaderRegistry) CanLoadFile(path string) bool {
	return len(r.GetLoaders(path)) > 0
}

// LoadImage tries each loader registered for path in order
func (r *ImageLoaderRegistry) LoadImage(path string) (LoadedImage, error) {
	loaders := r.GetLoaders(path)
	if len(loaders) == 0 {
		return LoadedImage{}, fmt.Errorf("no suitable loader found for: %s", path)
	}

	var errs []error
	for _, loader := range loaders {
		img, err := loader.LoadImage(path)
		if err == nil {
			return img, nil
		}
		log.Debug("loader failed", "loader", loader.Name(), "path", path, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", loader.Name(), err))
	}
	return LoadedImage{}, errors.Join(errs...)
}
