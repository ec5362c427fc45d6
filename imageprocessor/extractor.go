package imageprocessor

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"imagededup/ai"
	"imagededup/imagehash"
	"imagededup/types"
)

// Extraction failure reasons
const (
	ReasonStat       = "stat"
	ReasonHash       = "hash"
	ReasonUnreadable = "unreadable"
)

// ExtractionError reports a file that could not be turned into a record.
// Scans count it as skipped and move on.
type ExtractionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Reason, e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor computes the features of one image file
type Extractor struct {
	registry  *ImageLoaderRegistry
	algorithm imagehash.Algorithm
	providers ai.Providers
	preview   *PreviewLoader
}

// ExtractorOption configures an Extractor
type ExtractorOption func(*Extractor)

// WithProviders sets the enrichment backends
func WithProviders(p ai.Providers) ExtractorOption {
	return func(e *Extractor) { e.providers = p }
}

// WithRegistry replaces the default loader registry
func WithRegistry(r *ImageLoaderRegistry) ExtractorOption {
	return func(e *Extractor) { e.registry = r }
}

// NewExtractor creates an extractor hashing with algorithm. When exiftool is
// installed, HEIC files fall back to their embedded preview.
func NewExtractor(algorithm imagehash.Algorithm, opts ...ExtractorOption) (*Extractor, error) {
	if !algorithm.Valid() {
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
	e := &Extractor{algorithm: algorithm}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewImageLoaderRegistry()
		if preview, err := NewPreviewLoader(); err == nil {
			e.preview = preview
			for _, ext := range extensionsOf(FormatHEIC) {
				e.registry.RegisterLoader(ext, preview)
			}
			log.Debug("registered embedded preview loader")
		} else {
			log.Info("HEIC preview fallback disabled", "error", err)
		}
	}
	return e, nil
}

// Close releases the exiftool process if one was started
func (e *Extractor) Close() error {
	if e.preview != nil {
		return e.preview.Close()
	}
	return nil
}

// Extract reads path and returns its record. Failures of the optional
// enrichment steps are attached to the record, never returned.
func (e *Extractor) Extract(ctx context.Context, path string, opts types.EnrichOptions) (types.ImageRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.ImageRecord{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return types.ImageRecord{}, &ExtractionError{Path: path, Reason: ReasonStat, Err: err}
	}

	contentHash, err := imagehash.ContentHashFile(path)
	if err != nil {
		return types.ImageRecord{}, &ExtractionError{Path: path, Reason: ReasonHash, Err: err}
	}

	features, err := e.decode(path)
	if err != nil {
		return types.ImageRecord{}, &ExtractionError{Path: path, Reason: ReasonUnreadable, Err: err}
	}

	rec := types.ImageRecord{
		Path:           path,
		ContentHash:    contentHash,
		PerceptualHash: features.phash,
		Width:          features.width,
		Height:         features.height,
		FileSize:       info.Size(),
		ModTime:        info.ModTime(),
		Sharpness:      features.sharpness,
	}
	rec.QualityScore = types.QualityScore(rec.Width, rec.Height, rec.FileSize, rec.Sharpness)

	if opts.Any() {
		enriched := e.providers.Enrich(ctx, path, opts)
		rec.Embedding = enriched.Embedding
		rec.Faces = enriched.Faces
		rec.Objects = enriched.Objects
		if enriched.Err != nil {
			rec.EnrichmentError = enriched.Err.Error()
		}
	}
	return rec, nil
}

type pixelFeatures struct {
	width, height int
	sharpness     float64
	phash         uint64
}

// decode loads the pixels and computes everything derived from them. OpenCV
// can panic on malformed input, so the panic is turned into an error.
func (e *Extractor) decode(path string) (features pixelFeatures, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during image decoding", "path", path, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic during image decoding: %v", r)
		}
	}()

	img, err := e.registry.LoadImage(path)
	if err != nil {
		return features, err
	}
	defer img.Close()

	gray, err := ToGray(img.Mat)
	if err != nil {
		return features, err
	}
	defer gray.Close()

	features.width, features.height = img.Width, img.Height
	if features.sharpness, err = LaplacianVariance(gray); err != nil {
		return features, err
	}

	switch e.algorithm {
	case imagehash.DCT:
		features.phash, err = ComputePerceptualHash(gray)
	default:
		goImg, convErr := gray.ToImage()
		if convErr != nil {
			return features, fmt.Errorf("failed to convert image: %w", convErr)
		}
		features.phash, err = imagehash.PerceptionHash(goImg)
	}
	return features, err
}
