package types

import (
	"errors"
	"time"
)

// ErrDimensionMismatch marks an embedding whose length differs from the
// dimensionality already used by the store
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ImageRecord holds the extracted features for one scanned file
type ImageRecord struct {
	Path            string      `json:"path"`
	ContentHash     string      `json:"content_hash"`
	PerceptualHash  uint64      `json:"perceptual_hash"`
	Width           int         `json:"width"`
	Height          int         `json:"height"`
	FileSize        int64       `json:"file_size"`
	ModTime         time.Time   `json:"modified_time"`
	Sharpness       float64     `json:"sharpness"`
	QualityScore    float64     `json:"quality_score"`
	Embedding       []float32   `json:"embedding,omitempty"`
	Faces           []Detection `json:"faces,omitempty"`
	Objects         []Detection `json:"objects,omitempty"`
	EnrichmentError string      `json:"enrichment_error,omitempty"`
}

// Area returns the pixel area of the image
func (r ImageRecord) Area() int64 {
	return int64(r.Width) * int64(r.Height)
}

// HasEmbedding reports whether an embedding was computed for the record
func (r ImageRecord) HasEmbedding() bool {
	return len(r.Embedding) > 0
}

// WithoutEmbedding returns a copy of r with the embedding dropped and err
// appended to its enrichment error
func (r ImageRecord) WithoutEmbedding(err error) ImageRecord {
	r.Embedding = nil
	if r.EnrichmentError != "" {
		r.EnrichmentError += "; " + err.Error()
	} else {
		r.EnrichmentError = err.Error()
	}
	return r
}

// BoundingBox is a detection box in coordinates normalized to [0,1]
type BoundingBox struct {
	XMin   float64 `json:"xmin"`
	YMin   float64 `json:"ymin"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is a single face or object found by a detection provider
type Detection struct {
	Label      string      `json:"label,omitempty"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"bbox"`
}

// EnrichOptions selects the optional model-backed enrichment steps
type EnrichOptions struct {
	Embeddings bool
	Faces      bool
	Objects    bool
}

// Any reports whether at least one enrichment step is requested
func (o EnrichOptions) Any() bool {
	return o.Embeddings || o.Faces || o.Objects
}

// DuplicateGroup is a set of records considered equivalent under one strategy.
// Records are ordered by descending quality score, then ascending path.
type DuplicateGroup struct {
	Strategy string        `json:"strategy"`
	Key      string        `json:"key,omitempty"`
	Records  []ImageRecord `json:"records"`
}

// Paths returns the member paths in group order
func (g DuplicateGroup) Paths() []string {
	paths := make([]string, len(g.Records))
	for i, r := range g.Records {
		paths[i] = r.Path
	}
	return paths
}

// Best returns the highest ranked member
func (g DuplicateGroup) Best() ImageRecord {
	return g.Records[0]
}

// Find returns the member with the given path
func (g DuplicateGroup) Find(path string) (ImageRecord, bool) {
	for _, r := range g.Records {
		if r.Path == path {
			return r, true
		}
	}
	return ImageRecord{}, false
}
