package scanner

import (
	"context"

	"imagededup/types"
)

// Extractor turns one image file into a record
type Extractor interface {
	Extract(ctx context.Context, path string, opts types.EnrichOptions) (types.ImageRecord, error)
}

// Store is the part of the record store a scan writes to
type Store interface {
	Upsert(ctx context.Context, rec types.ImageRecord) error
	Get(ctx context.Context, path string) (*types.ImageRecord, error)
	Commit(ctx context.Context) error
}

// dimensionStore is a Store that pins one embedding length
type dimensionStore interface {
	EmbeddingDim() int
}

// Options defines the options for scanning
type Options struct {
	Folders []string
	Enrich  types.EnrichOptions
	// Incremental skips files whose stored size and mtime still match
	Incremental bool
	// BatchSize is the number of upserts per commit
	BatchSize int
}

// DefaultBatchSize bounds the records lost if a scan crashes
const DefaultBatchSize = 100

// Progress is reported after every processed file
type Progress struct {
	Scanned   int
	Indexed   int
	Skipped   int
	Unchanged int
	LastPath  string
}

// ProgressFunc receives progress on the scanning goroutine
type ProgressFunc func(Progress)

// Result holds the final counters of a scan
type Result struct {
	Progress
	// Stopped is set when the scan ended early on request
	Stopped bool
}

// FileStats tracks information about files to be processed
type FileStats struct {
	Total int
	Tiff  int
	Heif  int
}
