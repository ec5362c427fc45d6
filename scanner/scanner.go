package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"imagededup/logging"
	"imagededup/metrics"
	"imagededup/types"
)

var log = logging.Module("scanner")

var errStopped = errors.New("scan stopped")

// Scanner drives feature extraction over a set of folders
type Scanner struct {
	extractor Extractor
	store     Store
	metrics   *metrics.Metrics
}

// Option configures a Scanner
type Option func(*Scanner)

// WithMetrics records per-file outcomes and extraction times
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

// New creates a Scanner writing records to store
func New(extractor Extractor, store Store, opts ...Option) *Scanner {
	s := &Scanner{extractor: extractor, store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CountFiles counts the scannable files under folders
func CountFiles(folders []string) FileStats {
	var stats FileStats
	for _, folder := range folders {
		filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !IsImageFile(path) {
				return nil
			}
			stats.Total++
			if IsTiffFormat(path) {
				stats.Tiff++
			}
			if IsHeifFormat(path) {
				stats.Heif++
			}
			return nil
		})
	}
	return stats
}

// Scan walks opts.Folders in lexical order and indexes every image file. It
// checks token before each file. Unreadable files are counted as skipped;
// a store failure aborts the scan. Pending writes are committed every
// BatchSize records and before returning, including after a stop.
func (s *Scanner) Scan(ctx context.Context, opts Options, token *Token, progress ProgressFunc) (Result, error) {
	if token == nil {
		token = NewToken()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var (
		res     Result
		pending int
		dim     int
	)
	if ds, ok := s.store.(dimensionStore); ok {
		dim = ds.EmbeddingDim()
	}
	emit := func(path string) {
		res.LastPath = path
		if progress != nil {
			progress(res.Progress)
		}
	}

	visit := func(path string, d fs.DirEntry) error {
		if !token.Wait(ctx) {
			return errStopped
		}
		res.Scanned++

		if opts.Incremental {
			unchanged, err := s.checkUnchanged(ctx, path, d)
			if err != nil {
				return err
			}
			if unchanged {
				log.Debug("skipping unchanged image", "path", path)
				res.Unchanged++
				s.metrics.FileScanned(metrics.OutcomeUnchanged)
				emit(path)
				return nil
			}
		}

		start := time.Now()
		rec, err := s.extractor.Extract(ctx, path, opts.Enrich)
		s.metrics.ObserveExtraction(time.Since(start))
		if err != nil {
			if ctx.Err() != nil {
				res.Scanned--
				return errStopped
			}
			res.Skipped++
			s.metrics.FileScanned(metrics.OutcomeSkipped)
			logging.LogImageProcessed(path, false, err.Error())
			emit(path)
			return nil
		}
		if rec.HasEmbedding() {
			switch {
			case dim == 0:
				dim = len(rec.Embedding)
			case len(rec.Embedding) != dim:
				rec = rec.WithoutEmbedding(fmt.Errorf("%w: got %d, store holds %d",
					types.ErrDimensionMismatch, len(rec.Embedding), dim))
			}
		}
		if rec.EnrichmentError != "" {
			log.Warn("enrichment omitted", "path", path, "error", rec.EnrichmentError)
		}

		if err := s.store.Upsert(ctx, rec); err != nil {
			return err
		}
		res.Indexed++
		pending++
		s.metrics.FileScanned(metrics.OutcomeIndexed)
		logging.LogImageProcessed(path, true, "")

		if pending >= batchSize {
			if err := s.store.Commit(ctx); err != nil {
				return err
			}
			pending = 0
		}
		emit(path)
		return nil
	}

	var scanErr error
	for _, folder := range opts.Folders {
		err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Warn("cannot read path", "path", path, "error", err)
				if d != nil && d.IsDir() && path != folder {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !IsImageFile(path) {
				return nil
			}
			return visit(path, d)
		})
		if errors.Is(err, errStopped) {
			res.Stopped = true
			break
		}
		if err != nil {
			scanErr = err
			break
		}
	}

	// flush what is buffered even when the scan failed or was stopped
	if err := s.store.Commit(ctx); err != nil {
		scanErr = errors.Join(scanErr, err)
	}
	if scanErr != nil {
		log.Error("scan aborted", "error", scanErr, "indexed", res.Indexed)
		return res, scanErr
	}

	log.Info("scan finished", "scanned", res.Scanned, "indexed", res.Indexed,
		"skipped", res.Skipped, "unchanged", res.Unchanged, "stopped", res.Stopped)
	return res, nil
}

// checkUnchanged reports whether the stored record still matches the file's
// size and modification time
func (s *Scanner) checkUnchanged(ctx context.Context, path string, d fs.DirEntry) (bool, error) {
	stored, err := s.store.Get(ctx, path)
	if err != nil || stored == nil {
		return false, err
	}
	info, err := d.Info()
	if err != nil {
		return false, nil
	}
	return info.Size() == stored.FileSize && info.ModTime().Equal(stored.ModTime), nil
}

// Job is a scan running on its own goroutine
type Job struct {
	Token  *Token
	done   chan struct{}
	result Result
	err    error
}

// Start runs Scan on a new goroutine. progress is called on that goroutine.
func (s *Scanner) Start(ctx context.Context, opts Options, token *Token, progress ProgressFunc) *Job {
	if token == nil {
		token = NewToken()
	}
	job := &Job{Token: token, done: make(chan struct{})}
	go func() {
		defer close(job.done)
		job.result, job.err = s.Scan(ctx, opts, token, progress)
	}()
	return job
}

// Done is closed when the scan has returned
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the scan returns
func (j *Job) Wait() (Result, error) {
	<-j.done
	return j.result, j.err
}
