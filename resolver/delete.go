package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"

	"imagededup/metrics"
	"imagededup/types"
)

// ErrKeepNotInGroup is returned when the keep path is not a group member
var ErrKeepNotInGroup = errors.New("keep path is not a member of the group")

// Store is the part of the record store the resolver writes to
type Store interface {
	Upsert(ctx context.Context, rec types.ImageRecord) error
	Delete(ctx context.Context, path string) error
	Commit(ctx context.Context) error
}

// Extractor recomputes the record of a file rewritten by a metadata merge
type Extractor interface {
	Extract(ctx context.Context, path string, opts types.EnrichOptions) (types.ImageRecord, error)
}

// FileResult is the outcome for one deletion candidate
type FileResult struct {
	Path string
	// Missing is set when the file was already gone from disk
	Missing       bool
	FileRemoved   bool
	RecordRemoved bool
	Err           error
}

// DeleteReport describes a completed deletion
type DeleteReport struct {
	Keep         string
	MergedFields int
	MergeWarning string
	// KeepRefreshed is set when the kept record was re-extracted after the merge
	KeepRefreshed bool
	Results      []FileResult
}

// Removed counts candidates whose file was removed
func (r DeleteReport) Removed() int {
	n := 0
	for _, fr := range r.Results {
		if fr.FileRemoved {
			n++
		}
	}
	return n
}

// Failed returns the candidates that could not be removed
func (r DeleteReport) Failed() []FileResult {
	var failed []FileResult
	for _, fr := range r.Results {
		if fr.Err != nil {
			failed = append(failed, fr)
		}
	}
	return failed
}

// Resolver carries out keep decisions against the filesystem and the store
type Resolver struct {
	store        Store
	merger       MetadataMerger
	removeFile   func(string) error
	requireMerge bool
	metrics      *metrics.Metrics
	reindex      Extractor
}

// Option configures a Resolver
type Option func(*Resolver)

// WithMerger sets the metadata merger run before deletion
func WithMerger(m MetadataMerger) Option {
	return func(r *Resolver) { r.merger = m }
}

// WithRequireMerge aborts a deletion when the metadata merge fails
func WithRequireMerge(require bool) Option {
	return func(r *Resolver) { r.requireMerge = require }
}

// WithMetrics records deletion outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithReindex re-extracts the kept file after a merge wrote to it, so its
// stored hash, size and mtime follow the file
func WithReindex(e Extractor) Option {
	return func(r *Resolver) { r.reindex = e }
}

// WithRemoveFunc replaces os.Remove
func WithRemoveFunc(fn func(string) error) Option {
	return func(r *Resolver) { r.removeFile = fn }
}

// New creates a Resolver writing to store
func New(store Store, opts ...Option) *Resolver {
	r := &Resolver{store: store, removeFile: os.Remove}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Delete keeps keepPath and removes every other member of group. The
// resolution check runs first and a violation aborts with no side effects.
// Metadata is merged onto the kept file before any removal; each file is
// then removed from disk before its record leaves the store. A file that
// cannot be removed keeps its record and is reported individually.
func (r *Resolver) Delete(ctx context.Context, group types.DuplicateGroup, keepPath string) (DeleteReport, error) {
	report := DeleteReport{Keep: keepPath}

	keep, ok := group.Find(keepPath)
	if !ok {
		return report, fmt.Errorf("%w: %s", ErrKeepNotInGroup, keepPath)
	}
	var candidates []types.ImageRecord
	for _, rec := range group.Records {
		if rec.Path != keepPath {
			candidates = append(candidates, rec)
		}
	}

	if err := CheckDeletion(keep, candidates); err != nil {
		r.metrics.Deletion(metrics.OutcomeBlocked)
		log.Warn("deletion blocked", "error", err)
		return report, err
	}

	var present []string
	missing := make(map[string]bool)
	for _, c := range candidates {
		if _, err := os.Stat(c.Path); errors.Is(err, os.ErrNotExist) {
			missing[c.Path] = true
		} else {
			present = append(present, c.Path)
		}
	}

	switch {
	case len(present) == 0:
	case r.merger == nil:
		report.MergeWarning = "metadata merge skipped: no merger configured"
	default:
		n, err := r.merger.Merge(ctx, keepPath, present)
		if err != nil {
			if r.requireMerge {
				return report, fmt.Errorf("metadata merge failed, nothing deleted: %w", err)
			}
			report.MergeWarning = fmt.Sprintf("metadata merge failed: %v", err)
		}
		report.MergedFields = n
	}
	if report.MergeWarning != "" {
		log.Warn("deleting without metadata merge", "keep", keepPath, "reason", report.MergeWarning)
	}
	if report.MergedFields > 0 {
		refreshed, err := r.refreshKeep(ctx, keep)
		if err != nil {
			return report, err
		}
		report.KeepRefreshed = refreshed
	}

	for _, c := range candidates {
		res := FileResult{Path: c.Path, Missing: missing[c.Path]}
		if !res.Missing {
			if err := r.removeFile(c.Path); err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					res.Err = err
					report.Results = append(report.Results, res)
					r.metrics.Deletion(metrics.OutcomeFailed)
					log.Error("failed to delete file", "path", c.Path, "error", err)
					continue
				}
				res.Missing = true
			} else {
				res.FileRemoved = true
			}
		}

		if err := r.store.Delete(ctx, c.Path); err != nil {
			report.Results = append(report.Results, res)
			return report, err
		}
		res.RecordRemoved = true
		report.Results = append(report.Results, res)
		r.metrics.Deletion(metrics.OutcomeDeleted)
		log.Info("deleted duplicate", "path", c.Path, "keep", keepPath)
	}

	if err := r.store.Commit(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// refreshKeep replaces the kept record with a fresh extraction. The merge only
// touches metadata, so embedding and detections carry over. An extraction
// failure leaves the old record in place until the next scan.
func (r *Resolver) refreshKeep(ctx context.Context, keep types.ImageRecord) (bool, error) {
	if r.reindex == nil {
		log.Debug("kept record not refreshed after merge", "path", keep.Path)
		return false, nil
	}
	rec, err := r.reindex.Extract(ctx, keep.Path, types.EnrichOptions{})
	if err != nil {
		log.Warn("cannot refresh kept record after merge", "path", keep.Path, "error", err)
		return false, nil
	}
	rec.Embedding = keep.Embedding
	rec.Faces = keep.Faces
	rec.Objects = keep.Objects
	rec.EnrichmentError = keep.EnrichmentError
	if err := r.store.Upsert(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// Ignore drops the group's records from the store so it is not offered
// again. No file is touched.
func (r *Resolver) Ignore(ctx context.Context, group types.DuplicateGroup) error {
	for _, rec := range group.Records {
		if err := r.store.Delete(ctx, rec.Path); err != nil {
			return err
		}
	}
	log.Info("ignored group", "strategy", group.Strategy, "members", len(group.Records))
	return r.store.Commit(ctx)
}
