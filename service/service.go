// Package service wires the record store, scanner, grouping engine and
// resolver into the operations exposed by the command line.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imagededup/ai"
	"imagededup/database"
	"imagededup/grouping"
	"imagededup/imagehash"
	"imagededup/logging"
	"imagededup/metrics"
	"imagededup/resolver"
	"imagededup/scanner"
	"imagededup/types"
	"imagededup/utils"
)

var log = logging.Module("service")

// StrategyAll runs every grouping strategy and drops repeated groups
const StrategyAll = "all"

// ErrNoFolders is returned when a scan has neither explicit nor registered folders
var ErrNoFolders = errors.New("no folders to scan")

// Service is the application facade over one record store
type Service struct {
	db        *database.DB
	extractor scanner.Extractor
	providers ai.Providers
	metrics   *metrics.Metrics
	algorithm imagehash.Algorithm
	params    grouping.Params
	criteria  resolver.Criteria
	resolver  *resolver.Resolver

	resolverOpts []resolver.Option
}

// Option configures a Service
type Option func(*Service)

// WithProviders sets the enrichment backends probed before each scan
func WithProviders(p ai.Providers) Option {
	return func(s *Service) { s.providers = p }
}

// WithMetrics records scan, grouping and deletion metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAlgorithm sets the perceptual hash algorithm the store must use
func WithAlgorithm(algo imagehash.Algorithm) Option {
	return func(s *Service) { s.algorithm = algo }
}

// WithGroupingParams sets the grouping thresholds
func WithGroupingParams(p grouping.Params) Option {
	return func(s *Service) { s.params = p }
}

// WithCriteria sets the keep-selection preferences
func WithCriteria(c resolver.Criteria) Option {
	return func(s *Service) { s.criteria = c }
}

// WithResolverOptions configures the deletion path, e.g. the metadata merger
func WithResolverOptions(opts ...resolver.Option) Option {
	return func(s *Service) { s.resolverOpts = append(s.resolverOpts, opts...) }
}

// New creates a service over db
func New(db *database.DB, extractor scanner.Extractor, opts ...Option) *Service {
	s := &Service{
		db:        db,
		extractor: extractor,
		algorithm: imagehash.PHash,
		params:    grouping.Params{PerceptualThreshold: 6, SemanticThreshold: 0.95, Workers: 1},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = resolver.New(db, append(s.resolverOpts,
		resolver.WithMetrics(s.metrics), resolver.WithReindex(extractor))...)
	return s
}

// ScanRequest describes one scan
type ScanRequest struct {
	// Folders to walk; empty means the registered folders
	Folders     []string
	Enrich      types.EnrichOptions
	Incremental bool
	BatchSize   int
}

// ScanSummary is the outcome of a scan
type ScanSummary struct {
	RunID string
	scanner.Result
	// Missing lists requested folders that do not exist
	Missing []string
	// Disabled explains enrichment steps turned off for this run
	Disabled []string
	Elapsed  time.Duration
}

// ScanJob is a scan running in the background
type ScanJob struct {
	done    chan struct{}
	summary ScanSummary
	err     error
}

// Done is closed when the scan and its bookkeeping have finished
func (j *ScanJob) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the scan finishes
func (j *ScanJob) Wait() (ScanSummary, error) {
	<-j.done
	return j.summary, j.err
}

// StartScan validates the request, records the run and starts the scanner.
// Setup errors are returned directly; scan errors come from Wait.
func (s *Service) StartScan(ctx context.Context, req ScanRequest, token *scanner.Token, progress scanner.ProgressFunc) (*ScanJob, error) {
	folders := req.Folders
	if len(folders) == 0 {
		registered, err := s.db.Folders(ctx)
		if err != nil {
			return nil, err
		}
		folders = registered
	}
	if len(folders) == 0 {
		return nil, ErrNoFolders
	}

	existing, missing := utils.ExistingFolders(folders)
	for _, m := range missing {
		log.Warn("folder does not exist", "folder", m)
	}
	if len(existing) == 0 {
		return nil, fmt.Errorf("%w: none of %v exist", ErrNoFolders, folders)
	}

	if err := s.db.EnsureHashAlgorithm(ctx, s.algorithm); err != nil {
		return nil, err
	}

	enrich, disabled := s.providers.Restrict(ctx, req.Enrich)
	for _, reason := range disabled {
		log.Warn("enrichment disabled for this scan", "reason", reason)
	}

	runID, err := s.db.BeginScan(ctx, existing)
	if err != nil {
		return nil, err
	}
	log.Info("scan started", "run", runID, "folders", existing, "algorithm", s.algorithm)

	sc := scanner.New(s.extractor, s.db, scanner.WithMetrics(s.metrics))
	opts := scanner.Options{
		Folders:     existing,
		Enrich:      enrich,
		Incremental: req.Incremental,
		BatchSize:   req.BatchSize,
	}

	start := time.Now()
	job := sc.Start(ctx, opts, token, progress)
	sj := &ScanJob{done: make(chan struct{})}
	go func() {
		defer close(sj.done)
		res, scanErr := job.Wait()
		sj.summary = ScanSummary{
			RunID:    runID,
			Result:   res,
			Missing:  missing,
			Disabled: disabled,
			Elapsed:  time.Since(start),
		}

		status := database.ScanCompleted
		switch {
		case scanErr != nil:
			status = database.ScanFailed
		case res.Stopped:
			status = database.ScanStopped
		}
		run := database.ScanRun{
			ID:        runID,
			Scanned:   res.Scanned,
			Indexed:   res.Indexed,
			Skipped:   res.Skipped,
			Unchanged: res.Unchanged,
			Status:    status,
		}
		// the run is recorded even when ctx was cancelled
		finishErr := s.db.FinishScan(context.WithoutCancel(ctx), run)
		sj.err = errors.Join(scanErr, finishErr)
		log.Info("scan finished", "run", runID, "status", status, "indexed", res.Indexed, "skipped", res.Skipped)
	}()
	return sj, nil
}

// Scan runs a scan to completion
func (s *Service) Scan(ctx context.Context, req ScanRequest, token *scanner.Token, progress scanner.ProgressFunc) (ScanSummary, error) {
	job, err := s.StartScan(ctx, req, token, progress)
	if err != nil {
		return ScanSummary{}, err
	}
	return job.Wait()
}

// Group loads every record and groups it with strategy, which is a
// grouping.Strategy or StrategyAll
func (s *Service) Group(ctx context.Context, strategy string) ([]types.DuplicateGroup, error) {
	records, err := s.db.All(ctx)
	if err != nil {
		return nil, err
	}

	if strategy == StrategyAll {
		var views [][]types.DuplicateGroup
		for _, st := range []grouping.Strategy{grouping.Exact, grouping.Perceptual, grouping.Semantic} {
			groups, err := grouping.Run(st, records, s.params)
			if err != nil {
				return nil, err
			}
			s.metrics.GroupsFound(string(st), len(groups))
			views = append(views, groups)
		}
		return grouping.Dedupe(views...), nil
	}

	st, err := grouping.ParseStrategy(strategy)
	if err != nil {
		return nil, err
	}
	groups, err := grouping.Run(st, records, s.params)
	if err != nil {
		return nil, err
	}
	s.metrics.GroupsFound(string(st), len(groups))
	log.Debug("grouped records", "strategy", st, "records", len(records), "groups", len(groups))
	return groups, nil
}

// Resolve proposes the copy of group to keep. ok is false when the criteria
// do not single out one record.
func (s *Service) Resolve(group types.DuplicateGroup) (keep string, ok bool) {
	return resolver.Select(group, s.criteria)
}

// NewSession starts an interactive resolution of group
func (s *Service) NewSession(group types.DuplicateGroup) *resolver.Session {
	return resolver.NewSession(group, s.criteria)
}

// Execute performs a confirmed session deletion
func (s *Service) Execute(ctx context.Context, session *resolver.Session) (resolver.DeleteReport, error) {
	return session.Execute(ctx, s.resolver)
}

// Delete keeps keep and removes the other members of group
func (s *Service) Delete(ctx context.Context, group types.DuplicateGroup, keep string) (resolver.DeleteReport, error) {
	return s.resolver.Delete(ctx, group, keep)
}

// Ignore forgets the records of group without touching files
func (s *Service) Ignore(ctx context.Context, group types.DuplicateGroup) error {
	return s.resolver.Ignore(ctx, group)
}

// IgnoreSession dismisses the group of an interactive session
func (s *Service) IgnoreSession(ctx context.Context, session *resolver.Session) error {
	return session.Ignore(ctx, s.resolver)
}
