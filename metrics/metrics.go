// Package metrics exposes Prometheus counters for scans, grouping passes and
// deletions. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imagededup/logging"
)

var log = logging.Module("metrics")

const metricsPath = "/metrics"

// File outcomes
const (
	OutcomeIndexed   = "indexed"
	OutcomeSkipped   = "skipped"
	OutcomeUnchanged = "unchanged"
	OutcomeDeleted   = "deleted"
	OutcomeFailed    = "failed"
	OutcomeBlocked   = "blocked"
)

type Metrics struct {
	registry       *prometheus.Registry
	FilesScanned   *prometheus.CounterVec
	ExtractSeconds prometheus.Histogram
	Groups         *prometheus.GaugeVec
	Deletions      *prometheus.CounterVec
}

// New creates the collectors on a private registry
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FilesScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagededup_files_scanned_total",
			Help: "Files visited by scans, partitioned by outcome.",
		}, []string{"outcome"}),
		ExtractSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "imagededup_extract_duration_seconds",
			Help:    "Time spent extracting features from one file.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		Groups: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "imagededup_duplicate_groups",
			Help: "Duplicate groups found by the last grouping pass, per strategy.",
		}, []string{"strategy"}),
		Deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagededup_deletions_total",
			Help: "Deletion candidates handled, partitioned by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{m.FilesScanned, m.ExtractSeconds, m.Groups, m.Deletions} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// FileScanned counts one visited file
func (m *Metrics) FileScanned(outcome string) {
	if m == nil {
		return
	}
	m.FilesScanned.WithLabelValues(outcome).Inc()
}

// ObserveExtraction records the extraction time of one file
func (m *Metrics) ObserveExtraction(d time.Duration) {
	if m == nil {
		return
	}
	m.ExtractSeconds.Observe(d.Seconds())
}

// GroupsFound sets the group count of the last pass for strategy
func (m *Metrics) GroupsFound(strategy string, n int) {
	if m == nil {
		return
	}
	m.Groups.WithLabelValues(strategy).Set(float64(n))
}

// Deletion counts one deletion candidate
func (m *Metrics) Deletion(outcome string) {
	if m == nil {
		return
	}
	m.Deletions.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes the metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", "addr", addr, "path", metricsPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
