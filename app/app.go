// Package app holds the state shared by the commands: settings and the
// lazily opened store, extractor and service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"imagededup/ai"
	"imagededup/config"
	"imagededup/database"
	"imagededup/imageprocessor"
	"imagededup/logging"
	"imagededup/metrics"
	"imagededup/resolver"
	"imagededup/service"
	"imagededup/signalhandler"
)

// Context is created once per process and passed to every command
type Context struct {
	Settings *config.Settings

	viper     *viper.Viper
	db        *database.DB
	extractor *imageprocessor.Extractor
	metrics   *metrics.Metrics
	svc       *service.Service
}

// NewContext returns a context with an unloaded configuration
func NewContext() *Context {
	return &Context{viper: config.New()}
}

// Viper returns the configuration instance flags are bound to
func (c *Context) Viper() *viper.Viper {
	return c.viper
}

// Load reads the configuration and sets up logging
func (c *Context) Load(cfgFile string) error {
	settings, err := config.Load(c.viper, cfgFile)
	if err != nil {
		return err
	}
	c.Settings = settings

	switch {
	case settings.LogFile != "":
		if err := logging.SetupLogger(settings.LogFile, settings.Debug); err != nil {
			return err
		}
	case settings.Debug:
		logging.SetOutput(os.Stderr, slog.LevelDebug)
	}
	logging.LogInfo("configuration loaded", "file", c.viper.ConfigFileUsed(), "database", settings.Database)
	return nil
}

// DB opens the record store on first use
func (c *Context) DB() (*database.DB, error) {
	if c.db != nil {
		return c.db, nil
	}
	if c.Settings == nil {
		return nil, errors.New("configuration not loaded")
	}
	db, err := database.InitDatabase(c.Settings.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", c.Settings.Database, err)
	}
	c.db = db
	return db, nil
}

// Metrics creates the metrics registry on first use
func (c *Context) Metrics() (*metrics.Metrics, error) {
	if c.metrics != nil {
		return c.metrics, nil
	}
	m, err := metrics.New()
	if err != nil {
		return nil, err
	}
	c.metrics = m
	return m, nil
}

// Providers builds the enrichment backends from the ai settings
func (c *Context) Providers() ai.Providers {
	cfg, enabled := c.Settings.AIConfig()
	if !enabled {
		return ai.Providers{Device: c.Settings.AI.Device}
	}
	p := ai.NewHTTPProvider(cfg)
	return ai.Providers{Embedder: p, Detector: p, Device: c.Settings.AI.Device}
}

// Service wires the store, extractor and resolver on first use. Metrics are
// attached when withMetrics is set.
func (c *Context) Service(withMetrics bool) (*service.Service, error) {
	if c.svc != nil {
		return c.svc, nil
	}
	db, err := c.DB()
	if err != nil {
		return nil, err
	}

	providers := c.Providers()
	extractor, err := imageprocessor.NewExtractor(c.Settings.HashAlgorithm(), imageprocessor.WithProviders(providers))
	if err != nil {
		return nil, err
	}
	c.extractor = extractor

	params := c.Settings.GroupingParams()
	if params.Workers == 0 {
		params.Workers = signalhandler.GetOptimalProcs()
	}

	opts := []service.Option{
		service.WithProviders(providers),
		service.WithAlgorithm(c.Settings.HashAlgorithm()),
		service.WithGroupingParams(params),
		service.WithCriteria(c.Settings.Criteria()),
		service.WithResolverOptions(
			resolver.WithMerger(resolver.NewExiftoolMerger()),
			resolver.WithRequireMerge(c.Settings.Resolve.RequireMetadataMerge),
		),
	}
	if withMetrics {
		m, err := c.Metrics()
		if err != nil {
			return nil, err
		}
		opts = append(opts, service.WithMetrics(m))
	}

	c.svc = service.New(db, extractor, opts...)
	return c.svc, nil
}

// ServeMetrics exposes the metrics on addr until ctx is done. Errors are
// logged; a scan never fails because the endpoint could not bind.
func (c *Context) ServeMetrics(ctx context.Context, addr string) {
	m, err := c.Metrics()
	if err != nil {
		logging.LogError("metrics disabled", "error", err)
		return
	}
	logging.LogInfo("serving metrics", "addr", addr)
	go func() {
		if err := m.Serve(ctx, addr); err != nil {
			logging.LogError("metrics endpoint failed", "addr", addr, "error", err)
		}
	}()
}

// Close releases everything that was opened
func (c *Context) Close() error {
	var errs []error
	if c.extractor != nil {
		errs = append(errs, c.extractor.Close())
	}
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	logging.CloseLogger()
	return errors.Join(errs...)
}
