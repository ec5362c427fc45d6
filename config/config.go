// Package config loads the settings of imagededup from defaults, an optional
// YAML file, IMAGEDEDUP_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"imagededup/ai"
	"imagededup/grouping"
	"imagededup/imagehash"
	"imagededup/resolver"
	"imagededup/types"
	"imagededup/utils"
)

// EnvPrefix is prepended to every environment override, e.g.
// IMAGEDEDUP_GROUPING_PERCEPTUAL_THRESHOLD
const EnvPrefix = "IMAGEDEDUP"

type Settings struct {
	Database string `mapstructure:"database" yaml:"database"`
	LogFile  string `mapstructure:"log_file" yaml:"log_file"`
	Debug    bool   `mapstructure:"debug" yaml:"debug"`

	Scan struct {
		BatchSize   int  `mapstructure:"batch_size" yaml:"batch_size"`
		Incremental bool `mapstructure:"incremental" yaml:"incremental"`
		Embeddings  bool `mapstructure:"embeddings" yaml:"embeddings"`
		Faces       bool `mapstructure:"faces" yaml:"faces"`
		Objects     bool `mapstructure:"objects" yaml:"objects"`
	} `mapstructure:"scan" yaml:"scan"`

	Hash struct {
		Algorithm string `mapstructure:"algorithm" yaml:"algorithm"` // phash or dct
	} `mapstructure:"hash" yaml:"hash"`

	Grouping struct {
		PerceptualThreshold int     `mapstructure:"perceptual_threshold" yaml:"perceptual_threshold"`
		SemanticThreshold   float64 `mapstructure:"semantic_threshold" yaml:"semantic_threshold"`
		Workers             int     `mapstructure:"workers" yaml:"workers"` // 0 picks the CPU count
	} `mapstructure:"grouping" yaml:"grouping"`

	Resolve struct {
		PreferOlder          bool `mapstructure:"prefer_older" yaml:"prefer_older"`
		PreferLarger         bool `mapstructure:"prefer_larger" yaml:"prefer_larger"`
		PreferDeeper         bool `mapstructure:"prefer_deeper" yaml:"prefer_deeper"`
		RequireMetadataMerge bool `mapstructure:"require_metadata_merge" yaml:"require_metadata_merge"`
	} `mapstructure:"resolve" yaml:"resolve"`

	AI struct {
		Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"` // empty disables enrichment
		Device            string        `mapstructure:"device" yaml:"device"`
		Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
		RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
		ProbeTTL          time.Duration `mapstructure:"probe_ttl" yaml:"probe_ttl"`
	} `mapstructure:"ai" yaml:"ai"`

	Metrics struct {
		Listen string `mapstructure:"listen" yaml:"listen"`
	} `mapstructure:"metrics" yaml:"metrics"`
}

// setDefaults registers a default for every key, which also makes every key
// visible to AutomaticEnv during Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("database", utils.GetDefaultDatabasePath())
	v.SetDefault("log_file", "")
	v.SetDefault("debug", false)

	v.SetDefault("scan.batch_size", 100)
	v.SetDefault("scan.incremental", false)
	v.SetDefault("scan.embeddings", false)
	v.SetDefault("scan.faces", false)
	v.SetDefault("scan.objects", false)

	v.SetDefault("hash.algorithm", string(imagehash.PHash))

	v.SetDefault("grouping.perceptual_threshold", 6)
	v.SetDefault("grouping.semantic_threshold", 0.95)
	v.SetDefault("grouping.workers", 0)

	v.SetDefault("resolve.prefer_older", false)
	v.SetDefault("resolve.prefer_larger", false)
	v.SetDefault("resolve.prefer_deeper", false)
	v.SetDefault("resolve.require_metadata_merge", false)

	v.SetDefault("ai.endpoint", "")
	v.SetDefault("ai.device", ai.CPU)
	v.SetDefault("ai.timeout", 30*time.Second)
	v.SetDefault("ai.requests_per_second", 0.0)
	v.SetDefault("ai.probe_ttl", 30*time.Second)

	v.SetDefault("metrics.listen", "")
}

// New returns a viper instance with defaults and environment overrides.
// Flags are bound to it before Load is called.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// DefaultConfigPaths lists the config files tried when none is given
func DefaultConfigPaths() []string {
	paths := []string{"imagededup.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "imagededup", "config.yaml"))
	}
	return paths
}

// Load reads the config file into v, then unmarshals and validates the
// result. An explicit cfgFile must exist; the default paths are optional.
func Load(v *viper.Viper, cfgFile string) (*Settings, error) {
	if cfgFile == "" {
		for _, path := range DefaultConfigPaths() {
			if _, err := os.Stat(path); err == nil {
				cfgFile = path
				break
			}
		}
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

// Validate checks value ranges and enumerations
func (s *Settings) Validate() error {
	var errs []error
	if s.Database == "" {
		errs = append(errs, errors.New("database path is empty"))
	}
	if s.Scan.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("scan.batch_size must be positive, got %d", s.Scan.BatchSize))
	}
	if !imagehash.Algorithm(s.Hash.Algorithm).Valid() {
		errs = append(errs, fmt.Errorf("hash.algorithm must be %q or %q, got %q", imagehash.PHash, imagehash.DCT, s.Hash.Algorithm))
	}
	if err := utils.ValidatePerceptualThreshold(s.Grouping.PerceptualThreshold); err != nil {
		errs = append(errs, err)
	}
	if err := utils.ValidateSimilarity(s.Grouping.SemanticThreshold); err != nil {
		errs = append(errs, err)
	}
	if s.Grouping.Workers < 0 {
		errs = append(errs, fmt.Errorf("grouping.workers must not be negative, got %d", s.Grouping.Workers))
	}
	if s.AI.Device == "" {
		errs = append(errs, errors.New("ai.device is empty"))
	}
	if s.AI.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("ai.timeout must be positive, got %s", s.AI.Timeout))
	}
	if s.AI.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("ai.requests_per_second must not be negative, got %g", s.AI.RequestsPerSecond))
	}
	return errors.Join(errs...)
}

// HashAlgorithm returns the configured perceptual hash algorithm
func (s *Settings) HashAlgorithm() imagehash.Algorithm {
	return imagehash.Algorithm(s.Hash.Algorithm)
}

// EnrichOptions returns the enrichment steps requested for scans
func (s *Settings) EnrichOptions() types.EnrichOptions {
	return types.EnrichOptions{
		Embeddings: s.Scan.Embeddings,
		Faces:      s.Scan.Faces,
		Objects:    s.Scan.Objects,
	}
}

// GroupingParams returns the thresholds used by the grouping strategies
func (s *Settings) GroupingParams() grouping.Params {
	return grouping.Params{
		PerceptualThreshold: s.Grouping.PerceptualThreshold,
		SemanticThreshold:   s.Grouping.SemanticThreshold,
		Workers:             s.Grouping.Workers,
	}
}

// Criteria returns the keep-selection preferences
func (s *Settings) Criteria() resolver.Criteria {
	var c resolver.Criteria
	if s.Resolve.PreferOlder {
		c |= resolver.PreferOlder
	}
	if s.Resolve.PreferLarger {
		c |= resolver.PreferLarger
	}
	if s.Resolve.PreferDeeper {
		c |= resolver.PreferDeeper
	}
	return c
}

// AIConfig returns the HTTP provider configuration, or false when no
// endpoint is configured
func (s *Settings) AIConfig() (ai.Config, bool) {
	if s.AI.Endpoint == "" {
		return ai.Config{}, false
	}
	return ai.Config{
		BaseURL:           s.AI.Endpoint,
		Timeout:           s.AI.Timeout,
		RequestsPerSecond: s.AI.RequestsPerSecond,
		ProbeTTL:          s.AI.ProbeTTL,
	}, true
}

// WriteYAML writes the effective settings to w
func (s *Settings) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return enc.Close()
}
