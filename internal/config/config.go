// Package config loads reduction defaults from a single YAML file.
//
// The file is named explicitly with --config. There is no discovery and no
// environment override: what the file says, plus the flags given on the
// command line, is the whole configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"powderreduce/internal/axis"
	"powderreduce/internal/exposure"
	"powderreduce/internal/geometry"
)

// Config is the complete configuration of the powderreduce command.
type Config struct {
	Reduction ReductionConfig `yaml:"reduction"`
	Logging   LoggingConfig   `yaml:"logging"`
	Paths     PathsConfig     `yaml:"paths"`
}

// ReductionConfig holds defaults for every reduction option a flag can
// also set.
type ReductionConfig struct {
	// Target is Theta, ElasticQ or ElasticDSpacing.
	Target string `yaml:"target"`

	// EFixed is the fixed energy in meV. Zero defers to the datasets'
	// EFixed instrument parameter.
	EFixed float64 `yaml:"efixed"`

	Bins       int  `yaml:"bins"`
	LogBinning bool `yaml:"log_binning"`

	// NormaliseBy is None, Time or Monitor.
	NormaliseBy string `yaml:"normalise_by"`

	BackgroundScale float64 `yaml:"background_scale"`

	// MaskAngle masks detectors with two-theta in [0, MaskAngle] degrees.
	MaskAngle *float64 `yaml:"mask_angle"`

	// Concurrency bounds the per-dataset stages of one reduction.
	Concurrency int `yaml:"concurrency"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// PathsConfig configures where run records and cached results go.
type PathsConfig struct {
	// StateDir receives runs/<run-id>/run.json and failure.json. Empty
	// disables run records.
	StateDir string `yaml:"state_dir"`

	// CacheDir holds reduced outputs keyed by run hash. Empty disables
	// the cache.
	CacheDir string `yaml:"cache_dir"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Reduction: ReductionConfig{
			Target:          string(axis.Theta),
			Bins:            1000,
			NormaliseBy:     string(exposure.Monitor),
			BackgroundScale: 1.0,
			Concurrency:     4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults and validates the result. Unknown keys
// are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a YAML configuration from r over the defaults. An empty
// document yields the defaults.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	r := c.Reduction
	if _, err := axis.ParseTarget(r.Target); err != nil {
		errs = append(errs, fmt.Errorf("reduction.target: %w", err))
	}
	if r.EFixed < 0 || math.IsNaN(r.EFixed) {
		errs = append(errs, fmt.Errorf("reduction.efixed must not be negative, got %g", r.EFixed))
	}
	if r.Bins <= 0 {
		errs = append(errs, fmt.Errorf("reduction.bins must be positive, got %d", r.Bins))
	}
	if _, err := exposure.ParseMode(r.NormaliseBy); err != nil {
		errs = append(errs, fmt.Errorf("reduction.normalise_by: %w", err))
	}
	if !(r.BackgroundScale >= 0) || math.IsInf(r.BackgroundScale, 0) {
		errs = append(errs, fmt.Errorf("reduction.background_scale must be a non-negative number, got %g", r.BackgroundScale))
	}
	if r.MaskAngle != nil {
		if err := geometry.ValidateRange(geometry.MinAngle, *r.MaskAngle); err != nil {
			errs = append(errs, fmt.Errorf("reduction.mask_angle: %w", err))
		}
	}
	if r.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("reduction.concurrency must be positive, got %d", r.Concurrency))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// NewLogger builds the handler the logging section asks for, writing to w.
func (l LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(l.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", l.Format)
	}
}
