package pipeline

import (
	"runtime"

	"github.com/hed1ad/devicescore/pkg/detectors"
	"github.com/hed1ad/devicescore/pkg/telemetry"
)

// DefaultFeatures are the columns scored and projected when none are configured.
var DefaultFeatures = []string{telemetry.ColFailureRate, telemetry.ColAvgLatencyMS}

// Config parameterises one pipeline run.
type Config struct {
	detectors.Config `yaml:",inline"`

	Features      []string `yaml:"features" json:"features"`
	NumTrees      int      `yaml:"num_trees" json:"num_trees"`
	SubsampleSize int      `yaml:"subsample_size" json:"subsample_size"`
	NumComponents int      `yaml:"num_components" json:"num_components"`
	// Workers bounds concurrent tree construction; 0 means GOMAXPROCS.
	Workers int `yaml:"workers" json:"workers"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	features := make([]string, len(DefaultFeatures))
	copy(features, DefaultFeatures)

	return Config{
		Config:        detectors.DefaultConfig(),
		Features:      features,
		NumTrees:      100,
		SubsampleSize: 256,
		NumComponents: 2,
		Workers:       runtime.GOMAXPROCS(0),
	}
}

// Validate rejects out-of-range parameters.
func (c Config) Validate() error {
	switch {
	case len(c.Features) == 0:
		return &telemetry.ConfigError{Field: "features", Reason: "at least one feature is required"}
	case c.NumTrees <= 0:
		return &telemetry.ConfigError{Field: "num_trees", Reason: "must be > 0"}
	case c.SubsampleSize <= 0:
		return &telemetry.ConfigError{Field: "subsample_size", Reason: "must be > 0"}
	case c.Contamination <= 0 || c.Contamination >= 1:
		return &telemetry.ConfigError{Field: "contamination", Reason: "must be in (0, 1)"}
	case c.NumComponents < 1:
		return &telemetry.ConfigError{Field: "num_components", Reason: "must be >= 1"}
	case c.Workers < 0:
		return &telemetry.ConfigError{Field: "workers", Reason: "must be >= 0"}
	}
	return nil
}
