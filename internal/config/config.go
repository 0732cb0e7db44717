package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hed1ad/devicescore/pkg/pipeline"
)

// Config captures every setting of the devicescore CLI.
type Config struct {
	Pipeline pipeline.Config `yaml:"pipeline"`
	Logging  LoggingConfig   `yaml:"logging"`
	Server   ServerConfig    `yaml:"server"`
	Input    InputConfig     `yaml:"input"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	// File, when set, receives logs instead of stderr and is rotated.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// ServerConfig controls the report API.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	Watch           bool          `yaml:"watch"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// InputConfig locates the telemetry CSV.
type InputConfig struct {
	Path string `yaml:"path"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("DEVICESCORE_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Pipeline: pipeline.DefaultConfig(),
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Server: ServerConfig{
			Address:         ":8080",
			GracefulTimeout: 10 * time.Second,
		},
		Input: InputConfig{Path: "data/raw/system_logs.csv"},
	}
}

// Validate rejects configurations the CLI cannot run with.
func (c *Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}
	if c.Server.RefreshInterval < 0 {
		return fmt.Errorf("server: refreshInterval must be >= 0")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DEVICESCORE_INPUT"); v != "" {
		cfg.Input.Path = v
	}
	if v := os.Getenv("DEVICESCORE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("DEVICESCORE_WATCH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("DEVICESCORE_WATCH", v, err)
		}
		cfg.Server.Watch = b
	}
	if v := os.Getenv("DEVICESCORE_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("DEVICESCORE_REFRESH_INTERVAL", v, err)
		}
		cfg.Server.RefreshInterval = d
	}
	if v := os.Getenv("DEVICESCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DEVICESCORE_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}
	if v := os.Getenv("DEVICESCORE_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"DEVICESCORE_NUM_TREES", &cfg.Pipeline.NumTrees},
		{"DEVICESCORE_SUBSAMPLE_SIZE", &cfg.Pipeline.SubsampleSize},
		{"DEVICESCORE_NUM_COMPONENTS", &cfg.Pipeline.NumComponents},
		{"DEVICESCORE_WORKERS", &cfg.Pipeline.Workers},
	}
	for _, e := range ints {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError(e.name, v, err)
		}
		*e.dst = n
	}

	if v := os.Getenv("DEVICESCORE_CONTAMINATION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("DEVICESCORE_CONTAMINATION", v, err)
		}
		cfg.Pipeline.Contamination = f
	}
	if v := os.Getenv("DEVICESCORE_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return envError("DEVICESCORE_SEED", v, err)
		}
		cfg.Pipeline.RandomSeed = n
	}
	if v := os.Getenv("DEVICESCORE_FEATURES"); v != "" {
		cfg.Pipeline.Features = splitList(v)
	}
	return nil
}

func envError(name, value string, err error) error {
	return fmt.Errorf("env %s=%q: %w", name, value, err)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
