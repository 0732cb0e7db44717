package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/devicescore/pkg/telemetry"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEVICESCORE_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Pipeline.NumTrees)
	assert.Equal(t, 256, cfg.Pipeline.SubsampleSize)
	assert.Equal(t, 0.25, cfg.Pipeline.Contamination)
	assert.Equal(t, int64(42), cfg.Pipeline.RandomSeed)
	assert.Equal(t, 2, cfg.Pipeline.NumComponents)
	assert.Equal(t, []string{telemetry.ColFailureRate, telemetry.ColAvgLatencyMS}, cfg.Pipeline.Features)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devicescore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  num_trees: 50
  contamination: 0.1
  seed: 7
  features: [failure_rate, avg_latency_ms, error_rate]
logging:
  level: debug
  json: true
server:
  address: ":9090"
  watch: true
  refreshInterval: 30s
input:
  path: /var/lib/devicescore/logs.csv
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Pipeline.NumTrees)
	assert.Equal(t, 256, cfg.Pipeline.SubsampleSize, "unset keys keep defaults")
	assert.Equal(t, 0.1, cfg.Pipeline.Contamination)
	assert.Equal(t, int64(7), cfg.Pipeline.RandomSeed)
	assert.Len(t, cfg.Pipeline.Features, 3)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.True(t, cfg.Server.Watch)
	assert.Equal(t, 30*time.Second, cfg.Server.RefreshInterval)
	assert.Equal(t, "/var/lib/devicescore/logs.csv", cfg.Input.Path)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DEVICESCORE_CONFIG", "")
	t.Setenv("DEVICESCORE_NUM_TREES", "25")
	t.Setenv("DEVICESCORE_CONTAMINATION", "0.05")
	t.Setenv("DEVICESCORE_SEED", "99")
	t.Setenv("DEVICESCORE_FEATURES", "failure_rate, error_rate")
	t.Setenv("DEVICESCORE_LOG_FORMAT", "json")
	t.Setenv("DEVICESCORE_WATCH", "1")
	t.Setenv("DEVICESCORE_INPUT", "/tmp/in.csv")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Pipeline.NumTrees)
	assert.Equal(t, 0.05, cfg.Pipeline.Contamination)
	assert.Equal(t, int64(99), cfg.Pipeline.RandomSeed)
	assert.Equal(t, []string{"failure_rate", "error_rate"}, cfg.Pipeline.Features)
	assert.True(t, cfg.Logging.JSON)
	assert.True(t, cfg.Server.Watch)
	assert.Equal(t, "/tmp/in.csv", cfg.Input.Path)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		assert.ErrorContains(t, err, "not found")
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("pipeline: [\n"), 0o644))
		_, err := Load(path)
		assert.ErrorContains(t, err, "parse config")
	})

	t.Run("invalid contamination", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.yaml")
		require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  contamination: 1.5\n"), 0o644))
		_, err := Load(path)

		var cfgErr *telemetry.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "contamination", cfgErr.Field)
	})

	t.Run("unknown log level", func(t *testing.T) {
		path := filepath.Join(dir, "level.yaml")
		require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o644))
		_, err := Load(path)
		assert.ErrorContains(t, err, "unknown level")
	})
}

func TestLoadMalformedEnv(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "DEVICESCORE_NUM_TREES", value: "abc"},
		{name: "DEVICESCORE_SUBSAMPLE_SIZE", value: "1.5"},
		{name: "DEVICESCORE_NUM_COMPONENTS", value: "two"},
		{name: "DEVICESCORE_WORKERS", value: "many"},
		{name: "DEVICESCORE_CONTAMINATION", value: "ten percent"},
		{name: "DEVICESCORE_SEED", value: "0x"},
		{name: "DEVICESCORE_WATCH", value: "sometimes"},
		{name: "DEVICESCORE_REFRESH_INTERVAL", value: "30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DEVICESCORE_CONFIG", "")
			t.Setenv(tt.name, tt.value)

			cfg, err := Load("")
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.ErrorContains(t, err, tt.name)
		})
	}
}
