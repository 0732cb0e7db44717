package generate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/devicescore/pkg/telemetry"
)

func TestDataset(t *testing.T) {
	ds, err := Dataset(Config{Devices: 500, Seed: 42})
	require.NoError(t, err)

	require.Equal(t, 500, ds.Len())
	assert.Equal(t, telemetry.RequiredColumns, ds.Columns)
	assert.Equal(t, "D1", ds.Records[0].DeviceID)
	assert.Equal(t, "D500", ds.Records[499].DeviceID)

	for _, r := range ds.Records {
		assert.GreaterOrEqual(t, r.UptimeHours, 500.0)
		assert.Less(t, r.UptimeHours, 3000.0)
		assert.GreaterOrEqual(t, r.Failures, 0)
		assert.GreaterOrEqual(t, r.AvgLatencyMS, 20.0)
		assert.GreaterOrEqual(t, r.ErrorRate, 0.001)
		assert.LessOrEqual(t, r.ErrorRate, 0.1)
	}
}

func TestDatasetDeterministic(t *testing.T) {
	a, err := Dataset(Config{Devices: 50, Seed: 7, OutlierFraction: 0.1})
	require.NoError(t, err)
	b, err := Dataset(Config{Devices: 50, Seed: 7, OutlierFraction: 0.1})
	require.NoError(t, err)
	c, err := Dataset(Config{Devices: 50, Seed: 8, OutlierFraction: 0.1})
	require.NoError(t, err)

	assert.Equal(t, a.Records, b.Records)
	assert.NotEqual(t, a.Records, c.Records)
}

func TestDatasetOutliers(t *testing.T) {
	ds, err := Dataset(Config{Devices: 1000, Seed: 1, OutlierFraction: 1})
	require.NoError(t, err)

	var mean float64
	for _, r := range ds.Records {
		mean += r.AvgLatencyMS
	}
	mean /= float64(ds.Len())
	assert.InDelta(t, 900, mean, 30)
}

func TestDatasetInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "negative devices", cfg: Config{Devices: -1}},
		{name: "fraction above one", cfg: Config{Devices: 1, OutlierFraction: 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Dataset(tt.cfg)
			var cfgErr *telemetry.ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}
