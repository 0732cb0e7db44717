// Package generate produces synthetic device telemetry for demos and tests.
package generate

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hed1ad/devicescore/pkg/telemetry"
)

// Config controls the generated fleet.
type Config struct {
	Devices int
	Seed    uint64
	// OutlierFraction is the share of devices drawn from a degraded profile.
	OutlierFraction float64
}

// DefaultConfig mirrors the reference fleet: 5000 healthy devices, seed 42.
func DefaultConfig() Config {
	return Config{Devices: 5000, Seed: 42}
}

// Dataset generates a fleet of devices.
//
// Healthy devices run 500 to 2999 hours, fail Poisson(uptime/800) times, and
// answer in Normal(200, 50) ms floored at 20 ms with an error rate uniform in
// [0.001, 0.1). Degraded devices fail ten times as often and answer in
// Normal(900, 150) ms.
func Dataset(cfg Config) (*telemetry.Dataset, error) {
	if cfg.Devices < 0 {
		return nil, &telemetry.ConfigError{Field: "devices", Reason: "must be >= 0"}
	}
	if cfg.OutlierFraction < 0 || cfg.OutlierFraction > 1 {
		return nil, &telemetry.ConfigError{Field: "outlier_fraction", Reason: "must be in [0, 1]"}
	}

	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	rng := rand.New(src)

	healthy := distuv.Normal{Mu: 200, Sigma: 50, Src: src}
	degraded := distuv.Normal{Mu: 900, Sigma: 150, Src: src}
	errorRate := distuv.Uniform{Min: 0.001, Max: 0.1, Src: src}

	records := make([]telemetry.Record, cfg.Devices)
	for i := range records {
		outlier := cfg.OutlierFraction > 0 && rng.Float64() < cfg.OutlierFraction

		uptime := float64(500 + rng.IntN(2500))
		lambda := uptime / 800
		latency := healthy
		if outlier {
			lambda *= 10
			latency = degraded
		}
		failures := distuv.Poisson{Lambda: lambda, Src: src}.Rand()

		records[i] = telemetry.Record{
			DeviceID:     fmt.Sprintf("D%d", i+1),
			UptimeHours:  uptime,
			Failures:     int(failures),
			AvgLatencyMS: math.Max(20, round(latency.Rand(), 2)),
			ErrorRate:    round(errorRate.Rand(), 4),
		}
	}

	columns := make([]string, len(telemetry.RequiredColumns))
	copy(columns, telemetry.RequiredColumns)
	return telemetry.NewDataset(columns, records), nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
