// Package telemetry defines the device telemetry data model shared by the
// scoring pipeline: raw records, datasets, scored and projected records.
package telemetry

import (
	"math"
	"strconv"
)

// Column names recognised by the pipeline.
const (
	ColDeviceID     = "device_id"
	ColUptimeHours  = "uptime_hours"
	ColFailures     = "failures"
	ColAvgLatencyMS = "avg_latency_ms"
	ColErrorRate    = "error_rate"
	ColFailureRate  = "failure_rate"
)

// RequiredColumns are the columns every input dataset must carry.
var RequiredColumns = []string{
	ColDeviceID,
	ColUptimeHours,
	ColFailures,
	ColAvgLatencyMS,
	ColErrorRate,
}

// Record is the telemetry of one monitored device.
type Record struct {
	DeviceID     string  `json:"device_id"`
	UptimeHours  float64 `json:"uptime_hours"`
	Failures     int     `json:"failures"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	ErrorRate    float64 `json:"error_rate"`
	FailureRate  float64 `json:"failure_rate"`

	// Extra holds passthrough columns keyed by header name.
	Extra map[string]string `json:"extra,omitempty"`
}

// Feature returns the numeric value of the named column.
// Passthrough columns are parsed on demand; ok is false when the column is
// unknown or not numeric.
func (r Record) Feature(name string) (float64, bool) {
	switch name {
	case ColUptimeHours:
		return r.UptimeHours, true
	case ColFailures:
		return float64(r.Failures), true
	case ColAvgLatencyMS:
		return r.AvgLatencyMS, true
	case ColErrorRate:
		return r.ErrorRate, true
	case ColFailureRate:
		return r.FailureRate, true
	}

	raw, ok := r.Extra[name]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// clone returns a copy of r that shares nothing mutable with it.
func (r Record) clone() Record {
	if r.Extra != nil {
		extra := make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			extra[k] = v
		}
		r.Extra = extra
	}
	return r
}

// Label classifies a scored record.
type Label string

const (
	Normal    Label = "Normal"
	Anomalous Label = "Anomalous"
)

// ScoredRecord is a Record with its isolation forest result.
type ScoredRecord struct {
	Record

	// AnomalyScore is the normalized isolation score in (0, 1].
	// Values near 1 are strong anomalies, values at or below 0.5 are normal.
	AnomalyScore float64 `json:"anomaly_score"`
	// Decision is threshold minus AnomalyScore. Lower is more anomalous and
	// anomalous records are negative.
	Decision float64 `json:"decision"`
	Label    Label   `json:"anomaly_label"`
}

// ProjectedRecord is a ScoredRecord placed in principal component space.
type ProjectedRecord struct {
	ScoredRecord

	PC1 float64 `json:"pc1"`
	PC2 float64 `json:"pc2"`

	// Coords holds every retained component; PC1 and PC2 mirror the first two.
	Coords []float64 `json:"coords,omitempty"`
}

// NewProjectedRecord places s at coords.
func NewProjectedRecord(s ScoredRecord, coords []float64) ProjectedRecord {
	p := ProjectedRecord{ScoredRecord: s, Coords: coords}
	if len(coords) > 0 {
		p.PC1 = coords[0]
	}
	if len(coords) > 1 {
		p.PC2 = coords[1]
	}
	return p
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
