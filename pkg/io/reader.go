// Package io provides input/output utilities for telemetry datasets and reports.
package io

import (
	"github.com/hed1ad/devicescore/pkg/pipeline"
	"github.com/hed1ad/devicescore/pkg/telemetry"
)

// Reader is the interface for reading telemetry from various sources.
type Reader interface {
	// Read returns the complete dataset.
	Read() (*telemetry.Dataset, error)

	// Close releases resources.
	Close() error
}

// Writer is the interface for writing pipeline reports.
type Writer interface {
	// Write outputs a report.
	Write(report *pipeline.Report) error

	// Close flushes and releases resources.
	Close() error
}

// OutputColumns are appended to the input schema by report writers.
var OutputColumns = []string{
	telemetry.ColFailureRate,
	"anomaly_score",
	"decision",
	"anomaly_label",
	"pc1",
	"pc2",
}
