package csv

import (
	"encoding/csv"
	"io"
	"strconv"

	dsio "github.com/hed1ad/devicescore/pkg/io"
	"github.com/hed1ad/devicescore/pkg/pipeline"
	"github.com/hed1ad/devicescore/pkg/telemetry"
)

// Writer writes projected records as CSV: the input columns followed by the
// derived, scoring and projection columns.
type Writer struct {
	closer io.Closer
	writer *csv.Writer
}

// NewWriter creates a Writer over dst. Close closes dst when it is an io.Closer.
func NewWriter(dst io.Writer) *Writer {
	w := &Writer{writer: csv.NewWriter(dst)}
	if c, ok := dst.(io.Closer); ok {
		w.closer = c
	}
	return w
}

// Write outputs one row per record of report.
func (w *Writer) Write(report *pipeline.Report) error {
	header := Header(report.Columns)
	if err := w.writer.Write(header); err != nil {
		return err
	}

	for _, rec := range report.Records {
		row := make([]string, len(header))
		for i, col := range header {
			row[i] = cell(rec, col)
		}
		if err := w.writer.Write(row); err != nil {
			return err
		}
	}

	w.writer.Flush()
	return w.writer.Error()
}

// WriteDataset outputs ds with its own columns only.
func (w *Writer) WriteDataset(ds *telemetry.Dataset) error {
	if err := w.writer.Write(ds.Columns); err != nil {
		return err
	}

	for _, r := range ds.Records {
		rec := telemetry.ProjectedRecord{ScoredRecord: telemetry.ScoredRecord{Record: r}}
		row := make([]string, len(ds.Columns))
		for i, col := range ds.Columns {
			row[i] = cell(rec, col)
		}
		if err := w.writer.Write(row); err != nil {
			return err
		}
	}

	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes and releases resources.
func (w *Writer) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// Header returns columns followed by every output column not already present.
func Header(columns []string) []string {
	header := make([]string, 0, len(columns)+len(dsio.OutputColumns))
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		header = append(header, c)
		seen[c] = true
	}
	for _, c := range dsio.OutputColumns {
		if !seen[c] {
			header = append(header, c)
		}
	}
	return header
}

func cell(rec telemetry.ProjectedRecord, col string) string {
	switch col {
	case telemetry.ColDeviceID:
		return rec.DeviceID
	case telemetry.ColFailures:
		return strconv.Itoa(rec.Failures)
	case "anomaly_score":
		return formatFloat(rec.AnomalyScore)
	case "decision":
		return formatFloat(rec.Decision)
	case "anomaly_label":
		return string(rec.Label)
	case "pc1":
		return formatFloat(rec.PC1)
	case "pc2":
		return formatFloat(rec.PC2)
	}
	if v, ok := rec.Record.Feature(col); ok {
		if _, extra := rec.Extra[col]; !extra {
			return formatFloat(v)
		}
	}
	return rec.Extra[col]
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
