// Package csv provides CSV reading and writing for tabular telemetry.
package csv

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/hed1ad/devicescore/pkg/telemetry"
)

// Reader reads telemetry from CSV files with a header row.
type Reader struct {
	closer   io.Closer
	reader   *csv.Reader
	required []string
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithRequired rejects input whose header lacks any of cols.
func WithRequired(cols ...string) Option {
	return func(r *Reader) {
		r.required = cols
	}
}

// WithComma sets the field delimiter.
func WithComma(c rune) Option {
	return func(r *Reader) {
		r.reader.Comma = c
	}
}

// NewReader creates a new CSV reader over a file.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r := NewReaderFrom(file, opts...)
	r.closer = file
	return r, nil
}

// ReadFile reads the whole dataset at filename.
func ReadFile(filename string, opts ...Option) (*telemetry.Dataset, error) {
	r, err := NewReader(filename, opts...)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Read()
}

// NewReaderFrom creates a CSV reader over src. Close does not close src.
func NewReaderFrom(src io.Reader, opts ...Option) *Reader {
	r := &Reader{reader: csv.NewReader(src)}
	r.reader.TrimLeadingSpace = true

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read parses the header and every row into a Dataset.
// Malformed values in known numeric columns are schema errors, never skipped.
func (r *Reader) Read() (*telemetry.Dataset, error) {
	header, err := r.reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &telemetry.EmptyDatasetError{}
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	ds := telemetry.NewDataset(header, nil)
	if missing := ds.Missing(r.required...); len(missing) > 0 {
		return nil, telemetry.MissingColumns(missing...)
	}

	for row := 0; ; row++ {
		fields, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		rec, err := parseRecord(header, fields, row)
		if err != nil {
			return nil, err
		}
		ds.Records = append(ds.Records, rec)
	}

	return ds, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// parseRecord maps one CSV row onto a Record by header name.
func parseRecord(header, fields []string, row int) (telemetry.Record, error) {
	var rec telemetry.Record

	for i, col := range header {
		val := strings.TrimSpace(fields[i])

		switch col {
		case telemetry.ColDeviceID:
			if val == "" {
				return rec, schemaErr(col, row, "empty value")
			}
			rec.DeviceID = val
		case telemetry.ColFailures:
			f, err := parseNumber(col, val, row)
			if err != nil {
				return rec, err
			}
			if f != math.Trunc(f) {
				return rec, schemaErr(col, row, "not an integer count")
			}
			if f > maxCount {
				return rec, schemaErr(col, row, "count out of range "+strconv.Quote(val))
			}
			rec.Failures = int(f)
		case telemetry.ColUptimeHours, telemetry.ColAvgLatencyMS, telemetry.ColErrorRate, telemetry.ColFailureRate:
			f, err := parseNumber(col, val, row)
			if err != nil {
				return rec, err
			}
			switch col {
			case telemetry.ColUptimeHours:
				rec.UptimeHours = f
			case telemetry.ColAvgLatencyMS:
				rec.AvgLatencyMS = f
			case telemetry.ColErrorRate:
				rec.ErrorRate = f
			case telemetry.ColFailureRate:
				rec.FailureRate = f
			}
		default:
			if rec.Extra == nil {
				rec.Extra = make(map[string]string)
			}
			rec.Extra[col] = fields[i]
		}
	}
	return rec, nil
}

// maxCount is the largest count a float64 holds exactly and an int64 can carry.
const maxCount = 1 << 53

func parseNumber(col, val string, row int) (float64, error) {
	if val == "" {
		return 0, schemaErr(col, row, "empty value")
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, schemaErr(col, row, "malformed number "+strconv.Quote(val))
	}
	if f < 0 {
		return 0, schemaErr(col, row, "negative value")
	}
	return f, nil
}

func schemaErr(col string, row int, reason string) error {
	return &telemetry.SchemaError{Columns: []string{col}, Row: row, Reason: reason}
}
