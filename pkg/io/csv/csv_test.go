package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/devicescore/pkg/pipeline"
	"github.com/hed1ad/devicescore/pkg/telemetry"
)

const sample = `device_id,uptime_hours,failures,avg_latency_ms,error_rate,site
D1,100,1,200,0.01,eu-1
D2,100,2,210,0.02,eu-2
D3,2,10,900,0.09,us-1
`

func TestRead(t *testing.T) {
	ds, err := NewReaderFrom(strings.NewReader(sample)).Read()
	require.NoError(t, err)

	assert.Equal(t, []string{"device_id", "uptime_hours", "failures", "avg_latency_ms", "error_rate", "site"}, ds.Columns)
	require.Len(t, ds.Records, 3)
	assert.Equal(t, telemetry.Record{
		DeviceID:     "D3",
		UptimeHours:  2,
		Failures:     10,
		AvgLatencyMS: 900,
		ErrorRate:    0.09,
		Extra:        map[string]string{"site": "us-1"},
	}, ds.Records[2])
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.csv")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	r, err := NewReader(path, WithRequired(telemetry.RequiredColumns...))
	require.NoError(t, err)
	defer r.Close()

	ds, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())

	ds, err = ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
}

func TestReadMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		opts    []Option
		wantCol string
		wantRow int
	}{
		{
			name:    "malformed number",
			input:   "device_id,uptime_hours,failures\nD1,abc,1\n",
			wantCol: "uptime_hours",
			wantRow: 0,
		},
		{
			name:    "empty value",
			input:   "device_id,uptime_hours,failures\nD1,10,1\nD2,,1\n",
			wantCol: "uptime_hours",
			wantRow: 1,
		},
		{
			name:    "fractional failures",
			input:   "device_id,failures\nD1,1.5\n",
			wantCol: "failures",
			wantRow: 0,
		},
		{
			name:    "failures out of range",
			input:   "device_id,failures\nD1,1e30\n",
			wantCol: "failures",
			wantRow: 0,
		},
		{
			name:    "negative latency",
			input:   "device_id,avg_latency_ms\nD1,-3\n",
			wantCol: "avg_latency_ms",
			wantRow: 0,
		},
		{
			name:    "empty device id",
			input:   "device_id,failures\n,1\n",
			wantCol: "device_id",
			wantRow: 0,
		},
		{
			name:    "required column missing",
			input:   "device_id,failures,avg_latency_ms,error_rate\nD1,1,200,0.1\n",
			opts:    []Option{WithRequired(telemetry.RequiredColumns...)},
			wantCol: "uptime_hours",
			wantRow: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReaderFrom(strings.NewReader(tt.input), tt.opts...).Read()

			var schemaErr *telemetry.SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, []string{tt.wantCol}, schemaErr.Columns)
			assert.Equal(t, tt.wantRow, schemaErr.Row)
		})
	}
}

func TestReadEmptyInput(t *testing.T) {
	_, err := NewReaderFrom(strings.NewReader("")).Read()
	var emptyErr *telemetry.EmptyDatasetError
	assert.ErrorAs(t, err, &emptyErr)
}

func TestReadLargeFailures(t *testing.T) {
	ds, err := NewReaderFrom(strings.NewReader("device_id,failures\nD1,9007199254740992\nD2,2e3\n")).Read()
	require.NoError(t, err)
	assert.Equal(t, 1<<53, ds.Records[0].Failures)
	assert.Equal(t, 2000, ds.Records[1].Failures)
}

func TestReadSemicolon(t *testing.T) {
	ds, err := NewReaderFrom(strings.NewReader("device_id;failures\nD1;4\n"), WithComma(';')).Read()
	require.NoError(t, err)
	assert.Equal(t, 4, ds.Records[0].Failures)
}

func TestWriteRoundTrip(t *testing.T) {
	ds, err := NewReaderFrom(strings.NewReader(sample)).Read()
	require.NoError(t, err)

	cfg := pipeline.DefaultConfig()
	cfg.Contamination = 0.33
	report, err := pipeline.Run(context.Background(), ds, cfg)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).Write(report))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{
		"device_id", "uptime_hours", "failures", "avg_latency_ms", "error_rate", "site",
		"failure_rate", "anomaly_score", "decision", "anomaly_label", "pc1", "pc2",
	}, rows[0])
	assert.Equal(t, []string{"D3", "2", "10", "900", "0.09", "us-1", "5"}, rows[3][:7])
	assert.Equal(t, "Anomalous", rows[3][9])
	assert.Equal(t, "Normal", rows[1][9])
}

func TestHeaderKeepsExistingOutputColumns(t *testing.T) {
	h := Header([]string{"device_id", "failure_rate"})
	assert.Equal(t, []string{"device_id", "failure_rate", "anomaly_score", "decision", "anomaly_label", "pc1", "pc2"}, h)
}

func TestWriteDataset(t *testing.T) {
	ds, err := NewReaderFrom(strings.NewReader(sample)).Read()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteDataset(ds))
	assert.Equal(t, sample, buf.String())
}
