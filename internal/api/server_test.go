package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/devicescore/internal/metrics"
	"github.com/hed1ad/devicescore/pkg/generate"
	dscsv "github.com/hed1ad/devicescore/pkg/io/csv"
	"github.com/hed1ad/devicescore/pkg/pipeline"
	"github.com/hed1ad/devicescore/pkg/telemetry"
)

func fleetLoader(n int) Loader {
	return func(context.Context) (*telemetry.Dataset, error) {
		return generate.Dataset(generate.Config{Devices: n, Seed: 42, OutlierFraction: 0.05})
	}
}

func newTestServer(t *testing.T, load Loader, opts ...Option) *Server {
	t.Helper()
	return New(pipeline.New(pipeline.DefaultConfig()), load, opts...)
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestNotReady(t *testing.T) {
	s := newTestServer(t, fleetLoader(40))

	for _, target := range []string{
		"/api/v1/report",
		"/api/v1/summary",
		"/api/v1/devices/D1",
		"/api/v1/anomalies",
		"/api/v1/latency-histogram",
	} {
		t.Run(target, func(t *testing.T) {
			rec := get(t, s, target)
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

			var body APIError
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, ErrCodeNotReady, body.Code)
		})
	}

	rec := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","ready":false}`, rec.Body.String())
}

func TestReportEndpoints(t *testing.T) {
	s := newTestServer(t, fleetLoader(40))
	require.NoError(t, s.Refresh(context.Background()))

	t.Run("report", func(t *testing.T) {
		rec := get(t, s, "/api/v1/report")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var report pipeline.Report
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
		assert.Equal(t, s.Report().RunID, report.RunID)
		assert.Len(t, report.Records, 40)
	})

	t.Run("summary", func(t *testing.T) {
		rec := get(t, s, "/api/v1/summary")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			RunID   string           `json:"run_id"`
			Summary pipeline.Summary `json:"summary"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, 40, body.Summary.Count)
		assert.Equal(t, s.Report().Summary.Anomalies, body.Summary.Anomalies)
	})

	t.Run("device", func(t *testing.T) {
		rec := get(t, s, "/api/v1/devices/D7")
		require.Equal(t, http.StatusOK, rec.Code)

		var device telemetry.ProjectedRecord
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&device))
		assert.Equal(t, "D7", device.DeviceID)
	})

	t.Run("unknown device", func(t *testing.T) {
		rec := get(t, s, "/api/v1/devices/nope")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), ErrCodeNotFound)
	})

	t.Run("anomalies", func(t *testing.T) {
		rec := get(t, s, "/api/v1/anomalies")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Count   int                         `json:"count"`
			Devices []telemetry.ProjectedRecord `json:"devices"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, s.Report().Summary.Anomalies, body.Count)
		for i := 1; i < len(body.Devices); i++ {
			assert.GreaterOrEqual(t, body.Devices[i-1].AnomalyScore, body.Devices[i].AnomalyScore)
		}
		for _, d := range body.Devices {
			assert.Equal(t, telemetry.Anomalous, d.Label)
		}
	})

	t.Run("anomalies limit", func(t *testing.T) {
		rec := get(t, s, "/api/v1/anomalies?limit=2")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"count":2`)

		rec = get(t, s, "/api/v1/anomalies?limit=-1")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("histogram", func(t *testing.T) {
		rec := get(t, s, "/api/v1/latency-histogram")
		require.Equal(t, http.StatusOK, rec.Code)

		var h pipeline.Histogram
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&h))
		assert.Len(t, h.Counts, 40)
		assert.Len(t, h.Edges, 41)

		total := 0
		for _, c := range h.Counts {
			total += c
		}
		assert.Equal(t, 40, total)
	})

	t.Run("histogram bins", func(t *testing.T) {
		rec := get(t, s, "/api/v1/latency-histogram?bins=5")
		require.Equal(t, http.StatusOK, rec.Code)

		var h pipeline.Histogram
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&h))
		assert.Len(t, h.Counts, 5)

		for _, bad := range []string{"0", "abc", "5000"} {
			rec := get(t, s, "/api/v1/latency-histogram?bins="+bad)
			assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
		}
	})

	t.Run("health", func(t *testing.T) {
		rec := get(t, s, "/healthz")
		assert.JSONEq(t, `{"status":"ok","ready":true}`, rec.Body.String())
	})
}

func TestRefreshFailureKeepsReport(t *testing.T) {
	fail := false
	load := func(ctx context.Context) (*telemetry.Dataset, error) {
		if fail {
			return nil, errors.New("disk gone")
		}
		return fleetLoader(20)(ctx)
	}
	s := newTestServer(t, load)
	require.NoError(t, s.Refresh(context.Background()))
	first := s.Report()

	fail = true
	err := s.Refresh(context.Background())
	assert.ErrorContains(t, err, "disk gone")
	assert.Same(t, first, s.Report())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrCodeRunFailed)
}

func TestRefreshEndpoint(t *testing.T) {
	s := newTestServer(t, fleetLoader(20))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.Report())
	assert.Contains(t, rec.Body.String(), s.Report().RunID)

	rec = get(t, s, "/api/v1/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector()
	require.NoError(t, collector.Register(reg))

	s := New(
		pipeline.New(pipeline.DefaultConfig(), pipeline.WithObserver(collector)),
		fleetLoader(20),
		WithGatherer(reg),
	)
	require.NoError(t, s.Refresh(context.Background()))

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `devicescore_pipeline_runs_total{outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), "devicescore_records 20")
}

func TestMetricsEndpointDisabled(t *testing.T) {
	s := newTestServer(t, fleetLoader(20))
	assert.Equal(t, http.StatusNotFound, get(t, s, "/metrics").Code)
}

func writeFleet(t *testing.T, path string, n int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("device_id,uptime_hours,failures,avg_latency_ms,error_rate\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "D%d,%d,%d,%d,0.01\n", i, 500+i*37, i%7, 150+(i*13)%90)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func TestWatchRefreshesOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system_logs.csv")
	writeFleet(t, path, 10)

	load := func(context.Context) (*telemetry.Dataset, error) {
		return dscsv.ReadFile(path, dscsv.WithRequired(telemetry.RequiredColumns...))
	}
	s := newTestServer(t, load)
	require.NoError(t, s.Refresh(context.Background()))
	require.Equal(t, 10, s.Report().Summary.Count)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, path) }()

	assert.Eventually(t, func() bool {
		if s.Report().Summary.Count == 25 {
			return true
		}
		writeFleet(t, path, 25)
		return false
	}, 10*time.Second, 500*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestListenAndServeShutdown(t *testing.T) {
	s := newTestServer(t, fleetLoader(20))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0", time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
