// Package metrics exposes pipeline run metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hed1ad/devicescore/pkg/pipeline"
)

const (
	// OutcomeSuccess labels runs that produced a report.
	OutcomeSuccess = "success"
	// OutcomeError labels runs that failed in any stage.
	OutcomeError = "error"
)

// Collector records pipeline runs. It implements pipeline.Observer.
type Collector struct {
	runsTotal       *prometheus.CounterVec
	durationSeconds prometheus.Histogram
	records         prometheus.Gauge
	anomalies       prometheus.Gauge
	offset          prometheus.Gauge
}

// NewCollector creates the devicescore collectors. They are not registered.
func NewCollector() *Collector {
	return &Collector{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "devicescore",
				Name:      "pipeline_runs_total",
				Help:      "Total number of pipeline runs, partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		durationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "devicescore",
				Name:      "pipeline_seconds",
				Help:      "Pipeline run latency in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devicescore",
			Name:      "records",
			Help:      "Records scored by the last successful run.",
		}),
		anomalies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devicescore",
			Name:      "anomalies",
			Help:      "Records labelled anomalous by the last successful run.",
		}),
		offset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devicescore",
			Name:      "decision_offset",
			Help:      "Decision boundary of the last successful run.",
		}),
	}
}

// Register attaches the collectors to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.runsTotal,
		c.durationSeconds,
		c.records,
		c.anomalies,
		c.offset,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a run duration and outcome. Gauges only move on success.
func (c *Collector) ObserveRun(d time.Duration, report *pipeline.Report, err error) {
	if d < 0 {
		d = 0
	}
	c.durationSeconds.Observe(d.Seconds())

	if err != nil || report == nil {
		c.runsTotal.WithLabelValues(OutcomeError).Inc()
		return
	}
	c.runsTotal.WithLabelValues(OutcomeSuccess).Inc()
	c.records.Set(float64(report.Summary.Count))
	c.anomalies.Set(float64(report.Summary.Anomalies))
	c.offset.Set(report.Summary.Offset)
}

var _ pipeline.Observer = (*Collector)(nil)
