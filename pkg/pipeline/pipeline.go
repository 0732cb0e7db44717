// Package pipeline composes feature derivation, isolation forest scoring and
// PCA projection into a single run over a telemetry dataset.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hed1ad/devicescore/pkg/telemetry"
)

// Report is the output of one pipeline run.
type Report struct {
	RunID       string                      `json:"run_id"`
	GeneratedAt time.Time                   `json:"generated_at"`
	Duration    time.Duration               `json:"duration_ns"`
	Config      Config                      `json:"config"`
	Columns     []string                    `json:"columns"`
	Records     []telemetry.ProjectedRecord `json:"records"`
	Summary     Summary                     `json:"summary"`
	// ExplainedVariance is the share of variance captured by each component.
	ExplainedVariance []float64 `json:"explained_variance"`
}

// Device returns the record for id.
func (r *Report) Device(id string) (telemetry.ProjectedRecord, bool) {
	for _, rec := range r.Records {
		if rec.DeviceID == id {
			return rec, true
		}
	}
	return telemetry.ProjectedRecord{}, false
}

// Anomalies returns the anomalous records, most anomalous first.
func (r *Report) Anomalies() []telemetry.ProjectedRecord {
	var out []telemetry.ProjectedRecord
	for _, rec := range r.Records {
		if rec.Label == telemetry.Anomalous {
			out = append(out, rec)
		}
	}
	sortByScore(out)
	return out
}

// LatencyHistogram bins the latency of every record.
func (r *Report) LatencyHistogram(bins int) Histogram {
	return LatencyHistogram(r.Records, bins)
}

// Observer is notified after every run.
type Observer interface {
	ObserveRun(d time.Duration, report *Report, err error)
}

// Pipeline runs the scoring stages with a fixed configuration.
type Pipeline struct {
	cfg       Config
	logger    *zap.Logger
	observers []Observer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithObserver registers o to be notified after every run.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observers = append(p.observers, o)
	}
}

// New creates a Pipeline. The configuration is validated on every Run.
func New(cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the configuration the pipeline runs with.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Run derives features, scores and projects ds.
// Stage errors are returned unchanged and no partial report is produced.
func (p *Pipeline) Run(ctx context.Context, ds *telemetry.Dataset) (*Report, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := p.logger.With(zap.String("run_id", runID))

	report, err := p.run(ctx, ds, runID, log)
	elapsed := time.Since(start)
	if err != nil {
		log.Error("pipeline run failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		report = nil
	} else {
		report.Duration = elapsed
		log.Info("pipeline run complete",
			zap.Int("records", report.Summary.Count),
			zap.Int("anomalies", report.Summary.Anomalies),
			zap.Duration("elapsed", elapsed),
		)
	}

	for _, o := range p.observers {
		o.ObserveRun(elapsed, report, err)
	}
	return report, err
}

func (p *Pipeline) run(ctx context.Context, ds *telemetry.Dataset, runID string, log *zap.Logger) (*Report, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}

	derived, err := telemetry.Derive(ds)
	if err != nil {
		return nil, err
	}
	log.Debug("features derived", zap.Int("records", derived.Len()))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scored, err := Score(ctx, derived, p.cfg.Features, p.cfg)
	if err != nil {
		return nil, err
	}
	log.Debug("records scored", zap.Float64("threshold", scored.Threshold))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	projected, err := Project(derived, scored.Records, p.cfg.Features, p.cfg.NumComponents)
	if err != nil {
		return nil, err
	}
	log.Debug("records projected", zap.Float64s("explained_variance", projected.Model.ExplainedVarianceRatio()))

	return &Report{
		RunID:             runID,
		GeneratedAt:       time.Now().UTC(),
		Config:            p.cfg,
		Columns:           derived.Columns,
		Records:           projected.Records,
		Summary:           Summarize(projected.Records, scored.Offset),
		ExplainedVariance: projected.Model.ExplainedVarianceRatio(),
	}, nil
}

// Run executes a pipeline with cfg over ds.
func Run(ctx context.Context, ds *telemetry.Dataset, cfg Config) (*Report, error) {
	return New(cfg).Run(ctx, ds)
}
