package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/devicescore/pkg/detectors"
	"github.com/hed1ad/devicescore/pkg/detectors/iforest"
	"github.com/hed1ad/devicescore/pkg/pca"
	"github.com/hed1ad/devicescore/pkg/telemetry"
)

// Scored is the output of the scoring stage.
type Scored struct {
	Records []telemetry.ScoredRecord
	// Threshold is the lowest anomalous score, +Inf when none is anomalous.
	Threshold float64
	// Offset is the decision boundary used for ScoredRecord.Decision.
	Offset float64
}

// Score fits an isolation forest on the named features of ds and labels the
// top contamination fraction of records as anomalous. Repeated feature names
// are scored once.
func Score(ctx context.Context, ds *telemetry.Dataset, features []string, cfg Config) (*Scored, error) {
	if ds.Len() == 0 {
		return nil, &telemetry.EmptyDatasetError{}
	}
	data, err := ds.Matrix(dedupe(features))
	if err != nil {
		return nil, err
	}

	forest := iforest.New(
		iforest.WithTrees(cfg.NumTrees),
		iforest.WithSampleSize(cfg.SubsampleSize),
		iforest.WithContamination(cfg.Contamination),
		iforest.WithSeed(cfg.RandomSeed),
		iforest.WithWorkers(cfg.Workers),
	)
	scores, err := forest.FitPredict(ctx, data)
	if err != nil {
		return nil, err
	}

	class := detectors.Classify(scores, cfg.Contamination)
	out := &Scored{
		Records:   make([]telemetry.ScoredRecord, len(scores)),
		Threshold: class.Threshold,
		Offset:    class.Offset,
	}
	for i, s := range scores {
		label := telemetry.Normal
		if class.Anomalous[i] {
			label = telemetry.Anomalous
		}
		out.Records[i] = telemetry.ScoredRecord{
			Record:       ds.Records[i],
			AnomalyScore: s,
			Decision:     class.Decision(s),
			Label:        label,
		}
	}
	return out, nil
}

// Projection is the output of the reduction stage.
type Projection struct {
	Records []telemetry.ProjectedRecord
	Model   *pca.Model
}

// Project fits a PCA model on the named features of ds and places every
// scored record at its coordinates. scored must be aligned with ds.Records.
func Project(ds *telemetry.Dataset, scored []telemetry.ScoredRecord, features []string, k int) (*Projection, error) {
	if ds.Len() != len(scored) {
		return nil, fmt.Errorf("project: %d scored records for %d dataset records", len(scored), ds.Len())
	}
	if distinct := distinctCount(features); distinct < k {
		return nil, &telemetry.InsufficientDimensionsError{Have: distinct, Need: k}
	}
	if ds.Len() < 2 {
		return nil, &telemetry.InsufficientSamplesError{Have: ds.Len(), Need: 2}
	}

	data, err := ds.Matrix(dedupe(features))
	if err != nil {
		return nil, err
	}
	model, err := pca.Fit(data, k)
	if err != nil {
		return nil, err
	}
	coords, err := model.Transform(data)
	if err != nil {
		return nil, err
	}

	out := &Projection{Records: make([]telemetry.ProjectedRecord, len(scored)), Model: model}
	for i, s := range scored {
		out.Records[i] = telemetry.NewProjectedRecord(s, coords[i])
	}
	return out, nil
}

// Summary carries the headline numbers shown next to the embedding.
type Summary struct {
	Count         int     `json:"count"`
	Devices       int     `json:"devices"`
	MeanLatencyMS float64 `json:"mean_latency_ms"`
	MaxLatencyMS  float64 `json:"max_latency_ms"`
	Anomalies     int     `json:"anomalies"`
	// Offset is the decision boundary: anomalous scores lie above it.
	Offset        float64 `json:"decision_offset"`
}

// Summarize computes Summary over records. offset is the decision boundary
// from the scoring stage.
func Summarize(records []telemetry.ProjectedRecord, offset float64) Summary {
	s := Summary{Count: len(records), Offset: offset}
	if len(records) == 0 {
		return s
	}

	latency := make([]float64, len(records))
	devices := make(map[string]struct{}, len(records))
	for i, r := range records {
		latency[i] = r.AvgLatencyMS
		devices[r.DeviceID] = struct{}{}
		if r.Label == telemetry.Anomalous {
			s.Anomalies++
		}
	}
	s.Devices = len(devices)
	s.MeanLatencyMS = stat.Mean(latency, nil)
	s.MaxLatencyMS = floats.Max(latency)
	return s
}

func distinctCount(names []string) int {
	return len(dedupe(names))
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// sortByScore orders records most anomalous first; equal scores keep input order.
func sortByScore(records []telemetry.ProjectedRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].AnomalyScore > records[j].AnomalyScore
	})
}

// Histogram is a binned distribution.
type Histogram struct {
	// Edges has len(Counts)+1 entries; bin i covers [Edges[i], Edges[i+1]).
	Edges  []float64 `json:"edges"`
	Counts []int     `json:"counts"`
}

// LatencyHistogram bins avg_latency_ms of records into equal-width bins.
func LatencyHistogram(records []telemetry.ProjectedRecord, bins int) Histogram {
	if bins < 1 || len(records) == 0 {
		return Histogram{}
	}

	latency := make([]float64, len(records))
	for i, r := range records {
		latency[i] = r.AvgLatencyMS
	}
	sort.Float64s(latency)

	lo, hi := latency[0], latency[len(latency)-1]
	if lo == hi {
		return Histogram{Edges: []float64{lo, math.Nextafter(hi, math.Inf(1))}, Counts: []int{len(latency)}}
	}

	edges := floats.Span(make([]float64, bins+1), lo, hi)
	// the last bin is closed so the maximum is counted
	edges[bins] = math.Nextafter(hi, math.Inf(1))

	counts := stat.Histogram(nil, edges, latency, nil)
	h := Histogram{Edges: edges, Counts: make([]int, len(counts))}
	for i, c := range counts {
		h.Counts[i] = int(c)
	}
	return h
}
