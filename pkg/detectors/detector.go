// Package detectors provides unsupervised anomaly detection algorithms and
// the contamination-driven classification shared by them.
package detectors

import (
	"context"
	"math"
	"sort"
)

// Detector is the common interface for all anomaly detection algorithms.
type Detector interface {
	// Fit trains the detector on a dataset.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Fit(ctx context.Context, data [][]float64) error

	// Predict returns anomaly scores for the given samples.
	// Scores are normalized to [0, 1] where higher values indicate anomalies.
	Predict(data [][]float64) ([]float64, error)

	// PredictOne returns the anomaly score for a single sample.
	PredictOne(sample []float64) (float64, error)
}

// Classification is the outcome of thresholding a batch of scores.
type Classification struct {
	// Anomalous[i] reports whether sample i is labelled anomalous.
	Anomalous []bool
	// Threshold is the lowest score labelled anomalous, or +Inf when none is.
	Threshold float64
	// Count is the number of anomalous samples.
	Count int
	// Offset separates the two classes: every anomalous score is above it and
	// every normal score is at or below it. Scores live in [0, 1], so it is 1
	// when nothing is anomalous and 0 when everything is.
	Offset float64
}

// Decision returns Offset minus score; negative values are anomalous.
func (c Classification) Decision(score float64) float64 {
	return c.Offset - score
}

// Config holds common configuration for detectors.
type Config struct {
	// Contamination is the expected proportion of anomalies in the data.
	Contamination float64 `yaml:"contamination" json:"contamination"`
	// RandomSeed for reproducibility.
	RandomSeed int64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns sensible defaults for detector configuration.
func DefaultConfig() Config {
	return Config{
		Contamination: 0.25,
		RandomSeed:    42,
	}
}

// ExpectedAnomalies returns round(contamination * n), never below zero.
func ExpectedAnomalies(n int, contamination float64) int {
	k := int(math.Round(contamination * float64(n)))
	if k < 0 {
		return 0
	}
	if k > n {
		return n
	}
	return k
}

// Classify labels the top contamination fraction of scores as anomalous.
//
// Scores are ranked descending and the top round(contamination*n) samples are
// anomalous. When samples tied with the boundary score do not all fit in that
// budget, the whole tie group is labelled normal, so the anomalous count can
// fall short of the budget but never exceed it.
func Classify(scores []float64, contamination float64) Classification {
	c := Classification{
		Anomalous: make([]bool, len(scores)),
		Threshold: math.Inf(1),
		Offset:    1,
	}

	k := ExpectedAnomalies(len(scores), contamination)
	if k == 0 {
		return c
	}

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	boundary := sorted[k-1]
	above, tied := 0, 0
	for _, s := range sorted {
		switch {
		case s > boundary:
			above++
		case s == boundary:
			tied++
		}
	}

	includeTies := above+tied <= k
	maxNormal := math.Inf(-1)
	for i, s := range scores {
		if s > boundary || (includeTies && s == boundary) {
			c.Anomalous[i] = true
			c.Count++
			if s < c.Threshold {
				c.Threshold = s
			}
		} else if s > maxNormal {
			maxNormal = s
		}
	}

	switch {
	case c.Count == 0:
		c.Offset = 1
	case c.Count == len(scores):
		c.Offset = 0
	default:
		c.Offset = (c.Threshold + maxNormal) / 2
	}
	return c
}
