// Package pca implements principal component analysis for projecting
// telemetry feature vectors into a low-dimensional embedding.
package pca

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/devicescore/pkg/telemetry"
)

// ErrNoConvergence is returned when the eigen-decomposition fails.
var ErrNoConvergence = errors.New("pca: eigen-decomposition did not converge")

// Model is a fitted linear projection.
type Model struct {
	// Mean is the per-feature mean subtracted before projecting.
	Mean []float64
	// Components holds one unit-length principal axis per row, ordered by
	// decreasing variance.
	Components [][]float64
	// Variance is the variance captured by each retained axis.
	Variance []float64
	// TotalVariance is the summed variance of all features.
	TotalVariance float64
}

// Fit computes the top k principal axes of data.
//
// Axes come from the eigen-decomposition of the sample covariance matrix and
// are ordered by eigenvalue, largest first; equal eigenvalues keep the order
// returned by the solver. Each axis is oriented so that its largest-magnitude
// loading is positive (the first such loading on exact ties).
func Fit(data [][]float64, k int) (*Model, error) {
	if k < 1 {
		return nil, &telemetry.ConfigError{Field: "num_components", Reason: "must be >= 1"}
	}
	n := len(data)
	if n < 2 {
		return nil, &telemetry.InsufficientSamplesError{Have: n, Need: 2}
	}
	d := len(data[0])
	if d < k {
		return nil, &telemetry.InsufficientDimensionsError{Have: d, Need: k}
	}

	x := mat.NewDense(n, d, nil)
	for i, row := range data {
		if len(row) != d {
			return nil, fmt.Errorf("pca: sample %d has %d features, want %d", i, len(row), d)
		}
		x.SetRow(i, row)
	}

	mean := make([]float64, d)
	for j := 0; j < d; j++ {
		mean[j] = stat.Mean(mat.Col(nil, j, x), nil)
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, x, nil)

	var eig mat.EigenSym
	if ok := eig.Factorize(&cov, true); !ok {
		return nil, ErrNoConvergence
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	order := make([]int, d)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] > values[order[b]]
	})

	m := &Model{
		Mean:       mean,
		Components: make([][]float64, k),
		Variance:   make([]float64, k),
	}
	for _, v := range values {
		m.TotalVariance += math.Max(v, 0)
	}
	for i := 0; i < k; i++ {
		axis := mat.Col(nil, order[i], &vectors)
		orient(axis)
		m.Components[i] = axis
		m.Variance[i] = math.Max(values[order[i]], 0)
	}
	return m, nil
}

// orient flips axis in place so its largest-magnitude loading is positive.
func orient(axis []float64) {
	best := 0
	for i, v := range axis {
		if math.Abs(v) > math.Abs(axis[best]) {
			best = i
		}
	}
	if axis[best] < 0 {
		for i := range axis {
			axis[i] = -axis[i]
		}
	}
}

// NumComponents returns the number of retained axes.
func (m *Model) NumComponents() int {
	return len(m.Components)
}

// Transform projects each sample onto the retained axes.
func (m *Model) Transform(data [][]float64) ([][]float64, error) {
	d := len(m.Mean)
	out := make([][]float64, len(data))
	for i, row := range data {
		if len(row) != d {
			return nil, fmt.Errorf("pca: sample %d has %d features, want %d", i, len(row), d)
		}
		centered := make([]float64, d)
		for j, v := range row {
			centered[j] = v - m.Mean[j]
		}
		coords := make([]float64, len(m.Components))
		for c, axis := range m.Components {
			coords[c] = mat.Dot(mat.NewVecDense(d, centered), mat.NewVecDense(d, axis))
		}
		out[i] = coords
	}
	return out, nil
}

// InverseTransform maps coordinates back into feature space.
// With every axis retained it recovers the original samples.
func (m *Model) InverseTransform(coords [][]float64) ([][]float64, error) {
	d := len(m.Mean)
	out := make([][]float64, len(coords))
	for i, c := range coords {
		if len(c) != len(m.Components) {
			return nil, fmt.Errorf("pca: point %d has %d coordinates, want %d", i, len(c), len(m.Components))
		}
		row := make([]float64, d)
		copy(row, m.Mean)
		for a, axis := range m.Components {
			for j := range row {
				row[j] += c[a] * axis[j]
			}
		}
		out[i] = row
	}
	return out, nil
}

// ExplainedVarianceRatio returns the share of total variance captured by each axis.
func (m *Model) ExplainedVarianceRatio() []float64 {
	ratios := make([]float64, len(m.Variance))
	if m.TotalVariance == 0 {
		return ratios
	}
	for i, v := range m.Variance {
		ratios[i] = v / m.TotalVariance
	}
	return ratios
}
