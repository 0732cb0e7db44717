// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/devicescore/pkg/detectors"
	"github.com/hed1ad/devicescore/pkg/telemetry"
)

// ErrNotTrained is returned when scoring with a forest that has not been fit.
var ErrNotTrained = errors.New("model not trained")

// Rand is the random source used to build trees.
// *rand.Rand satisfies it; tests and ports may inject their own.
type Rand interface {
	Intn(n int) int
	Int63() int64
	Float64() float64
	Perm(n int) []int
}

// IsolationForest implements unsupervised anomaly detection using isolation trees.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees        int
	sampleSize    int
	contamination float64
	seed          int64
	workers       int
	newRand       func(seed int64) Rand

	// Trained model
	trees     []*iTree
	nFeatures int
	trained   bool

	// Statistics from training
	effSample     int
	maxDepth      int
	avgPathLength float64
	threshold     float64
}

// iTree represents a single isolation tree.
type iTree struct {
	root *node
}

// node is a node in the isolation tree.
type node struct {
	// Split parameters (for internal nodes)
	splitFeature int
	splitValue   float64

	// Children
	left  *node
	right *node

	// Leaf information
	size int // number of samples that reached this leaf
}

func (n *node) leaf() bool {
	return n.left == nil && n.right == nil
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
// It is clamped to the dataset size at fit time.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.seed = seed
	}
}

// WithWorkers bounds the number of trees built concurrently; n <= 0 means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(f *IsolationForest) {
		f.workers = n
	}
}

// WithRandSource replaces the default math/rand source factory.
func WithRandSource(fn func(seed int64) Rand) Option {
	return func(f *IsolationForest) {
		f.newRand = fn
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		nTrees:        100,
		sampleSize:    256,
		contamination: 0.25,
		seed:          42,
		workers:       runtime.GOMAXPROCS(0),
		newRand:       defaultRand,
		threshold:     0.5,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

func defaultRand(seed int64) Rand {
	return rand.New(rand.NewSource(seed))
}

func (f *IsolationForest) validate() error {
	if f.nTrees <= 0 {
		return &telemetry.ConfigError{Field: "num_trees", Reason: "must be > 0"}
	}
	if f.sampleSize <= 0 {
		return &telemetry.ConfigError{Field: "subsample_size", Reason: "must be > 0"}
	}
	if f.contamination <= 0 || f.contamination >= 1 {
		return &telemetry.ConfigError{Field: "contamination", Reason: "must be in (0, 1)"}
	}
	return nil
}

// Fit trains the Isolation Forest on the provided data.
//
// Every tree gets its own seed drawn up front from the forest seed, so the
// fitted model does not depend on how trees are scheduled across workers.
func (f *IsolationForest) Fit(ctx context.Context, data [][]float64) error {
	_, err := f.FitPredict(ctx, data)
	return err
}

// FitPredict trains the forest on data and returns the score of every
// training sample, as Predict would after Fit.
func (f *IsolationForest) FitPredict(ctx context.Context, data [][]float64) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.fit(ctx, data)
}

func (f *IsolationForest) fit(ctx context.Context, data [][]float64) ([]float64, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &telemetry.EmptyDatasetError{}
	}

	nSamples := len(data)
	nFeatures := len(data[0])
	if nFeatures == 0 {
		return nil, &telemetry.InsufficientDimensionsError{Have: 0, Need: 1}
	}
	for i, row := range data {
		if len(row) != nFeatures {
			return nil, fmt.Errorf("sample %d has %d features, want %d", i, len(row), nFeatures)
		}
	}

	// Adjust sample size if needed
	sampleSize := f.sampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))

	master := f.newRand(f.seed)
	seeds := make([]int64, f.nTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	workers := f.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]*iTree, f.nTrees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b := builder{rng: f.newRand(seeds[i]), nFeatures: nFeatures, maxDepth: maxDepth}

			// Sample without replacement
			indices := b.rng.Perm(nSamples)[:sampleSize]
			sample := make([][]float64, sampleSize)
			for j, idx := range indices {
				sample[j] = data[idx]
			}

			trees[i] = &iTree{root: b.buildNode(sample, 0)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	f.trees = trees
	f.nFeatures = nFeatures
	f.effSample = sampleSize
	f.maxDepth = maxDepth
	// Calculate average path length for normalization
	f.avgPathLength = averagePathLength(sampleSize)
	f.trained = true

	// Set threshold based on contamination
	scores, err := f.predict(data)
	if err != nil {
		return nil, err
	}
	f.threshold = detectors.Classify(scores, f.contamination).Threshold

	return scores, nil
}

// builder grows one tree from its own random source.
type builder struct {
	rng       Rand
	nFeatures int
	maxDepth  int
}

func (b *builder) buildNode(data [][]float64, depth int) *node {
	n := len(data)

	// Terminal conditions
	if depth >= b.maxDepth || n <= 1 {
		return &node{size: n}
	}

	// Pick among features that still vary in this node
	mins := make([]float64, b.nFeatures)
	maxs := make([]float64, b.nFeatures)
	candidates := make([]int, 0, b.nFeatures)
	for feature := 0; feature < b.nFeatures; feature++ {
		minVal, maxVal := featureRange(data, feature)
		if minVal < maxVal {
			mins[feature], maxs[feature] = minVal, maxVal
			candidates = append(candidates, feature)
		}
	}

	// If all values are the same, return leaf
	if len(candidates) == 0 {
		return &node{size: n}
	}

	feature := candidates[b.rng.Intn(len(candidates))]
	minVal, maxVal := mins[feature], maxs[feature]

	// Random split value
	splitValue := minVal + b.rng.Float64()*(maxVal-minVal)

	// Partition data
	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	return &node{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         b.buildNode(leftData, depth+1),
		right:        b.buildNode(rightData, depth+1),
		size:         n,
	}
}

func featureRange(data [][]float64, feature int) (float64, float64) {
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	return minVal, maxVal
}

// Predict returns anomaly scores for the given samples.
func (f *IsolationForest) Predict(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, ErrNotTrained
	}

	return f.predict(data)
}

func (f *IsolationForest) predict(data [][]float64) ([]float64, error) {
	scores := make([]float64, len(data))

	for i, sample := range data {
		score, err := f.predictOne(sample)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		scores[i] = score
	}

	return scores, nil
}

// PredictOne returns the anomaly score for a single sample.
func (f *IsolationForest) PredictOne(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, ErrNotTrained
	}

	return f.predictOne(sample)
}

func (f *IsolationForest) predictOne(sample []float64) (float64, error) {
	if len(sample) != f.nFeatures {
		return 0, fmt.Errorf("got %d features, want %d", len(sample), f.nFeatures)
	}

	// A forest grown from a single sample carries no evidence either way.
	if f.avgPathLength == 0 {
		return 0.5, nil
	}

	return math.Pow(2, -f.meanPathLength(sample)/f.avgPathLength), nil
}

// meanPathLength averages the path length of sample across all trees.
func (f *IsolationForest) meanPathLength(sample []float64) float64 {
	var totalPath float64
	for _, tree := range f.trees {
		totalPath += pathLength(sample, tree.root, 0)
	}
	return totalPath / float64(len(f.trees))
}

// MeanPathLength returns the average isolation depth of sample.
func (f *IsolationForest) MeanPathLength(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, ErrNotTrained
	}
	if len(sample) != f.nFeatures {
		return 0, fmt.Errorf("got %d features, want %d", len(sample), f.nFeatures)
	}
	return f.meanPathLength(sample), nil
}

// pathLength calculates the path length for a sample in a tree.
func pathLength(sample []float64, n *node, currentDepth int) float64 {
	if n.leaf() {
		// Leaf node: add expected path length for remaining isolation
		return float64(currentDepth) + averagePathLength(n.size)
	}

	if sample[n.splitFeature] < n.splitValue {
		return pathLength(sample, n.left, currentDepth+1)
	}
	return pathLength(sample, n.right, currentDepth+1)
}

const eulerGamma = 0.5772156649015329

// exactHarmonicLimit bounds the direct summation of harmonic numbers; past it
// the asymptotic expansion agrees to better than 1e-9.
const exactHarmonicLimit = 64

// harmonic returns H(n) = 1 + 1/2 + ... + 1/n.
func harmonic(n int) float64 {
	if n <= 0 {
		return 0
	}
	if n <= exactHarmonicLimit {
		var h float64
		for i := 1; i <= n; i++ {
			h += 1 / float64(i)
		}
		return h
	}
	x := float64(n)
	return math.Log(x) + eulerGamma + 1/(2*x) - 1/(12*x*x)
}

// averagePathLength returns the average path length of unsuccessful search in BST.
// c(n) = 2*H(n-1) - 2*(n-1)/n, with c(1) = 0.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	x := float64(n)
	return 2*harmonic(n-1) - 2*(x-1)/x
}

// Threshold returns the lowest training score labelled anomalous by the
// contamination budget, or +Inf when the budget is empty.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.threshold
}

// SampleSize returns the subsample size actually used per tree.
func (f *IsolationForest) SampleSize() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.effSample
}

// MaxDepth returns the height limit of the fitted trees.
func (f *IsolationForest) MaxDepth() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.maxDepth
}

var _ detectors.Detector = (*IsolationForest)(nil)
