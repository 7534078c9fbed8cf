// Package iforest is an Isolation Forest outlier model.
//
// Decision follows the usual convention: positive for inliers, negative for
// outliers, with the boundary placed at the contamination percentile of the
// training scores.
package iforest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"auditrisk/internal/stats"
)

const eulerGamma = 0.5772156649015329

// ErrNotFitted is returned by scoring calls on an empty forest.
var ErrNotFitted = errors.New("isolation forest is not fitted")

type config struct {
	trees         int
	maxSamples    int
	contamination float64
	seed          int64
	workers       int
}

// Option configures a Forest.
type Option func(*config)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option { return func(c *config) { c.trees = n } }

// WithMaxSamples sets the per-tree subsample size. Zero means min(256, n).
func WithMaxSamples(n int) Option { return func(c *config) { c.maxSamples = n } }

// WithContamination sets the expected outlier share used to place the
// decision boundary. Zero selects the fixed -0.5 score offset.
func WithContamination(f float64) Option { return func(c *config) { c.contamination = f } }

// WithSeed fixes the random source.
func WithSeed(seed int64) Option { return func(c *config) { c.seed = seed } }

// WithWorkers bounds the number of trees built concurrently.
func WithWorkers(n int) Option { return func(c *config) { c.workers = n } }

// Node is one split or leaf. Leaves have Left == -1.
type Node struct {
	Feature int     `json:"f"`
	Split   float64 `json:"s"`
	Left    int32   `json:"l"`
	Right   int32   `json:"r"`
	Size    int     `json:"n,omitempty"`
}

// Tree is a flat isolation tree rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is a fitted ensemble. It is read-only after Fit.
type Forest struct {
	Trees      []Tree  `json:"trees"`
	SampleSize int     `json:"sample_size"`
	Features   int     `json:"features"`
	Offset     float64 `json:"offset"`

	cfg config
}

// New creates an unfitted forest.
func New(opts ...Option) *Forest {
	cfg := config{
		trees:         300,
		contamination: 0.05,
		seed:          42,
		workers:       runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.trees <= 0 {
		cfg.trees = 300
	}
	if cfg.workers <= 0 {
		cfg.workers = 1
	}
	return &Forest{cfg: cfg}
}

// Fit grows the trees and sets the decision offset. Each tree draws from its
// own seed so the result does not depend on scheduling.
func (f *Forest) Fit(data [][]float64) error {
	n := len(data)
	if n == 0 {
		return fmt.Errorf("fit isolation forest: empty matrix")
	}
	if f.cfg.contamination < 0 || f.cfg.contamination > 0.5 {
		return fmt.Errorf("fit isolation forest: contamination %v out of range (0, 0.5]", f.cfg.contamination)
	}
	features := len(data[0])
	for i, row := range data {
		if len(row) != features {
			return fmt.Errorf("fit isolation forest: row %d has %d features, expected %d", i, len(row), features)
		}
	}

	psi := f.cfg.maxSamples
	if psi <= 0 {
		psi = 256
	}
	if psi > n {
		psi = n
	}
	limit := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	trees := make([]Tree, f.cfg.trees)
	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(f.cfg.workers)
	for t := 0; t < f.cfg.trees; t++ {
		t := t
		g.Go(func() error {
			rng := rand.New(rand.NewSource(f.cfg.seed + int64(t)*104729))
			idx := subsample(rng, n, psi)
			b := builder{data: data, rng: rng, features: features, limit: limit}
			b.grow(idx, 0)
			trees[t] = Tree{Nodes: b.nodes}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f.Trees = trees
	f.SampleSize = psi
	f.Features = features
	f.Offset = -0.5

	if f.cfg.contamination > 0 {
		scores, err := f.ScoreSamples(data)
		if err != nil {
			return err
		}
		sort.Float64s(scores)
		f.Offset = stats.QuantileSorted(scores, f.cfg.contamination)
	}
	return nil
}

// ScoreSamples returns the opposite of the anomaly score for each row;
// lower means more abnormal.
func (f *Forest) ScoreSamples(data [][]float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(data))
	const chunk = 2048
	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(f.workers())
	for start := 0; start < len(data); start += chunk {
		start := start
		end := start + chunk
		if end > len(data) {
			end = len(data)
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				out[i] = f.score(data[i])
			}
			return nil
		})
	}
	return out, g.Wait()
}

// Decision returns score - offset for one standardized vector.
func (f *Forest) Decision(x []float64) float64 {
	if len(f.Trees) == 0 {
		return math.NaN()
	}
	return f.score(x) - f.Offset
}

// Predict returns +1 for inliers and -1 for outliers. A decision of exactly
// zero is an inlier.
func (f *Forest) Predict(x []float64) int {
	if f.Decision(x) < 0 {
		return -1
	}
	return 1
}

func (f *Forest) score(x []float64) float64 {
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].PathLength(x)
	}
	mean := sum / float64(len(f.Trees))
	return -math.Pow(2, -mean/AveragePathLength(f.SampleSize))
}

func (f *Forest) workers() int {
	if f.cfg.workers > 0 {
		return f.cfg.workers
	}
	return runtime.GOMAXPROCS(0)
}

// PathLength is the depth at which x is isolated, adjusted by the expected
// remaining depth of the leaf it lands in.
func (t *Tree) PathLength(x []float64) float64 {
	i := int32(0)
	depth := 0.0
	for {
		n := &t.Nodes[i]
		if n.Left < 0 {
			return depth + AveragePathLength(n.Size)
		}
		if x[n.Feature] < n.Split {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// AveragePathLength is c(n), the mean path length of an unsuccessful search
// in a binary search tree of n points.
func AveragePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

func subsample(rng *rand.Rand, n, k int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:k]
}

type builder struct {
	data     [][]float64
	rng      *rand.Rand
	features int
	limit    int
	nodes    []Node
}

func (b *builder) grow(idx []int, depth int) int32 {
	self := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Size: len(idx)})
	if depth >= b.limit || len(idx) <= 1 {
		return self
	}

	feature, lo, hi, ok := b.pickFeature(idx)
	if !ok {
		return self
	}
	split := lo + b.rng.Float64()*(hi-lo)

	// Partition in place: [0, mid) goes left.
	mid := 0
	for i := range idx {
		if b.data[idx[i]][feature] < split {
			idx[i], idx[mid] = idx[mid], idx[i]
			mid++
		}
	}
	if mid == 0 || mid == len(idx) {
		return self
	}

	left := b.grow(idx[:mid], depth+1)
	right := b.grow(idx[mid:], depth+1)
	b.nodes[self] = Node{Feature: feature, Split: split, Left: left, Right: right}
	return self
}

// pickFeature draws features in random order until one is not constant over
// the current subset.
func (b *builder) pickFeature(idx []int) (int, float64, float64, bool) {
	order := b.rng.Perm(b.features)
	for _, f := range order {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := b.data[i][f]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi > lo {
			return f, lo, hi, true
		}
	}
	return 0, 0, 0, false
}
