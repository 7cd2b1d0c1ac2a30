// Package forest implements a binary random-forest classifier: bootstrap
// sampled CART trees with Gini splits, optional balanced class weighting,
// and a seeded RNG so the same data and seed always yield the same forest.
//
// A fitted Forest is plain data and round-trips through JSON, which is how
// the model cache persists it.
package forest

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

var (
	ErrEmpty         = errors.New("forest: no training rows")
	ErrShapeMismatch = errors.New("forest: feature shape mismatch")
	ErrSingleClass   = errors.New("forest: training labels contain a single class")
	ErrNotFitted     = errors.New("forest: model not fitted")
)

// Config controls training.
type Config struct {
	// Trees is the number of estimators. Default: 200.
	Trees int `json:"trees"`

	// MaxDepth limits tree depth. Zero means unbounded.
	MaxDepth int `json:"max_depth"`

	// MinSamplesSplit is the minimum number of samples needed to split a node.
	// Default: 2.
	MinSamplesSplit int `json:"min_samples_split"`

	// MaxFeatures is the number of features considered per split.
	// Zero means floor(sqrt(n_features)).
	MaxFeatures int `json:"max_features"`

	// Balanced weights classes inversely to their frequency.
	Balanced bool `json:"balanced"`

	// Seed makes training deterministic.
	Seed int64 `json:"seed"`
}

// DefaultConfig returns 200 unbounded trees, balanced, seed 42.
func DefaultConfig() Config {
	return Config{
		Trees:           200,
		MaxDepth:        0,
		MinSamplesSplit: 2,
		Balanced:        true,
		Seed:            42,
	}
}

// Node is a tree node. Leaves carry the positive-class probability.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Prob      float64 `json:"p"`
	Leaf      bool    `json:"leaf,omitempty"`
}

// Tree is a flattened decision tree; Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is a fitted ensemble.
type Forest struct {
	Features int    `json:"features"`
	Trees    []Tree `json:"trees"`
}

// Fit trains a forest on rows X with labels y in {0,1}.
func Fit(X [][]float64, y []int, cfg Config) (*Forest, error) {
	if len(X) == 0 {
		return nil, ErrEmpty
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("%w: %d rows, %d labels", ErrShapeMismatch, len(X), len(y))
	}
	nFeatures := len(X[0])
	if nFeatures == 0 {
		return nil, fmt.Errorf("%w: zero-width rows", ErrShapeMismatch)
	}
	var counts [2]int
	for i, row := range X {
		if len(row) != nFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrShapeMismatch, i, len(row), nFeatures)
		}
		if y[i] != 0 && y[i] != 1 {
			return nil, fmt.Errorf("forest: label %d at row %d is not binary", y[i], i)
		}
		counts[y[i]]++
	}
	if counts[0] == 0 || counts[1] == 0 {
		return nil, ErrSingleClass
	}

	cfg = withDefaults(cfg, nFeatures)

	classWeight := [2]float64{1, 1}
	if cfg.Balanced {
		n := float64(len(y))
		classWeight[0] = n / (2 * float64(counts[0]))
		classWeight[1] = n / (2 * float64(counts[1]))
	}

	// Per-tree seeds are drawn up front so parallel fitting stays deterministic.
	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // reproducibility, not security
	seeds := make([]int64, cfg.Trees)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	f := &Forest{Features: nFeatures, Trees: make([]Tree, cfg.Trees)}
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range seeds {
		g.Go(func() error {
			b := &builder{
				X:           X,
				y:           y,
				cfg:         cfg,
				rng:         rand.New(rand.NewSource(seeds[i])), //nolint:gosec // reproducibility
				nFeatures:   nFeatures,
				classWeight: classWeight,
			}
			f.Trees[i] = b.fit()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return f, nil
}

func withDefaults(cfg Config, nFeatures int) Config {
	if cfg.Trees <= 0 {
		cfg.Trees = 200
	}
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 2
	}
	if cfg.MaxFeatures <= 0 || cfg.MaxFeatures > nFeatures {
		cfg.MaxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures)))))
	}
	return cfg
}

// PredictProba returns the positive-class probability for one row,
// averaged over all trees.
func (f *Forest) PredictProba(x []float64) (float64, error) {
	if f == nil || len(f.Trees) == 0 {
		return 0, ErrNotFitted
	}
	if len(x) != f.Features {
		return 0, fmt.Errorf("%w: got %d features, want %d", ErrShapeMismatch, len(x), f.Features)
	}
	var sum float64
	for i := range f.Trees {
		p, err := f.Trees[i].predict(x)
		if err != nil {
			return 0, err
		}
		sum += p
	}
	return sum / float64(len(f.Trees)), nil
}

// PredictProbaBatch scores every row, failing on the first bad row.
func (f *Forest) PredictProbaBatch(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, x := range X {
		p, err := f.PredictProba(x)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

func (t *Tree) predict(x []float64) (float64, error) {
	if len(t.Nodes) == 0 {
		return 0, ErrNotFitted
	}
	i := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Prob, nil
		}
		if n.Feature < 0 || n.Feature >= len(x) {
			return 0, fmt.Errorf("%w: node references feature %d", ErrShapeMismatch, n.Feature)
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		if i <= 0 || i >= len(t.Nodes) {
			return 0, fmt.Errorf("forest: corrupt tree, child index %d", i)
		}
	}
	return 0, errors.New("forest: corrupt tree, cycle detected")
}

// builder grows a single tree on a bootstrap sample.
type builder struct {
	X           [][]float64
	y           []int
	cfg         Config
	rng         *rand.Rand
	nFeatures   int
	classWeight [2]float64
	weight      []float64
	nodes       []Node
}

func (b *builder) fit() Tree {
	n := len(b.X)
	b.weight = make([]float64, n)
	for i := 0; i < n; i++ {
		b.weight[b.rng.Intn(n)]++
	}
	idx := make([]int, 0, n)
	for i, w := range b.weight {
		if w > 0 {
			b.weight[i] = w * b.classWeight[b.y[i]]
			idx = append(idx, i)
		}
	}
	b.grow(idx, 0)
	return Tree{Nodes: b.nodes}
}

func (b *builder) classTotals(idx []int) (w0, w1 float64) {
	for _, i := range idx {
		if b.y[i] == 1 {
			w1 += b.weight[i]
		} else {
			w0 += b.weight[i]
		}
	}
	return w0, w1
}

func (b *builder) grow(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{})

	w0, w1 := b.classTotals(idx)
	prob := 0.0
	if w0+w1 > 0 {
		prob = w1 / (w0 + w1)
	}

	leaf := Node{Leaf: true, Prob: prob, Feature: -1}
	if w0 == 0 || w1 == 0 || len(idx) < b.cfg.MinSamplesSplit ||
		(b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth) {
		b.nodes[id] = leaf
		return id
	}

	feature, threshold, ok := b.bestSplit(idx, w0, w1)
	if !ok {
		b.nodes[id] = leaf
		return id
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r, Prob: prob}
	return id
}

// bestSplit scans features in random order until MaxFeatures non-constant
// features have been evaluated, returning the lowest weighted-Gini split.
func (b *builder) bestSplit(idx []int, w0, w1 float64) (int, float64, bool) {
	order := b.rng.Perm(b.nFeatures)
	sorted := make([]int, len(idx))

	bestFeature, bestThreshold := -1, 0.0
	bestImpurity := math.Inf(1)
	visited := 0

	for _, feature := range order {
		if visited >= b.cfg.MaxFeatures {
			break
		}
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool {
			return b.X[sorted[a]][feature] < b.X[sorted[c]][feature]
		})
		if b.X[sorted[0]][feature] == b.X[sorted[len(sorted)-1]][feature] {
			continue
		}
		visited++

		var l0, l1 float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			if b.y[i] == 1 {
				l1 += b.weight[i]
			} else {
				l0 += b.weight[i]
			}
			v, next := b.X[i][feature], b.X[sorted[k+1]][feature]
			if v == next {
				continue
			}
			impurity := weightedGini(l0, l1) + weightedGini(w0-l0, w1-l1)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = feature
				bestThreshold = v + (next-v)/2
				if bestThreshold == next {
					bestThreshold = v
				}
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

// weightedGini returns W * gini for a node with class weights c0, c1.
func weightedGini(c0, c1 float64) float64 {
	total := c0 + c1
	if total <= 0 {
		return 0
	}
	p0, p1 := c0/total, c1/total
	return total * (1 - p0*p0 - p1*p1)
}
