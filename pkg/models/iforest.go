package models

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"
)

const eulerGamma = 0.5772156649

// Params configures an IsolationForest.
type Params struct {
	// Trees is the number of isolation trees in the ensemble.
	Trees int `json:"trees"`

	// MaxSamples is the subsample size drawn (without replacement) for each
	// tree. It is capped at the number of training rows.
	MaxSamples int `json:"maxSamples"`

	// Contamination is the expected fraction of anomalies in the training
	// data, in (0, 0.5]. ContaminationAuto uses a fixed offset of -0.5.
	Contamination float64 `json:"contamination"`

	// Seed makes tree construction reproducible.
	Seed int64 `json:"seed"`
}

// DefaultParams returns the parameters used when none are given.
func DefaultParams() Params {
	return Params{
		Trees:         100,
		MaxSamples:    256,
		Contamination: 0.1,
		Seed:          42,
	}
}

// IsolationForest implements an isolation forest anomaly detector.
//
// Algorithm:
//  1. For each tree, draw MaxSamples rows without replacement.
//  2. Recursively split on a random non-constant feature at a threshold drawn
//     uniformly between the feature's min and max, up to depth
//     ceil(log2(MaxSamples)).
//  3. The path length of a point is the depth of the leaf it lands in plus
//     the expected path length of an unbuilt subtree holding the leaf's rows.
//  4. ScoreSamples = -2^(-mean path length / c(MaxSamples)).
//  5. The decision offset is the Contamination percentile of the training
//     scores, so roughly that fraction of training rows scores below zero.
//
// Fit must not be called concurrently with other methods. After fitting the
// forest is read-only and safe for concurrent use.
type IsolationForest struct {
	params     Params
	maxSamples int
	features   int
	offset     float64
	trainedAt  time.Time
	trees      [][]node
}

// node is one entry of a flattened tree. Children always follow their
// parent, so Left and Right are greater than the node's own index.
type node struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Feature   int     `json:"f,omitempty"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Size      int     `json:"n,omitempty"`
}

// NewIsolationForest creates an unfitted forest. Zero Trees or MaxSamples
// fall back to DefaultParams.
func NewIsolationForest(p Params) *IsolationForest {
	def := DefaultParams()
	if p.Trees <= 0 {
		p.Trees = def.Trees
	}
	if p.MaxSamples <= 0 {
		p.MaxSamples = def.MaxSamples
	}
	return &IsolationForest{params: p}
}

// Name returns the model identifier.
func (f *IsolationForest) Name() string {
	return "isolation_forest"
}

// Params returns the configured parameters.
func (f *IsolationForest) Params() Params {
	return f.params
}

// Offset returns the threshold subtracted from ScoreSamples by DecisionFunction.
func (f *IsolationForest) Offset() float64 {
	return f.offset
}

// TrainedAt returns when the forest was fit, or the zero time if it was not.
func (f *IsolationForest) TrainedAt() time.Time {
	return f.trainedAt
}

// Fitted reports whether the forest can score samples.
func (f *IsolationForest) Fitted() bool {
	return len(f.trees) > 0
}

// Fit builds the ensemble from rows. Every row must have the same, non-zero
// number of finite features.
func (f *IsolationForest) Fit(ctx context.Context, rows [][]float64) error {
	if len(rows) == 0 {
		return ErrEmptyTrainingSet
	}
	if err := validateContamination(f.params.Contamination); err != nil {
		return err
	}

	width := len(rows[0])
	if width == 0 {
		return fmt.Errorf("%w: rows have no features", ErrDimensionMismatch)
	}
	for i, row := range rows {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrDimensionMismatch, i, len(row), width)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("row %d feature %d: non-finite value %v", i, j, v)
			}
		}
	}

	maxSamples := min(f.params.MaxSamples, len(rows))
	b := &treeBuilder{
		rows:     rows,
		width:    width,
		maxDepth: int(math.Ceil(math.Log2(float64(max(maxSamples, 2))))),
		rng:      rand.New(rand.NewSource(f.params.Seed)),
	}

	trees := make([][]node, 0, f.params.Trees)
	for t := 0; t < f.params.Trees; t++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx := b.rng.Perm(len(rows))[:maxSamples]
		trees = append(trees, b.build(idx))
	}

	f.trees = trees
	f.features = width
	f.maxSamples = maxSamples
	f.trainedAt = time.Now().UTC()

	if f.params.Contamination == ContaminationAuto {
		f.offset = -0.5
		return nil
	}

	scores, err := f.ScoreSamples(rows)
	if err != nil {
		return fmt.Errorf("score training rows: %w", err)
	}
	f.offset = percentile(scores, 100*f.params.Contamination)

	return nil
}

// ScoreSamples returns the raw anomaly score of each row, in [-1, 0).
// Lower is more anomalous.
func (f *IsolationForest) ScoreSamples(rows [][]float64) ([]float64, error) {
	if err := f.checkRows(rows); err != nil {
		return nil, err
	}

	norm := averagePathLength(f.maxSamples)
	if norm == 0 {
		norm = 1
	}

	scores := make([]float64, len(rows))
	for i, row := range rows {
		var total float64
		for _, tree := range f.trees {
			total += pathLength(tree, row)
		}
		mean := total / float64(len(f.trees))
		scores[i] = -math.Pow(2, -mean/norm)
	}
	return scores, nil
}

// DecisionFunction returns ScoreSamples shifted by the fitted offset.
// Negative values are anomalies.
func (f *IsolationForest) DecisionFunction(rows [][]float64) ([]float64, error) {
	scores, err := f.ScoreSamples(rows)
	if err != nil {
		return nil, err
	}
	for i := range scores {
		scores[i] -= f.offset
	}
	return scores, nil
}

// Predict returns LabelAnomaly for rows with a negative decision score and
// LabelNormal otherwise.
func (f *IsolationForest) Predict(rows [][]float64) ([]int, error) {
	scores, err := f.DecisionFunction(rows)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(scores))
	for i, s := range scores {
		if s < 0 {
			labels[i] = LabelAnomaly
		} else {
			labels[i] = LabelNormal
		}
	}
	return labels, nil
}

func (f *IsolationForest) checkRows(rows [][]float64) error {
	if !f.Fitted() {
		return ErrNotFitted
	}
	for i, row := range rows {
		if len(row) != f.features {
			return fmt.Errorf("%w: row %d has %d features, model was fit on %d",
				ErrDimensionMismatch, i, len(row), f.features)
		}
	}
	return nil
}

// treeBuilder grows isolation trees over a shared training set.
type treeBuilder struct {
	rows     [][]float64
	width    int
	maxDepth int
	rng      *rand.Rand
	nodes    []node
}

func (b *treeBuilder) build(idx []int) []node {
	b.nodes = make([]node, 0, 2*len(idx))
	b.grow(idx, 0)
	return b.nodes
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	pos := len(b.nodes)
	b.nodes = append(b.nodes, node{Leaf: true, Size: len(idx)})

	if depth >= b.maxDepth || len(idx) <= 1 {
		return pos
	}

	type bounds struct {
		feature int
		lo, hi  float64
	}
	var candidates []bounds
	for feat := 0; feat < b.width; feat++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := b.rows[i][feat]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi > lo {
			candidates = append(candidates, bounds{feature: feat, lo: lo, hi: hi})
		}
	}
	if len(candidates) == 0 {
		return pos
	}

	c := candidates[b.rng.Intn(len(candidates))]
	threshold := c.lo + b.rng.Float64()*(c.hi-c.lo)
	if threshold >= c.hi {
		threshold = c.lo
	}

	var left, right []int
	for _, i := range idx {
		if b.rows[i][c.feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[pos] = node{Feature: c.feature, Threshold: threshold, Left: l, Right: r}

	return pos
}

func pathLength(tree []node, row []float64) float64 {
	i, depth := 0, 0
	for !tree[i].Leaf {
		n := tree[i]
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
	return float64(depth) + averagePathLength(tree[i].Size)
}

// averagePathLength is c(n), the mean path length of an unsuccessful search
// in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// percentile returns the p-th percentile of values using linear interpolation
// between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

const (
	artifactFormat  = "latencyguard/isolation-forest"
	artifactVersion = 1
)

// forestArtifact is the persisted form of a fitted IsolationForest.
type forestArtifact struct {
	Format     string    `json:"format"`
	Version    int       `json:"version"`
	Model      string    `json:"model"`
	TrainedAt  time.Time `json:"trainedAt"`
	Params     Params    `json:"params"`
	MaxSamples int       `json:"maxSamples"`
	Features   int       `json:"features"`
	Offset     float64   `json:"offset"`
	Trees      [][]node  `json:"trees"`
}

// MarshalBinary encodes a fitted forest as a JSON artifact.
func (f *IsolationForest) MarshalBinary() ([]byte, error) {
	if !f.Fitted() {
		return nil, ErrNotFitted
	}
	return json.Marshal(forestArtifact{
		Format:     artifactFormat,
		Version:    artifactVersion,
		Model:      f.Name(),
		TrainedAt:  f.trainedAt,
		Params:     f.params,
		MaxSamples: f.maxSamples,
		Features:   f.features,
		Offset:     f.offset,
		Trees:      f.trees,
	})
}

// UnmarshalBinary replaces f with the forest encoded in data.
// The artifact is fully validated before f is modified.
func (f *IsolationForest) UnmarshalBinary(data []byte) error {
	var a forestArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}

	if a.Format != artifactFormat {
		return fmt.Errorf("unsupported artifact format %q", a.Format)
	}
	if a.Version != artifactVersion {
		return fmt.Errorf("unsupported artifact version %d (want %d)", a.Version, artifactVersion)
	}
	if a.Features <= 0 {
		return fmt.Errorf("artifact has invalid feature count %d", a.Features)
	}
	if a.MaxSamples <= 0 {
		return fmt.Errorf("artifact has invalid maxSamples %d", a.MaxSamples)
	}
	if len(a.Trees) == 0 {
		return fmt.Errorf("artifact has no trees")
	}
	for t, tree := range a.Trees {
		if err := validateTree(tree, a.Features); err != nil {
			return fmt.Errorf("tree %d: %w", t, err)
		}
	}

	*f = IsolationForest{
		params:     a.Params,
		maxSamples: a.MaxSamples,
		features:   a.Features,
		offset:     a.Offset,
		trainedAt:  a.TrainedAt,
		trees:      a.Trees,
	}
	return nil
}

func validateTree(tree []node, features int) error {
	if len(tree) == 0 {
		return fmt.Errorf("empty tree")
	}
	for i, n := range tree {
		if n.Leaf {
			if n.Size < 0 {
				return fmt.Errorf("node %d: negative leaf size", i)
			}
			continue
		}
		if n.Feature < 0 || n.Feature >= features {
			return fmt.Errorf("node %d: feature %d out of range", i, n.Feature)
		}
		if n.Left <= i || n.Left >= len(tree) || n.Right <= i || n.Right >= len(tree) {
			return fmt.Errorf("node %d: child index out of range", i)
		}
	}
	return nil
}
