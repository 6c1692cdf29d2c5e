// Package tree implements the CART decision tree used as the base learner
// by the ensemble package. It supports regression (variance reduction) and
// weighted classification (Gini impurity), per-sample weights, and random
// feature subsetting for forests.
package tree

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/aicrm/mlservice/pkg/errors"
)

// Node is one node of a grown tree in the flat node-slice representation.
type Node struct {
	FeatureIdx  int
	Threshold   float64
	Left        int
	Right       int
	IsLeaf      bool
	Value       float64   // regression mean, or majority class for classification
	ClassCounts []float64 // weighted class distribution at the leaf (classification only)
}

// Params controls tree growth.
type Params struct {
	// MaxDepth limits tree depth. Values <= 0 mean no limit.
	MaxDepth int

	// MinSamplesLeaf is the minimum sample count on each side of a split.
	MinSamplesLeaf int

	// MaxFeatures is the number of features considered per split.
	// Values <= 0 consider all features.
	MaxFeatures int
}

// Tree is a grown CART tree. NumClasses is 0 for regression trees.
type Tree struct {
	Nodes      []Node
	NumClasses int
	NFeatures  int

	// Importance accumulates the weighted impurity decrease contributed
	// by each feature during growth.
	Importance []float64
}

type grower struct {
	x          *mat.Dense
	y          []float64
	w          []float64
	numClasses int
	params     Params
	rng        *rand.Rand
	nodes      []Node
	importance []float64
}

// Grow builds a tree from X (n×d), targets y, and per-sample weights w.
// numClasses of 0 grows a regression tree; otherwise y must hold class
// indices in [0, numClasses). The rng drives feature subsetting and may be
// nil when MaxFeatures is unset.
func Grow(X *mat.Dense, y, w []float64, numClasses int, params Params, rng *rand.Rand) (*Tree, error) {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return nil, errors.NewEmptyInputError("tree.Grow")
	}
	if len(y) != r {
		return nil, errors.NewDimensionError("tree.Grow", r, len(y), 0)
	}
	if w == nil {
		w = make([]float64, r)
		for i := range w {
			w[i] = 1
		}
	}
	if len(w) != r {
		return nil, errors.NewDimensionError("tree.Grow", r, len(w), 0)
	}
	if params.MinSamplesLeaf < 1 {
		params.MinSamplesLeaf = 1
	}

	g := &grower{
		x:          X,
		y:          y,
		w:          w,
		numClasses: numClasses,
		params:     params,
		rng:        rng,
		importance: make([]float64, c),
	}

	indices := make([]int, r)
	for i := range indices {
		indices[i] = i
	}
	g.build(indices, 0)

	return &Tree{
		Nodes:      g.nodes,
		NumClasses: numClasses,
		NFeatures:  c,
		Importance: g.importance,
	}, nil
}

// build grows the subtree for the given samples and returns its node index.
func (g *grower) build(indices []int, depth int) int {
	idx := len(g.nodes)
	g.nodes = append(g.nodes, Node{})

	if g.depthLimited(depth) || len(indices) < 2*g.params.MinSamplesLeaf || g.pure(indices) {
		g.nodes[idx] = g.leaf(indices)
		return idx
	}

	feature, threshold, gain, ok := g.bestSplit(indices)
	if !ok || gain <= 1e-12 {
		g.nodes[idx] = g.leaf(indices)
		return idx
	}

	var left, right []int
	for _, i := range indices {
		if g.x.At(i, feature) <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < g.params.MinSamplesLeaf || len(right) < g.params.MinSamplesLeaf {
		g.nodes[idx] = g.leaf(indices)
		return idx
	}

	g.importance[feature] += gain

	leftIdx := g.build(left, depth+1)
	rightIdx := g.build(right, depth+1)
	g.nodes[idx] = Node{
		FeatureIdx: feature,
		Threshold:  threshold,
		Left:       leftIdx,
		Right:      rightIdx,
	}
	return idx
}

func (g *grower) depthLimited(depth int) bool {
	return g.params.MaxDepth > 0 && depth >= g.params.MaxDepth
}

func (g *grower) pure(indices []int) bool {
	first := g.y[indices[0]]
	for _, i := range indices[1:] {
		if g.y[i] != first {
			return false
		}
	}
	return true
}

func (g *grower) leaf(indices []int) Node {
	if g.numClasses > 0 {
		counts := make([]float64, g.numClasses)
		for _, i := range indices {
			counts[int(g.y[i])] += g.w[i]
		}
		best := 0
		for c := 1; c < g.numClasses; c++ {
			if counts[c] > counts[best] {
				best = c
			}
		}
		return Node{IsLeaf: true, Value: float64(best), ClassCounts: counts}
	}

	var sumW, sumWY float64
	for _, i := range indices {
		sumW += g.w[i]
		sumWY += g.w[i] * g.y[i]
	}
	value := 0.0
	if sumW > 0 {
		value = sumWY / sumW
	}
	return Node{IsLeaf: true, Value: value}
}

// bestSplit scans candidate features for the split with the largest
// weighted impurity decrease.
func (g *grower) bestSplit(indices []int) (feature int, threshold, gain float64, ok bool) {
	_, c := g.x.Dims()
	features := g.candidateFeatures(c)

	parent := g.impurity(indices)
	bestGain := 0.0
	bestFeature, bestThreshold := -1, 0.0

	order := make([]int, len(indices))
	for _, f := range features {
		copy(order, indices)
		sort.Slice(order, func(a, b int) bool {
			return g.x.At(order[a], f) < g.x.At(order[b], f)
		})

		th, gn, found := g.scanFeature(order, f, parent)
		if found && gn > bestGain {
			bestGain, bestFeature, bestThreshold = gn, f, th
		}
	}

	if bestFeature < 0 {
		return 0, 0, 0, false
	}
	return bestFeature, bestThreshold, bestGain, true
}

func (g *grower) candidateFeatures(total int) []int {
	k := g.params.MaxFeatures
	if k <= 0 || k >= total || g.rng == nil {
		features := make([]int, total)
		for i := range features {
			features[i] = i
		}
		return features
	}
	return g.rng.Perm(total)[:k]
}

// impurity returns the weighted SSE (regression) or weighted Gini times
// total weight (classification), so gains from both tasks are additive.
func (g *grower) impurity(indices []int) float64 {
	if g.numClasses > 0 {
		counts := make([]float64, g.numClasses)
		var sumW float64
		for _, i := range indices {
			counts[int(g.y[i])] += g.w[i]
			sumW += g.w[i]
		}
		if sumW == 0 {
			return 0
		}
		gini := 1.0
		for _, cw := range counts {
			p := cw / sumW
			gini -= p * p
		}
		return gini * sumW
	}

	var sumW, sumWY, sumWYY float64
	for _, i := range indices {
		sumW += g.w[i]
		sumWY += g.w[i] * g.y[i]
		sumWYY += g.w[i] * g.y[i] * g.y[i]
	}
	if sumW == 0 {
		return 0
	}
	return sumWYY - sumWY*sumWY/sumW
}

// scanFeature sweeps sorted samples accumulating prefix statistics and
// returns the best threshold for one feature.
func (g *grower) scanFeature(order []int, f int, parent float64) (threshold, gain float64, ok bool) {
	n := len(order)
	minLeaf := g.params.MinSamplesLeaf

	var classLeft []float64
	var classTotal []float64
	var sumWL, sumWYL, sumWYYL float64
	var sumW, sumWY, sumWYY float64

	if g.numClasses > 0 {
		classLeft = make([]float64, g.numClasses)
		classTotal = make([]float64, g.numClasses)
		for _, i := range order {
			classTotal[int(g.y[i])] += g.w[i]
			sumW += g.w[i]
		}
	} else {
		for _, i := range order {
			sumW += g.w[i]
			sumWY += g.w[i] * g.y[i]
			sumWYY += g.w[i] * g.y[i] * g.y[i]
		}
	}

	bestGain := 0.0
	bestThreshold := 0.0
	found := false

	for pos := 0; pos < n-1; pos++ {
		i := order[pos]
		if g.numClasses > 0 {
			classLeft[int(g.y[i])] += g.w[i]
			sumWL += g.w[i]
		} else {
			sumWL += g.w[i]
			sumWYL += g.w[i] * g.y[i]
			sumWYYL += g.w[i] * g.y[i] * g.y[i]
		}

		v, next := g.x.At(i, f), g.x.At(order[pos+1], f)
		if v == next {
			continue
		}
		if pos+1 < minLeaf || n-pos-1 < minLeaf {
			continue
		}

		var impL, impR float64
		if g.numClasses > 0 {
			impL = giniTimesWeight(classLeft, sumWL)
			right := make([]float64, g.numClasses)
			for c := range right {
				right[c] = classTotal[c] - classLeft[c]
			}
			impR = giniTimesWeight(right, sumW-sumWL)
		} else {
			impL = sseFromSums(sumWL, sumWYL, sumWYYL)
			impR = sseFromSums(sumW-sumWL, sumWY-sumWYL, sumWYY-sumWYYL)
		}

		if gn := parent - impL - impR; gn > bestGain {
			bestGain = gn
			bestThreshold = (v + next) / 2
			found = true
		}
	}

	return bestThreshold, bestGain, found
}

func giniTimesWeight(counts []float64, sumW float64) float64 {
	if sumW == 0 {
		return 0
	}
	gini := 1.0
	for _, cw := range counts {
		p := cw / sumW
		gini -= p * p
	}
	return gini * sumW
}

func sseFromSums(sumW, sumWY, sumWYY float64) float64 {
	if sumW == 0 {
		return 0
	}
	return sumWYY - sumWY*sumWY/sumW
}

// PredictRow walks the tree for one sample and returns the leaf node.
func (t *Tree) PredictRow(row []float64) (*Node, error) {
	if len(t.Nodes) == 0 {
		return nil, errors.NewNotTrainedError("tree.Tree", "PredictRow")
	}
	if len(row) != t.NFeatures {
		return nil, errors.NewDimensionError("tree.PredictRow", t.NFeatures, len(row), 1)
	}

	idx := 0
	for {
		node := &t.Nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if row[node.FeatureIdx] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
		if idx <= 0 || idx >= len(t.Nodes) {
			return nil, errors.Newf("tree: invalid node index %d", idx)
		}
	}
}

// PredictValue returns the leaf value for one sample.
func (t *Tree) PredictValue(row []float64) (float64, error) {
	node, err := t.PredictRow(row)
	if err != nil {
		return 0, err
	}
	return node.Value, nil
}

// LeafProba returns the leaf class-probability vector for one sample.
func (t *Tree) LeafProba(row []float64) ([]float64, error) {
	if t.NumClasses == 0 {
		return nil, errors.NewValueError("tree.LeafProba", "not a classification tree")
	}
	node, err := t.PredictRow(row)
	if err != nil {
		return nil, err
	}

	proba := make([]float64, t.NumClasses)
	var sumW float64
	for _, cw := range node.ClassCounts {
		sumW += cw
	}
	if sumW > 0 {
		for c, cw := range node.ClassCounts {
			proba[c] = cw / sumW
		}
	} else if math.IsNaN(node.Value) {
		proba[0] = 1
	} else {
		proba[int(node.Value)] = 1
	}
	return proba, nil
}

// RowOf copies row i of X into a reusable buffer.
func RowOf(X mat.Matrix, i int, buf []float64) []float64 {
	_, c := X.Dims()
	if cap(buf) < c {
		buf = make([]float64, c)
	}
	buf = buf[:c]
	for j := 0; j < c; j++ {
		buf[j] = X.At(i, j)
	}
	return buf
}
