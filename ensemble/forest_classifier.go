package ensemble

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/aicrm/mlservice/core/model"
	"github.com/aicrm/mlservice/pkg/errors"
	"github.com/aicrm/mlservice/tree"
)

// RandomForestClassifier is a bagged ensemble of CART classification
// trees with balanced class weights: each sample is weighted by
// nSamples / (nClasses * classCount), compensating class imbalance the
// way a class-weighted objective does.
type RandomForestClassifier struct {
	model.BaseEstimator

	NEstimators    int
	MaxDepth       int
	MinSamplesLeaf int
	MaxFeatures    int
	RandomState    int

	Trees      []*tree.Tree
	NFeatures  int
	NumClasses int
}

// NewRandomForestClassifier creates a balanced-class forest with the
// service defaults (100 trees, depth 10, seed 42).
func NewRandomForestClassifier() *RandomForestClassifier {
	return &RandomForestClassifier{
		NEstimators:    100,
		MaxDepth:       10,
		MinSamplesLeaf: 1,
		RandomState:    42,
	}
}

// WithNEstimators sets the number of trees.
func (rf *RandomForestClassifier) WithNEstimators(n int) *RandomForestClassifier {
	rf.NEstimators = n
	return rf
}

// WithMaxDepth sets the maximum tree depth.
func (rf *RandomForestClassifier) WithMaxDepth(d int) *RandomForestClassifier {
	rf.MaxDepth = d
	return rf
}

// WithRandomState sets the random seed.
func (rf *RandomForestClassifier) WithRandomState(seed int) *RandomForestClassifier {
	rf.RandomState = seed
	return rf
}

// Fit trains the forest on X (n×d) and integer class labels y (n×1).
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "RandomForestClassifier.Fit")

	xd, yv, err := checkXY(X, y, "RandomForestClassifier.Fit")
	if err != nil {
		return err
	}

	r, c := xd.Dims()
	numClasses := 0
	for _, v := range yv {
		cls := int(v)
		if float64(cls) != v || cls < 0 {
			return errors.NewValueError("RandomForestClassifier.Fit", "labels must be non-negative integers")
		}
		if cls+1 > numClasses {
			numClasses = cls + 1
		}
	}
	if numClasses < 2 {
		return errors.NewValueError("RandomForestClassifier.Fit", "need at least two classes")
	}

	weights := balancedWeights(yv, numClasses, r)

	rf.NFeatures = c
	rf.NumClasses = numClasses
	rf.Trees = make([]*tree.Tree, 0, rf.NEstimators)
	rng := rand.New(rand.NewSource(int64(rf.RandomState)))

	params := tree.Params{
		MaxDepth:       rf.MaxDepth,
		MinSamplesLeaf: rf.MinSamplesLeaf,
		MaxFeatures:    rf.MaxFeatures,
	}

	for t := 0; t < rf.NEstimators; t++ {
		bx, by, bw := bootstrapWeighted(xd, yv, weights, rng)
		grown, err := tree.Grow(bx, by, bw, numClasses, params, rng)
		if err != nil {
			return errors.Wrap(err, "growing forest tree")
		}
		rf.Trees = append(rf.Trees, grown)
	}

	rf.SetFitted()
	return nil
}

// Predict returns the argmax class per sample as an (n×1) matrix.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}

	r, _ := proba.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		best := 0
		for c := 1; c < rf.NumClasses; c++ {
			if proba.At(i, c) > proba.At(i, best) {
				best = c
			}
		}
		out.Set(i, 0, float64(best))
	}
	return out, nil
}

// PredictProba returns per-class probabilities (n × numClasses), averaged
// over the leaf class distributions of all trees.
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if !rf.IsFitted() {
		return nil, errors.NewNotTrainedError("RandomForestClassifier", "PredictProba")
	}
	r, c := X.Dims()
	if c != rf.NFeatures {
		return nil, errors.NewDimensionError("RandomForestClassifier.PredictProba", rf.NFeatures, c, 1)
	}

	out := mat.NewDense(r, rf.NumClasses, nil)
	var buf []float64
	for i := 0; i < r; i++ {
		buf = tree.RowOf(X, i, buf)
		for _, t := range rf.Trees {
			proba, err := t.LeafProba(buf)
			if err != nil {
				return nil, err
			}
			for cls, p := range proba {
				out.Set(i, cls, out.At(i, cls)+p)
			}
		}
		for cls := 0; cls < rf.NumClasses; cls++ {
			out.Set(i, cls, out.At(i, cls)/float64(len(rf.Trees)))
		}
	}
	return out, nil
}

// FeatureImportances returns normalized impurity-decrease importances.
func (rf *RandomForestClassifier) FeatureImportances() []float64 {
	if !rf.IsFitted() {
		return nil
	}
	return aggregateImportances(rf.Trees, rf.NFeatures)
}

func balancedWeights(y []float64, numClasses, n int) []float64 {
	counts := make([]float64, numClasses)
	for _, v := range y {
		counts[int(v)]++
	}
	weights := make([]float64, n)
	for i, v := range y {
		weights[i] = float64(n) / (float64(numClasses) * counts[int(v)])
	}
	return weights
}

func bootstrapWeighted(X *mat.Dense, y, w []float64, rng *rand.Rand) (*mat.Dense, []float64, []float64) {
	r, c := X.Dims()
	bx := mat.NewDense(r, c, nil)
	by := make([]float64, r)
	bw := make([]float64, r)
	for i := 0; i < r; i++ {
		src := rng.Intn(r)
		for j := 0; j < c; j++ {
			bx.Set(i, j, X.At(src, j))
		}
		by[i] = y[src]
		bw[i] = w[src]
	}
	return bx, by, bw
}
