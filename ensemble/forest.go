// Package ensemble implements the tree-ensemble models used by the
// predictors: bagged random forests for regression and balanced-class
// classification, and a gradient-boosted regressor.
package ensemble

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/aicrm/mlservice/core/model"
	"github.com/aicrm/mlservice/pkg/errors"
	"github.com/aicrm/mlservice/tree"
)

// RandomForestRegressor is a bagged ensemble of CART regression trees.
type RandomForestRegressor struct {
	model.BaseEstimator

	NEstimators    int // Number of trees
	MaxDepth       int // Maximum tree depth
	MinSamplesLeaf int // Minimum samples per leaf
	MaxFeatures    int // Features considered per split (<= 0: all)
	RandomState    int // Seed for bootstrap and feature sampling

	Trees     []*tree.Tree
	NFeatures int
}

// NewRandomForestRegressor creates a forest with the service defaults
// (100 trees, depth 10, seed 42).
func NewRandomForestRegressor() *RandomForestRegressor {
	return &RandomForestRegressor{
		NEstimators:    100,
		MaxDepth:       10,
		MinSamplesLeaf: 1,
		RandomState:    42,
	}
}

// WithNEstimators sets the number of trees.
func (rf *RandomForestRegressor) WithNEstimators(n int) *RandomForestRegressor {
	rf.NEstimators = n
	return rf
}

// WithMaxDepth sets the maximum tree depth.
func (rf *RandomForestRegressor) WithMaxDepth(d int) *RandomForestRegressor {
	rf.MaxDepth = d
	return rf
}

// WithRandomState sets the random seed.
func (rf *RandomForestRegressor) WithRandomState(seed int) *RandomForestRegressor {
	rf.RandomState = seed
	return rf
}

// Fit trains the forest on X (n×d) and y (n×1).
func (rf *RandomForestRegressor) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "RandomForestRegressor.Fit")

	xd, yv, err := checkXY(X, y, "RandomForestRegressor.Fit")
	if err != nil {
		return err
	}

	_, c := xd.Dims()
	rf.NFeatures = c
	rf.Trees = make([]*tree.Tree, 0, rf.NEstimators)
	rng := rand.New(rand.NewSource(int64(rf.RandomState)))

	params := tree.Params{
		MaxDepth:       rf.MaxDepth,
		MinSamplesLeaf: rf.MinSamplesLeaf,
		MaxFeatures:    rf.MaxFeatures,
	}

	for t := 0; t < rf.NEstimators; t++ {
		bx, by := bootstrap(xd, yv, rng)
		grown, err := tree.Grow(bx, by, nil, 0, params, rng)
		if err != nil {
			return errors.Wrap(err, "growing forest tree")
		}
		rf.Trees = append(rf.Trees, grown)
	}

	rf.SetFitted()
	return nil
}

// Predict returns the mean prediction over all trees as an (n×1) matrix.
func (rf *RandomForestRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !rf.IsFitted() {
		return nil, errors.NewNotTrainedError("RandomForestRegressor", "Predict")
	}
	r, c := X.Dims()
	if c != rf.NFeatures {
		return nil, errors.NewDimensionError("RandomForestRegressor.Predict", rf.NFeatures, c, 1)
	}

	out := mat.NewDense(r, 1, nil)
	var buf []float64
	for i := 0; i < r; i++ {
		buf = tree.RowOf(X, i, buf)
		var sum float64
		for _, t := range rf.Trees {
			v, err := t.PredictValue(buf)
			if err != nil {
				return nil, err
			}
			sum += v
		}
		out.Set(i, 0, sum/float64(len(rf.Trees)))
	}
	return out, nil
}

// FeatureImportances returns normalized impurity-decrease importances.
func (rf *RandomForestRegressor) FeatureImportances() []float64 {
	if !rf.IsFitted() {
		return nil
	}
	return aggregateImportances(rf.Trees, rf.NFeatures)
}

// bootstrap draws n samples with replacement.
func bootstrap(X *mat.Dense, y []float64, rng *rand.Rand) (*mat.Dense, []float64) {
	r, c := X.Dims()
	bx := mat.NewDense(r, c, nil)
	by := make([]float64, r)
	for i := 0; i < r; i++ {
		src := rng.Intn(r)
		for j := 0; j < c; j++ {
			bx.Set(i, j, X.At(src, j))
		}
		by[i] = y[src]
	}
	return bx, by
}

func aggregateImportances(trees []*tree.Tree, nFeatures int) []float64 {
	total := make([]float64, nFeatures)
	var sum float64
	for _, t := range trees {
		for j, v := range t.Importance {
			total[j] += v
			sum += v
		}
	}
	if sum > 0 {
		for j := range total {
			total[j] /= sum
		}
	}
	return total
}

// checkXY validates the common (X, y) shape contract and converts both to
// concrete types.
func checkXY(X, y mat.Matrix, op string) (*mat.Dense, []float64, error) {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return nil, nil, errors.NewEmptyInputError(op)
	}
	yr, yc := y.Dims()
	if yr != r {
		return nil, nil, errors.NewDimensionError(op, r, yr, 0)
	}
	if yc != 1 {
		return nil, nil, errors.NewDimensionError(op, 1, yc, 1)
	}

	xd := mat.DenseCopyOf(X)
	yv := make([]float64, r)
	for i := 0; i < r; i++ {
		yv[i] = y.At(i, 0)
	}
	return xd, yv, nil
}
