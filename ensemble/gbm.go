package ensemble

import (
	"gonum.org/v1/gonum/mat"

	"github.com/aicrm/mlservice/core/model"
	"github.com/aicrm/mlservice/pkg/errors"
	"github.com/aicrm/mlservice/tree"
)

// GradientBoostingRegressor fits shallow regression trees to the
// squared-error gradients of the running prediction.
type GradientBoostingRegressor struct {
	model.BaseEstimator

	NEstimators    int
	MaxDepth       int
	LearningRate   float64
	MinSamplesLeaf int
	RandomState    int

	InitScore float64
	Trees     []*tree.Tree
	NFeatures int
}

// NewGradientBoostingRegressor creates a booster with the service
// defaults (100 iterations, depth 6, learning rate 0.1, seed 42).
func NewGradientBoostingRegressor() *GradientBoostingRegressor {
	return &GradientBoostingRegressor{
		NEstimators:    100,
		MaxDepth:       6,
		LearningRate:   0.1,
		MinSamplesLeaf: 1,
		RandomState:    42,
	}
}

// WithNEstimators sets the number of boosting iterations.
func (gb *GradientBoostingRegressor) WithNEstimators(n int) *GradientBoostingRegressor {
	gb.NEstimators = n
	return gb
}

// WithMaxDepth sets the maximum tree depth.
func (gb *GradientBoostingRegressor) WithMaxDepth(d int) *GradientBoostingRegressor {
	gb.MaxDepth = d
	return gb
}

// WithLearningRate sets the boosting learning rate.
func (gb *GradientBoostingRegressor) WithLearningRate(lr float64) *GradientBoostingRegressor {
	gb.LearningRate = lr
	return gb
}

// Fit trains the booster on X (n×d) and y (n×1).
func (gb *GradientBoostingRegressor) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "GradientBoostingRegressor.Fit")

	xd, yv, err := checkXY(X, y, "GradientBoostingRegressor.Fit")
	if err != nil {
		return err
	}

	r, c := xd.Dims()
	gb.NFeatures = c

	var sum float64
	for _, v := range yv {
		sum += v
	}
	gb.InitScore = sum / float64(r)

	current := make([]float64, r)
	for i := range current {
		current[i] = gb.InitScore
	}

	params := tree.Params{
		MaxDepth:       gb.MaxDepth,
		MinSamplesLeaf: gb.MinSamplesLeaf,
	}

	gb.Trees = make([]*tree.Tree, 0, gb.NEstimators)
	residuals := make([]float64, r)
	var buf []float64

	for iter := 0; iter < gb.NEstimators; iter++ {
		for i := range residuals {
			residuals[i] = yv[i] - current[i]
		}

		grown, err := tree.Grow(xd, residuals, nil, 0, params, nil)
		if err != nil {
			return errors.Wrap(err, "growing boosting tree")
		}
		gb.Trees = append(gb.Trees, grown)

		for i := 0; i < r; i++ {
			buf = tree.RowOf(xd, i, buf)
			v, err := grown.PredictValue(buf)
			if err != nil {
				return err
			}
			current[i] += gb.LearningRate * v
		}
	}

	gb.SetFitted()
	return nil
}

// Predict returns boosted predictions as an (n×1) matrix.
func (gb *GradientBoostingRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !gb.IsFitted() {
		return nil, errors.NewNotTrainedError("GradientBoostingRegressor", "Predict")
	}
	r, c := X.Dims()
	if c != gb.NFeatures {
		return nil, errors.NewDimensionError("GradientBoostingRegressor.Predict", gb.NFeatures, c, 1)
	}

	out := mat.NewDense(r, 1, nil)
	var buf []float64
	for i := 0; i < r; i++ {
		buf = tree.RowOf(X, i, buf)
		score := gb.InitScore
		for _, t := range gb.Trees {
			v, err := t.PredictValue(buf)
			if err != nil {
				return nil, err
			}
			score += gb.LearningRate * v
		}
		out.Set(i, 0, score)
	}
	return out, nil
}

// FeatureImportances returns normalized impurity-decrease importances.
func (gb *GradientBoostingRegressor) FeatureImportances() []float64 {
	if !gb.IsFitted() {
		return nil
	}
	return aggregateImportances(gb.Trees, gb.NFeatures)
}
