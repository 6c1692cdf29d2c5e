package ensemble

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/aicrm/mlservice/pkg/errors"
)

// stepData builds a univariate step dataset: y = 0 below the threshold,
// y = 10 above it.
func stepData(n int) (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(n, 1, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x := float64(i)
		X.Set(i, 0, x)
		if x >= float64(n)/2 {
			y.Set(i, 0, 10)
		}
	}
	return X, y
}

func TestRandomForestRegressor(t *testing.T) {
	X, y := stepData(40)

	rf := NewRandomForestRegressor().WithNEstimators(20)
	if err := rf.Fit(X, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	pred, err := rf.Predict(mat.NewDense(2, 1, []float64{2, 35}))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if low := pred.At(0, 0); low > 3 {
		t.Errorf("prediction below threshold = %v, want near 0", low)
	}
	if high := pred.At(1, 0); high < 7 {
		t.Errorf("prediction above threshold = %v, want near 10", high)
	}

	imp := rf.FeatureImportances()
	if len(imp) != 1 || math.Abs(imp[0]-1) > 1e-12 {
		t.Errorf("single-feature importances = %v, want [1]", imp)
	}
}

func TestRandomForestRegressorDeterministic(t *testing.T) {
	X, y := stepData(30)

	a := NewRandomForestRegressor().WithNEstimators(10)
	b := NewRandomForestRegressor().WithNEstimators(10)
	if err := a.Fit(X, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if err := b.Fit(X, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	in := mat.NewDense(1, 1, []float64{12.3})
	pa, err := a.Predict(in)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	pb, err := b.Predict(in)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if pa.At(0, 0) != pb.At(0, 0) {
		t.Errorf("same seed produced different predictions: %v vs %v", pa.At(0, 0), pb.At(0, 0))
	}
}

func TestGradientBoostingRegressor(t *testing.T) {
	// y = 2x + 1 over a small grid.
	n := 30
	X := mat.NewDense(n, 1, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		y.Set(i, 0, 2*float64(i)+1)
	}

	gb := NewGradientBoostingRegressor()
	if err := gb.Fit(X, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	pred, err := gb.Predict(X)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	// Boosting must beat the constant-mean baseline by a wide margin.
	var sse, sseMean float64
	for i := 0; i < n; i++ {
		d := pred.At(i, 0) - y.At(i, 0)
		sse += d * d
		dm := gb.InitScore - y.At(i, 0)
		sseMean += dm * dm
	}
	if sse >= sseMean/10 {
		t.Errorf("boosted SSE %v not well below baseline %v", sse, sseMean)
	}
}

func TestRandomForestClassifierSeparable(t *testing.T) {
	// Two clusters on one feature.
	n := 40
	X := mat.NewDense(n, 1, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		if i >= n/2 {
			y.Set(i, 0, 1)
		}
	}

	rf := NewRandomForestClassifier().WithNEstimators(20)
	if err := rf.Fit(X, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	pred, err := rf.Predict(mat.NewDense(2, 1, []float64{3, 37}))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if pred.At(0, 0) != 0 {
		t.Errorf("low cluster predicted %v, want 0", pred.At(0, 0))
	}
	if pred.At(1, 0) != 1 {
		t.Errorf("high cluster predicted %v, want 1", pred.At(1, 0))
	}

	proba, err := rf.PredictProba(mat.NewDense(1, 1, []float64{3}))
	if err != nil {
		t.Fatalf("PredictProba failed: %v", err)
	}
	if sum := proba.At(0, 0) + proba.At(0, 1); math.Abs(sum-1) > 1e-9 {
		t.Errorf("probabilities sum to %v, want 1", sum)
	}
}

func TestRandomForestClassifierLabelValidation(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})

	rf := NewRandomForestClassifier()
	err := rf.Fit(X, mat.NewDense(4, 1, []float64{0, 0.5, 1, 1}))
	if err == nil {
		t.Fatal("expected error for fractional labels")
	}

	err = rf.Fit(X, mat.NewDense(4, 1, []float64{0, 0, 0, 0}))
	if err == nil {
		t.Fatal("expected error for single-class labels")
	}
	var value *errors.ValueError
	if !errors.As(err, &value) {
		t.Errorf("expected ValueError, got %T: %v", err, err)
	}
}

func TestNotFittedGuards(t *testing.T) {
	in := mat.NewDense(1, 1, []float64{1})

	if _, err := NewRandomForestRegressor().Predict(in); err == nil {
		t.Error("regressor: expected not-trained error")
	}
	if _, err := NewRandomForestClassifier().PredictProba(in); err == nil {
		t.Error("classifier: expected not-trained error")
	}
	if _, err := NewGradientBoostingRegressor().Predict(in); err == nil {
		t.Error("booster: expected not-trained error")
	}
}

func TestFitDimensionMismatch(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	err := NewRandomForestRegressor().Fit(X, mat.NewDense(2, 1, []float64{1, 2}))
	if err == nil {
		t.Fatal("expected error on row count mismatch")
	}
	var dim *errors.DimensionError
	if !errors.As(err, &dim) {
		t.Errorf("expected DimensionError, got %T: %v", err, err)
	}
}
