package preprocessing

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestImputeMedian(t *testing.T) {
	nan := math.NaN()
	X := mat.NewDense(5, 2, []float64{
		1, 10,
		2, nan,
		3, 30,
		nan, 40,
		5, 20,
	})

	ImputeMedian(X)

	// Column 0 median of {1,2,3,5} is 2.5; column 1 median of {10,30,40,20} is 25.
	if got := X.At(3, 0); got != 2.5 {
		t.Errorf("imputed X[3][0] = %v, want 2.5", got)
	}
	if got := X.At(1, 1); got != 25 {
		t.Errorf("imputed X[1][1] = %v, want 25", got)
	}

	// Present values stay untouched.
	if got := X.At(0, 0); got != 1 {
		t.Errorf("X[0][0] changed to %v", got)
	}
}

func TestImputeMedianSingleRow(t *testing.T) {
	X := mat.NewDense(1, 3, []float64{math.NaN(), 7, math.NaN()})

	ImputeMedian(X)

	// One-row batches impute missing entries to zero.
	if got := X.At(0, 0); got != 0 {
		t.Errorf("X[0][0] = %v, want 0", got)
	}
	if got := X.At(0, 1); got != 7 {
		t.Errorf("X[0][1] = %v, want 7", got)
	}
	if got := X.At(0, 2); got != 0 {
		t.Errorf("X[0][2] = %v, want 0", got)
	}
}
