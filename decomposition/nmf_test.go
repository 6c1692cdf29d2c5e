package decomposition

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/aicrm/mlservice/pkg/errors"
)

func TestNMFReconstructsLowRankMatrix(t *testing.T) {
	// Rank-2 non-negative matrix: outer-product mixture of two factors.
	w := mat.NewDense(6, 2, []float64{
		1, 0,
		2, 0,
		3, 1,
		0, 2,
		0, 3,
		1, 2,
	})
	h := mat.NewDense(2, 4, []float64{
		1, 2, 0, 1,
		0, 1, 3, 2,
	})
	var V mat.Dense
	V.Mul(w, h)

	nmf := NewNMF().WithNComponents(2).WithMaxIter(1000)
	if err := nmf.Fit(&V); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	mse, err := nmf.ReconstructionMSE(&V)
	if err != nil {
		t.Fatalf("ReconstructionMSE failed: %v", err)
	}
	if mse > 0.05 {
		t.Errorf("reconstruction MSE = %v, want near zero for a rank-2 matrix", mse)
	}
}

func TestNMFClampsComponents(t *testing.T) {
	V := mat.NewDense(3, 4, []float64{
		1, 2, 3, 4,
		2, 3, 4, 5,
		3, 4, 5, 6,
	})

	// Default 50 components exceed the matrix; Fit clamps to min(3, 4).
	nmf := NewNMF()
	if err := nmf.Fit(V); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	_, k := nmf.W.Dims()
	if k != 3 {
		t.Errorf("latent dimension = %d, want 3", k)
	}
	kr, _ := nmf.H.Dims()
	if kr != 3 {
		t.Errorf("H rows = %d, want 3", kr)
	}
}

func TestNMFFactorsNonNegative(t *testing.T) {
	V := mat.NewDense(4, 3, []float64{
		5, 0, 1,
		0, 4, 2,
		3, 3, 0,
		1, 0, 5,
	})

	nmf := NewNMF().WithNComponents(2)
	if err := nmf.Fit(V); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	check := func(name string, m *mat.Dense) {
		r, c := m.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if m.At(i, j) < 0 {
					t.Fatalf("%s[%d][%d] = %v, negative factor", name, i, j, m.At(i, j))
				}
			}
		}
	}
	check("W", nmf.W)
	check("H", nmf.H)
}

func TestNMFRejectsNegativeEntries(t *testing.T) {
	V := mat.NewDense(2, 2, []float64{1, -1, 2, 3})

	err := NewNMF().Fit(V)
	if err == nil {
		t.Fatal("expected error for negative entries")
	}
	var value *errors.ValueError
	if !errors.As(err, &value) {
		t.Errorf("expected ValueError, got %T: %v", err, err)
	}
}

func TestNMFNotFitted(t *testing.T) {
	if _, err := NewNMF().ReconstructionMSE(mat.NewDense(1, 1, []float64{1})); err == nil {
		t.Fatal("expected error on unfitted ReconstructionMSE")
	}
}
