package metrics

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func vec(values ...float64) *mat.VecDense {
	return mat.NewVecDense(len(values), values)
}

func TestMAE(t *testing.T) {
	got, err := MAE(vec(1, 2, 3), vec(2, 2, 5))
	if err != nil {
		t.Fatalf("MAE failed: %v", err)
	}
	if want := 1.0; got != want {
		t.Errorf("MAE = %v, want %v", got, want)
	}
}

func TestMSE(t *testing.T) {
	got, err := MSE(vec(1, 2, 3), vec(2, 2, 5))
	if err != nil {
		t.Fatalf("MSE failed: %v", err)
	}
	if want := 5.0 / 3.0; math.Abs(got-want) > 1e-12 {
		t.Errorf("MSE = %v, want %v", got, want)
	}
}

func TestR2Score(t *testing.T) {
	perfect, err := R2Score(vec(1, 2, 3, 4), vec(1, 2, 3, 4))
	if err != nil {
		t.Fatalf("R2Score failed: %v", err)
	}
	if perfect != 1 {
		t.Errorf("perfect predictions R2 = %v, want 1", perfect)
	}

	// Predicting the mean yields R2 of 0.
	meanOnly, err := R2Score(vec(1, 2, 3, 4), vec(2.5, 2.5, 2.5, 2.5))
	if err != nil {
		t.Fatalf("R2Score failed: %v", err)
	}
	if math.Abs(meanOnly) > 1e-12 {
		t.Errorf("mean predictions R2 = %v, want 0", meanOnly)
	}
}

func TestAccuracy(t *testing.T) {
	got, err := Accuracy(vec(0, 1, 1, 0), vec(0.1, 0.9, 0.2, 0.4))
	if err != nil {
		t.Fatalf("Accuracy failed: %v", err)
	}
	if want := 0.75; got != want {
		t.Errorf("Accuracy = %v, want %v", got, want)
	}
}

func TestROCAUCPerfectSeparation(t *testing.T) {
	auc, err := ROCAUC(vec(0, 0, 1, 1), vec(0.1, 0.2, 0.8, 0.9))
	if err != nil {
		t.Fatalf("ROCAUC failed: %v", err)
	}
	if auc != 1 {
		t.Errorf("AUC = %v, want 1", auc)
	}

	reversed, err := ROCAUC(vec(1, 1, 0, 0), vec(0.1, 0.2, 0.8, 0.9))
	if err != nil {
		t.Fatalf("ROCAUC failed: %v", err)
	}
	if reversed != 0 {
		t.Errorf("reversed AUC = %v, want 0", reversed)
	}
}

func TestROCAUCTies(t *testing.T) {
	// All scores equal: every positive/negative pair is a tie, AUC 0.5.
	auc, err := ROCAUC(vec(0, 1, 0, 1), vec(0.5, 0.5, 0.5, 0.5))
	if err != nil {
		t.Fatalf("ROCAUC failed: %v", err)
	}
	if math.Abs(auc-0.5) > 1e-12 {
		t.Errorf("tied AUC = %v, want 0.5", auc)
	}
}

func TestROCAUCSingleClass(t *testing.T) {
	if _, err := ROCAUC(vec(1, 1, 1), vec(0.1, 0.2, 0.3)); err == nil {
		t.Fatal("expected error when only one class is present")
	}
}

func TestDimensionMismatch(t *testing.T) {
	if _, err := MAE(vec(1, 2), vec(1)); err == nil {
		t.Error("MAE: expected dimension error")
	}
	if _, err := Accuracy(vec(1, 2), vec(1)); err == nil {
		t.Error("Accuracy: expected dimension error")
	}
}
