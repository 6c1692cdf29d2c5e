package preprocessing

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// ImputeMedian replaces NaN entries in X with the column median computed
// from the current batch. The medians are intentionally not retained:
// imputation is a per-batch operation, matching how training batches are
// cleaned.
//
// A single-row batch cannot yield a meaningful median, so missing entries
// in a one-row batch impute to 0 and present values pass through
// unchanged. This is a documented contract choice for single-record
// inference.
func ImputeMedian(X *mat.Dense) {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return
	}

	for j := 0; j < c; j++ {
		present := make([]float64, 0, r)
		for i := 0; i < r; i++ {
			if v := X.At(i, j); !math.IsNaN(v) {
				present = append(present, v)
			}
		}

		fill := 0.0
		if r > 1 && len(present) > 0 {
			fill = median(present)
		}

		for i := 0; i < r; i++ {
			if math.IsNaN(X.At(i, j)) {
				X.Set(i, j, fill)
			}
		}
	}
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
