package metrics

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/aicrm/mlservice/pkg/errors"
)

// Accuracy computes the fraction of predictions equal to the true labels.
// Labels are compared after rounding predictions to the nearest integer.
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError("Accuracy", "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError("Accuracy", n, yPred.Len(), 0)
	}

	correct := 0
	for i := 0; i < n; i++ {
		if int(yTrue.AtVec(i)+0.5) == int(yPred.AtVec(i)+0.5) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ROCAUC computes the area under the ROC curve for binary labels in
// {0, 1} against predicted positive-class scores. Ties in score
// contribute half a pair, matching the rank-statistic formulation.
func ROCAUC(yTrue, scores *mat.VecDense) (float64, error) {
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError("ROCAUC", "empty vector")
	}
	if scores.Len() != n {
		return 0, errors.NewDimensionError("ROCAUC", n, scores.Len(), 0)
	}

	type pair struct {
		score float64
		label int
	}
	pairs := make([]pair, n)
	nPos, nNeg := 0, 0
	for i := 0; i < n; i++ {
		label := 0
		if yTrue.AtVec(i) >= 0.5 {
			label = 1
			nPos++
		} else {
			nNeg++
		}
		pairs[i] = pair{score: scores.AtVec(i), label: label}
	}

	if nPos == 0 || nNeg == 0 {
		return 0, errors.NewValueError("ROCAUC", "both classes must be present")
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })

	// Assign average ranks, handling score ties.
	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && pairs[j].score == pairs[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2 // 1-based average rank of the tied block
		for k := i; k < j; k++ {
			ranks[k] = avgRank
		}
		i = j
	}

	var posRankSum float64
	for i := 0; i < n; i++ {
		if pairs[i].label == 1 {
			posRankSum += ranks[i]
		}
	}

	auc := (posRankSum - float64(nPos)*float64(nPos+1)/2) / (float64(nPos) * float64(nNeg))
	return auc, nil
}
