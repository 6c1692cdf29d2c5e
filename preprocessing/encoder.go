package preprocessing

import (
	"sort"

	"github.com/aicrm/mlservice/core/model"
	"github.com/aicrm/mlservice/pkg/errors"
)

// LabelEncoder maps categorical string values to integer codes.
//
// The encoder is explicitly two-phase: an unfitted encoder learns its
// vocabulary from Fit, a fitted encoder only translates. Transform on a
// fitted encoder returns UnknownCategoryError for values absent from the
// fit-time vocabulary; unseen categories are never silently defaulted.
type LabelEncoder struct {
	model.BaseEstimator

	// Field names the categorical column this encoder covers. It is used
	// in error messages only.
	Field string

	// Classes is the fit-time vocabulary in code order.
	Classes []string

	// Codes maps each class to its integer code.
	Codes map[string]int
}

// NewLabelEncoder creates an unfitted encoder for the named field.
func NewLabelEncoder(field string) *LabelEncoder {
	return &LabelEncoder{Field: field}
}

// Fit learns the vocabulary from values. Codes are assigned in sorted
// order so repeated training runs over the same categories produce
// identical encodings.
func (e *LabelEncoder) Fit(values []string) error {
	if len(values) == 0 {
		return errors.NewEmptyInputError("LabelEncoder.Fit")
	}

	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}

	classes := make([]string, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Strings(classes)

	e.Classes = classes
	e.Codes = make(map[string]int, len(classes))
	for i, v := range classes {
		e.Codes[v] = i
	}

	e.SetFitted()
	return nil
}

// Transform maps values to their fitted codes.
func (e *LabelEncoder) Transform(values []string) ([]float64, error) {
	if !e.IsFitted() {
		return nil, errors.NewNotTrainedError("LabelEncoder", "Transform")
	}

	encoded := make([]float64, len(values))
	for i, v := range values {
		code, ok := e.Codes[v]
		if !ok {
			return nil, errors.NewUnknownCategoryError(e.Field, v)
		}
		encoded[i] = float64(code)
	}
	return encoded, nil
}

// FitTransform fits the encoder and encodes the same values.
func (e *LabelEncoder) FitTransform(values []string) ([]float64, error) {
	if err := e.Fit(values); err != nil {
		return nil, err
	}
	return e.Transform(values)
}
