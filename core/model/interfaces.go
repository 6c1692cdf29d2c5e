// Package model provides the shared estimator machinery: fitted-state
// tracking, the common interfaces models satisfy, and gob serialization
// helpers for persisted bundles.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Estimator is the interface for models that learn from data.
type Estimator interface {
	// Fit trains the model on X (n_samples × n_features) and y (n_samples × 1).
	Fit(X, y mat.Matrix) error

	// IsFitted reports whether the model has been trained.
	IsFitted() bool
}

// Predictor is the interface for fitted models that score new samples.
type Predictor interface {
	// Predict returns predictions for X as an (n_samples × 1) matrix.
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Transformer is the interface for fitted preprocessing steps.
type Transformer interface {
	// Fit learns transformation parameters from X.
	Fit(X mat.Matrix) error

	// Transform applies the fitted transformation to X.
	Transform(X mat.Matrix) (mat.Matrix, error)
}

// Regressor combines estimation and prediction for regression models.
type Regressor interface {
	Estimator
	Predictor
}

// Classifier combines estimation and prediction for classification models.
type Classifier interface {
	Estimator
	Predictor

	// PredictProba returns per-class probability estimates
	// as an (n_samples × n_classes) matrix.
	PredictProba(X mat.Matrix) (mat.Matrix, error)
}
