package analytics

// Predictor is the lifecycle contract the four models share. Each
// predictor owns one immutable bundle published by pointer swap: Train
// stages a complete new bundle, persists it, and only then replaces the
// in-memory slot, so readers never observe a partially updated model.
type Predictor interface {
	// Name returns the model name used for routing and persistence.
	Name() string

	// Trained reports whether a bundle is available in memory.
	Trained() bool

	// TryLoad attempts to load the persisted bundle into the in-memory
	// slot. A clean miss (no bundle on disk) is remembered, so repeated
	// calls after it are no-ops; a store error is not, so a transient
	// I/O failure is retried on the next call instead of pinning the
	// predictor untrained. It reports whether a bundle is available
	// afterwards.
	TryLoad() bool

	// Generation returns the training generation, incremented on every
	// successful Train. It feeds versioned cache keys.
	Generation() uint64
}

// Bundle names under which the predictors persist their fitted state.
const (
	salesTrendBundleName     = "sales_trend_model"
	behaviorBundleName       = "customer_behavior_model"
	churnBundleName          = "churn_prediction_model"
	recommendationBundleName = "recommendation_model"
)
