package analytics

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/aicrm/mlservice/ensemble"
	"github.com/aicrm/mlservice/metrics"
	"github.com/aicrm/mlservice/pkg/errors"
	"github.com/aicrm/mlservice/pkg/log"
	"github.com/aicrm/mlservice/preprocessing"
	"github.com/aicrm/mlservice/store"
)

// behaviorNumericColumns are the behavioral fields fed to the regressor,
// median-imputed per batch.
var behaviorNumericColumns = []string{
	"days_since_last_order", "order_frequency", "avg_order_value",
	"total_spent", "interaction_frequency", "days_since_last_contact",
	"support_ticket_count", "payment_delay", "customer_age_days",
}

// behaviorCategoricalColumns are encoded with fitted label encoders.
var behaviorCategoricalColumns = []string{"business_type", "source_channel"}

// behaviorBundle is the complete fitted state of the behavior model.
type behaviorBundle struct {
	Model          *ensemble.GradientBoostingRegressor
	Scaler         *preprocessing.StandardScaler
	Encoders       map[string]*preprocessing.LabelEncoder
	FeatureColumns []string
}

// CustomerBehaviorPredictor is a supervised regressor over tabular
// customer features, predicting a configurable numeric target.
type CustomerBehaviorPredictor struct {
	store  *store.FileStore
	logger log.Logger

	mu         sync.RWMutex
	bundle     *behaviorBundle
	loadTried  bool
	generation uint64
}

// NewCustomerBehaviorPredictor creates an untrained predictor backed by st.
func NewCustomerBehaviorPredictor(st *store.FileStore) *CustomerBehaviorPredictor {
	return &CustomerBehaviorPredictor{
		store:  st,
		logger: log.GetLoggerWithName("analytics.customer_behavior"),
	}
}

// Name implements Predictor.
func (p *CustomerBehaviorPredictor) Name() string { return ModelCustomerBehavior }

// Trained implements Predictor.
func (p *CustomerBehaviorPredictor) Trained() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bundle != nil
}

// Generation implements Predictor.
func (p *CustomerBehaviorPredictor) Generation() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

// TryLoad implements Predictor.
func (p *CustomerBehaviorPredictor) TryLoad() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bundle != nil {
		return true
	}
	if p.loadTried {
		return false
	}

	var b behaviorBundle
	ok, err := p.store.Load(behaviorBundleName, &b)
	if err != nil {
		// Store errors may be transient; retry on the next call.
		return false
	}
	p.loadTried = true
	if !ok {
		return false
	}
	p.bundle = &b
	return true
}

// behaviorFeatures assembles the feature matrix in the bundle's fixed
// column order. When fitting, encoders learn their vocabulary from the
// batch; otherwise the fitted encoders translate and unseen categories
// fail with UnknownCategoryError.
func behaviorFeatures(records []Record, encoders map[string]*preprocessing.LabelEncoder, fit bool) (*mat.Dense, error) {
	return tabularFeatures(records, behaviorNumericColumns, behaviorCategoricalColumns, encoders, fit)
}

// tabularFeatures is the shared feature assembly for the tabular models:
// numeric columns (batch median-imputed) followed by encoded categorical
// columns.
func tabularFeatures(records []Record, numeric, categorical []string, encoders map[string]*preprocessing.LabelEncoder, fit bool) (*mat.Dense, error) {
	n := len(records)
	X := mat.NewDense(n, len(numeric)+len(categorical), nil)

	for i, rec := range records {
		for j, col := range numeric {
			X.Set(i, j, rec.FloatOrNaN(col))
		}
	}

	// Impute only the numeric block; encoded columns are filled below.
	numericBlock := X.Slice(0, n, 0, len(numeric)).(*mat.Dense)
	preprocessing.ImputeMedian(numericBlock)

	for k, col := range categorical {
		values := make([]string, n)
		for i, rec := range records {
			values[i] = rec.StringOr(col, "unknown")
		}

		var codes []float64
		var err error
		if fit {
			enc := preprocessing.NewLabelEncoder(col)
			codes, err = enc.FitTransform(values)
			if err == nil {
				encoders[col] = enc
			}
		} else {
			enc, ok := encoders[col]
			if !ok {
				return nil, errors.NewNotTrainedError("LabelEncoder("+col+")", "Transform")
			}
			codes, err = enc.Transform(values)
		}
		if err != nil {
			return nil, err
		}
		for i, code := range codes {
			X.Set(i, len(numeric)+k, code)
		}
	}

	return X, nil
}

// BehaviorMetrics reports the training evaluation of the behavior model.
type BehaviorMetrics struct {
	TrainMAE          float64            `json:"train_mae"`
	TestMAE           float64            `json:"test_mae"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
	TrainingSamples   int                `json:"training_samples"`
}

// Train fits the behavior regressor against targetField with a
// deterministic 80/20 train/test split. Every record must carry a
// numeric target.
func (p *CustomerBehaviorPredictor) Train(records []Record, targetField string) (result *BehaviorMetrics, err error) {
	defer errors.Recover(&err, "CustomerBehaviorPredictor.Train")

	if len(records) == 0 {
		return nil, errors.NewEmptyInputError("CustomerBehaviorPredictor.Train")
	}
	if len(records) < 2 {
		return nil, errors.NewValueError("CustomerBehaviorPredictor.Train", "need at least 2 records for a train/test split")
	}

	y := make([]float64, len(records))
	for i, rec := range records {
		v, ok := rec.Float(targetField)
		if !ok {
			return nil, errors.NewMissingFieldError("CustomerBehaviorPredictor.Train", targetField)
		}
		y[i] = v
	}

	encoders := make(map[string]*preprocessing.LabelEncoder, len(behaviorCategoricalColumns))
	X, err := behaviorFeatures(records, encoders, true)
	if err != nil {
		return nil, err
	}

	p.logger.Info("training started", "samples", len(records), "target", targetField)

	trainIdx, testIdx := splitIndices(len(records), 42)
	XTrain, yTrain := subset(X, y, trainIdx)
	XTest, yTest := subset(X, y, testIdx)

	scaler := preprocessing.NewStandardScaler()
	scaledTrain, err := scaler.FitTransform(XTrain)
	if err != nil {
		return nil, err
	}
	scaledTest, err := scaler.Transform(XTest)
	if err != nil {
		return nil, err
	}

	model := ensemble.NewGradientBoostingRegressor()
	if err := model.Fit(scaledTrain, mat.NewDense(len(trainIdx), 1, yTrain)); err != nil {
		return nil, err
	}

	trainMAE, err := predictionMAE(model, scaledTrain, yTrain)
	if err != nil {
		return nil, err
	}
	testMAE, err := predictionMAE(model, scaledTest, yTest)
	if err != nil {
		return nil, err
	}

	featureColumns := behaviorFeatureColumns()
	importance := make(map[string]float64, len(featureColumns))
	for j, v := range model.FeatureImportances() {
		importance[featureColumns[j]] = v
	}

	bundle := &behaviorBundle{
		Model:          model,
		Scaler:         scaler,
		Encoders:       encoders,
		FeatureColumns: featureColumns,
	}
	if err := p.store.Save(behaviorBundleName, bundle); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.bundle = bundle
	p.loadTried = true
	p.generation++
	p.mu.Unlock()

	p.logger.Info("training completed",
		"samples", len(records), "train_mae", trainMAE, "test_mae", testMAE)

	return &BehaviorMetrics{
		TrainMAE:          trainMAE,
		TestMAE:           testMAE,
		FeatureImportance: importance,
		TrainingSamples:   len(records),
	}, nil
}

// BehaviorPrediction is the predict result of the behavior model.
type BehaviorPrediction struct {
	Status         string      `json:"status"`
	CustomerID     interface{} `json:"customer_id,omitempty"`
	PredictedValue float64     `json:"predicted_value"`
	Confidence     float64     `json:"confidence"`
	PredictionDate time.Time   `json:"prediction_date"`
}

// Predict scores one customer record. The confidence is a heuristic
// proxy derived from the dispersion of the raw input features, clamped
// to [0.5, 0.95]; it is not a calibrated probability.
func (p *CustomerBehaviorPredictor) Predict(customer Record) (*BehaviorPrediction, error) {
	b := p.current()
	if b == nil && p.TryLoad() {
		b = p.current()
	}
	if b == nil {
		return nil, errors.NewNotTrainedError("CustomerBehaviorPredictor", "Predict")
	}

	X, err := behaviorFeatures([]Record{customer}, b.Encoders, false)
	if err != nil {
		return nil, err
	}
	scaled, err := b.Scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	pred, err := b.Model.Predict(scaled)
	if err != nil {
		return nil, err
	}

	return &BehaviorPrediction{
		Status:         "success",
		CustomerID:     customer["customer_id"],
		PredictedValue: pred.At(0, 0),
		Confidence:     dispersionConfidence(X.RawRowView(0)),
		PredictionDate: time.Now().UTC(),
	}, nil
}

func (p *CustomerBehaviorPredictor) current() *behaviorBundle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bundle
}

func behaviorFeatureColumns() []string {
	cols := append([]string(nil), behaviorNumericColumns...)
	for _, c := range behaviorCategoricalColumns {
		cols = append(cols, c+"_encoded")
	}
	return cols
}

// dispersionConfidence maps the standard deviation of the raw feature
// values to [0.5, 0.95]: flatter inputs score higher.
func dispersionConfidence(features []float64) float64 {
	if len(features) < 2 {
		return 0.5
	}
	var mean float64
	for _, v := range features {
		mean += v
	}
	mean /= float64(len(features))

	var ss float64
	for _, v := range features {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(features)-1))

	return math.Min(0.95, math.Max(0.5, 1-std/10))
}

// splitIndices returns a deterministic 80/20 shuffle split.
func splitIndices(n, seed int) (train, test []int) {
	rng := rand.New(rand.NewSource(int64(seed)))
	perm := rng.Perm(n)
	nTest := n / 5
	if nTest < 1 {
		nTest = 1
	}
	return perm[nTest:], perm[:nTest]
}

func subset(X *mat.Dense, y []float64, indices []int) (*mat.Dense, []float64) {
	_, c := X.Dims()
	sub := mat.NewDense(len(indices), c, nil)
	subY := make([]float64, len(indices))
	for i, src := range indices {
		for j := 0; j < c; j++ {
			sub.Set(i, j, X.At(src, j))
		}
		subY[i] = y[src]
	}
	return sub, subY
}

func predictionMAE(model *ensemble.GradientBoostingRegressor, X mat.Matrix, y []float64) (float64, error) {
	pred, err := model.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.MAE(mat.NewVecDense(len(y), y), denseColumn(pred))
}
