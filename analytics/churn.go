package analytics

import (
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

// churnLabelField is the required binary label for churn training.
const churnLabelField = "is_churned"

var churnNumericColumns = []string{
	"days_since_last_order", "order_frequency", "avg_order_value",
	"total_spent", "days_since_last_contact", "support_ticket_count",
	"payment_delay_avg", "customer_age_days",
}

var churnCategoricalColumns = []string{"business_type", "source_channel", "customer_level"}

// Risk tier thresholds. Fixed policy, not learned; both bounds are
// closed from below.
const (
	riskHighThreshold   = 0.7
	riskMediumThreshold = 0.4
)

// churnBundle is the complete fitted state of the churn model.
type churnBundle struct {
	Model          *ensemble.RandomForestClassifier
	Scaler         *preprocessing.StandardScaler
	Encoders       map[string]*preprocessing.LabelEncoder
	FeatureColumns []string
}

// ChurnPredictor is a balanced-class binary classifier producing a churn
// probability and a discretized risk tier.
type ChurnPredictor struct {
	store  *store.FileStore
	logger log.Logger

	mu         sync.RWMutex
	bundle     *churnBundle
	loadTried  bool
	generation uint64
}

// NewChurnPredictor creates an untrained predictor backed by st.
func NewChurnPredictor(st *store.FileStore) *ChurnPredictor {
	return &ChurnPredictor{
		store:  st,
		logger: log.GetLoggerWithName("analytics.churn"),
	}
}

// Name implements Predictor.
func (p *ChurnPredictor) Name() string { return ModelChurn }

// Trained implements Predictor.
func (p *ChurnPredictor) Trained() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bundle != nil
}

// Generation implements Predictor.
func (p *ChurnPredictor) Generation() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

// TryLoad implements Predictor.
func (p *ChurnPredictor) TryLoad() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bundle != nil {
		return true
	}
	if p.loadTried {
		return false
	}

	var b churnBundle
	ok, err := p.store.Load(churnBundleName, &b)
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

// ChurnMetrics reports the training evaluation of the churn model.
type ChurnMetrics struct {
	TrainAccuracy   float64 `json:"train_accuracy"`
	TestAccuracy    float64 `json:"test_accuracy"`
	AUCScore        float64 `json:"auc_score"`
	TrainingSamples int     `json:"training_samples"`
}

// Train fits the balanced-class classifier with a stratified 80/20
// split preserving the label ratio. Every record must carry the binary
// is_churned label.
func (p *ChurnPredictor) Train(records []Record) (result *ChurnMetrics, err error) {
	defer errors.Recover(&err, "ChurnPredictor.Train")

	if len(records) == 0 {
		return nil, errors.NewEmptyInputError("ChurnPredictor.Train")
	}

	y := make([]float64, len(records))
	for i, rec := range records {
		v, ok := rec.Float(churnLabelField)
		if !ok {
			return nil, errors.NewMissingFieldError("ChurnPredictor.Train", churnLabelField)
		}
		if v != 0 && v != 1 {
			return nil, errors.NewValueError("ChurnPredictor.Train", "is_churned must be 0 or 1")
		}
		y[i] = v
	}

	encoders := make(map[string]*preprocessing.LabelEncoder, len(churnCategoricalColumns))
	X, err := tabularFeatures(records, churnNumericColumns, churnCategoricalColumns, encoders, true)
	if err != nil {
		return nil, err
	}

	p.logger.Info("training started", "samples", len(records))

	trainIdx, testIdx := stratifiedSplit(y, 42)
	XTrain, yTrain := subset(X, y, trainIdx)
	XTest, yTest := subset(X, y, testIdx)

	scaler := preprocessing.NewStandardScaler()
	scaledTrain, err := scaler.FitTransform(XTrain)
	if err != nil {
		return nil, err
	}

	model := ensemble.NewRandomForestClassifier()
	if err := model.Fit(scaledTrain, mat.NewDense(len(trainIdx), 1, yTrain)); err != nil {
		return nil, err
	}

	trainAcc, err := classificationAccuracy(model, scaledTrain, yTrain)
	if err != nil {
		return nil, err
	}

	testAcc := trainAcc
	auc := 0.5
	if len(testIdx) > 0 {
		scaledTest, err := scaler.Transform(XTest)
		if err != nil {
			return nil, err
		}
		testAcc, err = classificationAccuracy(model, scaledTest, yTest)
		if err != nil {
			return nil, err
		}

		proba, err := model.PredictProba(scaledTest)
		if err != nil {
			return nil, err
		}
		scores := mat.NewVecDense(len(yTest), nil)
		for i := range yTest {
			scores.SetVec(i, proba.At(i, 1))
		}
		if v, aucErr := metrics.ROCAUC(mat.NewVecDense(len(yTest), yTest), scores); aucErr == nil {
			auc = v
		} else {
			// Single-class test split: AUC is undefined, report chance level.
			p.logger.Warn("auc not computable on test split", "error", aucErr)
		}
	}

	bundle := &churnBundle{
		Model:          model,
		Scaler:         scaler,
		Encoders:       encoders,
		FeatureColumns: churnFeatureColumns(),
	}
	if err := p.store.Save(churnBundleName, bundle); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.bundle = bundle
	p.loadTried = true
	p.generation++
	p.mu.Unlock()

	p.logger.Info("training completed",
		"samples", len(records), "train_accuracy", trainAcc, "test_accuracy", testAcc, "auc", auc)

	return &ChurnMetrics{
		TrainAccuracy:   trainAcc,
		TestAccuracy:    testAcc,
		AUCScore:        auc,
		TrainingSamples: len(records),
	}, nil
}

// ChurnPrediction is the predict result of the churn model.
type ChurnPrediction struct {
	Status           string      `json:"status"`
	CustomerID       interface{} `json:"customer_id,omitempty"`
	ChurnProbability float64     `json:"churn_probability"`
	RiskLevel        string      `json:"risk_level"`
	PredictionDate   time.Time   `json:"prediction_date"`
}

// PredictProbability returns the churn probability for one customer and
// its risk tier.
func (p *ChurnPredictor) PredictProbability(customer Record) (*ChurnPrediction, error) {
	b := p.current()
	if b == nil && p.TryLoad() {
		b = p.current()
	}
	if b == nil {
		return nil, errors.NewNotTrainedError("ChurnPredictor", "PredictProbability")
	}

	X, err := tabularFeatures([]Record{customer}, churnNumericColumns, churnCategoricalColumns, b.Encoders, false)
	if err != nil {
		return nil, err
	}
	scaled, err := b.Scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	proba, err := b.Model.PredictProba(scaled)
	if err != nil {
		return nil, err
	}

	probability := proba.At(0, 1)
	return &ChurnPrediction{
		Status:           "success",
		CustomerID:       customer["customer_id"],
		ChurnProbability: probability,
		RiskLevel:        RiskLevel(probability),
		PredictionDate:   time.Now().UTC(),
	}, nil
}

func (p *ChurnPredictor) current() *churnBundle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bundle
}

// RiskLevel discretizes a churn probability into the operational tiers:
// high (>= 0.7), medium (>= 0.4), low otherwise.
func RiskLevel(probability float64) string {
	switch {
	case probability >= riskHighThreshold:
		return "high"
	case probability >= riskMediumThreshold:
		return "medium"
	default:
		return "low"
	}
}

func churnFeatureColumns() []string {
	cols := append([]string(nil), churnNumericColumns...)
	for _, c := range churnCategoricalColumns {
		cols = append(cols, c+"_encoded")
	}
	return cols
}

// stratifiedSplit shuffles each class independently and moves 20% of
// each into the test set, preserving the label ratio.
func stratifiedSplit(y []float64, seed int) (train, test []int) {
	rng := rand.New(rand.NewSource(int64(seed)))

	byClass := make(map[int][]int)
	for i, v := range y {
		cls := int(v)
		byClass[cls] = append(byClass[cls], i)
	}

	for cls := 0; cls <= 1; cls++ {
		indices := byClass[cls]
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		nTest := len(indices) / 5
		if nTest < 1 && len(indices) >= 2 {
			nTest = 1
		}
		test = append(test, indices[:nTest]...)
		train = append(train, indices[nTest:]...)
	}
	return train, test
}

func classificationAccuracy(model *ensemble.RandomForestClassifier, X mat.Matrix, y []float64) (float64, error) {
	pred, err := model.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.Accuracy(mat.NewVecDense(len(y), y), denseColumn(pred))
}
