package analytics

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/aicrm/mlservice/cache"
	"github.com/aicrm/mlservice/pkg/errors"
	"github.com/aicrm/mlservice/pkg/log"
	"github.com/aicrm/mlservice/store"
)

// Model names accepted by the service façade.
const (
	ModelSalesTrend       = "sales_trend"
	ModelCustomerBehavior = "customer_behavior"
	ModelChurn            = "churn_prediction"
	ModelRecommendation   = "recommendation"
)

// defaultBehaviorTarget is trained against when no target field is
// given.
const defaultBehaviorTarget = "customer_value"

// Config configures a Service.
type Config struct {
	// Store configures bundle persistence.
	Store store.Config

	// Cache configures the predict result cache.
	Cache cache.Config

	// CacheTTL is the expiry applied to cached predict results. Zero
	// uses the cache default.
	CacheTTL time.Duration

	// VersionedCacheKeys mixes the predictor's training generation into
	// cache keys, so a retrain implicitly invalidates older results.
	// Off by default: stale reads within the TTL window are accepted.
	VersionedCacheKeys bool
}

// Service routes training and prediction to the four predictors and
// caches serialized predict results. A cached result is returned byte
// for byte, so repeated identical calls within the TTL are
// indistinguishable from each other.
type Service struct {
	salesTrend     *SalesTrendPredictor
	behavior       *CustomerBehaviorPredictor
	churn          *ChurnPredictor
	recommendation *RecommendationEngine

	store     *store.FileStore
	cache     *cache.Cache
	cacheTTL  time.Duration
	versioned bool
	logger    log.Logger
}

// NewService wires the predictors, the bundle store, and the result
// cache.
func NewService(cfg Config) (*Service, error) {
	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, err
	}
	c, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, err
	}
	return &Service{
		salesTrend:     NewSalesTrendPredictor(st),
		behavior:       NewCustomerBehaviorPredictor(st),
		churn:          NewChurnPredictor(st),
		recommendation: NewRecommendationEngine(st),
		store:          st,
		cache:          c,
		cacheTTL:       cfg.CacheTTL,
		versioned:      cfg.VersionedCacheKeys,
		logger:         log.GetLoggerWithName("analytics.service"),
	}, nil
}

// SalesTrend exposes the forecasting predictor.
func (s *Service) SalesTrend() *SalesTrendPredictor { return s.salesTrend }

// CustomerBehavior exposes the behavior regressor.
func (s *Service) CustomerBehavior() *CustomerBehaviorPredictor { return s.behavior }

// Churn exposes the churn classifier.
func (s *Service) Churn() *ChurnPredictor { return s.churn }

// Recommendation exposes the recommendation engine.
func (s *Service) Recommendation() *RecommendationEngine { return s.recommendation }

// Cache exposes the result cache. Intended for tests and diagnostics.
func (s *Service) Cache() *cache.Cache { return s.cache }

// TrainResult is the uniform response of a Train call.
type TrainResult struct {
	Status    string      `json:"status"`
	Model     string      `json:"model"`
	Metrics   interface{} `json:"metrics"`
	TrainedAt time.Time   `json:"trained_at"`
}

// Train routes the records to the named model's trainer. The target
// field only applies to the behavior model and defaults to
// customer_value when empty.
func (s *Service) Train(name string, records []Record, targetField string) (*TrainResult, error) {
	var (
		metrics interface{}
		err     error
	)
	switch name {
	case ModelSalesTrend:
		metrics, err = s.salesTrend.Train(records)
	case ModelCustomerBehavior:
		if targetField == "" {
			targetField = defaultBehaviorTarget
		}
		metrics, err = s.behavior.Train(records, targetField)
	case ModelChurn:
		metrics, err = s.churn.Train(records)
	case ModelRecommendation:
		metrics, err = s.recommendation.Train(records)
	default:
		return nil, errors.NewValueError("Service.Train", "unknown model: "+name)
	}
	if err != nil {
		return nil, err
	}

	return &TrainResult{
		Status:    "success",
		Model:     name,
		Metrics:   metrics,
		TrainedAt: time.Now().UTC(),
	}, nil
}

// Predict routes the call to the named model and returns the serialized
// result. Results are cached under a key derived from the model name and
// the significant parameters; a hit is served without touching the
// predictor.
func (s *Service) Predict(name string, params map[string]interface{}) ([]byte, error) {
	key, cacheable := s.cacheKey(name, params)
	if cacheable {
		if raw, ok := s.cache.Get(key); ok {
			s.logger.Debug("cache hit", "model", name)
			return raw, nil
		}
	}

	var (
		result interface{}
		err    error
	)
	switch name {
	case ModelSalesTrend:
		result, err = s.salesTrend.Predict(paramInt(params, "periods", 3))
	case ModelCustomerBehavior:
		result, err = s.behavior.Predict(Record(params))
	case ModelChurn:
		result, err = s.churn.PredictProbability(Record(params))
	case ModelRecommendation:
		id, ok := Record(params).Int("customer_id")
		if !ok {
			return nil, errors.NewMissingFieldError("Service.Predict", "customer_id")
		}
		result, err = s.recommendation.Recommend(id, paramInt(params, "n_recommendations", 10))
	default:
		return nil, errors.NewValueError("Service.Predict", "unknown model: "+name)
	}
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrap(err, "serializing predict result")
	}
	if cacheable {
		s.cache.Set(key, raw, s.cacheTTL)
	}
	return raw, nil
}

// cacheKey derives the cache key for a predict call. Customer records
// carry arbitrary fields, so the tabular models key on the significant
// identifiers only when one is present; a record without a customer_id
// is not cacheable.
func (s *Service) cacheKey(name string, params map[string]interface{}) (string, bool) {
	significant := params
	switch name {
	case ModelCustomerBehavior, ModelChurn:
		id, ok := params["customer_id"]
		if !ok {
			return "", false
		}
		significant = map[string]interface{}{"customer_id": id}
	}

	key := cache.Key(name, significant)
	if s.versioned {
		key += ":gen:" + strconv.FormatUint(s.predictor(name).Generation(), 10)
	}
	return key, true
}

func (s *Service) predictor(name string) Predictor {
	switch name {
	case ModelSalesTrend:
		return s.salesTrend
	case ModelCustomerBehavior:
		return s.behavior
	case ModelChurn:
		return s.churn
	default:
		return s.recommendation
	}
}

// ModelStatus describes one model for the status query.
type ModelStatus struct {
	Trained      bool       `json:"trained"`
	FileSize     int64      `json:"file_size,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

// Status reports, per model, whether a trained bundle is available and
// the persisted bundle's size and modification time.
func (s *Service) Status() (map[string]ModelStatus, error) {
	names := map[string]struct {
		pred   Predictor
		bundle string
	}{
		ModelSalesTrend:       {s.salesTrend, salesTrendBundleName},
		ModelCustomerBehavior: {s.behavior, behaviorBundleName},
		ModelChurn:            {s.churn, churnBundleName},
		ModelRecommendation:   {s.recommendation, recommendationBundleName},
	}

	out := make(map[string]ModelStatus, len(names))
	for name, entry := range names {
		status := ModelStatus{Trained: entry.pred.Trained() || entry.pred.TryLoad()}
		info, ok, err := s.store.Stat(entry.bundle)
		if err != nil {
			return nil, err
		}
		if ok {
			status.FileSize = info.Size
			modified := info.LastModified
			status.LastModified = &modified
		}
		out[name] = status
	}
	return out, nil
}

// Recoverable reports whether an error is a domain error the caller can
// act on, as opposed to an internal failure.
func Recoverable(err error) bool {
	return errors.IsRecoverable(err)
}

func paramInt(params map[string]interface{}, field string, def int) int {
	if v, ok := Record(params).Int(field); ok {
		return v
	}
	return def
}
