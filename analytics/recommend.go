package analytics

import (
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/aicrm/mlservice/decomposition"
	"github.com/aicrm/mlservice/pkg/errors"
	"github.com/aicrm/mlservice/pkg/log"
	"github.com/aicrm/mlservice/store"
)

// recommendationBundle is the fitted state of the recommender. Factors
// are kept as row slices rather than matrices so the bundle is a plain
// gob-encodable value.
type recommendationBundle struct {
	UserIDs []int
	ItemIDs []int

	// Ratings is the dense user×item interaction matrix the factors
	// were fit on; a zero means the pair was never rated.
	Ratings [][]float64

	// UserFactors holds one latent row per user, ItemFactors one latent
	// row per item.
	UserFactors [][]float64
	ItemFactors [][]float64
}

// RecommendationEngine factorizes the customer×product rating matrix and
// scores unrated products by the dot product of latent factors.
type RecommendationEngine struct {
	store  *store.FileStore
	logger log.Logger

	mu         sync.RWMutex
	bundle     *recommendationBundle
	loadTried  bool
	generation uint64
}

// NewRecommendationEngine creates an untrained engine backed by st.
func NewRecommendationEngine(st *store.FileStore) *RecommendationEngine {
	return &RecommendationEngine{
		store:  st,
		logger: log.GetLoggerWithName("analytics.recommendation"),
	}
}

// Name implements Predictor.
func (p *RecommendationEngine) Name() string { return ModelRecommendation }

// Trained implements Predictor.
func (p *RecommendationEngine) Trained() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bundle != nil
}

// Generation implements Predictor.
func (p *RecommendationEngine) Generation() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

// TryLoad implements Predictor.
func (p *RecommendationEngine) TryLoad() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bundle != nil {
		return true
	}
	if p.loadTried {
		return false
	}

	var b recommendationBundle
	ok, err := p.store.Load(recommendationBundleName, &b)
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

// RecommendationMetrics reports the training evaluation of the
// recommender.
type RecommendationMetrics struct {
	ReconstructionMSE float64 `json:"reconstruction_mse"`
	NUsers            int     `json:"n_users"`
	NItems            int     `json:"n_items"`
}

// Train builds the interaction matrix from (customer_id, product_id,
// rating) records and factorizes it. Duplicate pairs keep the last
// rating seen.
func (p *RecommendationEngine) Train(records []Record) (result *RecommendationMetrics, err error) {
	defer errors.Recover(&err, "RecommendationEngine.Train")

	if len(records) == 0 {
		return nil, errors.NewEmptyInputError("RecommendationEngine.Train")
	}

	type pair struct{ user, item int }
	ratings := make(map[pair]float64, len(records))
	userSet := make(map[int]struct{})
	itemSet := make(map[int]struct{})

	for _, rec := range records {
		user, ok := rec.Int("customer_id")
		if !ok {
			return nil, errors.NewMissingFieldError("RecommendationEngine.Train", "customer_id")
		}
		item, ok := rec.Int("product_id")
		if !ok {
			return nil, errors.NewMissingFieldError("RecommendationEngine.Train", "product_id")
		}
		rating, ok := rec.Float("rating")
		if !ok {
			return nil, errors.NewMissingFieldError("RecommendationEngine.Train", "rating")
		}
		if rating < 0 {
			return nil, errors.NewValueError("RecommendationEngine.Train", "rating must be non-negative")
		}
		userSet[user] = struct{}{}
		itemSet[item] = struct{}{}
		ratings[pair{user, item}] = rating
	}

	userIDs := sortedKeys(userSet)
	itemIDs := sortedKeys(itemSet)
	userIdx := indexOf(userIDs)
	itemIdx := indexOf(itemIDs)

	V := mat.NewDense(len(userIDs), len(itemIDs), nil)
	for pr, rating := range ratings {
		V.Set(userIdx[pr.user], itemIdx[pr.item], rating)
	}

	p.logger.Info("training started",
		"samples", len(records), "users", len(userIDs), "items", len(itemIDs))

	nmf := decomposition.NewNMF()
	if err := nmf.Fit(V); err != nil {
		return nil, err
	}
	mse, err := nmf.ReconstructionMSE(V)
	if err != nil {
		return nil, err
	}

	bundle := &recommendationBundle{
		UserIDs:     userIDs,
		ItemIDs:     itemIDs,
		Ratings:     denseRows(V),
		UserFactors: denseRows(nmf.W),
		ItemFactors: transposedRows(nmf.H),
	}
	if err := p.store.Save(recommendationBundleName, bundle); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.bundle = bundle
	p.loadTried = true
	p.generation++
	p.mu.Unlock()

	p.logger.Info("training completed",
		"users", len(userIDs), "items", len(itemIDs), "reconstruction_mse", mse)

	return &RecommendationMetrics{
		ReconstructionMSE: mse,
		NUsers:            len(userIDs),
		NItems:            len(itemIDs),
	}, nil
}

// Recommendation is one scored product suggestion.
type Recommendation struct {
	ProductID      int     `json:"product_id"`
	PredictedScore float64 `json:"predicted_score"`
	Confidence     float64 `json:"confidence"`
}

// RecommendationResult is the predict result of the recommender.
type RecommendationResult struct {
	Status          string           `json:"status"`
	CustomerID      int              `json:"customer_id"`
	Recommendations []Recommendation `json:"recommendations"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// Recommend returns up to n unrated products for the customer, scored by
// latent-factor dot product and ordered by descending score. Ties break
// on ascending product ID so results are stable.
func (p *RecommendationEngine) Recommend(customerID, n int) (*RecommendationResult, error) {
	if n <= 0 {
		return nil, errors.NewValueError("RecommendationEngine.Recommend", "n must be positive")
	}

	b := p.current()
	if b == nil && p.TryLoad() {
		b = p.current()
	}
	if b == nil {
		return nil, errors.NewNotTrainedError("RecommendationEngine", "Recommend")
	}

	row := sort.SearchInts(b.UserIDs, customerID)
	if row >= len(b.UserIDs) || b.UserIDs[row] != customerID {
		return nil, errors.NewCustomerNotFoundError(customerID)
	}

	user := b.UserFactors[row]
	scores := make([]float64, len(b.ItemIDs))
	maxScore := math.Inf(-1)
	for j, item := range b.ItemFactors {
		if b.Ratings[row][j] > 0 {
			// Already rated: never recommended again.
			scores[j] = math.Inf(-1)
			continue
		}
		scores[j] = dot(user, item)
		if scores[j] > maxScore {
			maxScore = scores[j]
		}
	}

	order := make([]int, len(scores))
	for j := range order {
		order[j] = j
	}
	sort.Slice(order, func(a, c int) bool {
		if scores[order[a]] != scores[order[c]] {
			return scores[order[a]] > scores[order[c]]
		}
		return b.ItemIDs[order[a]] < b.ItemIDs[order[c]]
	})

	recs := make([]Recommendation, 0, n)
	for _, j := range order {
		if len(recs) == n || math.IsInf(scores[j], -1) {
			break
		}
		recs = append(recs, Recommendation{
			ProductID:      b.ItemIDs[j],
			PredictedScore: scores[j],
			Confidence:     relativeConfidence(scores[j], maxScore),
		})
	}

	return &RecommendationResult{
		Status:          "success",
		CustomerID:      customerID,
		Recommendations: recs,
		GeneratedAt:     time.Now().UTC(),
	}, nil
}

func (p *RecommendationEngine) current() *recommendationBundle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bundle
}

// relativeConfidence normalizes a score against the best candidate
// score, clamped to [0, 1]. A non-positive maximum yields zero: the
// factorization has nothing positive to say about any candidate.
func relativeConfidence(score, maxScore float64) float64 {
	if math.IsInf(maxScore, -1) || maxScore <= 0 {
		return 0
	}
	return math.Min(1, math.Max(0, score/maxScore))
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func sortedKeys(set map[int]struct{}) []int {
	keys := make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func indexOf(ids []int) map[int]int {
	idx := make(map[int]int, len(ids))
	for i, id := range ids {
		idx[id] = i
	}
	return idx
}

func denseRows(m *mat.Dense) [][]float64 {
	r, c := m.Dims()
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		rows[i] = make([]float64, c)
		copy(rows[i], m.RawRowView(i))
	}
	return rows
}

// transposedRows returns the columns of m as rows, giving one latent
// vector per item from the (k×items) factor.
func transposedRows(m *mat.Dense) [][]float64 {
	r, c := m.Dims()
	rows := make([][]float64, c)
	for j := 0; j < c; j++ {
		rows[j] = make([]float64, r)
		for i := 0; i < r; i++ {
			rows[j][i] = m.At(i, j)
		}
	}
	return rows
}
