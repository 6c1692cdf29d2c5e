package analytics

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/aicrm/mlservice/pkg/errors"
	"github.com/aicrm/mlservice/store"
)

func newTestStore(t *testing.T) *store.FileStore {
	t.Helper()
	st, err := store.New(store.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	return st
}

// monthlySalesRecords builds n monthly records from 2024-01 with a strong
// upward trend and a yearly seasonal swing.
func monthlySalesRecords(n int) []Record {
	records := make([]Record, n)
	for i := 0; i < n; i++ {
		year := 2024 + i/12
		month := i%12 + 1
		amount := 100 + 100*float64(i) + 30*math.Sin(2*math.Pi*float64(month)/12)
		records[i] = Record{
			"date":             fmt.Sprintf("%04d-%02d-01", year, month),
			"total_amount":     amount,
			"order_count":      50 + i,
			"unique_customers": 30 + i,
			"avg_order_value":  amount / float64(50+i),
			"marketing_spend":  500.0,
		}
	}
	return records
}

func TestSalesTrendTrainAndPredict(t *testing.T) {
	p := NewSalesTrendPredictor(newTestStore(t))

	metrics, err := p.Train(monthlySalesRecords(12))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if metrics.TrainingSamples != 12 {
		t.Errorf("TrainingSamples = %d, want 12", metrics.TrainingSamples)
	}
	if metrics.ForestMAE < 0 || math.IsNaN(metrics.ForestMAE) {
		t.Errorf("ForestMAE = %v", metrics.ForestMAE)
	}

	forecast, err := p.Predict(3)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if forecast.Status != "success" {
		t.Errorf("Status = %q, want success", forecast.Status)
	}
	if len(forecast.Predictions) != 3 {
		t.Fatalf("expected 3 predictions, got %d", len(forecast.Predictions))
	}

	for i, pt := range forecast.Predictions {
		if pt.LowerBound > pt.PredictedAmount || pt.UpperBound < pt.PredictedAmount {
			t.Errorf("prediction %d: interval [%v, %v] does not bracket %v",
				i, pt.LowerBound, pt.UpperBound, pt.PredictedAmount)
		}
		if pt.Confidence != 0.8 {
			t.Errorf("prediction %d: Confidence = %v, want 0.8", i, pt.Confidence)
		}
	}

	// The series grows ~100 per month, so projections keep climbing and
	// the summary calls the direction increasing.
	pts := forecast.Predictions
	if pts[1].PredictedAmount <= pts[0].PredictedAmount || pts[2].PredictedAmount <= pts[1].PredictedAmount {
		t.Errorf("projections not increasing: %v %v %v",
			pts[0].PredictedAmount, pts[1].PredictedAmount, pts[2].PredictedAmount)
	}
	if forecast.TrendAnalysis.Direction != "increasing" {
		t.Errorf("Direction = %q, want increasing (rate %v)",
			forecast.TrendAnalysis.Direction, forecast.TrendAnalysis.TrendRate)
	}
	if forecast.ModelInfo.PredictionHorizon != 3 {
		t.Errorf("PredictionHorizon = %d, want 3", forecast.ModelInfo.PredictionHorizon)
	}
}

// rampSalesRecords builds n monthly records for a business compounding
// 40% month over month from a small base, plus a seasonal swing. Against
// the fitted trend line such a ramp keeps the trailing fractional change
// above the 5% direction threshold even two years in.
func rampSalesRecords(n int) []Record {
	records := make([]Record, n)
	amount := 100.0
	for i := 0; i < n; i++ {
		year := 2024 + i/12
		month := i%12 + 1
		total := amount + 500*math.Sin(2*math.Pi*float64(month)/12)
		records[i] = Record{
			"date":             fmt.Sprintf("%04d-%02d-01", year, month),
			"total_amount":     total,
			"order_count":      10 + 2*i,
			"unique_customers": 5 + i,
			"avg_order_value":  total / float64(10+2*i),
			"marketing_spend":  200.0 + 50*float64(i),
		}
		amount *= 1.4
	}
	return records
}

func TestSalesTrendTwoYearRampClassifiedIncreasing(t *testing.T) {
	p := NewSalesTrendPredictor(newTestStore(t))

	if _, err := p.Train(rampSalesRecords(24)); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	forecast, err := p.Predict(3)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if len(forecast.Predictions) != 3 {
		t.Fatalf("expected 3 predictions, got %d", len(forecast.Predictions))
	}

	pts := forecast.Predictions
	if pts[1].PredictedAmount <= pts[0].PredictedAmount || pts[2].PredictedAmount <= pts[1].PredictedAmount {
		t.Errorf("projections not increasing: %v %v %v",
			pts[0].PredictedAmount, pts[1].PredictedAmount, pts[2].PredictedAmount)
	}

	analysis := forecast.TrendAnalysis
	if analysis.Direction != "increasing" {
		t.Errorf("Direction = %q, want increasing (rate %v)", analysis.Direction, analysis.TrendRate)
	}
	if analysis.TrendRate <= 0.05 {
		t.Errorf("TrendRate = %v, want above the 0.05 direction threshold", analysis.TrendRate)
	}
}

func TestSalesTrendHorizonRejected(t *testing.T) {
	p := NewSalesTrendPredictor(newTestStore(t))
	if _, err := p.Train(monthlySalesRecords(12)); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	for _, horizon := range []int{0, -1} {
		_, err := p.Predict(horizon)
		if err == nil {
			t.Fatalf("Predict(%d) succeeded, want ValueError", horizon)
		}
		var value *errors.ValueError
		if !errors.As(err, &value) {
			t.Errorf("Predict(%d): expected ValueError, got %T: %v", horizon, err, err)
		}
	}
}

func TestSalesTrendUntrained(t *testing.T) {
	p := NewSalesTrendPredictor(newTestStore(t))

	_, err := p.Predict(3)
	if err == nil {
		t.Fatal("expected error on untrained Predict")
	}
	var notTrained *errors.NotTrainedError
	if !errors.As(err, &notTrained) {
		t.Errorf("expected NotTrainedError, got %T: %v", err, err)
	}
}

func TestSalesTrendMissingFields(t *testing.T) {
	p := NewSalesTrendPredictor(newTestStore(t))

	_, err := p.Train([]Record{{"total_amount": 100.0}})
	var missing *errors.MissingFieldError
	if !errors.As(err, &missing) || missing.Field != "date" {
		t.Errorf("expected MissingFieldError for date, got %v", err)
	}

	_, err = p.Train([]Record{{"date": "2024-01-01"}})
	if !errors.As(err, &missing) || missing.Field != "total_amount" {
		t.Errorf("expected MissingFieldError for total_amount, got %v", err)
	}

	if _, err := p.Train(nil); err == nil {
		t.Error("expected error on empty training set")
	}
}

func TestTryLoadRetriesAfterStoreError(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(store.Config{Dir: dir})
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}

	// A corrupt bundle file makes the load fail without being a clean
	// miss.
	path := filepath.Join(dir, "sales_trend_model.gob")
	if err := os.WriteFile(path, []byte("not a gob stream"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	p := NewSalesTrendPredictor(st)
	if p.TryLoad() {
		t.Fatal("TryLoad succeeded on a corrupt bundle")
	}

	// Another writer replaces the file with a valid bundle; the failed
	// attempt must not have pinned this predictor untrained.
	writer := NewSalesTrendPredictor(st)
	if _, err := writer.Train(monthlySalesRecords(12)); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if !p.TryLoad() {
		t.Fatal("TryLoad did not retry after a store error")
	}
	if !p.Trained() {
		t.Error("predictor untrained after a successful retry")
	}
}

func TestSalesTrendRestartReload(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(store.Config{Dir: dir})
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}

	first := NewSalesTrendPredictor(st)
	if _, err := first.Train(monthlySalesRecords(12)); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	before, err := first.Predict(3)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	// A fresh predictor over the same directory lazily loads the bundle
	// and produces the identical forecast.
	st2, err := store.New(store.Config{Dir: dir})
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	second := NewSalesTrendPredictor(st2)
	if second.Trained() {
		t.Fatal("fresh predictor reports trained before any load")
	}

	after, err := second.Predict(3)
	if err != nil {
		t.Fatalf("Predict after reload failed: %v", err)
	}
	for i := range before.Predictions {
		if before.Predictions[i] != after.Predictions[i] {
			t.Errorf("prediction %d differs after reload: %+v vs %+v",
				i, before.Predictions[i], after.Predictions[i])
		}
	}
	if before.TrendAnalysis != after.TrendAnalysis {
		t.Errorf("trend analysis differs after reload: %+v vs %+v",
			before.TrendAnalysis, after.TrendAnalysis)
	}
}
