// Package mlservice provides machine-learning analytics for CRM data:
// sales trend forecasting, customer behavior prediction, churn
// classification, and collaborative-filtering product recommendation.
//
// All models share one lifecycle: train on plain records, persist the
// fitted state atomically, lazily reload after a restart, and serve
// predictions through a caching service façade.
//
// # Quick Start
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/aicrm/mlservice/analytics"
//	)
//
//	func main() {
//	    svc, err := analytics.NewService(analytics.Config{})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    records := []analytics.Record{
//	        {"date": "2025-01-01", "total_amount": 1200.0, "order_count": 40},
//	        {"date": "2025-02-01", "total_amount": 1350.0, "order_count": 45},
//	        // ...
//	    }
//	    if _, err := svc.Train(analytics.ModelSalesTrend, records, ""); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    forecast, err := svc.Predict(analytics.ModelSalesTrend,
//	        map[string]interface{}{"periods": 3})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(string(forecast))
//	}
//
// The algorithm packages (ensemble, forecast, decomposition, tree) can
// also be used directly; they follow the usual estimator shape of
// New, chainable With setters, Fit, and Predict.
package mlservice
