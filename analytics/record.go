// Package analytics implements the model-lifecycle core: four predictors
// (sales trend forecasting, customer behavior regression, churn
// classification, collaborative-filtering recommendation) behind one
// train → persist → load → predict → cache contract, plus the service
// façade that routes calls and applies result caching.
package analytics

import (
	"math"
	"time"
)

// Record is one training or inference observation: a mapping of field
// name to scalar (numeric, categorical string, or date). Fields absent
// from a record are treated as missing. Records are plain nested data,
// so they cross the service boundary without translation.
type Record map[string]interface{}

// Float extracts a numeric field. Integers and floats both qualify.
func (r Record) Float(field string) (float64, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// FloatOr extracts a numeric field, returning def when missing.
func (r Record) FloatOr(field string, def float64) float64 {
	if v, ok := r.Float(field); ok {
		return v
	}
	return def
}

// FloatOrNaN extracts a numeric field, returning NaN when missing so the
// imputation step can recognize the gap.
func (r Record) FloatOrNaN(field string) float64 {
	if v, ok := r.Float(field); ok {
		return v
	}
	return math.NaN()
}

// Int extracts an integer field.
func (r Record) Int(field string) (int, bool) {
	v, ok := r.Float(field)
	if !ok {
		return 0, false
	}
	return int(v), true
}

// String extracts a categorical string field.
func (r Record) String(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringOr extracts a categorical field, returning def when missing.
func (r Record) StringOr(field, def string) string {
	if s, ok := r.String(field); ok {
		return s
	}
	return def
}

// dateLayouts are the accepted date encodings, tried in order.
var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}

// Date extracts a date field from a time.Time value or a date string.
func (r Record) Date(field string) (time.Time, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch d := v.(type) {
	case time.Time:
		return d, true
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, d); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
