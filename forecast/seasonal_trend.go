// Package forecast implements a decomposition forecaster: an additive
// model of linear trend plus yearly (monthly-period) seasonality, with a
// residual-based 80% prediction interval. It is the time-series half of
// the hybrid sales trend predictor.
package forecast

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aicrm/mlservice/core/model"
	"github.com/aicrm/mlservice/pkg/errors"
)

// intervalZ is the z-score of the 80% central interval.
const intervalZ = 1.2816

// Point is one decomposed period of the fitted or projected series.
type Point struct {
	Date      time.Time
	Predicted float64
	Lower     float64
	Upper     float64
	Trend     float64
	Seasonal  float64
}

// SeasonalTrend decomposes a monthly series into linear trend and
// per-month seasonal offsets. Only yearly seasonality is modeled; there
// is no weekly or daily pattern.
type SeasonalTrend struct {
	model.BaseEstimator

	// Intercept and Slope define the linear trend over the month index.
	Intercept float64
	Slope     float64

	// Seasonal holds the mean detrended offset per calendar month (index
	// 0 = January).
	Seasonal [12]float64

	// ResidualStd is the standard deviation of the fit residuals,
	// used for the 80% interval.
	ResidualStd float64

	// Start is the first observed period; NObs is the number of observed
	// periods. Future periods continue the month index from Start.
	Start time.Time
	NObs  int

	// Dates holds the observed periods in ascending order.
	Dates []time.Time
}

// NewSeasonalTrend creates an unfitted decomposition model.
func NewSeasonalTrend() *SeasonalTrend {
	return &SeasonalTrend{}
}

// Fit decomposes the (date, value) series. Observations are sorted by
// date; the month index of each observation is its month distance from
// the earliest date.
func (st *SeasonalTrend) Fit(dates []time.Time, values []float64) error {
	if len(dates) == 0 {
		return errors.NewEmptyInputError("SeasonalTrend.Fit")
	}
	if len(dates) != len(values) {
		return errors.NewDimensionError("SeasonalTrend.Fit", len(dates), len(values), 0)
	}

	type obs struct {
		date  time.Time
		value float64
	}
	series := make([]obs, len(dates))
	for i := range dates {
		series[i] = obs{date: dates[i], value: values[i]}
	}
	sort.Slice(series, func(i, j int) bool { return series[i].date.Before(series[j].date) })

	st.Start = series[0].date
	st.NObs = len(series)
	st.Dates = make([]time.Time, len(series))

	xs := make([]float64, len(series))
	ys := make([]float64, len(series))
	for i, o := range series {
		st.Dates[i] = o.date
		xs[i] = float64(monthIndex(st.Start, o.date))
		ys[i] = o.value
	}

	st.Intercept, st.Slope = stat.LinearRegression(xs, ys, nil, false)

	// Seasonal offsets: mean detrended value per calendar month.
	var monthSum, monthCount [12]float64
	for i, o := range series {
		m := int(o.date.Month()) - 1
		monthSum[m] += ys[i] - (st.Intercept + st.Slope*xs[i])
		monthCount[m]++
	}
	for m := 0; m < 12; m++ {
		if monthCount[m] > 0 {
			st.Seasonal[m] = monthSum[m] / monthCount[m]
		}
	}

	residuals := make([]float64, len(series))
	for i, o := range series {
		m := int(o.date.Month()) - 1
		residuals[i] = ys[i] - (st.Intercept + st.Slope*xs[i]) - st.Seasonal[m]
	}
	if len(residuals) > 1 {
		st.ResidualStd = stat.StdDev(residuals, nil)
	}

	st.SetFitted()
	return nil
}

// Decompose returns the fitted history followed by horizon projected
// monthly periods. The history carries the model's in-sample fit, so a
// trend summary can be computed over the full frame.
func (st *SeasonalTrend) Decompose(horizon int) ([]Point, error) {
	if !st.IsFitted() {
		return nil, errors.NewNotTrainedError("SeasonalTrend", "Decompose")
	}
	if horizon < 0 {
		return nil, errors.NewValueError("SeasonalTrend.Decompose", "horizon must be non-negative")
	}

	points := make([]Point, 0, st.NObs+horizon)
	for _, d := range st.Dates {
		points = append(points, st.at(d))
	}

	last := st.Dates[len(st.Dates)-1]
	for k := 1; k <= horizon; k++ {
		points = append(points, st.at(last.AddDate(0, k, 0)))
	}
	return points, nil
}

// Forecast returns only the horizon projected future periods.
func (st *SeasonalTrend) Forecast(horizon int) ([]Point, error) {
	all, err := st.Decompose(horizon)
	if err != nil {
		return nil, err
	}
	return all[st.NObs:], nil
}

func (st *SeasonalTrend) at(date time.Time) Point {
	t := float64(monthIndex(st.Start, date))
	trend := st.Intercept + st.Slope*t
	seasonal := st.Seasonal[int(date.Month())-1]
	yhat := trend + seasonal
	margin := intervalZ * st.ResidualStd
	return Point{
		Date:      date,
		Predicted: yhat,
		Lower:     yhat - margin,
		Upper:     yhat + margin,
		Trend:     trend,
		Seasonal:  seasonal,
	}
}

// monthIndex returns the month distance of date from start.
func monthIndex(start, date time.Time) int {
	return (date.Year()-start.Year())*12 + int(date.Month()) - int(start.Month())
}
