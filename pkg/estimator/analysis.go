package estimator

import (
	"math"

	"github.com/Sternrassler/mandi-prices/pkg/market"
)

// TrendThreshold is the relative change between the first and last week
// above which a series counts as rising (or below its negative, falling).
const TrendThreshold = 0.05

// trendWindow is the number of points compared at each end of a series.
const trendWindow = 7

// Prices extracts the price column of a series.
func Prices(points []market.HistoricalPoint) []float64 {
	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price
	}
	return prices
}

// Mean returns the arithmetic mean, or 0 for no values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// ClassifyTrend compares the mean of the last 7 points with the mean of the
// first 7. Shorter series use every point at both ends.
func ClassifyTrend(points []market.HistoricalPoint) market.Trend {
	if len(points) < 2 {
		return market.TrendStable
	}

	prices := Prices(points)
	window := min(trendWindow, len(prices))
	first := Mean(prices[:window])
	last := Mean(prices[len(prices)-window:])
	if first == 0 {
		return market.TrendStable
	}

	change := (last - first) / first
	switch {
	case change > TrendThreshold:
		return market.TrendRising
	case change < -TrendThreshold:
		return market.TrendFalling
	default:
		return market.TrendStable
	}
}

// Volatility is the coefficient of variation: population standard deviation
// divided by the mean. It is 0 for an empty or zero-mean series.
func Volatility(points []market.HistoricalPoint) float64 {
	prices := Prices(points)
	mean := Mean(prices)
	if mean == 0 {
		return 0
	}

	variance := 0.0
	for _, p := range prices {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(len(prices))

	return math.Sqrt(variance) / mean
}

// TrendMultiplier is the ratio of the second-half average to the first-half
// average of the last 7 points. It is 1 with fewer than 2 points.
func TrendMultiplier(points []market.HistoricalPoint) float64 {
	prices := Prices(points)
	if len(prices) > trendWindow {
		prices = prices[len(prices)-trendWindow:]
	}
	if len(prices) < 2 {
		return 1.0
	}

	half := len(prices) / 2
	firstHalf := Mean(prices[:half])
	secondHalf := Mean(prices[half:])
	if firstHalf == 0 {
		return 1.0
	}
	return secondHalf / firstHalf
}

// Analyze builds a PriceHistory from a series.
func Analyze(productKey, location string, points []market.HistoricalPoint) market.PriceHistory {
	if points == nil {
		points = []market.HistoricalPoint{}
	}
	trend := ClassifyTrend(points)
	return market.PriceHistory{
		ProductKey:         productKey,
		Location:           location,
		Points:             points,
		Trend:              trend,
		PredictedDirection: market.DirectionOf(trend),
		Volatility:         Volatility(points),
	}
}
