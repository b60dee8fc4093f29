// Package market defines the commodity price data model shared by the
// source client, cache store, estimator and discovery engine.
package market

import (
	"time"
)

// PriceSource tags where a PriceInfo came from.
type PriceSource string

const (
	// SourceOfficial is a price taken directly from a fresh, verified provider record.
	SourceOfficial PriceSource = "official"

	// SourceEstimated is a price derived by the estimator.
	SourceEstimated PriceSource = "estimated"
)

// Valid reports whether s is a known source tag.
func (s PriceSource) Valid() bool {
	return s == SourceOfficial || s == SourceEstimated
}

// Trend is the directional classification of a price series.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// Direction is the predicted next move derived from a Trend.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// DirectionOf maps a trend to its predicted direction.
func DirectionOf(t Trend) Direction {
	switch t {
	case TrendRising:
		return DirectionUp
	case TrendFalling:
		return DirectionDown
	default:
		return DirectionFlat
	}
}

// Sentiment is the market mood for a product at a location.
type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentNeutral Sentiment = "neutral"
)

// Estimation methods reported in EstimatedPrice.EstimationMethod.
const (
	MethodAI               = "ai"
	MethodStatistical      = "statistical"
	MethodAICategory       = "ai_category"
	MethodCategoryBaseline = "category_baseline"
)

// ProductQuery identifies the commodity a caller wants a price for.
type ProductQuery struct {
	Name     string  `json:"name" validate:"required,max=100"`
	Category string  `json:"category" validate:"required,max=100"`
	Location string  `json:"location" validate:"required,max=100"`
	Quantity float64 `json:"quantity" validate:"gte=0.001,lte=1000000"`
	Unit     string  `json:"unit" validate:"required,max=20"`
}

// RawPriceRecord is one observation returned by a market data source.
type RawPriceRecord struct {
	Product   string    `json:"product"`
	Location  string    `json:"location"`
	Price     float64   `json:"price"`
	Date      time.Time `json:"date"`
	SourceTag string    `json:"source"`
	Verified  bool      `json:"verified"`
}

// PriceInfo is the aggregated price view returned to callers.
type PriceInfo struct {
	Current     float64     `json:"current"`
	Minimum     float64     `json:"minimum"`
	Maximum     float64     `json:"maximum"`
	Average     float64     `json:"average"`
	Confidence  float64     `json:"confidence"`
	Source      PriceSource `json:"source"`
	LastUpdated time.Time   `json:"last_updated"`
}

// HistoricalPoint is one point of a price series.
type HistoricalPoint struct {
	Date     time.Time `json:"date"`
	Price    float64   `json:"price"`
	Volume   float64   `json:"volume"`
	Location string    `json:"location"`
}

// PriceHistory is an analyzed price series, ordered oldest to newest.
type PriceHistory struct {
	ProductKey         string            `json:"product_key"`
	Location           string            `json:"location"`
	Points             []HistoricalPoint `json:"points"`
	Trend              Trend             `json:"trend"`
	PredictedDirection Direction         `json:"predicted_direction"`
	Volatility         float64           `json:"volatility"`
}

// EstimatedPrice is a PriceInfo produced by the estimator.
type EstimatedPrice struct {
	PriceInfo
	EstimationMethod string            `json:"estimation_method"`
	HistoricalBasis  []HistoricalPoint `json:"historical_basis"`
}

// MarketSentiment summarizes the market mood for a product.
type MarketSentiment struct {
	Product      string    `json:"product"`
	Location     string    `json:"location"`
	Sentiment    Sentiment `json:"sentiment"`
	Confidence   float64   `json:"confidence"`
	Factors      []string  `json:"factors"`
	LastAnalyzed time.Time `json:"last_analyzed"`
}

// HealthStatus is the last observed health of the market data source.
type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	Source    string    `json:"source"`
	CheckedAt time.Time `json:"checked_at"`
}

// IsStale returns true if the status is older than maxAge.
func (h HealthStatus) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(h.CheckedAt) > maxAge
}
