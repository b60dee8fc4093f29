// Package estimator derives prices and market sentiment when no fresh
// authoritative reading exists.
//
// Price estimation runs a tier chain and returns the first result that passes
// validation:
//
//	with history:    ai -> statistical -> category_baseline
//	without history: ai_category -> category_baseline
//
// Sentiment tries the AI collaborator first and falls back to fixed rules.
package estimator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/market"
	"github.com/Sternrassler/mandi-prices/pkg/validate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var estimationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mandi_estimations_total",
	Help: "Price estimations by method",
}, []string{"method"})

// Estimation constants.
const (
	// BaselineConfidence is the fixed confidence of a category baseline.
	BaselineConfidence = 0.3

	// BaselineSpread is the relative min/max band around a baseline price.
	BaselineSpread = 0.2

	// StatisticalMaxConfidence caps statistical estimates.
	StatisticalMaxConfidence = 0.8

	// FullHistoryPoints is the series length treated as sufficient data.
	FullHistoryPoints = 30

	// HighVolatility marks a series too noisy for a directional call.
	HighVolatility = 0.2

	// LowVolatility is the ceiling for bullish or bearish calls.
	LowVolatility = 0.1
)

// Sentiment factors.
const (
	FactorMonsoon        = "monsoon_effect"
	FactorHighVolatility = "high_volatility"
	FactorRisingTrend    = "rising_trend"
	FactorFallingTrend   = "falling_trend"
)

// baselinePrices is the per-category fallback price in ₹/kg.
var baselinePrices = map[string]float64{
	"vegetables": 30,
	"fruits":     60,
	"grains":     35,
	"pulses":     90,
	"spices":     200,
	"dairy":      55,
	"oilseeds":   70,
}

// DefaultBaselinePrice is used for categories missing from the table.
const DefaultBaselinePrice = 50.0

// BaselinePrice returns the table price for a category.
func BaselinePrice(category string) float64 {
	if p, ok := baselinePrices[NormalizeCategory(category)]; ok {
		return p
	}
	return DefaultBaselinePrice
}

// Estimator runs the estimation and sentiment tiers.
type Estimator struct {
	ai     AI
	logger zerolog.Logger

	// Now is the clock used for timestamps and calendar context.
	Now func() time.Time
}

// New creates an estimator. A nil ai disables the AI tiers.
func New(ai AI, logger zerolog.Logger) *Estimator {
	if ai == nil {
		ai = NoAI{}
	}
	return &Estimator{
		ai:     ai,
		logger: logger.With().Str("component", "estimator").Logger(),
		Now:    time.Now,
	}
}

// AIHealthy reports whether the AI collaborator answers.
func (e *Estimator) AIHealthy(ctx context.Context) bool {
	return e.ai.CheckHealth(ctx)
}

// Estimate returns the first estimate that passes validation.
func (e *Estimator) Estimate(ctx context.Context, query market.ProductQuery, history []market.HistoricalPoint) (market.EstimatedPrice, error) {
	now := e.Now()
	mctx := BuildContext(query, history, now)

	type tier struct {
		method string
		run    func() (market.EstimatedPrice, error)
	}

	var tiers []tier
	if len(history) > 0 {
		tiers = []tier{
			{market.MethodAI, func() (market.EstimatedPrice, error) {
				return e.ai.EstimatePrice(ctx, query, history, mctx)
			}},
			{market.MethodStatistical, func() (market.EstimatedPrice, error) {
				return Statistical(history, now), nil
			}},
		}
	} else {
		tiers = []tier{
			{market.MethodAICategory, func() (market.EstimatedPrice, error) {
				return e.ai.EstimatePrice(ctx, query, []market.HistoricalPoint{}, mctx)
			}},
		}
	}
	tiers = append(tiers, tier{market.MethodCategoryBaseline, func() (market.EstimatedPrice, error) {
		return Baseline(query.Category, now), nil
	}})

	for _, t := range tiers {
		est, err := t.run()
		if err != nil {
			e.logger.Debug().Err(err).Str("method", t.method).Msg("Estimation tier failed")
			continue
		}

		est.EstimationMethod = t.method
		est.Source = market.SourceEstimated
		if est.LastUpdated.IsZero() {
			est.LastUpdated = now
		}
		if est.HistoricalBasis == nil {
			est.HistoricalBasis = []market.HistoricalPoint{}
		}

		if err := validate.PriceData(est.PriceInfo, now); err != nil {
			e.logger.Warn().Err(err).Str("method", t.method).Msg("Estimation tier produced invalid price")
			continue
		}

		estimationsTotal.WithLabelValues(t.method).Inc()
		return est, nil
	}

	return market.EstimatedPrice{}, fmt.Errorf("%w for %q in %q", market.ErrEstimationExhausted, query.Name, query.Location)
}

// Statistical estimates from a non-empty series: the series average scaled by
// the recent trend multiplier, within the observed range widened by 10%.
func Statistical(history []market.HistoricalPoint, now time.Time) market.EstimatedPrice {
	prices := Prices(history)
	average := Mean(prices)
	current := average * TrendMultiplier(history)

	lo, hi := prices[0], prices[0]
	for _, p := range prices[1:] {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	minimum := math.Min(lo*0.9, current)
	maximum := math.Max(hi*1.1, current)

	return market.EstimatedPrice{
		PriceInfo: market.PriceInfo{
			Current:     current,
			Minimum:     minimum,
			Maximum:     maximum,
			Average:     average,
			Confidence:  StatisticalConfidence(len(history)),
			Source:      market.SourceEstimated,
			LastUpdated: now,
		},
		EstimationMethod: market.MethodStatistical,
		HistoricalBasis:  history,
	}
}

// StatisticalConfidence scales with data volume, capped at StatisticalMaxConfidence.
func StatisticalConfidence(points int) float64 {
	ratio := math.Min(1, float64(points)/FullHistoryPoints)
	return StatisticalMaxConfidence * ratio
}

// Baseline returns the fixed category price with low confidence.
func Baseline(category string, now time.Time) market.EstimatedPrice {
	price := BaselinePrice(category)
	return market.EstimatedPrice{
		PriceInfo: market.PriceInfo{
			Current:     price,
			Minimum:     price * (1 - BaselineSpread),
			Maximum:     price * (1 + BaselineSpread),
			Average:     price,
			Confidence:  BaselineConfidence,
			Source:      market.SourceEstimated,
			LastUpdated: now,
		},
		EstimationMethod: market.MethodCategoryBaseline,
		HistoricalBasis:  []market.HistoricalPoint{},
	}
}

// Factors lists the externally detected market factors for a series.
func Factors(category string, month time.Month, history market.PriceHistory) []string {
	factors := []string{}
	if NormalizeCategory(category) == "vegetables" && IsMonsoon(month) {
		factors = append(factors, FactorMonsoon)
	}
	if history.Volatility > HighVolatility {
		factors = append(factors, FactorHighVolatility)
	}
	switch history.Trend {
	case market.TrendRising:
		factors = append(factors, FactorRisingTrend)
	case market.TrendFalling:
		factors = append(factors, FactorFallingTrend)
	}
	return factors
}

// SentimentConfidence is 0.5 plus a data-volume bonus of up to 0.3 plus a
// calmness bonus of up to 0.2, capped at 1.
func SentimentConfidence(points int, volatility float64) float64 {
	c := 0.5 + math.Min(float64(points)/FullHistoryPoints, 0.3) + math.Max(HighVolatility-volatility, 0)
	return math.Min(c, 1.0)
}

// StatisticalSentiment derives the mood from trend and volatility alone.
func StatisticalSentiment(query market.ProductQuery, history market.PriceHistory, factors []string, now time.Time) market.MarketSentiment {
	sentiment := market.SentimentNeutral
	switch {
	case history.Volatility > HighVolatility:
		// Too uncertain to call.
	case history.Trend == market.TrendRising && history.Volatility < LowVolatility:
		sentiment = market.SentimentBullish
	case history.Trend == market.TrendFalling && history.Volatility < LowVolatility:
		sentiment = market.SentimentBearish
	}

	return market.MarketSentiment{
		Product:      query.Name,
		Location:     query.Location,
		Sentiment:    sentiment,
		Confidence:   SentimentConfidence(len(history.Points), history.Volatility),
		Factors:      factors,
		LastAnalyzed: now,
	}
}

// Sentiment asks the AI collaborator and falls back to StatisticalSentiment.
func (e *Estimator) Sentiment(ctx context.Context, query market.ProductQuery, history market.PriceHistory) market.MarketSentiment {
	now := e.Now()
	factors := Factors(query.Category, now.Month(), history)

	s, err := e.ai.GenerateSentiment(ctx, query, history, factors)
	if err == nil && validSentiment(s) {
		if s.Product == "" {
			s.Product = query.Name
		}
		if s.Location == "" {
			s.Location = query.Location
		}
		if s.Factors == nil {
			s.Factors = factors
		}
		s.LastAnalyzed = now
		return s
	}
	if err != nil {
		e.logger.Debug().Err(err).Msg("AI sentiment failed, using statistical rules")
	} else {
		e.logger.Warn().Str("sentiment", string(s.Sentiment)).Float64("confidence", s.Confidence).Msg("AI sentiment rejected")
	}

	s = StatisticalSentiment(query, history, factors, now)
	s.Confidence = e.confidence(ctx, query, history, s.Confidence)
	return s
}

// confidence prefers the AI score for a rules-based sentiment and keeps
// fallback when the AI fails or answers outside [0, 1].
func (e *Estimator) confidence(ctx context.Context, query market.ProductQuery, history market.PriceHistory, fallback float64) float64 {
	score, err := e.ai.ConfidenceScore(ctx, query, history)
	if err != nil {
		e.logger.Debug().Err(err).Msg("AI confidence failed, using statistical score")
		return fallback
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		e.logger.Warn().Float64("confidence", score).Msg("AI confidence rejected")
		return fallback
	}
	return score
}

func validSentiment(s market.MarketSentiment) bool {
	switch s.Sentiment {
	case market.SentimentBullish, market.SentimentBearish, market.SentimentNeutral:
	default:
		return false
	}
	return !math.IsNaN(s.Confidence) && s.Confidence >= 0 && s.Confidence <= 1
}
