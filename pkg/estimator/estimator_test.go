package estimator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/market"
	"github.com/Sternrassler/mandi-prices/pkg/validate"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAI returns canned answers and records what it was asked.
type fakeAI struct {
	estimate     market.EstimatedPrice
	estimateErr  error
	sentiment    market.MarketSentiment
	sentimentErr error
	confidence   float64

	lastHistory []market.HistoricalPoint
	lastContext MarketContext
	lastFactors []string
}

func (f *fakeAI) EstimatePrice(_ context.Context, _ market.ProductQuery, history []market.HistoricalPoint, mctx MarketContext) (market.EstimatedPrice, error) {
	f.lastHistory = history
	f.lastContext = mctx
	return f.estimate, f.estimateErr
}

func (f *fakeAI) GenerateSentiment(_ context.Context, _ market.ProductQuery, _ market.PriceHistory, factors []string) (market.MarketSentiment, error) {
	f.lastFactors = factors
	return f.sentiment, f.sentimentErr
}

// ConfidenceScore answers only when a score is set.
func (f *fakeAI) ConfidenceScore(context.Context, market.ProductQuery, market.PriceHistory) (float64, error) {
	if f.confidence == 0 {
		return 0, ErrAIUnavailable
	}
	return f.confidence, nil
}

func (f *fakeAI) CheckHealth(context.Context) bool { return f.estimateErr == nil }

var testNow = time.Date(2026, 7, 15, 10, 0, 0, 0, time.UTC)

func testQuery() market.ProductQuery {
	return market.ProductQuery{Name: "tomato", Category: "vegetables", Location: "delhi", Quantity: 10, Unit: "kg"}
}

func newTestEstimator(ai AI) *Estimator {
	e := New(ai, zerolog.Nop())
	e.Now = func() time.Time { return testNow }
	return e
}

func TestEstimate_EmptyHistoryUsesBaseline(t *testing.T) {
	e := newTestEstimator(nil)

	est, err := e.Estimate(context.Background(), testQuery(), nil)
	require.NoError(t, err)

	assert.Equal(t, market.MethodCategoryBaseline, est.EstimationMethod)
	assert.Equal(t, 0.3, est.Confidence)
	assert.NotNil(t, est.HistoricalBasis)
	assert.Empty(t, est.HistoricalBasis)
	assert.Equal(t, 30.0, est.Current)
	assert.InDelta(t, 24.0, est.Minimum, 1e-9)
	assert.InDelta(t, 36.0, est.Maximum, 1e-9)
	assert.Equal(t, market.SourceEstimated, est.Source)
	assert.Equal(t, testNow, est.LastUpdated)
}

func TestEstimate_HistoryWithoutAIUsesStatistical(t *testing.T) {
	e := newTestEstimator(NoAI{})
	history := series(20, 22, 24, 26, 28, 30, 32, 34)

	est, err := e.Estimate(context.Background(), testQuery(), history)
	require.NoError(t, err)

	assert.Equal(t, market.MethodStatistical, est.EstimationMethod)
	assert.Equal(t, history, est.HistoricalBasis)
	assert.InDelta(t, 0.8*8/30, est.Confidence, 1e-9)
	assert.LessOrEqual(t, est.Minimum, est.Current)
	assert.LessOrEqual(t, est.Current, est.Maximum)
	assert.NoError(t, validate.PriceData(est.PriceInfo, testNow))
}

func TestEstimate_AIPreferred(t *testing.T) {
	ai := &fakeAI{estimate: market.EstimatedPrice{PriceInfo: market.PriceInfo{
		Current: 28, Minimum: 25, Maximum: 31, Average: 27, Confidence: 0.7,
	}}}
	e := newTestEstimator(ai)
	history := series(25, 26, 27)

	est, err := e.Estimate(context.Background(), testQuery(), history)
	require.NoError(t, err)
	assert.Equal(t, market.MethodAI, est.EstimationMethod)
	assert.Equal(t, 28.0, est.Current)
	assert.Equal(t, market.SourceEstimated, est.Source)
	assert.Equal(t, SeasonOff, ai.lastContext.Season)
	assert.Equal(t, history, ai.lastHistory)
}

func TestEstimate_AICategoryWithoutHistory(t *testing.T) {
	ai := &fakeAI{estimate: market.EstimatedPrice{PriceInfo: market.PriceInfo{
		Current: 32, Minimum: 30, Maximum: 35, Average: 32, Confidence: 0.5,
	}}}
	e := newTestEstimator(ai)

	est, err := e.Estimate(context.Background(), testQuery(), []market.HistoricalPoint{})
	require.NoError(t, err)
	assert.Equal(t, market.MethodAICategory, est.EstimationMethod)
	assert.Empty(t, ai.lastHistory)
}

func TestEstimate_InvalidAIFallsThrough(t *testing.T) {
	ai := &fakeAI{estimate: market.EstimatedPrice{PriceInfo: market.PriceInfo{
		Current: 28, Minimum: 40, Maximum: 20, Average: 28, Confidence: 0.9,
	}}}
	e := newTestEstimator(ai)

	est, err := e.Estimate(context.Background(), testQuery(), series(25, 26))
	require.NoError(t, err)
	assert.Equal(t, market.MethodStatistical, est.EstimationMethod)

	est, err = e.Estimate(context.Background(), testQuery(), nil)
	require.NoError(t, err)
	assert.Equal(t, market.MethodCategoryBaseline, est.EstimationMethod)
}

func TestStatistical(t *testing.T) {
	history := series(20, 30)
	est := Statistical(history, testNow)

	// avg 25, multiplier 30/20.
	assert.InDelta(t, 25.0, est.Average, 1e-9)
	assert.InDelta(t, 37.5, est.Current, 1e-9)
	assert.InDelta(t, 18.0, est.Minimum, 1e-9)
	assert.InDelta(t, 37.5, est.Maximum, 1e-9, "max widens to contain current")
}

func TestStatisticalConfidence(t *testing.T) {
	assert.InDelta(t, 0.8/30, StatisticalConfidence(1), 1e-12)
	assert.InDelta(t, 0.4, StatisticalConfidence(15), 1e-12)
	assert.Equal(t, 0.8, StatisticalConfidence(30))
	assert.Equal(t, 0.8, StatisticalConfidence(90))
}

func TestBaselinePrice(t *testing.T) {
	tests := map[string]float64{
		"vegetables": 30, "Fruits": 60, "grain": 35, "pulses": 90,
		"spices": 200, "dairy": 55, "oilseeds": 70, "flowers": 50,
	}
	for category, want := range tests {
		assert.Equal(t, want, BaselinePrice(category), category)
	}
}

func TestStatisticalSentiment(t *testing.T) {
	tests := []struct {
		name       string
		trend      market.Trend
		volatility float64
		want       market.Sentiment
	}{
		{name: "calm rise", trend: market.TrendRising, volatility: 0.05, want: market.SentimentBullish},
		{name: "calm fall", trend: market.TrendFalling, volatility: 0.05, want: market.SentimentBearish},
		{name: "noisy rise", trend: market.TrendRising, volatility: 0.25, want: market.SentimentNeutral},
		{name: "moderate rise", trend: market.TrendRising, volatility: 0.15, want: market.SentimentNeutral},
		{name: "stable", trend: market.TrendStable, volatility: 0.01, want: market.SentimentNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := market.PriceHistory{Trend: tt.trend, Volatility: tt.volatility, Points: series(1, 2, 3)}
			s := StatisticalSentiment(testQuery(), h, []string{}, testNow)
			assert.Equal(t, tt.want, s.Sentiment)
			assert.Equal(t, "tomato", s.Product)
			assert.Equal(t, testNow, s.LastAnalyzed)
		})
	}
}

func TestSentimentConfidence(t *testing.T) {
	// 0.5 + 0.1 + 0.15
	assert.InDelta(t, 0.75, SentimentConfidence(3, 0.05), 1e-12)
	// 0.5 + 0.3 + 0
	assert.InDelta(t, 0.8, SentimentConfidence(30, 0.4), 1e-12)
	// 0.5 + 0.3 + 0.2
	assert.InDelta(t, 1.0, SentimentConfidence(60, 0), 1e-12)
}

func TestFactors(t *testing.T) {
	h := market.PriceHistory{Trend: market.TrendRising, Volatility: 0.25}
	assert.Equal(t, []string{FactorMonsoon, FactorHighVolatility, FactorRisingTrend}, Factors("vegetables", time.July, h))

	h = market.PriceHistory{Trend: market.TrendFalling, Volatility: 0.05}
	assert.Equal(t, []string{FactorFallingTrend}, Factors("fruits", time.July, h))

	assert.Empty(t, Factors("grains", time.January, market.PriceHistory{Trend: market.TrendStable}))
}

func TestSentiment_AIAndFallback(t *testing.T) {
	history := Analyze("tomato", "delhi", series(20, 22, 24, 26, 28, 30, 32, 34))

	ai := &fakeAI{sentiment: market.MarketSentiment{Sentiment: market.SentimentBullish, Confidence: 0.9}}
	s := newTestEstimator(ai).Sentiment(context.Background(), testQuery(), history)
	assert.Equal(t, market.SentimentBullish, s.Sentiment)
	assert.Equal(t, 0.9, s.Confidence)
	assert.Equal(t, "delhi", s.Location)
	assert.Contains(t, ai.lastFactors, FactorMonsoon)
	assert.Contains(t, ai.lastFactors, FactorRisingTrend)

	ai = &fakeAI{sentiment: market.MarketSentiment{Sentiment: "euphoric", Confidence: 2}}
	s = newTestEstimator(ai).Sentiment(context.Background(), testQuery(), history)
	assert.Equal(t, SentimentConfidence(8, history.Volatility), s.Confidence)

	ai = &fakeAI{sentimentErr: errors.New("timeout")}
	s = newTestEstimator(ai).Sentiment(context.Background(), testQuery(), history)
	assert.Contains(t, []market.Sentiment{market.SentimentBullish, market.SentimentNeutral}, s.Sentiment)
	assert.GreaterOrEqual(t, s.Confidence, 0.0)
	assert.LessOrEqual(t, s.Confidence, 1.0)
}

func TestSentiment_FallbackConfidence(t *testing.T) {
	history := Analyze("tomato", "delhi", series(20, 22, 24, 26, 28, 30, 32, 34))
	statistical := SentimentConfidence(8, history.Volatility)

	tests := []struct {
		name       string
		confidence float64
		want       float64
	}{
		{name: "ai score used", confidence: 0.42, want: 0.42},
		{name: "ai unavailable", confidence: 0, want: statistical},
		{name: "ai score out of range", confidence: 1.7, want: statistical},
		{name: "ai score negative", confidence: -0.2, want: statistical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ai := &fakeAI{sentimentErr: errors.New("timeout"), confidence: tt.confidence}
			s := newTestEstimator(ai).Sentiment(context.Background(), testQuery(), history)
			assert.Equal(t, tt.want, s.Confidence)
		})
	}

	s := newTestEstimator(nil).Sentiment(context.Background(), testQuery(), history)
	assert.Equal(t, statistical, s.Confidence, "no AI configured")
}
