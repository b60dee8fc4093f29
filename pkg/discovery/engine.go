// Package discovery is the price discovery façade: current prices, history,
// estimates and sentiment for a product query.
//
// Only validation errors and estimation exhaustion reach callers. Source and
// cache failures are absorbed by the fallback read path and show up as lower
// confidence instead.
package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/estimator"
	"github.com/Sternrassler/mandi-prices/pkg/fallback"
	"github.com/Sternrassler/mandi-prices/pkg/localcache"
	"github.com/Sternrassler/mandi-prices/pkg/market"
	"github.com/Sternrassler/mandi-prices/pkg/source"
	"github.com/Sternrassler/mandi-prices/pkg/validate"
	"github.com/rs/zerolog"
)

// Engine defaults.
const (
	EstimateDays  = 30
	SentimentDays = 30

	VerifiedConfidence   = 0.95
	UnverifiedConfidence = 0.75
	OfficialSpread       = 0.05

	// EstimatePenalty scales confidence when an official price had to be estimated.
	EstimatePenalty = 0.8
)

// Reader is the read path the engine sits on. *fallback.Orchestrator satisfies it.
type Reader interface {
	CurrentPrices(ctx context.Context, location string, date time.Time) ([]market.RawPriceRecord, fallback.Outcome)
	Historical(ctx context.Context, product, location string, days int) ([]market.HistoricalPoint, fallback.Outcome)
	Locations(ctx context.Context) ([]string, fallback.Outcome)
	Products(ctx context.Context) ([]string, fallback.Outcome)
	InvalidatePrices(ctx context.Context, location string, date time.Time)
}

var _ Reader = (*fallback.Orchestrator)(nil)

// Config configures the engine.
type Config struct {
	// LocalTTL is the lifetime of memoized current prices.
	LocalTTL time.Duration

	// LocalMaxEntries bounds the memoized current prices.
	LocalMaxEntries int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		LocalTTL:        localcache.DefaultTTL,
		LocalMaxEntries: 10000,
	}
}

// queryKey is the memoization signature of a current-price query.
type queryKey struct {
	name     string
	category string
	location string
}

func keyOf(q market.ProductQuery) queryKey {
	return queryKey{
		name:     market.NormalizeID(q.Name),
		category: market.NormalizeID(q.Category),
		location: market.NormalizeID(q.Location),
	}
}

// Engine answers price queries.
type Engine struct {
	reader    Reader
	estimator *estimator.Estimator
	local     *localcache.Cache[queryKey, market.PriceInfo]
	logger    zerolog.Logger

	// Now is the clock used for freshness and timestamps.
	Now func() time.Time
}

// New creates an engine. Its dependencies are built once at startup and
// passed in.
func New(reader Reader, est *estimator.Estimator, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = localcache.DefaultTTL
	}

	e := &Engine{
		reader:    reader,
		estimator: est,
		logger:    logger.With().Str("component", "discovery").Logger(),
		Now:       time.Now,
	}
	e.local = localcache.New[queryKey, market.PriceInfo](localcache.Config{
		TTL:             cfg.LocalTTL,
		MaxEntries:      cfg.LocalMaxEntries,
		CleanupInterval: cfg.LocalTTL,
		Now:             func() time.Time { return e.Now() },
	})
	return e
}

// Close releases the engine's background resources.
func (e *Engine) Close() {
	e.local.Close()
}

// GetCurrentPrice returns the price for a query: the matching official record
// when it is fresh and verified, otherwise an estimate with reduced confidence.
func (e *Engine) GetCurrentPrice(ctx context.Context, q market.ProductQuery) (market.PriceInfo, error) {
	if err := validate.Query(q); err != nil {
		return market.PriceInfo{}, err
	}

	key := keyOf(q)
	if info, ok := e.local.Get(key); ok {
		return info, nil
	}

	now := e.Now()
	records, outcome := e.reader.CurrentPrices(ctx, q.Location, now)

	if record, ok := MatchRecord(records, q); ok && source.ValidateDataFreshness(record, now) {
		info, err := validate.Format(OfficialPrice(record))
		if err == nil {
			err = validate.PriceData(info, now)
		}
		if err == nil {
			e.local.Set(key, info)
			return info, nil
		}
		e.logger.Warn().Err(err).
			Str("product", record.Product).
			Str("location", record.Location).
			Msg("Official record failed data quality checks, estimating instead")
	}

	e.logger.Debug().
		Str("product", q.Name).
		Str("location", q.Location).
		Str("outcome", string(outcome)).
		Msg("No fresh official price, estimating")

	est, err := e.EstimatePrice(ctx, q)
	if err != nil {
		return market.PriceInfo{}, err
	}

	info := est.PriceInfo
	info.Confidence *= EstimatePenalty
	if info, err = validate.Format(info); err != nil {
		return market.PriceInfo{}, err
	}

	e.local.Set(key, info)
	return info, nil
}

// OfficialPrice converts a provider record into a PriceInfo.
func OfficialPrice(record market.RawPriceRecord) market.PriceInfo {
	confidence := UnverifiedConfidence
	if record.Verified {
		confidence = VerifiedConfidence
	}
	return market.PriceInfo{
		Current:     record.Price,
		Minimum:     record.Price * (1 - OfficialSpread),
		Maximum:     record.Price * (1 + OfficialSpread),
		Average:     record.Price,
		Confidence:  confidence,
		Source:      market.SourceOfficial,
		LastUpdated: record.Date,
	}
}

// EstimatePrice estimates from the last 30 days of history.
func (e *Engine) EstimatePrice(ctx context.Context, q market.ProductQuery) (market.EstimatedPrice, error) {
	if err := validate.Query(q); err != nil {
		return market.EstimatedPrice{}, err
	}

	points, outcome := e.reader.Historical(ctx, q.Name, q.Location, EstimateDays)
	est, err := e.estimator.Estimate(ctx, q, points)
	if err != nil {
		e.logger.Error().Err(err).
			Str("product", q.Name).
			Str("location", q.Location).
			Str("outcome", string(outcome)).
			Msg("Estimation exhausted")
		return market.EstimatedPrice{}, err
	}

	if est.PriceInfo, err = validate.Format(est.PriceInfo); err != nil {
		return market.EstimatedPrice{}, errors.Join(market.ErrEstimationExhausted, err)
	}
	return est, nil
}

// GetPriceHistory returns the analyzed series for the last days days.
func (e *Engine) GetPriceHistory(ctx context.Context, q market.ProductQuery, days int) (market.PriceHistory, error) {
	if err := validate.Query(q); err != nil {
		return market.PriceHistory{}, err
	}
	if err := validate.Days(days); err != nil {
		return market.PriceHistory{}, err
	}

	points, _ := e.reader.Historical(ctx, q.Name, q.Location, days)
	return estimator.Analyze(market.NormalizeID(q.Name), market.NormalizeID(q.Location), points), nil
}

// GetMarketSentiment judges the market mood from the last 30 days.
func (e *Engine) GetMarketSentiment(ctx context.Context, q market.ProductQuery) (market.MarketSentiment, error) {
	history, err := e.GetPriceHistory(ctx, q, SentimentDays)
	if err != nil {
		return market.MarketSentiment{}, err
	}

	s := e.estimator.Sentiment(ctx, q, history)
	if s.Confidence, err = validate.FormatConfidence(s.Confidence); err != nil {
		return market.MarketSentiment{}, errors.Join(market.ErrEstimationExhausted, err)
	}
	return s, nil
}

// ValidatePriceData reports whether info satisfies the PriceInfo invariants now.
func (e *Engine) ValidatePriceData(info market.PriceInfo) bool {
	return validate.ValidPriceData(info, e.Now())
}

// Locations returns the known markets.
func (e *Engine) Locations(ctx context.Context) []string {
	names, _ := e.reader.Locations(ctx)
	return names
}

// Products returns the known commodities.
func (e *Engine) Products(ctx context.Context) []string {
	names, _ := e.reader.Products(ctx)
	return names
}

// Invalidate drops today's cached prices for a location along with every
// memoized query for it.
func (e *Engine) Invalidate(ctx context.Context, location string) int {
	e.reader.InvalidatePrices(ctx, location, e.Now())

	loc := market.NormalizeID(location)
	return e.local.DeleteFunc(func(k queryKey) bool { return k.location == loc })
}
