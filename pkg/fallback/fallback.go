// Package fallback composes the price cache and the market data source into a
// single read path per data kind.
//
// Every read runs the same tiers:
//
//	CacheLookup -> fresh hit?           -> CacheFresh
//	            -> SourceFetch ok?      -> write-through, FetchSuccess
//	            -> stale entry cached?  -> FallbackStaleCache
//	            -> empty or default     -> FallbackEmpty
//
// The source is never called when a fresh entry exists, and the read never
// fails: the worst case is the kind's empty or default value.
//
// Identical concurrent reads share one source fetch. The shared fetch is
// detached from the callers' cancellation and bounded by FetchTimeout, so a
// caller that gives up does not fail the fetch for the others.
package fallback

import (
	"context"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/cache"
	"github.com/Sternrassler/mandi-prices/pkg/market"
	"github.com/Sternrassler/mandi-prices/pkg/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Outcome is the tier that produced a read's value.
type Outcome string

const (
	OutcomeCacheFresh         Outcome = "cache_fresh"
	OutcomeCacheStaleOrMiss   Outcome = "cache_stale_or_miss"
	OutcomeFetchSuccess       Outcome = "fetch_success"
	OutcomeFallbackStaleCache Outcome = "fallback_stale_cache"
	OutcomeFallbackEmpty      Outcome = "fallback_empty"
)

// Fallback reports whether the value came from a degraded tier.
func (o Outcome) Fallback() bool {
	return o == OutcomeFallbackStaleCache || o == OutcomeFallbackEmpty
}

var readOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mandi_fallback_outcomes_total",
	Help: "Read path outcomes by data kind",
}, []string{"kind", "outcome"})

// Market hours and the matching staleness thresholds for current prices.
const (
	MarketOpenHour    = 6
	MarketCloseHour   = 18
	MarketHoursMaxAge = 6 * time.Hour
	OffHoursMaxAge    = 12 * time.Hour
)

// MaxPriceAge returns how old the newest price record may be at t.
func MaxPriceAge(t time.Time) time.Duration {
	if h := t.Hour(); h >= MarketOpenHour && h < MarketCloseHour {
		return MarketHoursMaxAge
	}
	return OffHoursMaxAge
}

// DefaultFetchTimeout bounds a shared source fetch when FetchTimeout is unset.
const DefaultFetchTimeout = 45 * time.Second

// Cache is the typed store the orchestrator reads through.
// *cache.Store satisfies it.
//
// Typed getters return only unexpired entries. GetStale ignores expiry and
// backs the stale fallback tier.
type Cache interface {
	GetPrices(ctx context.Context, location string, date time.Time) ([]market.RawPriceRecord, bool)
	SetPrices(ctx context.Context, location string, date time.Time, records []market.RawPriceRecord)
	DeletePrices(ctx context.Context, location string, date time.Time)

	GetHistorical(ctx context.Context, product, location string, days int) ([]market.HistoricalPoint, bool)
	SetHistorical(ctx context.Context, product, location string, days int, points []market.HistoricalPoint)

	GetLocations(ctx context.Context) ([]string, bool)
	SetLocations(ctx context.Context, names []string)
	GetProducts(ctx context.Context) ([]string, bool)
	SetProducts(ctx context.Context, names []string)

	GetHealth(ctx context.Context) (market.HealthStatus, bool)
	SetHealth(ctx context.Context, status market.HealthStatus)

	GetStale(ctx context.Context, key cache.CacheKey, dst any) bool
}

var _ Cache = (*cache.Store)(nil)

// Orchestrator runs the tiered read path.
type Orchestrator struct {
	source source.MarketDataSource
	store  Cache
	logger zerolog.Logger
	group  singleflight.Group

	// Now is the clock used for freshness checks.
	Now func() time.Time

	// FetchTimeout bounds a shared source fetch independently of any caller.
	FetchTimeout time.Duration
}

// New creates an orchestrator.
func New(src source.MarketDataSource, c Cache, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		source:       src,
		store:        c,
		logger:       logger.With().Str("component", "fallback").Logger(),
		Now:          time.Now,
		FetchTimeout: DefaultFetchTimeout,
	}
}

// read describes one kind's tiers.
type read[T any] struct {
	kind   string
	key    cache.CacheKey
	lookup func(ctx context.Context) (T, bool)
	fresh  func(v T) bool
	fetch  func(ctx context.Context) (T, error)
	usable func(v T) bool
	store  func(ctx context.Context, v T)
	empty  func() T
}

func run[T any](ctx context.Context, o *Orchestrator, r read[T]) (T, Outcome) {
	key := r.key.String()

	if cached, ok := r.lookup(ctx); ok && r.fresh(cached) {
		return r.finish(o, cached, OutcomeCacheFresh)
	}
	readOutcomes.WithLabelValues(r.kind, string(OutcomeCacheStaleOrMiss)).Inc()

	fetched, shared, err := o.fetchShared(ctx, key, func(ctx context.Context) (any, error) {
		value, err := r.fetch(ctx)
		if err == nil && r.usable(value) {
			r.store(ctx, value)
		}
		return value, err
	})
	value, _ := fetched.(T)

	if err == nil && r.usable(value) {
		if shared {
			o.logger.Debug().Str("kind", r.kind).Str("key", key).Msg("Shared in-flight fetch")
		}
		return r.finish(o, value, OutcomeFetchSuccess)
	}

	var stale T
	if o.store.GetStale(ctx, r.key, &stale) && r.usable(stale) {
		o.logger.Warn().
			Err(err).
			Str("kind", r.kind).
			Str("key", key).
			Str("outcome", string(OutcomeFallbackStaleCache)).
			Msg("Source failed, serving stale cache entry")
		return r.finish(o, stale, OutcomeFallbackStaleCache)
	}

	o.logger.Warn().
		Err(err).
		Str("kind", r.kind).
		Str("key", key).
		Str("outcome", string(OutcomeFallbackEmpty)).
		Msg("Source failed and no cache entry, serving empty result")
	return r.finish(o, r.empty(), OutcomeFallbackEmpty)
}

// fetchShared runs fn once per key across concurrent callers. fn gets a
// context that keeps the first caller's values but not its cancellation.
// Each caller stops waiting when its own ctx ends.
func (o *Orchestrator) fetchShared(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, bool, error) {
	timeout := o.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	ch := o.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return fn(fetchCtx)
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		o.logger.Debug().Err(ctx.Err()).Str("key", key).Msg("Caller stopped waiting for shared fetch")
		return nil, false, ctx.Err()
	}
}

func (r read[T]) finish(o *Orchestrator, v T, outcome Outcome) (T, Outcome) {
	readOutcomes.WithLabelValues(r.kind, string(outcome)).Inc()
	return v, outcome
}

// CurrentPrices returns the records for a location on a date.
func (o *Orchestrator) CurrentPrices(ctx context.Context, location string, date time.Time) ([]market.RawPriceRecord, Outcome) {
	return run(ctx, o, read[[]market.RawPriceRecord]{
		kind: "prices",
		key:  cache.PricesKey(location, date),
		lookup: func(ctx context.Context) ([]market.RawPriceRecord, bool) {
			return o.store.GetPrices(ctx, location, date)
		},
		fresh: func(records []market.RawPriceRecord) bool {
			return o.pricesFresh(records)
		},
		fetch: func(ctx context.Context) ([]market.RawPriceRecord, error) {
			return o.source.FetchCurrentPrices(ctx, location, date)
		},
		usable: func(records []market.RawPriceRecord) bool { return len(records) > 0 },
		store: func(ctx context.Context, records []market.RawPriceRecord) {
			o.store.SetPrices(ctx, location, date, records)
		},
		empty: func() []market.RawPriceRecord { return []market.RawPriceRecord{} },
	})
}

// pricesFresh judges a cached batch by its newest record date.
func (o *Orchestrator) pricesFresh(records []market.RawPriceRecord) bool {
	if len(records) == 0 {
		return false
	}
	newest := records[0].Date
	for _, r := range records[1:] {
		if r.Date.After(newest) {
			newest = r.Date
		}
	}
	now := o.Now()
	return now.Sub(newest) <= MaxPriceAge(now)
}

// Historical returns a product's series at a location, oldest first.
func (o *Orchestrator) Historical(ctx context.Context, product, location string, days int) ([]market.HistoricalPoint, Outcome) {
	return run(ctx, o, read[[]market.HistoricalPoint]{
		kind: "historical",
		key:  cache.HistoricalKey(product, location, days),
		lookup: func(ctx context.Context) ([]market.HistoricalPoint, bool) {
			return o.store.GetHistorical(ctx, product, location, days)
		},
		fresh: func([]market.HistoricalPoint) bool { return true },
		fetch: func(ctx context.Context) ([]market.HistoricalPoint, error) {
			return o.source.FetchHistorical(ctx, product, location, days)
		},
		usable: func(points []market.HistoricalPoint) bool { return len(points) > 0 },
		store: func(ctx context.Context, points []market.HistoricalPoint) {
			o.store.SetHistorical(ctx, product, location, days, points)
		},
		empty: func() []market.HistoricalPoint { return []market.HistoricalPoint{} },
	})
}

// Locations returns the location catalog, or the default catalog.
func (o *Orchestrator) Locations(ctx context.Context) ([]string, Outcome) {
	return run(ctx, o, read[[]string]{
		kind:   "locations",
		key:    cache.LocationsKey(),
		lookup: o.store.GetLocations,
		fresh:  func([]string) bool { return true },
		fetch:  o.source.ListLocations,
		usable: func(names []string) bool { return len(names) > 0 },
		store:  o.store.SetLocations,
		empty:  source.DefaultLocations,
	})
}

// Products returns the product catalog, or the default catalog.
func (o *Orchestrator) Products(ctx context.Context) ([]string, Outcome) {
	return run(ctx, o, read[[]string]{
		kind:   "products",
		key:    cache.ProductsKey(),
		lookup: o.store.GetProducts,
		fresh:  func([]string) bool { return true },
		fetch:  o.source.ListProducts,
		usable: func(names []string) bool { return len(names) > 0 },
		store:  o.store.SetProducts,
		empty:  source.DefaultProducts,
	})
}

// Health returns the provider health, probing at most once per health TTL.
func (o *Orchestrator) Health(ctx context.Context) (market.HealthStatus, Outcome) {
	return run(ctx, o, read[market.HealthStatus]{
		kind:   "health",
		key:    cache.HealthKey(),
		lookup: o.store.GetHealth,
		fresh:  func(market.HealthStatus) bool { return true },
		fetch: func(ctx context.Context) (market.HealthStatus, error) {
			return market.HealthStatus{
				Healthy:   o.source.CheckHealth(ctx),
				Source:    o.source.Name(),
				CheckedAt: o.Now(),
			}, nil
		},
		usable: func(status market.HealthStatus) bool { return !status.CheckedAt.IsZero() },
		store:  o.store.SetHealth,
		empty: func() market.HealthStatus {
			return market.HealthStatus{Source: o.source.Name(), CheckedAt: o.Now()}
		},
	})
}

// InvalidatePrices drops the cached prices for a location on a date.
func (o *Orchestrator) InvalidatePrices(ctx context.Context, location string, date time.Time) {
	o.store.DeletePrices(ctx, location, date)
	o.logger.Info().Str("location", market.NormalizeID(location)).Str("date", date.Format(market.DateLayout)).Msg("Invalidated cached prices")
}

// Source returns the underlying market data source.
func (o *Orchestrator) Source() source.MarketDataSource {
	return o.source
}
