package cache

import (
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/market"
)

// Kind is a class of cached data with its own key prefix and TTL.
type Kind string

const (
	KindPrices     Kind = "prices"
	KindHistorical Kind = "historical"
	KindLocations  Kind = "locations"
	KindProducts   Kind = "products"
	KindHealth     Kind = "health"
)

// Kinds lists every kind the store manages.
func Kinds() []Kind {
	return []Kind{KindPrices, KindHistorical, KindLocations, KindProducts, KindHealth}
}

// CacheKey identifies a cached value.
type CacheKey struct {
	Kind  Kind
	Parts []string
}

// String generates a deterministic cache key string.
// Format: kind:part1:part2, with each part lower-cased and whitespace runs
// replaced by a single "-".
//
// Example:
//
//	historical:tur-dal:new-delhi:30
func (k CacheKey) String() string {
	parts := make([]string, 0, len(k.Parts)+1)
	parts = append(parts, string(k.Kind))
	for _, p := range k.Parts {
		parts = append(parts, market.NormalizeID(p))
	}
	return strings.Join(parts, ":")
}

// PricesKey is the key for a location's current prices on a date.
func PricesKey(location string, date time.Time) CacheKey {
	return CacheKey{Kind: KindPrices, Parts: []string{location, date.Format(market.DateLayout)}}
}

// HistoricalKey is the key for a product series at a location.
func HistoricalKey(product, location string, days int) CacheKey {
	return CacheKey{Kind: KindHistorical, Parts: []string{product, location, strconv.Itoa(days)}}
}

// LocationsKey is the key for the location catalog.
func LocationsKey() CacheKey {
	return CacheKey{Kind: KindLocations, Parts: []string{"all"}}
}

// ProductsKey is the key for the product catalog.
func ProductsKey() CacheKey {
	return CacheKey{Kind: KindProducts, Parts: []string{"all"}}
}

// HealthKey is the key for the provider health status.
func HealthKey() CacheKey {
	return CacheKey{Kind: KindHealth, Parts: []string{"status"}}
}
