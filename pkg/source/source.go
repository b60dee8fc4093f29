// Package source fetches raw commodity prices from an external market data
// provider. Implementations are selected once at startup by configuration.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/market"
	"github.com/rs/zerolog"
)

// Kind selects a MarketDataSource implementation.
type Kind string

const (
	// KindHTTP talks to the provider's HTTP API.
	KindHTTP Kind = "http"

	// KindMock generates deterministic synthetic data.
	KindMock Kind = "mock"
)

const (
	// MaxRecordAge is the oldest a record may be and still count as fresh.
	MaxRecordAge = 24 * time.Hour

	// MaxClockSkew is how far ahead of now a record may be dated.
	MaxClockSkew = 5 * time.Minute
)

// MarketDataSource is the contract every price provider implements.
//
// FetchCurrentPrices and FetchHistorical return an empty slice together with
// an error wrapping market.ErrSourceUnavailable on persistent failure.
// ListLocations and ListProducts return the default catalog with the error.
type MarketDataSource interface {
	// Name returns the unique name of this source.
	Name() string

	FetchCurrentPrices(ctx context.Context, location string, date time.Time) ([]market.RawPriceRecord, error)
	FetchHistorical(ctx context.Context, product, location string, days int) ([]market.HistoricalPoint, error)
	CheckHealth(ctx context.Context) bool
	ListLocations(ctx context.Context) ([]string, error)
	ListProducts(ctx context.Context) ([]string, error)
}

// Config selects and configures a source.
type Config struct {
	Kind Kind
	HTTP HTTPConfig
}

// New builds the configured MarketDataSource.
func New(cfg Config, logger zerolog.Logger) (MarketDataSource, error) {
	switch cfg.Kind {
	case KindHTTP:
		return NewHTTPSource(cfg.HTTP, logger)
	case KindMock, "":
		return NewMockSource(), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q (supported: http, mock)", cfg.Kind)
	}
}

// ValidateDataFreshness reports whether a record is usable as an official price.
// It must be younger than 24h, verified and positively priced. Records dated
// beyond the clock skew allowance are rejected.
func ValidateDataFreshness(record market.RawPriceRecord, now time.Time) bool {
	if record.Date.IsZero() || record.Date.After(now.Add(MaxClockSkew)) {
		return false
	}
	return now.Sub(record.Date) < MaxRecordAge && record.Verified && record.Price > 0
}

// DefaultLocations is served when the provider catalog cannot be fetched.
func DefaultLocations() []string {
	return []string{
		"delhi", "mumbai", "kolkata", "chennai", "bangalore",
		"hyderabad", "pune", "ahmedabad", "jaipur", "lucknow",
	}
}

// DefaultProducts is served when the provider catalog cannot be fetched.
func DefaultProducts() []string {
	return []string{
		"tomato", "onion", "potato", "cabbage", "cauliflower",
		"apple", "banana", "mango",
		"rice", "wheat", "maize",
		"tur dal", "moong dal",
	}
}
