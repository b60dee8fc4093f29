package source

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/market"
)

// MockSource returns deterministic synthetic data for development and testing.
// Explicit Records/History override the generator; Fail simulates an outage.
type MockSource struct {
	mu sync.Mutex

	// Products generated for every location when Records has no entry.
	Products []string

	// Records overrides current prices per normalized location.
	Records map[string][]market.RawPriceRecord

	// History overrides series per "product|location" (normalized).
	History map[string][]market.HistoricalPoint

	// Fail makes every call behave like an unreachable provider.
	Fail bool

	// Now is the clock used to date generated data.
	Now func() time.Time

	calls int
}

// NewMockSource creates a generator-backed mock source.
func NewMockSource() *MockSource {
	return &MockSource{
		Products: DefaultProducts(),
		Records:  make(map[string][]market.RawPriceRecord),
		History:  make(map[string][]market.HistoricalPoint),
		Now:      time.Now,
	}
}

// Name returns the source name.
func (m *MockSource) Name() string { return "mock" }

// SetFail toggles the simulated outage.
func (m *MockSource) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail = fail
}

// SetRecords overrides current prices for a location.
func (m *MockSource) SetRecords(location string, records []market.RawPriceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records[market.NormalizeID(location)] = records
}

// SetHistory overrides the series for a product at a location.
func (m *MockSource) SetHistory(product, location string, points []market.HistoricalPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.History[historyKey(product, location)] = points
}

// Calls returns the number of fetch calls served so far.
func (m *MockSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockSource) begin() (bool, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	now := time.Now()
	if m.Now != nil {
		now = m.Now()
	}
	return m.Fail, now
}

func (m *MockSource) outage(op string) error {
	return fmt.Errorf("%w: mock %s failure", market.ErrSourceUnavailable, op)
}

// FetchCurrentPrices returns overridden or generated records for a location.
func (m *MockSource) FetchCurrentPrices(_ context.Context, location string, date time.Time) ([]market.RawPriceRecord, error) {
	fail, now := m.begin()
	if fail {
		return []market.RawPriceRecord{}, m.outage("current prices")
	}

	loc := market.NormalizeID(location)

	m.mu.Lock()
	defer m.mu.Unlock()

	if records, ok := m.Records[loc]; ok {
		return append([]market.RawPriceRecord(nil), records...), nil
	}

	stamp := now
	if !sameDay(date, now) {
		stamp = date
	}

	records := make([]market.RawPriceRecord, 0, len(m.Products))
	for _, product := range m.Products {
		records = append(records, market.RawPriceRecord{
			Product:   product,
			Location:  loc,
			Price:     roundCents(basePrice(product, loc)),
			Date:      stamp,
			SourceTag: "mock",
			Verified:  true,
		})
	}
	return records, nil
}

// FetchHistorical returns an overridden or generated daily series, oldest first.
func (m *MockSource) FetchHistorical(_ context.Context, product, location string, days int) ([]market.HistoricalPoint, error) {
	fail, now := m.begin()
	if fail {
		return []market.HistoricalPoint{}, m.outage("historical")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if points, ok := m.History[historyKey(product, location)]; ok {
		return append([]market.HistoricalPoint(nil), points...), nil
	}

	return generateSeries(product, market.NormalizeID(location), days, now), nil
}

// CheckHealth reports the simulated provider state.
func (m *MockSource) CheckHealth(_ context.Context) bool {
	fail, _ := m.begin()
	return !fail
}

// ListLocations returns the default locations.
func (m *MockSource) ListLocations(_ context.Context) ([]string, error) {
	fail, _ := m.begin()
	if fail {
		return DefaultLocations(), m.outage("locations")
	}
	return DefaultLocations(), nil
}

// ListProducts returns the configured products.
func (m *MockSource) ListProducts(_ context.Context) ([]string, error) {
	fail, _ := m.begin()
	if fail {
		return DefaultProducts(), m.outage("products")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Products...), nil
}

func generateSeries(product, location string, days int, now time.Time) []market.HistoricalPoint {
	if days <= 0 {
		return []market.HistoricalPoint{}
	}

	base := basePrice(product, location)
	points := make([]market.HistoricalPoint, days)
	for i := 0; i < days; i++ {
		// Gentle weekly oscillation around the base.
		p := base * (1 + 0.04*math.Sin(float64(i)*2*math.Pi/7))
		points[i] = market.HistoricalPoint{
			Date:     now.AddDate(0, 0, -(days - 1 - i)),
			Price:    roundCents(p),
			Volume:   float64(500 + (i*37)%250),
			Location: location,
		}
	}
	return points
}

// basePrice derives a stable price in [20, 120) from the product and location.
func basePrice(product, location string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(market.NormalizeID(product) + "|" + location))
	return 20 + float64(h.Sum32()%10000)/100
}

func historyKey(product, location string) string {
	return market.NormalizeID(product) + "|" + market.NormalizeID(location)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
