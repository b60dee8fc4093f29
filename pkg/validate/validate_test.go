package validate

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validQuery() market.ProductQuery {
	return market.ProductQuery{Name: "tomato", Category: "vegetables", Location: "delhi", Quantity: 10, Unit: "kg"}
}

func TestQuery(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(q *market.ProductQuery)
		wantField string
	}{
		{name: "valid", mutate: func(q *market.ProductQuery) {}},
		{name: "missing name", mutate: func(q *market.ProductQuery) { q.Name = "" }, wantField: "name"},
		{name: "blank location", mutate: func(q *market.ProductQuery) { q.Location = "   " }, wantField: "location"},
		{name: "long category", mutate: func(q *market.ProductQuery) { q.Category = strings.Repeat("x", 101) }, wantField: "category"},
		{name: "long unit", mutate: func(q *market.ProductQuery) { q.Unit = strings.Repeat("k", 21) }, wantField: "unit"},
		{name: "quantity too small", mutate: func(q *market.ProductQuery) { q.Quantity = 0 }, wantField: "quantity"},
		{name: "quantity too large", mutate: func(q *market.ProductQuery) { q.Quantity = 1_000_001 }, wantField: "quantity"},
		{name: "quantity lower bound", mutate: func(q *market.ProductQuery) { q.Quantity = 0.001 }},
		{name: "quantity upper bound", mutate: func(q *market.ProductQuery) { q.Quantity = 1_000_000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := validQuery()
			tt.mutate(&q)

			err := Query(q)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, market.ErrValidation))
			var ve *market.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestDays(t *testing.T) {
	for _, days := range []int{1, 30, 365} {
		assert.NoError(t, Days(days), "days=%d", days)
	}
	for _, days := range []int{0, -1, 366} {
		assert.ErrorIs(t, Days(days), market.ErrValidation, "days=%d", days)
	}
}

func TestPriceData(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	valid := market.PriceInfo{
		Current: 25, Minimum: 23.75, Maximum: 26.25, Average: 25,
		Confidence: 0.95, Source: market.SourceOfficial, LastUpdated: now.Add(-time.Hour),
	}

	tests := []struct {
		name   string
		mutate func(p *market.PriceInfo)
		valid  bool
	}{
		{name: "valid", mutate: func(p *market.PriceInfo) {}, valid: true},
		{name: "negative minimum", mutate: func(p *market.PriceInfo) { p.Minimum = -1 }},
		{name: "confidence above one", mutate: func(p *market.PriceInfo) { p.Confidence = 1.01 }},
		{name: "confidence negative", mutate: func(p *market.PriceInfo) { p.Confidence = -0.1 }},
		{name: "unknown source", mutate: func(p *market.PriceInfo) { p.Source = "scraped" }},
		{name: "min above max", mutate: func(p *market.PriceInfo) { p.Minimum, p.Maximum = 30, 20 }},
		{name: "current above max", mutate: func(p *market.PriceInfo) { p.Current = 30 }},
		{name: "average below min", mutate: func(p *market.PriceInfo) { p.Average = 10 }},
		{name: "above ceiling", mutate: func(p *market.PriceInfo) {
			p.Current, p.Minimum, p.Maximum, p.Average = 2e6, 2e6, 2e6, 2e6
		}},
		{name: "older than a day", mutate: func(p *market.PriceInfo) { p.LastUpdated = now.Add(-25 * time.Hour) }},
		{name: "dated in the future", mutate: func(p *market.PriceInfo) { p.LastUpdated = now.Add(time.Hour) }},
		{name: "within clock skew", mutate: func(p *market.PriceInfo) { p.LastUpdated = now.Add(time.Minute) }, valid: true},
		{name: "missing timestamp", mutate: func(p *market.PriceInfo) { p.LastUpdated = time.Time{} }},
		{name: "NaN current", mutate: func(p *market.PriceInfo) { p.Current = math.NaN() }},
		{name: "estimated source", mutate: func(p *market.PriceInfo) { p.Source = market.SourceEstimated }, valid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := valid
			tt.mutate(&info)

			err := PriceData(info, now)
			assert.Equal(t, tt.valid, ValidPriceData(info, now))
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, market.ErrDataQuality)
			}
		})
	}
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in      float64
		want    float64
		wantErr bool
	}{
		{in: 25, want: 25},
		{in: 23.745, want: 23.75},
		{in: 10.004, want: 10},
		{in: 0.005, want: 0.01},
		{in: -1, wantErr: true},
		{in: math.NaN(), wantErr: true},
		{in: math.Inf(1), wantErr: true},
	}

	for _, tt := range tests {
		got, err := FormatPrice(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, market.ErrValidation, "FormatPrice(%v)", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "FormatPrice(%v)", tt.in)
	}
}

func TestFormatConfidence(t *testing.T) {
	got, err := FormatConfidence(0.7599999)
	require.NoError(t, err)
	assert.Equal(t, 0.76, got)

	_, err = FormatConfidence(1.2)
	assert.Error(t, err)
	_, err = FormatConfidence(-0.01)
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	info := market.PriceInfo{Current: 31.456, Minimum: 28.3104, Maximum: 34.6016, Average: 31.456, Confidence: 0.6375, Source: market.SourceEstimated}

	got, err := Format(info)
	require.NoError(t, err)
	assert.Equal(t, 31.46, got.Current)
	assert.Equal(t, 28.31, got.Minimum)
	assert.Equal(t, 34.6, got.Maximum)
	assert.Equal(t, 0.64, got.Confidence)
	assert.Equal(t, market.SourceEstimated, got.Source)

	_, err = Format(market.PriceInfo{Current: -2})
	assert.Error(t, err)
}
