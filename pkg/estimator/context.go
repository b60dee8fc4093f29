package estimator

import (
	"strings"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/market"
)

// Season is a product category's position in its yearly price cycle.
type Season string

const (
	SeasonPeak   Season = "peak"
	SeasonOff    Season = "off"
	SeasonNormal Season = "normal"
)

// SupplyDisruptionVolatility flags a disrupted supply above this volatility.
const SupplyDisruptionVolatility = 0.3

// MarketContext is the calendar and market state handed to estimators.
type MarketContext struct {
	Category         string       `json:"category"`
	Location         string       `json:"location"`
	Month            time.Month   `json:"month"`
	Season           Season       `json:"season"`
	FestivalSeason   bool         `json:"festival_season"`
	SupplyDisruption bool         `json:"supply_disruption"`
	Volatility       float64      `json:"volatility"`
	Trend            market.Trend `json:"trend"`
}

// NormalizeCategory lower-cases a category and maps singular forms to the
// plural names used by the baseline table.
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if _, ok := baselinePrices[c]; ok {
		return c
	}
	if _, ok := baselinePrices[c+"s"]; ok {
		return c + "s"
	}
	return c
}

// SeasonFor returns the season of a category in a month.
func SeasonFor(category string, month time.Month) Season {
	switch NormalizeCategory(category) {
	case "vegetables":
		switch month {
		case time.November, time.December, time.January, time.February:
			return SeasonPeak
		case time.June, time.July, time.August, time.September:
			return SeasonOff
		}
	case "fruits":
		if month >= time.March && month <= time.June {
			return SeasonPeak
		}
	case "grains":
		switch {
		case month >= time.October && month <= time.December:
			return SeasonOff
		case month >= time.March && month <= time.May:
			return SeasonPeak
		}
	}
	return SeasonNormal
}

// IsFestivalSeason reports whether month falls in Sep–Nov.
func IsFestivalSeason(month time.Month) bool {
	return month >= time.September && month <= time.November
}

// IsMonsoon reports whether month falls in Jun–Sep.
func IsMonsoon(month time.Month) bool {
	return month >= time.June && month <= time.September
}

// BuildContext derives the market context for a query at now.
func BuildContext(query market.ProductQuery, history []market.HistoricalPoint, now time.Time) MarketContext {
	volatility := Volatility(history)
	return MarketContext{
		Category:         NormalizeCategory(query.Category),
		Location:         market.NormalizeID(query.Location),
		Month:            now.Month(),
		Season:           SeasonFor(query.Category, now.Month()),
		FestivalSeason:   IsFestivalSeason(now.Month()),
		SupplyDisruption: volatility > SupplyDisruptionVolatility,
		Volatility:       volatility,
		Trend:            ClassifyTrend(history),
	}
}
