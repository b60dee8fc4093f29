// Package validate enforces data-quality invariants on queries and prices and
// normalizes numeric precision before data leaves the subsystem.
package validate

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/market"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	// PriceCeiling is the highest plausible price per unit.
	PriceCeiling = 1_000_000.0

	// MaxDataAge is the oldest LastUpdated a PriceInfo may carry.
	MaxDataAge = 24 * time.Hour

	// MaxClockSkew is how far ahead of now LastUpdated may be.
	MaxClockSkew = 5 * time.Minute

	// MinDays and MaxDays bound history requests.
	MinDays = 1
	MaxDays = 365
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Query checks a ProductQuery's field presence, lengths and quantity range.
func Query(q market.ProductQuery) error {
	if err := structValidator.Struct(q); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return market.NewValidationError(strings.ToLower(fe.Field()), describe(fe))
		}
		return market.NewValidationError("query", err.Error())
	}

	for _, f := range []struct{ name, value string }{
		{"name", q.Name},
		{"category", q.Category},
		{"location", q.Location},
		{"unit", q.Unit},
	} {
		if strings.TrimSpace(f.value) == "" {
			return market.NewValidationError(f.name, "must not be blank")
		}
	}

	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// Days checks a history length is within [MinDays, MaxDays].
func Days(days int) error {
	if days < MinDays || days > MaxDays {
		return market.NewValidationError("days", fmt.Sprintf("must be between %d and %d, got %d", MinDays, MaxDays, days))
	}
	return nil
}

// PriceData checks the PriceInfo invariants at now. The returned error wraps
// market.ErrDataQuality and names the first violated rule.
func PriceData(info market.PriceInfo, now time.Time) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", market.ErrDataQuality, fmt.Sprintf(format, args...))
	}

	values := []struct {
		name  string
		value float64
	}{
		{"current", info.Current},
		{"minimum", info.Minimum},
		{"maximum", info.Maximum},
		{"average", info.Average},
	}
	for _, v := range values {
		switch {
		case math.IsNaN(v.value) || math.IsInf(v.value, 0):
			return fail("%s is not a finite number", v.name)
		case v.value < 0:
			return fail("%s is negative", v.name)
		case v.value > PriceCeiling:
			return fail("%s %.2f exceeds ceiling %.0f", v.name, v.value, PriceCeiling)
		}
	}

	if math.IsNaN(info.Confidence) || info.Confidence < 0 || info.Confidence > 1 {
		return fail("confidence %v outside [0,1]", info.Confidence)
	}
	if !info.Source.Valid() {
		return fail("unknown source %q", info.Source)
	}
	if info.Minimum > info.Maximum {
		return fail("minimum %.2f above maximum %.2f", info.Minimum, info.Maximum)
	}
	if info.Current < info.Minimum || info.Current > info.Maximum {
		return fail("current %.2f outside [%.2f, %.2f]", info.Current, info.Minimum, info.Maximum)
	}
	if info.Average < info.Minimum || info.Average > info.Maximum {
		return fail("average %.2f outside [%.2f, %.2f]", info.Average, info.Minimum, info.Maximum)
	}
	if info.LastUpdated.IsZero() {
		return fail("last updated is missing")
	}
	if info.LastUpdated.After(now.Add(MaxClockSkew)) {
		return fail("last updated %s is in the future", info.LastUpdated.Format(time.RFC3339))
	}
	if now.Sub(info.LastUpdated) > MaxDataAge {
		return fail("data is %s old", now.Sub(info.LastUpdated).Truncate(time.Minute))
	}

	return nil
}

// ValidPriceData reports whether info passes PriceData.
func ValidPriceData(info market.PriceInfo, now time.Time) bool {
	return PriceData(info, now) == nil
}

// FormatPrice rounds a price half away from zero to 2 decimal places.
func FormatPrice(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, market.NewValidationError("price", "must be a finite number")
	}
	if v < 0 {
		return 0, market.NewValidationError("price", "must not be negative")
	}
	return round2(v), nil
}

// FormatConfidence rounds a confidence to 2 decimal places.
func FormatConfidence(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, market.NewValidationError("confidence", "must be a finite number")
	}
	if v < 0 || v > 1 {
		return 0, market.NewValidationError("confidence", "must be within [0,1]")
	}
	return round2(v), nil
}

func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// Format rounds every numeric field of info.
func Format(info market.PriceInfo) (market.PriceInfo, error) {
	var err error
	for _, p := range []*float64{&info.Current, &info.Minimum, &info.Maximum, &info.Average} {
		if *p, err = FormatPrice(*p); err != nil {
			return market.PriceInfo{}, err
		}
	}
	if info.Confidence, err = FormatConfidence(info.Confidence); err != nil {
		return market.PriceInfo{}, err
	}
	return info, nil
}
