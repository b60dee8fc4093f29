package market

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the root of every input validation failure.
	ErrValidation = errors.New("validation error")

	// ErrSourceUnavailable indicates the market data provider could not be reached
	// or kept failing after retries.
	ErrSourceUnavailable = errors.New("market data source unavailable")

	// ErrCacheUnavailable indicates the cache store is disconnected.
	ErrCacheUnavailable = errors.New("cache store unavailable")

	// ErrDataQuality indicates data that failed freshness or sanity checks.
	ErrDataQuality = errors.New("data quality check failed")

	// ErrEstimationExhausted is returned when every estimation tier failed.
	ErrEstimationExhausted = errors.New("all estimation tiers exhausted")
)

// ValidationError describes which field of an input was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
