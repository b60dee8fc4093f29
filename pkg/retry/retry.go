// Package retry provides a reusable exponential-backoff retry policy.
// The policy (attempts, backoff schedule, retryable predicate) is kept
// separate from the transport that uses it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mandi_retries_total",
		Help: "Total number of retry attempts by policy",
	}, []string{"policy"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mandi_retry_backoff_seconds",
		Help:    "Backoff duration for retries by policy",
		Buckets: []float64{0.1, 0.5, 1, 2, 4, 8, 30},
	}, []string{"policy"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mandi_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by policy",
	}, []string{"policy"})
)

var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// Policy describes how an operation is retried.
type Policy struct {
	// Name labels metrics and log lines.
	Name string

	// MaxAttempts is the maximum number of attempts including the first one.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// Multiplier grows the backoff after every failed attempt.
	Multiplier float64

	// Jitter is the relative randomization applied to each wait (0.2 = ±20%).
	Jitter float64

	// Retryable decides whether an error is worth another attempt.
	// A nil predicate retries every error.
	Retryable func(error) bool
}

// DefaultPolicy returns the provider request policy: 3 attempts waiting 1s then 2s.
func DefaultPolicy() Policy {
	return Policy{
		Name:           "default",
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// Backoff returns the un-jittered wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	backoff := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= multiplier
		if p.MaxBackoff > 0 && backoff > float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && time.Duration(backoff) > p.MaxBackoff {
		return p.MaxBackoff
	}
	return time.Duration(backoff)
}

// Budget returns the longest Do can take when every attempt runs for
// perAttempt, including the worst-case jittered waits between attempts.
func (p Policy) Budget(perAttempt time.Duration) time.Duration {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	total := time.Duration(attempts) * perAttempt
	for attempt := 1; attempt < attempts; attempt++ {
		total += time.Duration(float64(p.Backoff(attempt)) * (1 + max(p.Jitter, 0)))
	}
	return total
}

func (p Policy) shouldRetry(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p Policy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	factor := 1 - p.Jitter + rand.Float64()*2*p.Jitter
	return time.Duration(float64(d) * factor)
}

// Do executes fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted, or ctx is cancelled while waiting.
//
// Non-retryable errors are returned unchanged. Exhaustion wraps both
// ErrRetryExhausted and the last error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("policy", p.Name).
					Int("attempt", attempt).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !p.shouldRetry(err) {
			return err
		}

		if attempt >= maxAttempts {
			break
		}

		retriesTotal.WithLabelValues(p.Name).Inc()

		wait := p.jittered(p.Backoff(attempt))
		retryBackoffSeconds.WithLabelValues(p.Name).Observe(wait.Seconds())

		log.Debug().
			Str("policy", p.Name).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Err(err).
			Msg("Retrying after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Warn().
				Str("policy", p.Name).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	retryExhaustedTotal.WithLabelValues(p.Name).Inc()
	log.Warn().
		Str("policy", p.Name).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
}
