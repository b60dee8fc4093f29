package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/market"
	"github.com/Sternrassler/mandi-prices/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for provider requests.
var (
	sourceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mandi_source_requests_total",
		Help: "Total provider requests by endpoint and status",
	}, []string{"endpoint", "status"})

	sourceRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mandi_source_request_duration_seconds",
		Help:    "Provider request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	sourceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mandi_source_errors_total",
		Help: "Total provider errors by class",
	}, []string{"class"})

	sourceDroppedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mandi_source_dropped_records_total",
		Help: "Records dropped during normalization by endpoint",
	}, []string{"endpoint"})
)

// Provider endpoints.
const (
	endpointCurrent    = "/prices/current"
	endpointHistorical = "/prices/historical"
	endpointLocations  = "/locations"
	endpointProducts   = "/products"
	endpointHealth     = "/health"
)

// HTTPConfig holds the provider client configuration.
type HTTPConfig struct {
	// BaseURL of the provider API, e.g. "https://api.example.gov.in/mandi".
	BaseURL string

	// APIKey is sent as the api_key query parameter when set.
	APIKey string

	// UserAgent header sent on every request.
	UserAgent string

	// Timeout per request attempt.
	Timeout time.Duration

	// HealthTimeout for the health probe.
	HealthTimeout time.Duration

	// Retry policy for transport and 5xx failures.
	Retry retry.Policy

	// RateLimit in requests per second; 0 disables limiting.
	RateLimit float64
	Burst     int
}

// DefaultHTTPConfig returns the provider defaults.
func DefaultHTTPConfig(baseURL string) HTTPConfig {
	return HTTPConfig{
		BaseURL:       baseURL,
		UserAgent:     "mandi-prices/0.1.0",
		Timeout:       10 * time.Second,
		HealthTimeout: 5 * time.Second,
		Retry:         retry.DefaultPolicy(),
		RateLimit:     5,
		Burst:         10,
	}
}

// FetchBudget is the longest a single fetch can run across all retry attempts.
func (c HTTPConfig) FetchBudget() time.Duration {
	return c.Retry.Budget(c.Timeout)
}

// HTTPSource fetches prices from the provider's HTTP API.
type HTTPSource struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	config     HTTPConfig
	logger     zerolog.Logger
}

// NewHTTPSource creates a provider client.
func NewHTTPSource(cfg HTTPConfig, logger zerolog.Logger) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	cfg.Retry.Name = "source"
	cfg.Retry.Retryable = isRetryable
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &HTTPSource{
		// Per-attempt deadlines are set on the request context.
		httpClient: &http.Client{},
		limiter:    limiter,
		config:     cfg,
		logger:     logger.With().Str("component", "source-http").Logger(),
	}, nil
}

// Name returns the source name.
func (s *HTTPSource) Name() string {
	return "http"
}

// FetchCurrentPrices returns the provider's records for a location and date.
func (s *HTTPSource) FetchCurrentPrices(ctx context.Context, location string, date time.Time) ([]market.RawPriceRecord, error) {
	params := url.Values{}
	params.Set("location", market.NormalizeID(location))
	params.Set("date", date.Format(market.DateLayout))

	body, err := s.get(ctx, endpointCurrent, params)
	if err != nil {
		return []market.RawPriceRecord{}, s.unavailable(endpointCurrent, err)
	}

	records, dropped, err := decodeRecords(body, market.NormalizeID(location))
	if err != nil {
		sourceErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return []market.RawPriceRecord{}, s.unavailable(endpointCurrent, err)
	}
	s.recordDropped(endpointCurrent, dropped)

	return records, nil
}

// FetchHistorical returns the price series for a product at a location, oldest first.
func (s *HTTPSource) FetchHistorical(ctx context.Context, product, location string, days int) ([]market.HistoricalPoint, error) {
	params := url.Values{}
	params.Set("product", market.NormalizeID(product))
	params.Set("location", market.NormalizeID(location))
	params.Set("days", strconv.Itoa(days))

	body, err := s.get(ctx, endpointHistorical, params)
	if err != nil {
		return []market.HistoricalPoint{}, s.unavailable(endpointHistorical, err)
	}

	points, dropped, err := decodePoints(body, market.NormalizeID(location))
	if err != nil {
		sourceErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return []market.HistoricalPoint{}, s.unavailable(endpointHistorical, err)
	}
	s.recordDropped(endpointHistorical, dropped)

	return points, nil
}

// ListLocations returns the provider's markets, or DefaultLocations on failure.
func (s *HTTPSource) ListLocations(ctx context.Context) ([]string, error) {
	return s.catalog(ctx, endpointLocations, DefaultLocations)
}

// ListProducts returns the provider's commodities, or DefaultProducts on failure.
func (s *HTTPSource) ListProducts(ctx context.Context) ([]string, error) {
	return s.catalog(ctx, endpointProducts, DefaultProducts)
}

func (s *HTTPSource) catalog(ctx context.Context, endpoint string, defaults func() []string) ([]string, error) {
	body, err := s.get(ctx, endpoint, nil)
	if err != nil {
		return defaults(), s.unavailable(endpoint, err)
	}

	names, err := decodeCatalog(body)
	if err != nil || len(names) == 0 {
		if err == nil {
			err = fmt.Errorf("%w: empty catalog", ErrInvalidResponse)
		}
		sourceErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return defaults(), s.unavailable(endpoint, err)
	}
	return names, nil
}

// CheckHealth probes the provider once with the short health timeout.
func (s *HTTPSource) CheckHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.config.HealthTimeout)
	defer cancel()

	_, err := s.attempt(ctx, endpointHealth, nil, s.config.HealthTimeout)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Provider health check failed")
		return false
	}
	return true
}

// get runs one logical request under the retry policy.
func (s *HTTPSource) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, s.config.Retry, func(ctx context.Context) error {
		var attemptErr error
		body, attemptErr = s.attempt(ctx, endpoint, params, s.config.Timeout)
		return attemptErr
	})
	return body, err
}

// attempt performs a single HTTP GET and classifies its failure.
func (s *HTTPSource) attempt(ctx context.Context, endpoint string, params url.Values, timeout time.Duration) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		sourceRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &HTTPError{Endpoint: endpoint, Class: ErrorClassNetwork, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if s.config.APIKey != "" {
		if params == nil {
			params = url.Values{}
		}
		params.Set("api_key", s.config.APIKey)
	}

	reqURL := s.config.BaseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &HTTPError{Endpoint: endpoint, Class: ErrorClassClient, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if s.config.UserAgent != "" {
		req.Header.Set("User-Agent", s.config.UserAgent)
	}

	s.logger.Debug().Str("endpoint", endpoint).Msg("Executing provider request")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		sourceErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		sourceRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &HTTPError{Endpoint: endpoint, Class: ErrorClassNetwork, Err: err}
	}
	defer resp.Body.Close()

	sourceRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if class := classifyStatus(resp.StatusCode); class != "" {
		sourceErrorsTotal.WithLabelValues(string(class)).Inc()
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		s.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Provider request error")

		return nil, &HTTPError{Endpoint: endpoint, StatusCode: resp.StatusCode, Class: class}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		sourceErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &HTTPError{Endpoint: endpoint, StatusCode: resp.StatusCode, Class: ErrorClassNetwork, Err: fmt.Errorf("read body: %w", err)}
	}

	return body, nil
}

func (s *HTTPSource) unavailable(endpoint string, err error) error {
	var httpErr *HTTPError
	event := s.logger.Warn().Err(err).Str("endpoint", endpoint)
	if errors.As(err, &httpErr) {
		event = event.Str("error_class", string(httpErr.Class))
	}
	event.Msg("Provider request failed, returning empty result")
	return fmt.Errorf("%w: %w", market.ErrSourceUnavailable, err)
}

func (s *HTTPSource) recordDropped(endpoint string, dropped int) {
	if dropped == 0 {
		return
	}
	sourceDroppedRecordsTotal.WithLabelValues(endpoint).Add(float64(dropped))
	s.logger.Debug().
		Str("endpoint", endpoint).
		Int("dropped", dropped).
		Msg("Dropped records with unusable price or date")
}
