package estimator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/market"
	"github.com/rs/zerolog"
)

// ErrAIUnavailable is returned by AI collaborators that cannot answer.
var ErrAIUnavailable = errors.New("ai estimator unavailable")

// AI is an optional model-backed estimator. Every call site has a
// statistical fallback, so implementations may fail freely.
type AI interface {
	// EstimatePrice estimates a price from history and context. history is
	// empty for category-only estimation.
	EstimatePrice(ctx context.Context, query market.ProductQuery, history []market.HistoricalPoint, mctx MarketContext) (market.EstimatedPrice, error)

	// GenerateSentiment judges the market mood given detected factors.
	GenerateSentiment(ctx context.Context, query market.ProductQuery, history market.PriceHistory, factors []string) (market.MarketSentiment, error)

	// ConfidenceScore rates how far a rules-based reading of history can be
	// trusted, in [0, 1].
	ConfidenceScore(ctx context.Context, query market.ProductQuery, history market.PriceHistory) (float64, error)

	CheckHealth(ctx context.Context) bool
}

// NoAI is the AI used when no model endpoint is configured.
type NoAI struct{}

func (NoAI) EstimatePrice(context.Context, market.ProductQuery, []market.HistoricalPoint, MarketContext) (market.EstimatedPrice, error) {
	return market.EstimatedPrice{}, ErrAIUnavailable
}

func (NoAI) GenerateSentiment(context.Context, market.ProductQuery, market.PriceHistory, []string) (market.MarketSentiment, error) {
	return market.MarketSentiment{}, ErrAIUnavailable
}

func (NoAI) ConfidenceScore(context.Context, market.ProductQuery, market.PriceHistory) (float64, error) {
	return 0, ErrAIUnavailable
}

func (NoAI) CheckHealth(context.Context) bool { return false }

// HTTPAIConfig configures the model endpoint client.
type HTTPAIConfig struct {
	// BaseURL of the model service; /estimate, /sentiment, /confidence and
	// /health are appended.
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPAI calls a model service over JSON/HTTP.
type HTTPAI struct {
	httpClient *http.Client
	config     HTTPAIConfig
	logger     zerolog.Logger
}

// NewHTTPAI creates a model service client.
func NewHTTPAI(cfg HTTPAIConfig, logger zerolog.Logger) (*HTTPAI, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ai base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &HTTPAI{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     logger.With().Str("component", "ai").Logger(),
	}, nil
}

type estimateRequest struct {
	Query   market.ProductQuery      `json:"query"`
	History []market.HistoricalPoint `json:"history"`
	Context MarketContext            `json:"context"`
}

type estimateResponse struct {
	Current    float64 `json:"current"`
	Minimum    float64 `json:"minimum"`
	Maximum    float64 `json:"maximum"`
	Average    float64 `json:"average"`
	Confidence float64 `json:"confidence"`
}

type sentimentRequest struct {
	Query   market.ProductQuery `json:"query"`
	History market.PriceHistory `json:"history"`
	Factors []string            `json:"factors"`
}

type sentimentResponse struct {
	Sentiment  market.Sentiment `json:"sentiment"`
	Confidence float64          `json:"confidence"`
	Factors    []string         `json:"factors"`
}

type confidenceRequest struct {
	Query   market.ProductQuery `json:"query"`
	History market.PriceHistory `json:"history"`
}

type confidenceResponse struct {
	Confidence *float64 `json:"confidence"`
}

// EstimatePrice asks the model for a price.
func (a *HTTPAI) EstimatePrice(ctx context.Context, query market.ProductQuery, history []market.HistoricalPoint, mctx MarketContext) (market.EstimatedPrice, error) {
	var resp estimateResponse
	if err := a.post(ctx, "/estimate", estimateRequest{Query: query, History: history, Context: mctx}, &resp); err != nil {
		return market.EstimatedPrice{}, err
	}

	return market.EstimatedPrice{
		PriceInfo: market.PriceInfo{
			Current:    resp.Current,
			Minimum:    resp.Minimum,
			Maximum:    resp.Maximum,
			Average:    resp.Average,
			Confidence: resp.Confidence,
			Source:     market.SourceEstimated,
		},
		HistoricalBasis: history,
	}, nil
}

// GenerateSentiment asks the model for a sentiment.
func (a *HTTPAI) GenerateSentiment(ctx context.Context, query market.ProductQuery, history market.PriceHistory, factors []string) (market.MarketSentiment, error) {
	var resp sentimentResponse
	if err := a.post(ctx, "/sentiment", sentimentRequest{Query: query, History: history, Factors: factors}, &resp); err != nil {
		return market.MarketSentiment{}, err
	}

	if len(resp.Factors) == 0 {
		resp.Factors = factors
	}
	return market.MarketSentiment{
		Product:    query.Name,
		Location:   query.Location,
		Sentiment:  resp.Sentiment,
		Confidence: resp.Confidence,
		Factors:    resp.Factors,
	}, nil
}

// ConfidenceScore asks the model to score a history.
func (a *HTTPAI) ConfidenceScore(ctx context.Context, query market.ProductQuery, history market.PriceHistory) (float64, error) {
	var resp confidenceResponse
	if err := a.post(ctx, "/confidence", confidenceRequest{Query: query, History: history}, &resp); err != nil {
		return 0, err
	}
	if resp.Confidence == nil {
		return 0, fmt.Errorf("%w: /confidence response has no confidence", ErrAIUnavailable)
	}
	return *resp.Confidence, nil
}

// CheckHealth probes the model service.
func (a *HTTPAI) CheckHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	a.authorize(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Warn().Err(err).Msg("AI health check failed")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

func (a *HTTPAI) authorize(req *http.Request) {
	if a.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}
}

func (a *HTTPAI) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal ai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create ai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	a.authorize(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAIUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s returned status %d", ErrAIUnavailable, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrAIUnavailable, path, err)
	}
	return nil
}
