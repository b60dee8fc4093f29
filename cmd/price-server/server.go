package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/cache"
	"github.com/Sternrassler/mandi-prices/pkg/discovery"
	"github.com/Sternrassler/mandi-prices/pkg/estimator"
	"github.com/Sternrassler/mandi-prices/pkg/fallback"
	"github.com/Sternrassler/mandi-prices/pkg/logging"
	"github.com/Sternrassler/mandi-prices/pkg/market"
	"github.com/Sternrassler/mandi-prices/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Defaults applied when a query omits quantity or unit.
const (
	defaultQuantity = 1.0
	defaultUnit     = "kg"
)

type server struct {
	engine    *discovery.Engine
	reads     *fallback.Orchestrator
	store     *cache.Store
	estimator *estimator.Estimator
	logger    zerolog.Logger

	requestTimeout time.Duration
}

func (s *server) router() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware(s.logger))
	router.Use(accessLogMiddleware())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	{
		prices := v1.Group("/prices")
		{
			prices.GET("/current", s.currentPrice)
			prices.GET("/estimate", s.estimatePrice)
			prices.GET("/history", s.priceHistory)
			prices.GET("/sentiment", s.sentiment)
		}

		v1.GET("/locations", s.locations)
		v1.GET("/products", s.products)

		admin := v1.Group("/cache")
		{
			admin.GET("/stats", s.cacheStats)
			admin.DELETE("", s.clearCache)
			admin.DELETE("/prices/:location", s.invalidatePrices)
		}
	}

	return router
}

func (s *server) context(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), s.requestTimeout)
}

// queryFrom reads a ProductQuery from URL parameters.
func queryFrom(c *gin.Context) (market.ProductQuery, error) {
	q := market.ProductQuery{
		Name:     c.Query("name"),
		Category: c.Query("category"),
		Location: c.Query("location"),
		Quantity: defaultQuantity,
		Unit:     c.DefaultQuery("unit", defaultUnit),
	}
	if raw := c.Query("quantity"); raw != "" {
		quantity, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return q, market.NewValidationError("quantity", "must be a number")
		}
		q.Quantity = quantity
	}
	return q, nil
}

func (s *server) health(c *gin.Context) {
	ctx, cancel := s.context(c)
	defer cancel()

	status, outcome := s.reads.Health(ctx)
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"source":          status,
		"source_outcome":  outcome,
		"cache_connected": s.store.Connected(),
		"ai_healthy":      s.estimator.AIHealthy(ctx),
	})
}

func (s *server) currentPrice(c *gin.Context) {
	q, err := queryFrom(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx, cancel := s.context(c)
	defer cancel()

	info, err := s.engine.GetCurrentPrice(ctx, q)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *server) estimatePrice(c *gin.Context) {
	q, err := queryFrom(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx, cancel := s.context(c)
	defer cancel()

	estimate, err := s.engine.EstimatePrice(ctx, q)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}

func (s *server) priceHistory(c *gin.Context) {
	q, err := queryFrom(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	days := discovery.EstimateDays
	if raw := c.Query("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil {
			s.fail(c, market.NewValidationError("days", "must be an integer"))
			return
		}
	}

	ctx, cancel := s.context(c)
	defer cancel()

	history, err := s.engine.GetPriceHistory(ctx, q, days)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (s *server) sentiment(c *gin.Context) {
	q, err := queryFrom(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx, cancel := s.context(c)
	defer cancel()

	sentiment, err := s.engine.GetMarketSentiment(ctx, q)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sentiment)
}

func (s *server) locations(c *gin.Context) {
	ctx, cancel := s.context(c)
	defer cancel()
	c.JSON(http.StatusOK, gin.H{"locations": s.engine.Locations(ctx)})
}

func (s *server) products(c *gin.Context) {
	ctx, cancel := s.context(c)
	defer cancel()
	c.JSON(http.StatusOK, gin.H{"products": s.engine.Products(ctx)})
}

func (s *server) cacheStats(c *gin.Context) {
	ctx, cancel := s.context(c)
	defer cancel()

	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *server) clearCache(c *gin.Context) {
	ctx, cancel := s.context(c)
	defer cancel()

	deleted, err := s.store.ClearAll(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (s *server) invalidatePrices(c *gin.Context) {
	ctx, cancel := s.context(c)
	defer cancel()

	dropped := s.engine.Invalidate(ctx, c.Param("location"))
	c.JSON(http.StatusOK, gin.H{
		"location":      market.NormalizeID(c.Param("location")),
		"local_dropped": dropped,
	})
}

// fail maps an error to its HTTP status and writes a JSON error body.
func (s *server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"error": err.Error()}

	var validationErr *market.ValidationError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
		body["field"] = validationErr.Field
	case errors.Is(err, market.ErrEstimationExhausted),
		errors.Is(err, market.ErrCacheUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		l := logging.FromContext(c.Request.Context())
		l.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	c.AbortWithStatusJSON(status, body)
}
