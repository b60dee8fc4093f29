//go:build integration

package discovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/mandi-prices/internal/testutil"
	"github.com/Sternrassler/mandi-prices/pkg/cache"
	"github.com/Sternrassler/mandi-prices/pkg/discovery"
	"github.com/Sternrassler/mandi-prices/pkg/estimator"
	"github.com/Sternrassler/mandi-prices/pkg/fallback"
	"github.com/Sternrassler/mandi-prices/pkg/market"
	"github.com/Sternrassler/mandi-prices/pkg/retry"
	"github.com/Sternrassler/mandi-prices/pkg/source"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var flowNow = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		redisClient.Close()
		container.Terminate(ctx)
	})

	return redisClient
}

type flow struct {
	provider *testutil.MockProvider
	store    *cache.Store
	reads    *fallback.Orchestrator
	est      *estimator.Estimator
}

func newFlow(t *testing.T) *flow {
	t.Helper()

	provider := testutil.NewMockProvider()
	t.Cleanup(provider.Close)

	cfg := source.DefaultHTTPConfig(provider.URL())
	cfg.RateLimit = 0
	cfg.Retry = retry.Policy{MaxAttempts: 2, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond, Multiplier: 2}
	src, err := source.NewHTTPSource(cfg, zerolog.Nop())
	require.NoError(t, err)

	store := cache.New(setupRedis(t), cache.DefaultConfig(), zerolog.Nop())
	require.NoError(t, store.Connect(context.Background()))
	t.Cleanup(store.Close)

	reads := fallback.New(src, store, zerolog.Nop())
	reads.Now = func() time.Time { return flowNow }

	est := estimator.New(nil, zerolog.Nop())
	est.Now = reads.Now

	return &flow{provider: provider, store: store, reads: reads, est: est}
}

func (f *flow) engine(t *testing.T) *discovery.Engine {
	engine := discovery.New(f.reads, f.est, discovery.DefaultConfig(), zerolog.Nop())
	engine.Now = f.reads.Now
	t.Cleanup(engine.Close)
	return engine
}

// TestFullReadFlow covers provider fetch, write-through and a fresh Redis hit
// from a second engine that shares the store.
func TestFullReadFlow(t *testing.T) {
	f := newFlow(t)
	f.provider.SetResponse("/prices/current", testutil.NewJSONResponse(map[string]any{
		"records": []map[string]any{
			testutil.Record("tomato", 25, flowNow, true),
			testutil.Record("onion", "40.00", flowNow, true),
		},
	}))

	q := market.ProductQuery{Name: "tomato", Category: "vegetables", Location: "delhi", Quantity: 1, Unit: "kg"}
	ctx := context.Background()

	info, err := f.engine(t).GetCurrentPrice(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, market.SourceOfficial, info.Source)
	assert.Equal(t, 25.0, info.Current)
	assert.Equal(t, 1, f.provider.Count("/prices/current"))

	info, err = f.engine(t).GetCurrentPrice(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 25.0, info.Current)
	assert.Equal(t, 1, f.provider.Count("/prices/current"), "second engine is served from Redis")

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Keys, int64(1))
}

// TestStaleFallbackAfterOutage serves an aged Redis entry once the provider fails.
func TestStaleFallbackAfterOutage(t *testing.T) {
	f := newFlow(t)
	aged := flowNow.Add(-8 * time.Hour)
	f.provider.SetSequence("/prices/current",
		testutil.NewJSONResponse([]map[string]any{testutil.Record("tomato", 25, aged, true)}),
		testutil.NewServerErrorResponse(),
	)

	ctx := context.Background()

	records, outcome := f.reads.CurrentPrices(ctx, "delhi", flowNow)
	require.Equal(t, fallback.OutcomeFetchSuccess, outcome)
	require.Len(t, records, 1)

	records, outcome = f.reads.CurrentPrices(ctx, "delhi", flowNow)
	assert.Equal(t, fallback.OutcomeFallbackStaleCache, outcome)
	require.Len(t, records, 1)
	assert.Equal(t, 25.0, records[0].Price)
	assert.Equal(t, 3, f.provider.Count("/prices/current"), "one success then two failed attempts")
}

// TestExpiredHistoryServedDuringOutage serves a series past its TTL from Redis
// once the provider fails.
func TestExpiredHistoryServedDuringOutage(t *testing.T) {
	f := newFlow(t)
	f.store.Now = func() time.Time { return flowNow }

	points := []map[string]any{
		testutil.Point(flowNow.AddDate(0, 0, -1), 21, 100),
		testutil.Point(flowNow, 22, 100),
	}
	f.provider.SetSequence("/prices/historical",
		testutil.NewJSONResponse(points),
		testutil.NewServerErrorResponse(),
	)
	ctx := context.Background()

	series, outcome := f.reads.Historical(ctx, "onion", "pune", 2)
	require.Equal(t, fallback.OutcomeFetchSuccess, outcome)
	require.Len(t, series, 2)

	// Past the historical TTL but inside the stale grace window.
	f.store.Now = func() time.Time { return flowNow.Add(2 * time.Hour) }

	series, outcome = f.reads.Historical(ctx, "onion", "pune", 2)
	assert.Equal(t, fallback.OutcomeFallbackStaleCache, outcome)
	require.Len(t, series, 2)
	assert.Equal(t, 22.0, series[1].Price)
}

// TestHistoryFlow estimates from a provider series cached in Redis.
func TestHistoryFlow(t *testing.T) {
	f := newFlow(t)

	points := make([]map[string]any, 0, 30)
	for i := 0; i < 30; i++ {
		points = append(points, testutil.Point(flowNow.AddDate(0, 0, i-29), 20+i, 100))
	}
	f.provider.SetResponse("/prices/historical", testutil.NewJSONResponse(map[string]any{"data": points}))

	q := market.ProductQuery{Name: "onion", Category: "vegetables", Location: "pune", Quantity: 5, Unit: "kg"}
	engine := f.engine(t)
	ctx := context.Background()

	estimate, err := engine.EstimatePrice(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, market.MethodStatistical, estimate.EstimationMethod)
	assert.Equal(t, 0.8, estimate.Confidence)

	history, err := engine.GetPriceHistory(ctx, q, 30)
	require.NoError(t, err)
	assert.Equal(t, market.TrendRising, history.Trend)
	assert.Equal(t, 1, f.provider.Count("/prices/historical"), "history is served from Redis")
}
