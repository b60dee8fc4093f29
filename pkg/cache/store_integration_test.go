//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/market"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, testcontainers.Container) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		client.Close()
		redisContainer.Terminate(context.Background())
	})

	return client, redisContainer
}

func TestIntegration_StoreDegradesAndRecovers(t *testing.T) {
	client, container := setupRedisContainer(t)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Reconnect.InitialBackoff = 50 * time.Millisecond
	cfg.Reconnect.MaxBackoff = 100 * time.Millisecond

	store := New(client, cfg, zerolog.Nop())
	defer store.Close()

	if err := store.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	date := time.Now()
	store.SetPrices(ctx, "delhi", date, []market.RawPriceRecord{{Product: "tomato", Price: 25, Date: date}})
	if _, ok := store.GetPrices(ctx, "delhi", date); !ok {
		t.Fatal("expected cache hit before outage")
	}

	stopTimeout := 5 * time.Second
	if err := container.Stop(ctx, &stopTimeout); err != nil {
		t.Fatalf("Failed to stop container: %v", err)
	}

	// A failed read degrades the store instead of surfacing an error.
	if _, ok := store.GetPrices(ctx, "delhi", date); ok {
		t.Fatal("expected miss while Redis is down")
	}
	if store.Connected() {
		t.Fatal("store should be degraded after a failed operation")
	}
	store.SetPrices(ctx, "delhi", date, nil)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed in degraded mode: %v", err)
	}
	if stats.Connected {
		t.Error("Stats should report a disconnected store")
	}
}

func TestIntegration_ClearAll(t *testing.T) {
	client, _ := setupRedisContainer(t)
	ctx := context.Background()

	store := New(client, DefaultConfig(), zerolog.Nop())
	defer store.Close()
	if err := store.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	for i := 0; i < 250; i++ {
		store.SetHistorical(ctx, "tomato", "delhi", i+1, []market.HistoricalPoint{{Price: float64(i + 1)}})
	}

	deleted, err := store.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	if deleted != 250 {
		t.Errorf("ClearAll deleted %d keys, want 250", deleted)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Keys != 0 {
		t.Errorf("Stats.Keys = %d, want 0", stats.Keys)
	}
}
