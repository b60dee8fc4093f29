// Package cache provides the Redis-backed price cache.
//
// The store keeps typed values for five kinds of data, each with its own TTL:
//
//   - prices:<location>:<date>                 current price records (30m)
//   - historical:<product>:<location>:<days>   historical series (60m)
//   - locations:all, products:all              provider catalogs (24h)
//   - health:status                            provider health (5m)
//
// Values are JSON inside an Entry envelope that records when they were cached.
// Freshness of price data is judged by the caller on the payload's own dates.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := cache.New(redisClient, cache.DefaultConfig(), logger)
//	if err := store.Connect(ctx); err != nil {
//		// Store keeps working as a no-op and reconnects in the background.
//	}
//	defer store.Close()
//
//	store.SetPrices(ctx, "delhi", today, records)
//	records, ok := store.GetPrices(ctx, "delhi", today)
//
// # Stale Entries
//
// Typed getters only return entries whose TTL has not passed. Redis keeps each
// entry for a further StaleGrace (24h by default), during which GetStale still
// returns it. The fallback read path uses that to serve stale data while the
// provider is down.
//
// # Degraded Mode
//
// The store never fails a read path. While Redis is unreachable every Get is
// a miss and every Set or Delete is a no-op, each with a warning log. A failed
// Connect (or a failed operation) starts a background reconnection with capped
// exponential backoff; after the last attempt the store stays in no-op mode
// until Connect is called again and succeeds.
//
// # Metrics
//
//   - mandi_cache_hits_total{kind}
//   - mandi_cache_misses_total{kind}
//   - mandi_cache_stale_reads_total{kind}
//   - mandi_cache_errors_total{operation}
//   - mandi_cache_connected
package cache
