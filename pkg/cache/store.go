package cache

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/market"
	"github.com/Sternrassler/mandi-prices/pkg/retry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Config holds the store configuration.
type Config struct {
	PricesTTL     time.Duration
	HistoricalTTL time.Duration
	CatalogTTL    time.Duration
	HealthTTL     time.Duration

	// StaleGrace is how long Redis keeps an entry past its TTL so it can
	// still be served as a stale fallback.
	StaleGrace time.Duration

	// Reconnect is the backoff used after a failed Connect or operation.
	Reconnect retry.Policy
}

// DefaultConfig returns the default TTLs and reconnection policy.
func DefaultConfig() Config {
	return Config{
		PricesTTL:     30 * time.Minute,
		HistoricalTTL: 60 * time.Minute,
		CatalogTTL:    24 * time.Hour,
		HealthTTL:     5 * time.Minute,
		StaleGrace:    24 * time.Hour,
		Reconnect: retry.Policy{
			Name:           "cache_reconnect",
			MaxAttempts:    5,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
		},
	}
}

// TTL returns the configured TTL for a kind.
func (c Config) TTL(kind Kind) time.Duration {
	switch kind {
	case KindPrices:
		return c.PricesTTL
	case KindHistorical:
		return c.HistoricalTTL
	case KindLocations, KindProducts:
		return c.CatalogTTL
	case KindHealth:
		return c.HealthTTL
	default:
		return c.PricesTTL
	}
}

// Stats describes the store state.
type Stats struct {
	Connected  bool  `json:"connected"`
	Keys       int64 `json:"keys"`
	UsedMemory int64 `json:"used_memory_bytes,omitempty"`
}

// Store is a typed TTL cache over Redis that degrades to a no-op while
// Redis is unreachable.
type Store struct {
	redis  *redis.Client
	config Config
	logger zerolog.Logger

	// Now is the clock used for CachedAt and expiry checks.
	Now func() time.Time

	connected    atomic.Bool
	reconnecting atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a store. A nil client yields a permanently degraded store.
// The store starts disconnected; call Connect to go live.
func New(redisClient *redis.Client, cfg Config, logger zerolog.Logger) *Store {
	defaults := DefaultConfig()
	if cfg.PricesTTL <= 0 {
		cfg.PricesTTL = defaults.PricesTTL
	}
	if cfg.HistoricalTTL <= 0 {
		cfg.HistoricalTTL = 2 * cfg.PricesTTL
	}
	if cfg.CatalogTTL <= 0 {
		cfg.CatalogTTL = defaults.CatalogTTL
	}
	if cfg.HealthTTL <= 0 {
		cfg.HealthTTL = defaults.HealthTTL
	}
	if cfg.StaleGrace <= 0 {
		cfg.StaleGrace = defaults.StaleGrace
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect = defaults.Reconnect
	}
	cfg.Reconnect.Name = "cache_reconnect"

	return &Store{
		redis:  redisClient,
		config: cfg,
		logger: logger.With().Str("component", "cache").Logger(),
		Now:    time.Now,
	}
}

// Config returns the effective store configuration.
func (s *Store) Config() Config {
	return s.config
}

// Connected reports whether the store currently talks to Redis.
func (s *Store) Connected() bool {
	return s.connected.Load()
}

// Connect pings Redis. On failure the store stays usable in no-op mode and a
// background reconnection is started; the returned error wraps
// market.ErrCacheUnavailable.
func (s *Store) Connect(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("%w: no redis client configured", market.ErrCacheUnavailable)
	}

	if err := s.redis.Ping(ctx).Err(); err != nil {
		CacheErrors.WithLabelValues("connect").Inc()
		s.setConnected(false)
		s.logger.Warn().Err(err).Msg("Redis unavailable, cache running in no-op mode")
		s.startReconnect()
		return fmt.Errorf("%w: %v", market.ErrCacheUnavailable, err)
	}

	s.setConnected(true)
	s.logger.Info().Msg("Connected to Redis")
	return nil
}

// Close stops any background reconnection. The Redis client is owned by the caller.
func (s *Store) Close() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Store) setConnected(up bool) {
	s.connected.Store(up)
	if up {
		CacheConnected.Set(1)
	} else {
		CacheConnected.Set(0)
	}
}

// startReconnect runs the reconnection policy once in the background.
func (s *Store) startReconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.reconnecting.Store(false)

		err := retry.Do(ctx, s.config.Reconnect, func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("Redis reconnection gave up, cache stays in no-op mode")
			return
		}

		s.setConnected(true)
		s.logger.Info().Msg("Reconnected to Redis")
	}()
}

// markDown records a failed operation and kicks off reconnection.
func (s *Store) markDown(op string, err error) {
	CacheErrors.WithLabelValues(op).Inc()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	if s.connected.CompareAndSwap(true, false) {
		CacheConnected.Set(0)
		s.logger.Warn().Err(err).Str("operation", op).Msg("Redis operation failed, cache degraded")
		s.startReconnect()
	}
}

// Get retrieves the entry stored under key and decodes its payload into dst.
// Returns ErrCacheMiss if the key doesn't exist, the entry is expired, or the
// store is disconnected. Expired entries stay in Redis for the stale grace
// window and remain readable through GetStale.
func (s *Store) Get(ctx context.Context, key CacheKey, dst any) (*Entry, error) {
	entry, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}

	if entry.IsExpired(s.Now()) {
		CacheMisses.WithLabelValues(string(key.Kind)).Inc()
		return nil, ErrCacheMiss
	}

	if err := entry.decode(dst); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	CacheHits.WithLabelValues(string(key.Kind)).Inc()
	return entry, nil
}

// GetStale decodes the entry under key into dst whether or not it has
// expired. It reports false on a miss, a decode failure, or while disconnected.
func (s *Store) GetStale(ctx context.Context, key CacheKey, dst any) bool {
	entry, err := s.load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn().Err(err).Str("key", key.String()).Msg("Stale cache read failed")
		}
		return false
	}

	if err := entry.decode(dst); err != nil {
		CacheErrors.WithLabelValues("get_stale").Inc()
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("Stale cache read failed")
		return false
	}

	CacheStaleReads.WithLabelValues(string(key.Kind)).Inc()
	s.logger.Debug().
		Str("key", key.String()).
		Dur("age", entry.Age(s.Now())).
		Bool("expired", entry.IsExpired(s.Now())).
		Msg("Served stale cache entry")
	return true
}

// load reads and unwraps the envelope under key without checking expiry.
func (s *Store) load(ctx context.Context, key CacheKey) (*Entry, error) {
	if !s.Connected() {
		CacheMisses.WithLabelValues(string(key.Kind)).Inc()
		s.logger.Warn().Str("key", key.String()).Msg("Cache disconnected, treating as miss")
		return nil, ErrCacheMiss
	}

	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(string(key.Kind)).Inc()
			return nil, ErrCacheMiss
		}
		s.markDown("get", err)
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// Set stores value under key. The entry expires after the kind's TTL and Redis
// keeps it for a further StaleGrace. It is a no-op while disconnected.
func (s *Store) Set(ctx context.Context, key CacheKey, value any) error {
	if !s.Connected() {
		s.logger.Warn().Str("key", key.String()).Msg("Cache disconnected, skipping write")
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache payload: %w", err)
	}

	ttl := s.config.TTL(key.Kind)
	now := s.Now()
	data, err := json.Marshal(Entry{
		Payload:  payload,
		CachedAt: now,
		Expires:  now.Add(ttl),
	})
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, key.String(), data, ttl+s.config.StaleGrace).Err(); err != nil {
		s.markDown("set", err)
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cache entry. It is a no-op while disconnected.
func (s *Store) Delete(ctx context.Context, key CacheKey) error {
	if !s.Connected() {
		s.logger.Warn().Str("key", key.String()).Msg("Cache disconnected, skipping delete")
		return nil
	}

	if err := s.redis.Del(ctx, key.String()).Err(); err != nil {
		s.markDown("delete", err)
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// getTyped decodes a hit into dst and logs non-miss failures.
func (s *Store) getTyped(ctx context.Context, key CacheKey, dst any) bool {
	_, err := s.Get(ctx, key, dst)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache read failed, treating as miss")
	}
	return false
}

func (s *Store) setTyped(ctx context.Context, key CacheKey, value any) {
	if err := s.Set(ctx, key, value); err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache write failed")
	}
}

func (s *Store) deleteTyped(ctx context.Context, key CacheKey) {
	if err := s.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache delete failed")
	}
}

// GetPrices returns the unexpired cached records for a location and date.
func (s *Store) GetPrices(ctx context.Context, location string, date time.Time) ([]market.RawPriceRecord, bool) {
	var records []market.RawPriceRecord
	if !s.getTyped(ctx, PricesKey(location, date), &records) {
		return nil, false
	}
	return records, true
}

// SetPrices caches the records for a location and date.
func (s *Store) SetPrices(ctx context.Context, location string, date time.Time, records []market.RawPriceRecord) {
	s.setTyped(ctx, PricesKey(location, date), records)
}

// DeletePrices drops the cached records for a location and date.
func (s *Store) DeletePrices(ctx context.Context, location string, date time.Time) {
	s.deleteTyped(ctx, PricesKey(location, date))
}

// GetHistorical returns an unexpired cached series.
func (s *Store) GetHistorical(ctx context.Context, product, location string, days int) ([]market.HistoricalPoint, bool) {
	var points []market.HistoricalPoint
	if !s.getTyped(ctx, HistoricalKey(product, location, days), &points) {
		return nil, false
	}
	return points, true
}

// SetHistorical caches a series.
func (s *Store) SetHistorical(ctx context.Context, product, location string, days int, points []market.HistoricalPoint) {
	s.setTyped(ctx, HistoricalKey(product, location, days), points)
}

// DeleteHistorical drops a cached series.
func (s *Store) DeleteHistorical(ctx context.Context, product, location string, days int) {
	s.deleteTyped(ctx, HistoricalKey(product, location, days))
}

// GetLocations returns the cached location catalog.
func (s *Store) GetLocations(ctx context.Context) ([]string, bool) {
	var names []string
	if !s.getTyped(ctx, LocationsKey(), &names) {
		return nil, false
	}
	return names, true
}

// SetLocations caches the location catalog.
func (s *Store) SetLocations(ctx context.Context, names []string) {
	s.setTyped(ctx, LocationsKey(), names)
}

// GetProducts returns the cached product catalog.
func (s *Store) GetProducts(ctx context.Context) ([]string, bool) {
	var names []string
	if !s.getTyped(ctx, ProductsKey(), &names) {
		return nil, false
	}
	return names, true
}

// SetProducts caches the product catalog.
func (s *Store) SetProducts(ctx context.Context, names []string) {
	s.setTyped(ctx, ProductsKey(), names)
}

// GetHealth returns the cached provider health.
func (s *Store) GetHealth(ctx context.Context) (market.HealthStatus, bool) {
	var status market.HealthStatus
	if !s.getTyped(ctx, HealthKey(), &status) {
		return market.HealthStatus{}, false
	}
	return status, true
}

// SetHealth caches the provider health.
func (s *Store) SetHealth(ctx context.Context, status market.HealthStatus) {
	s.setTyped(ctx, HealthKey(), status)
}

// Stats reports connection state, key count and memory usage.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if !s.Connected() {
		return Stats{Connected: false}, nil
	}

	keys, err := s.redis.DBSize(ctx).Result()
	if err != nil {
		s.markDown("stats", err)
		return Stats{Connected: false}, fmt.Errorf("%w: dbsize: %v", market.ErrCacheUnavailable, err)
	}

	stats := Stats{Connected: true, Keys: keys}

	info, err := s.redis.Info(ctx, "memory").Result()
	if err != nil {
		CacheErrors.WithLabelValues("stats").Inc()
		s.logger.Debug().Err(err).Msg("INFO memory unavailable")
		return stats, nil
	}
	stats.UsedMemory = parseUsedMemory(info)

	return stats, nil
}

// parseUsedMemory extracts used_memory from an INFO memory reply.
func parseUsedMemory(info string) int64 {
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		value, ok := strings.CutPrefix(line, "used_memory:")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// ClearAll deletes every key of every kind and returns how many were removed.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	if !s.Connected() {
		return 0, fmt.Errorf("%w: clear requires a connection", market.ErrCacheUnavailable)
	}

	var deleted int64
	for _, kind := range Kinds() {
		iter := s.redis.Scan(ctx, 0, string(kind)+":*", 100).Iterator()
		batch := make([]string, 0, 100)

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n, err := s.redis.Del(ctx, batch...).Result()
			if err != nil {
				return err
			}
			deleted += n
			batch = batch[:0]
			return nil
		}

		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == cap(batch) {
				if err := flush(); err != nil {
					s.markDown("clear", err)
					return deleted, fmt.Errorf("redis del: %w", err)
				}
			}
		}
		if err := iter.Err(); err != nil {
			s.markDown("clear", err)
			return deleted, fmt.Errorf("redis scan: %w", err)
		}
		if err := flush(); err != nil {
			s.markDown("clear", err)
			return deleted, fmt.Errorf("redis del: %w", err)
		}
	}

	s.logger.Info().Int64("deleted", deleted).Msg("Cache cleared")
	return deleted, nil
}
