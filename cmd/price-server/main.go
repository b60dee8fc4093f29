package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/mandi-prices/pkg/cache"
	"github.com/Sternrassler/mandi-prices/pkg/config"
	"github.com/Sternrassler/mandi-prices/pkg/discovery"
	"github.com/Sternrassler/mandi-prices/pkg/estimator"
	"github.com/Sternrassler/mandi-prices/pkg/fallback"
	"github.com/Sternrassler/mandi-prices/pkg/logging"
	"github.com/Sternrassler/mandi-prices/pkg/source"
	"github.com/Sternrassler/mandi-prices/pkg/warmer"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := logging.Setup(cfg.LoggingConfig())
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis is optional at startup; the store reconnects in the background.
	redisClient := redis.NewClient(cfg.RedisOptions())
	defer redisClient.Close()

	store := cache.New(redisClient, cfg.CacheConfig(), logging.NewLogger("cache"))
	if err := store.Connect(ctx); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Starting in degraded mode without cache")
	} else {
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}
	defer store.Close()

	srcCfg := cfg.SourceConfig()
	src, err := source.New(srcCfg, logging.NewLogger("source"))
	if err != nil {
		return fmt.Errorf("create market data source: %w", err)
	}

	var ai estimator.AI
	if cfg.AI.Enabled {
		httpAI, err := estimator.NewHTTPAI(cfg.AIConfig(), logging.NewLogger("ai"))
		if err != nil {
			return fmt.Errorf("create ai client: %w", err)
		}
		ai = httpAI
	}

	reads := fallback.New(src, store, logging.NewLogger("fallback"))
	reads.FetchTimeout = srcCfg.HTTP.FetchBudget()
	est := estimator.New(ai, logging.NewLogger("estimator"))
	engine := discovery.New(reads, est, cfg.EngineConfig(), logging.NewLogger("discovery"))
	defer engine.Close()

	if cfg.Warmer.Enabled {
		w := warmer.New(reads, cfg.WarmerConfig(), logging.NewLogger("warmer"))
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start warmer: %w", err)
		}
		defer w.Stop()

		if cfg.Warmer.RunOnStart {
			go func() {
				if _, err := w.Run(ctx); err != nil {
					logger.Warn().Err(err).Msg("Initial warm-up failed")
				}
			}()
		}
	}

	srv := &server{
		engine:         engine,
		reads:          reads,
		store:          store,
		estimator:      est,
		logger:         logging.NewLogger("api"),
		requestTimeout: cfg.Server.RequestTimeout,
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", httpServer.Addr).
			Str("source", src.Name()).
			Bool("ai_enabled", cfg.AI.Enabled).
			Bool("warmer_enabled", cfg.Warmer.Enabled).
			Msg("Starting price server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down price server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
