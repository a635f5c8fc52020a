// cmd/dispatch-server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"agent-dispatch/internal/common/config"
	"agent-dispatch/internal/common/database"
	"agent-dispatch/internal/common/logger"
	"agent-dispatch/internal/dispatch"
	"agent-dispatch/internal/maps"
	"agent-dispatch/internal/server"
	"agent-dispatch/internal/store"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting dispatch server...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if err := store.EnsureSchema(ctx, pg.DB); err != nil {
		zapLog.Fatal("schema initialization failed", zap.Error(err))
	}

	// --- Init Redis (optional verdict cache) ---
	var redisClient *database.RedisClient
	if cfg.Database.Redis.Enabled() {
		err = retryWithBackoff(func() error {
			var err error
			redisClient, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")

		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redisClient.Close()
		zapLog.Info("Redis connected successfully")
	} else {
		zapLog.Info("Redis not configured, verdict cache disabled")
	}

	// --- Init Elasticsearch (optional search-history sink) ---
	var esClient *database.ElasticsearchClient
	if cfg.Database.Elasticsearch.Enabled() {
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 10, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
	} else {
		zapLog.Info("Elasticsearch not configured, history stays in PostgreSQL only")
	}

	// --- Stores ---
	origins := store.NewOriginStore(pg.DB)
	agents := store.NewAgentStore(pg.DB)
	routeCache := store.NewRouteCacheStore(pg.DB)
	settings := store.NewSettingsStore(pg.DB, cfg.Dispatch)
	history := store.NewHistoryStore(pg.DB, esClient, cfg.Database.Elasticsearch.Index, log)

	// --- Provider ---
	mapsClient := maps.NewClient(cfg.Maps, log)

	// --- Dispatch core ---
	pacing := config.GetDuration(cfg.Dispatch.BatchDelay)
	gate := dispatch.NewCentralGate(origins, mapsClient, cfg.Maps.Country, pacing, log)
	engine := dispatch.NewEngine(
		origins, agents, routeCache, settings, mapsClient, gate,
		dispatch.NewBroadcaster(), cfg.Maps.Country, pacing, log,
	)

	var verdicts *redis.Client
	if redisClient != nil {
		verdicts = redisClient.Client
	}
	ranker := dispatch.NewRanker(
		origins, agents, routeCache, settings, mapsClient, mapsClient, history,
		verdicts, time.Duration(cfg.Dispatch.VerdictCacheTTL)*time.Second, log,
	)
	settingsAdmin := dispatch.NewSettingsAdmin(settings, origins, log)

	// --- HTTP Server ---
	srv := server.New(cfg.App, ranker, engine, mapsClient, settingsAdmin, log)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Millisecond,
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Millisecond)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error during server shutdown", zap.Error(err))
	}

	zapLog.Info("Dispatch server stopped gracefully")
}
