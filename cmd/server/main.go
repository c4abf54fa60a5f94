package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/web3-frozen/chain-tvl/internal/cache"
	"github.com/web3-frozen/chain-tvl/internal/config"
	"github.com/web3-frozen/chain-tvl/internal/dashboard"
	"github.com/web3-frozen/chain-tvl/internal/handler"
	"github.com/web3-frozen/chain-tvl/internal/llama"
	"github.com/web3-frozen/chain-tvl/internal/middleware"
	"github.com/web3-frozen/chain-tvl/internal/store"
)

const historyRetention = 2 * 365 * 24 * time.Hour

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected and migrated")

	// Redis snapshot cache (retry up to 30s for ExternalSecret to sync)
	var snapCache *cache.Cache
	for i := 0; i < 6; i++ {
		snapCache, err = cache.New(cfg.RedisURL, cfg.RedisPassword, cfg.CacheTTL)
		if err == nil {
			break
		}
		logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
		time.Sleep(5 * time.Second)
	}

	readyDeps := []handler.Pinger{db}
	var engineCache dashboard.SnapshotCache
	if err != nil {
		logger.Warn("running without redis snapshot cache", "error", err)
	} else {
		defer snapCache.Close()
		engineCache = snapCache
		readyDeps = append(readyDeps, snapCache)
		logger.Info("redis connected for snapshot cache")
	}

	// Upstream client and refresher
	client := llama.NewClient(llama.Endpoints{
		ProtocolsAPI: cfg.ProtocolsAPI,
		ConfigAPI:    cfg.ConfigAPI,
		ChartAPI:     cfg.ChartAPI,
		CoingeckoAPI: cfg.CoingeckoAPI,
	}, cfg.FetchWorkers, logger)
	engine := dashboard.NewEngine(client, engineCache, db, logger, cfg.RefreshCron)

	go func() {
		if err := engine.Run(ctx); err != nil {
			logger.Error("refresher stopped", "error", err)
			os.Exit(1)
		}
	}()

	// Daily pruning of stored history
	janitor := cron.New()
	_, _ = janitor.AddFunc("@daily", func() {
		n, err := db.CleanupOldSummaries(ctx, historyRetention)
		if err != nil {
			logger.Error("history cleanup failed", "error", err)
			return
		}
		logger.Info("history cleanup", "deleted", n)
	})
	janitor.Start()
	defer janitor.Stop()

	imageClient := resty.New().SetTimeout(10 * time.Second)

	// HTTP routes
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(engine, readyDeps...))

	r.Route("/api", func(r chi.Router) {
		r.Get("/chains", handler.Chains(engine))
		r.Get("/chains/stacked", handler.Stacked(engine))
		r.Get("/chains/dominance", handler.Dominance(engine))
		r.Get("/chains/breakdown", handler.Breakdown(engine))
		r.Get("/chains/export.{format}", handler.Export(engine, logger))
		r.Get("/chains/{name}/history", handler.ChainHistory(db))
		r.Get("/airdrops", handler.Airdrops(engine))
		r.Get("/refresh-runs", handler.RefreshRuns(db))
		r.Get("/image", handler.ImageProxy(imageClient, cfg.ImageProxyHosts, logger))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "refresh", engine.Schedule())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
