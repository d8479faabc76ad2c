package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leafsii/combined-position/internal/allowance"
	"github.com/leafsii/combined-position/internal/api"
	"github.com/leafsii/combined-position/internal/catalog"
	"github.com/leafsii/combined-position/internal/config"
	"github.com/leafsii/combined-position/internal/jobs"
	"github.com/leafsii/combined-position/internal/log"
	"github.com/leafsii/combined-position/internal/metrics"
	"github.com/leafsii/combined-position/internal/prices"
	"github.com/leafsii/combined-position/internal/prices/binance"
	"github.com/leafsii/combined-position/internal/prices/mock"
	"github.com/leafsii/combined-position/internal/quotes"
	"github.com/leafsii/combined-position/internal/repository"
	"github.com/leafsii/combined-position/internal/session"
	"github.com/leafsii/combined-position/internal/store"
	"github.com/leafsii/combined-position/internal/transact"
	"github.com/leafsii/combined-position/internal/ws"
	"github.com/leafsii/combined-position/pkg/kv"
	"go.uber.org/zap"

	_ "github.com/leafsii/combined-position/pkg/kv/memory"
	_ "github.com/leafsii/combined-position/pkg/kv/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env, log.Options{File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting combined position API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"kvBackend", cfg.Storage.KVBackend,
		"priceProvider", cfg.Prices.Provider,
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("combined-position-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Setup cache (redis with in-memory failover, or memory only)
	kvStore, err := kv.NewStoreFromConfig(kv.Config{
		Backend:  kv.Backend(cfg.Storage.KVBackend),
		RedisURL: cfg.Storage.RedisURL,
		Logger:   logger.Infow,
	})
	if err != nil {
		logger.Fatalw("Failed to setup kv store", "error", err)
	}
	cache := store.NewCache(kvStore, logger, metricsObj)
	defer cache.Close()

	if err := cache.Ping(ctx); err != nil {
		logger.Warnw("Cache ping failed", "error", err)
	}

	// Vault catalog
	cat, err := catalog.Load(cfg.Chains.CatalogPath)
	if err != nil {
		logger.Fatalw("Failed to load vault catalog", "path", cfg.Chains.CatalogPath, "error", err)
	}
	logger.Infow("Vault catalog loaded",
		"chains", len(cat.Chains()),
		"tokens", len(cat.Tokens()),
		"vaults", len(cat.Vaults("")),
	)

	// Route discovery and quoting
	transactClient := transact.NewClient(cfg.Chains.TransactAPIURL, cat, logger)

	// On-chain allowance checks
	callers, closeChains, err := allowance.DialChains(ctx, cfg.Chains.RPCURLs)
	if err != nil {
		logger.Fatalw("Failed to dial chain RPC endpoints", "error", err)
	}
	defer closeChains()
	allowanceReader := allowance.NewChainReader(callers, cache, cfg.Chains.AllowanceTTL, logger)
	allowances := allowance.NewAggregator(allowanceReader, logger)

	// Prices
	oracle := prices.NewOracle(
		prices.NewRegistry(cat.Tokens()),
		newPriceProvider(cfg, logger),
		cache,
		oracleConfig(cfg, logger),
		logger,
	)

	// Quote run history
	recorder, err := repository.NewRecorder(ctx, cfg.Storage.PostgresDSN, logger)
	if err != nil {
		logger.Fatalw("Failed to initialize quote run history", "error", err)
	}
	defer recorder.Close()

	// Sessions
	sessions := session.NewManager(
		quotes.Deps{
			Catalog:    cat,
			Routes:     transactClient,
			Quotes:     transactClient,
			Prices:     oracle,
			Allowances: allowances,
			Metrics:    metricsObj,
		},
		cache,
		recorder,
		session.Config{
			TTL:            cfg.Sessions.TTL,
			RequoteSettle:  cfg.Quotes.RequoteSettle,
			RequoteMaxWait: cfg.Quotes.RequoteMaxWait,
			Quotes: quotes.Config{
				ReadinessTimeout:          cfg.Quotes.ReadinessTimeout,
				AllowIncompatibleFallback: cfg.Quotes.IncompatibleFallback,
			},
		},
		logger,
	)

	// Setup WebSocket hub and SSE handler
	wsHub := ws.NewHub(cfg.Security.CORSAllowedOrigins, logger, metricsObj)
	sseHandler := ws.NewSSEHandler(cfg.Security.CORSAllowedOrigins, logger)

	// Create context for background services
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	hubDone := make(chan struct{})
	go func() {
		wsHub.Run(bgCtx)
		close(hubDone)
	}()

	warmer := jobs.NewPriceWarmer(oracle, logger, jobs.PriceWarmerConfig{
		Interval: cfg.Prices.RefreshInterval,
	})
	go func() {
		if err := warmer.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("Price warmer error", "error", err)
		}
	}()

	// Setup API handler and middleware
	handler := api.NewHandler(sessions, cat, oracle, recorder, wsHub, sseHandler,
		map[string]api.Pinger{
			"cache":    cache,
			"database": recorder,
		},
		logger,
	)
	middleware := api.NewMiddleware(logger, metricsObj)
	router := handler.Routes(middleware, metricsHandler, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM)

	// Log configured CORS origins for easier debugging in dev
	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// No WriteTimeout: stream endpoints stay open, the others run under the
	// router's request timeout.
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		bgCancel()
		<-hubDone
		sseHandler.Close()
		warmer.Stop()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		sessions.Shutdown()
		logger.Infow("Server stopped")
	}
}

func newPriceProvider(cfg *config.Config, logger *zap.SugaredLogger) prices.Provider {
	if cfg.Prices.Provider == "mock" {
		return mock.NewGenerator(logger, cfg.Prices.MockBasePrice, cfg.Prices.MockVolatility)
	}
	return binance.NewProvider(cfg.Prices.BinanceURL, logger)
}

// oracleConfig falls back to generated prices in dev so the panel stays
// usable without exchange access.
func oracleConfig(cfg *config.Config, logger *zap.SugaredLogger) prices.OracleConfig {
	oc := prices.OracleConfig{TTL: cfg.Prices.TTL}
	if cfg.IsDev() && cfg.Prices.Provider != "mock" {
		oc.Fallback = mock.NewGenerator(logger, cfg.Prices.MockBasePrice, cfg.Prices.MockVolatility)
	}
	return oc
}
