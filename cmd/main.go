package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chain-gateway/accounts"
	"chain-gateway/blocks"
	"chain-gateway/cache"
	"chain-gateway/compat"
	"chain-gateway/config"
	"chain-gateway/db"
	"chain-gateway/delegates"
	"chain-gateway/events"
	"chain-gateway/fees"
	"chain-gateway/handlers"
	"chain-gateway/logger"
	"chain-gateway/metrics"
	"chain-gateway/network"
	"chain-gateway/repository"
	"chain-gateway/routers"
	"chain-gateway/store"
	"chain-gateway/transport"
)

func main() {
	// Load config
	configPath := os.Getenv("GATEWAY_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Println("Config file error:", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}

	logger.Logger.Info("Starting chain gateway...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to LevelDB
	ldb, err := db.NewLevelDB(cfg.LevelDB.Path)
	if err != nil {
		logger.Logger.Fatal("Failed to open leveldb", zap.Error(err))
	}
	defer ldb.Close()
	blockIndex := repository.NewIndexRepository(ldb, "blocks")

	sideCache, err := cache.New(ctx, cfg.Cache.RedisURL, cfg.Cache.TTL)
	if err != nil {
		logger.Logger.Fatal("Failed to create cache", zap.Error(err))
	}
	defer sideCache.Close()

	gdb, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Logger.Fatal("Failed to open database", zap.Error(err))
	}
	accountStore, err := store.NewAccountStore(gdb)
	if err != nil {
		logger.Logger.Fatal("Failed to prepare account store", zap.Error(err))
	}

	// Connect to the core
	epoch, _ := cfg.Core.EpochTime()
	deps := compat.Deps{Epoch: epoch, Keys: accountStore}
	if cfg.Core.HTTPURL != "" {
		httpClient, err := transport.NewHTTPClient(cfg.Core.HTTPURL, cfg.Core.RequestTimeout)
		if err != nil {
			logger.Logger.Fatal("Invalid core HTTP endpoint", zap.Error(err))
		}
		deps.HTTP = httpClient
	}
	if cfg.Core.WSURL != "" {
		wsClient, err := transport.DialWS(ctx, cfg.Core.WSURL)
		if err != nil {
			logger.Logger.Warn("Core websocket unavailable, continuing over HTTP", zap.Error(err))
		} else {
			defer wsClient.Close()
			deps.WS = wsClient
		}
	}

	nodeVersion, err := compat.ProbeVersion(ctx, deps)
	if err != nil {
		logger.Logger.Fatal("Failed to read core version", zap.Error(err))
	}
	version, err := compat.Resolve(nodeVersion)
	if err != nil {
		logger.Logger.Fatal("Unsupported core version", zap.String("version", nodeVersion), zap.Error(err))
	}
	adapter, err := compat.New(version, deps)
	if err != nil {
		logger.Logger.Fatal("Failed to create adapter", zap.Error(err))
	}
	logger.Logger.Info("Resolved core protocol",
		zap.String("node_version", nodeVersion), zap.String("protocol", version.String()))

	// Services
	tracker := blocks.NewTracker(adapter, blockIndex, cfg.Blocks.ConfirmationDepth)
	engine := delegates.NewEngine(adapter, tracker, sideCache, cfg.Delegates.MaxCount)
	accountService := accounts.NewService(adapter, accountStore)
	engine.OnReload(accountService.IndexDelegates)
	estimator := fees.NewEstimator(tracker, adapter, version.Capabilities(), fees.Config{
		QuickAlgorithmEnabled: cfg.Fees.QuickAlgorithmEnabled,
		FullAlgorithmEnabled:  cfg.Fees.FullAlgorithmEnabled,
		BatchSize:             cfg.Fees.BatchSize,
		EMADecay:              cfg.Fees.EMADecay,
		LowerPercentile:       cfg.Fees.LowerPercentile,
		UpperPercentile:       cfg.Fees.UpperPercentile,
		FullnessThreshold:     cfg.Fees.FullnessThreshold,
		MaxPayloadLength:      cfg.Fees.MaxPayloadLength,
	})

	// Events
	dispatcher := events.NewDispatcher()
	hub := handlers.NewHub()
	defer hub.Close()
	if err := hub.Attach(dispatcher); err != nil {
		logger.Logger.Fatal("Failed to attach websocket hub", zap.Error(err))
	}
	gatewayMetrics := metrics.New()
	if err := gatewayMetrics.Attach(dispatcher); err != nil {
		logger.Logger.Fatal("Failed to attach metrics", zap.Error(err))
	}
	if err := dispatcher.Init(ctx, adapter, events.Services{Tracker: tracker, Engine: engine, Fees: estimator}); err != nil {
		logger.Logger.Fatal("Failed to subscribe to core events", zap.Error(err))
	}

	if err := tracker.UpdateFinalizedHeight(ctx); err != nil {
		logger.Logger.Warn("Initial status fetch failed", zap.Error(err))
	}
	if err := engine.Reload(ctx); err != nil {
		logger.Logger.Warn("Initial delegate load failed", zap.Error(err))
	}
	go dispatcher.RunRefresh(ctx, cfg.Delegates.RefreshInterval)

	// Initialize HTTP handlers
	h := &handlers.Handler{
		Blocks:    tracker,
		Accounts:  accountService,
		Delegates: engine,
		Network:   network.NewService(adapter, tracker),
		Fees:      estimator,
	}

	// Setup router
	r := mux.NewRouter()
	r.Use(gatewayMetrics.Middleware)
	r.Handle("/metrics", gatewayMetrics.Handler()).Methods("GET")
	routers.RegisterRoutes(r, h, hub)

	// HTTP Server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error("Server stopped", zap.Error(err))
			stop()
		}
	}()

	logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	<-ctx.Done()
	logger.Logger.Info("Shutdown signal received, exiting...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Warn("Graceful shutdown failed", zap.Error(err))
	}
	dispatcher.Wait()
	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.Close()
	}
}
