package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gridwatt/market-indexer/pkg/chain"
	"github.com/gridwatt/market-indexer/pkg/config"
	"github.com/gridwatt/market-indexer/pkg/events"
	"github.com/gridwatt/market-indexer/pkg/marketstore"
	"github.com/gridwatt/market-indexer/pkg/pgutil"
	"github.com/gridwatt/market-indexer/pkg/reconciler"
	"github.com/gridwatt/market-indexer/pkg/syncer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "indexer: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting marketplace indexer",
		zap.String("config", configPath),
		zap.String("contract", cfg.Chain.MarketplaceContract),
		zap.Int64("chain_id", cfg.Chain.ChainID))

	// Shutdown lands between cycles: cancelling the context stops the loop
	// after the in-flight batch commits or aborts atomically.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	logger.Info("Connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database))

	store := marketstore.NewStore(db)

	decoder, err := events.NewDecoder()
	if err != nil {
		return err
	}

	reader, err := chain.NewClient(&cfg.Chain, decoder.Topics(), logger)
	if err != nil {
		return fmt.Errorf("failed to create chain client: %w", err)
	}
	defer reader.Close()

	engine := reconciler.New(logger, cfg.Indexer.ListingWindow.Std(), cfg.Indexer.EventRetries)
	scheduler := syncer.New(logger, reader, decoder, engine, store, &cfg.Indexer, cfg.Chain.StartBlock)

	if cfg.Monitoring.Enabled {
		metricsSrv := startMetricsServer(cfg.Monitoring, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Indexer stopped")
	return nil
}

func startMetricsServer(cfg config.MonitoringConfig, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Metrics server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()
	return srv
}
