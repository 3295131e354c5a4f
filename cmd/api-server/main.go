package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	apphttp "github.com/gridwatt/market-indexer/pkg/app/http"
	"github.com/gridwatt/market-indexer/pkg/config"
	"github.com/gridwatt/market-indexer/pkg/marketstore"
	"github.com/gridwatt/market-indexer/pkg/money"
	"github.com/gridwatt/market-indexer/pkg/pgutil"
	"github.com/gridwatt/market-indexer/pkg/query"
	"github.com/gridwatt/market-indexer/pkg/zones"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "api-server: %v\n", err)
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

	logger.Info("Starting marketplace read API",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

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

	rate, err := money.NewRate(cfg.Display.RateNum, cfg.Display.RateDen)
	if err != nil {
		return fmt.Errorf("invalid display rate: %w", err)
	}
	rates := money.NewStaticRateSource(rate, cfg.Display.Currency)

	store := marketstore.NewStore(db)
	service := query.NewService(store, rates, cfg.Display.Decimals, logger)

	if cfg.ZonesFile != "" {
		zs, err := zones.Load(cfg.ZonesFile)
		switch {
		case err == nil:
			service.UseZones(zs)
			logger.Info("Loaded zone reference file",
				zap.String("path", cfg.ZonesFile),
				zap.Int("zones", len(zs)))
		case errors.Is(err, os.ErrNotExist):
			logger.Info("No zone reference file, using seeded table",
				zap.String("path", cfg.ZonesFile))
		default:
			return fmt.Errorf("failed to load zones: %w", err)
		}
	}

	router := query.NewRouter(service, logger)
	return apphttp.ServeAndWait(ctx, router, logger, &cfg.Server)
}
