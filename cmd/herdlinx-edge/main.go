package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	corecfg "github.com/herdlinx-lab/herdlinx/internal/core/config"
	"github.com/herdlinx-lab/herdlinx/internal/core/storage/sqlite"
	"github.com/herdlinx-lab/herdlinx/internal/ingestion"
	edgemigrations "github.com/herdlinx-lab/herdlinx/internal/migrations/edge"
	"github.com/herdlinx-lab/herdlinx/internal/server"
	"github.com/herdlinx-lab/herdlinx/internal/sync"
)

func main() {
	configPath := flag.String("config", "herdlinx.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateEdge(); err != nil {
		slog.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Storage (SQLite ledger)
	ledger, err := sqlite.NewAdapter(cfg.Ledger.Path)
	if err != nil {
		slog.Error("Failed to initialize ledger", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	// 2.1. Run Database Migrations
	if err := edgemigrations.RunMigrations(ledger.DB(), cfg.Ledger.AutoMigrate); err != nil {
		slog.Error("Failed to run ledger migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Ingestion (raw payloads + manual events)
	ingestionSvc := ingestion.NewService(ledger, ledger, ledger, cfg.Server.MaxBodySizeMB)

	// 4. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), ledger.DB(), cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)

	// 5. Start Services
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Sync.Enabled {
		interval, err := cfg.Sync.EffectiveInterval()
		if err != nil {
			slog.Error("Invalid sync.interval", "value", cfg.Sync.Interval, "error", err)
			os.Exit(1)
		}
		timeout, err := cfg.Sync.EffectiveRequestTimeout()
		if err != nil {
			slog.Error("Invalid sync.request_timeout", "value", cfg.Sync.RequestTimeout, "error", err)
			os.Exit(1)
		}

		client := sync.NewClient(ledger, ledger, cfg.Sync.APIBaseURL, cfg.Sync.APIKey, cfg.Sync.Tenant, cfg.Sync.BatchSize, timeout)
		scheduler := sync.NewScheduler(client, ledger, interval)
		scheduler.RegisterRoutes(srv.Engine)

		g.Go(func() error {
			return scheduler.Start(ctx)
		})
	} else {
		slog.Info("Sync disabled by config, running in capture-only mode")
	}

	g.Go(func() error {
		return srv.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Edge gateway stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
