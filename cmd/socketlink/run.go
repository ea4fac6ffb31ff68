package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/socketlink/internal/config"
	"github.com/rickgao/socketlink/internal/connection"
	"github.com/rickgao/socketlink/internal/database"
	"github.com/rickgao/socketlink/internal/health"
	"github.com/rickgao/socketlink/internal/journal"
	"github.com/rickgao/socketlink/internal/metrics"
	"github.com/rickgao/socketlink/internal/router"
	"github.com/rickgao/socketlink/internal/socketclient"
	"github.com/rickgao/socketlink/internal/version"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the coordinator and relay events until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath)
		},
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting socketlink",
		"version", version.String(),
		"config", configPath,
		"instance_id", cfg.Instance.ID,
		"coordinator", cfg.Socket.ConnectionConfig().Address(),
		"transport", cfg.Socket.Transport,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(cfg.Metrics.Namespace, reg)

	bus := router.NewBus(router.DefaultBusConfig(), logger.With("component", "bus"))
	if err := bus.Start(ctx); err != nil {
		return err
	}

	// Stop the bus before the journal so queued events reach it first.
	var (
		j    *journal.Journal
		pool *pgxpool.Pool
	)
	defer func() {
		stopWithTimeout(logger, "bus", bus.Stop)
		if j != nil {
			stopWithTimeout(logger, "journal", j.Stop)
		}
		if pool != nil {
			pool.Close()
		}
	}()

	if cfg.Journal.Enabled {
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect journal database: %w", err)
		}

		j = journal.New(journal.Config{
			Table:         cfg.Journal.Table,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, mt, logger)
		if err := j.EnsureSchema(ctx); err != nil {
			return err
		}
		j.Attach(bus)
		// Stopped explicitly after the bus drains, not by ctx.
		if err := j.Start(context.Background()); err != nil {
			return err
		}
	}

	client, err := socketclient.New(cfg.Socket, bus, logger, connection.WithMetrics(mt))
	if err != nil {
		return err
	}
	defer client.Close()

	if !client.Init(ctx) {
		return fmt.Errorf("socket client failed to start")
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		addr := ":" + strconv.Itoa(cfg.Metrics.Port)
		srv := health.NewServer(addr, cfg.Metrics.Path, client.Manager(), reg, logger)
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return client.Close()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("socketlink stopped")
	return nil
}

func stopWithTimeout(logger *slog.Logger, name string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Warn("shutdown incomplete", "component", name, "error", err)
	}
}
