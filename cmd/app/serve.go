// File: cmd/app/serve.go
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"turnpipe/internal/flow"
	"turnpipe/internal/infra/api"
	pg "turnpipe/internal/infra/db/postgres"
	"turnpipe/internal/infra/logging"
	"turnpipe/internal/infra/metrics"
	"turnpipe/internal/infra/sched"
	"turnpipe/internal/infra/tracing"
	"turnpipe/internal/infra/worker"
)

const shutdownGrace = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job pollers, cron tasks and channel listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] enabled")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, Version, logger)
	if err != nil {
		return err
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(Version, Commit)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	auth := api.NewAuthManager(cfg.HTTP.JWTSecret, cfg.HTTP.JWTIssuer)
	server := api.NewServer(api.Config{
		Addr:           cfg.HTTP.Addr,
		PollSecret:     cfg.HTTP.PollSecret,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		PollTimeout:    cfg.HTTP.PollTimeout,
		PollBudget:     cfg.Pipeline.PollBudget,
	}, api.Deps{
		Monitor:   a.monitor,
		Ingest:    a.ingest,
		Reset:     a.reset,
		Responses: a.responses,
		Flows:     a.flowAdmin,
		Poller:    a.scheduler,
		Health:    a.health,
		Metrics:   metrics.Handler(),
	}, auth, logger)

	cron, err := sched.NewCronRunner(logger,
		sched.MaintenanceTasks(a.maintenance, cfg.Scheduler.StateSweepCron, cfg.Scheduler.OrphanRecoveryInterval)...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(sctx)
	})
	g.Go(func() error {
		worker.NewPool(cfg.Pipeline.Pollers, logger).Pollers(gctx, a.scheduler)
		return nil
	})
	g.Go(func() error { return cron.Run(gctx) })

	if a.pool != nil {
		g.Go(func() error {
			pg.ReportPoolStats(gctx, a.pool, 15*time.Second, logger)
			return nil
		})
	}
	if a.bus != nil {
		g.Go(func() error { return a.bus.Run(gctx, a.resolver.Invalidate) })
	}
	if cfg.Flows.Watch && cfg.Flows.Dir != "" {
		g.Go(func() error { return flow.NewWatcher(cfg.Flows.Dir, a.resolver.Invalidate, logger).Run(gctx) })
	}
	if a.bot != nil {
		g.Go(func() error { return a.bot.StartPolling(gctx) })
	}

	logger.Info().
		Str("version", Version).
		Str("store", cfg.Database.Driver).
		Bool("redis", a.redis != nil).
		Bool("telegram", a.bot != nil).
		Int("pollers", cfg.Pipeline.Pollers).
		Msg("turnpipe started")

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	tctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if terr := shutdownTracing(tctx); terr != nil {
		logger.Warn().Err(terr).Msg("tracing shutdown")
	}
	logger.Info().Msg("turnpipe stopped")
	return err
}
