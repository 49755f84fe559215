package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kanaz606/auto-geo/internal/config"
	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/gateway"
	"github.com/kanaz606/auto-geo/internal/indexcheck"
	"github.com/kanaz606/auto-geo/internal/orchestrator"
	"github.com/kanaz606/auto-geo/internal/scheduler"
	"github.com/kanaz606/auto-geo/internal/server"
	"github.com/kanaz606/auto-geo/internal/server/ratelimit"
)

var serveMemory bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, workers and control API",
	Long: `Start the orchestrator: cron jobs scan for due items, workers generate and
publish them, and the control API exposes job configuration, platform
authorization and a live event stream.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "Use an in-memory store instead of Postgres")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, serveMemory)
	if err != nil {
		return err
	}
	defer a.close()

	sessions, err := a.sessions()
	if err != nil {
		return err
	}

	gw, closeGateway, err := gateway.New(ctx, a.cfg.Gateway, a.log)
	if err != nil {
		return err
	}
	defer func() { _ = closeGateway() }()

	opts := []orchestrator.Option{orchestrator.WithLogger(a.log)}
	checker, err := indexcheck.NewChecker(ctx, a.cfg.IndexCheck, a.log)
	if err != nil {
		return err
	}
	if checker != nil {
		opts = append(opts, orchestrator.WithIndexChecker(checker))
	}
	orch, err := orchestrator.New(a.cfg.Orchestrator, a.store, sessions, gw, opts...)
	if err != nil {
		return err
	}
	orch.Start(ctx)
	defer orch.Stop()

	// Items left in flight by a crash are failed before new work is claimed.
	if n, err := orch.Recover(ctx); err != nil {
		a.log.Error("startup recovery failed", "error", err)
	} else if n > 0 {
		a.log.Warn("recovered stale claims", "count", n)
	}

	engine := scheduler.New(a.store,
		scheduler.WithMisfireGrace(a.cfg.Scheduler.MisfireGrace.D()),
		scheduler.WithLogger(a.log),
	)
	registerJobs(engine, orch)
	if _, err := engine.LoadAll(ctx); err != nil {
		return err
	}
	engine.Start(ctx)
	defer engine.Stop()

	srv, err := newControlServer(a, engine, sessions, orch)
	if err != nil {
		a.log.Warn("control API disabled", "reason", err)
		<-ctx.Done()
		return nil
	}
	return srv.Run(ctx)
}

// registerJobs maps job definition keys to orchestrator operations
func registerJobs(engine *scheduler.Engine, orch *orchestrator.Orchestrator) {
	scan := func(fn func(context.Context) (orchestrator.ScanResult, error)) scheduler.Handler {
		return func(ctx context.Context) error {
			_, err := fn(ctx)
			return err
		}
	}
	engine.Handle(db.JobPublish, scan(orch.ScanPublish))
	engine.Handle(db.JobGenerate, scan(orch.ScanGenerate))
	engine.Handle(db.JobMonitor, scan(orch.ScanIndex))
	engine.Handle(db.JobRecover, func(ctx context.Context) error {
		_, err := orch.Recover(ctx)
		return err
	})
}

func newControlServer(a *app, engine *scheduler.Engine, sessions server.Sessions, orch *orchestrator.Orchestrator) (*server.Server, error) {
	jwtConfig, err := config.NewJWTConfig()
	if err != nil {
		return nil, err
	}
	operator, err := config.NewOperatorConfig()
	if err != nil {
		return nil, err
	}
	if !operator.LoginEnabled() {
		a.log.Warn("OPERATOR_PASSWORD_HASH is not set, POST /login is disabled; use 'autogeo token issue'")
	}
	srv, err := server.New(a.cfg.HTTPAddr, server.Deps{
		Store:     a.store,
		Scheduler: engine,
		Sessions:  sessions,
		Generator: orch,
		Events:    a.events,
		Operator:  operator,
		JWT:       jwtConfig,
		Limiter:   ratelimit.NewLimiter(ratelimit.LoadConfig()),
		Logger:    a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	return srv, nil
}
