package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/relay/internal/auth"
	"github.com/haasonsaas/relay/internal/catalog"
	"github.com/haasonsaas/relay/internal/commands"
	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/gateway"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/providers"
	"github.com/haasonsaas/relay/internal/rollout"
	"github.com/haasonsaas/relay/internal/rpc"
	"github.com/haasonsaas/relay/internal/runtime"
	"github.com/haasonsaas/relay/internal/skills"
	"github.com/haasonsaas/relay/internal/state"
	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/internal/usage"
)

const shutdownGrace = 10 * time.Second

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay gateway",
		Long: `Start the relay daemon: the session runtime, provider adapters, and the
websocket JSON-RPC gateway. Shuts down gracefully on SIGINT/SIGTERM or a
client-issued system.shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	var metrics *observability.Metrics
	if cfg.Telemetry.Metrics {
		metrics = observability.NewMetrics()
	}

	var tracer *observability.Tracer
	if cfg.Telemetry.TraceEndpoint != "" {
		t, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:    "relay",
			ServiceVersion: version,
			Endpoint:       cfg.Telemetry.TraceEndpoint,
			SamplingRate:   cfg.Telemetry.SampleRate,
			EnableInsecure: cfg.Telemetry.TraceInsecure,
		})
		tracer = t
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = shutdown(flushCtx)
		}()
	}

	store, err := state.NewStore(cfg.State.Dir)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	rollouts, err := rollout.NewStore(store.RolloutsDir())
	if err != nil {
		return fmt.Errorf("rollout store: %w", err)
	}

	modelCatalog := catalog.New()

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, time.Now); err != nil {
		return fmt.Errorf("builtin tools: %w", err)
	}
	toolRun := tools.NewLocalRuntime(registry, slog.Default(), tools.RuntimeOptions{
		ValidateArgs: cfg.Tools.ValidateArgsEnabled(),
		ExecTimeout:  cfg.Tools.ExecTimeout,
	})

	skillManager := skills.NewManager(cfg.Skills.Dirs, logger)
	defer skillManager.Close()

	authService := auth.NewService(store, logger)

	rt, err := runtime.New(runtime.Options{
		State:    store,
		Catalog:  modelCatalog,
		Rollouts: rollouts,
		Tools:    registry,
		ToolRun:  toolRun,
		Adapters: []providers.Adapter{
			providers.NewPrimaryAdapter(cfg.Providers.Primary.BaseURL, logger),
			providers.NewSecondaryAdapter(logger),
			providers.NewRouterAdapter(cfg.Providers.Router.BaseURL, logger),
		},
		Auth:    authService,
		Skills:  skillManager,
		Usage:   usage.NewTracker(),
		Metrics: metrics,
		Tracer:  tracer,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}

	commandRegistry := commands.NewRegistry()
	if err := commands.RegisterBuiltins(commandRegistry, rt); err != nil {
		return fmt.Errorf("commands: %w", err)
	}

	router := rpc.NewRouter(rt, commandRegistry, rpc.Options{
		StrictProtocol: cfg.Server.StrictProtocol,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
	})
	server := gateway.NewServer(rt, router, gateway.Options{
		Listen:        cfg.Server.Listen,
		EnableMetrics: cfg.Telemetry.Metrics,
		Logger:        logger,
		Metrics:       metrics,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Skills.Watch {
		if err := skillManager.StartWatching(ctx); err != nil {
			logger.Warn(ctx, "skills watcher unavailable", "error", err.Error())
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "gateway listening", "addr", cfg.Server.Listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info(context.Background(), "signal received, shutting down")
	case <-rt.ShutdownRequested():
		logger.Info(context.Background(), "shutdown requested by client")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := rt.Shutdown(stopCtx); err != nil {
		logger.Warn(stopCtx, "runtime shutdown incomplete", "error", err.Error())
	}
	if err := server.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return nil
}
