package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/toolrunner/internal/config"
	"github.com/haasonsaas/toolrunner/internal/edge"
	"github.com/haasonsaas/toolrunner/internal/job"
	"github.com/haasonsaas/toolrunner/internal/observability"
	"github.com/haasonsaas/toolrunner/internal/runner"
	"github.com/haasonsaas/toolrunner/internal/tools/sandbox"
	"github.com/haasonsaas/toolrunner/internal/web"
)

// telemetry bundles the per-process observability plumbing.
type telemetry struct {
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	registry *prometheus.Registry
	shutdown func(context.Context) error
}

func newTelemetry(cfg *config.Config, service string) *telemetry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    service,
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	return &telemetry{
		logger: observability.NewLogger(observability.LogConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: os.Stderr,
		}).WithFields("service", service),
		metrics:  observability.NewMetrics(registry),
		tracer:   tracer,
		registry: registry,
		shutdown: shutdown,
	}
}

func (t *telemetry) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.shutdown(ctx); err != nil {
		t.logger.Warn(ctx, "tracer shutdown failed", "error", err)
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// buildGuardCmd creates the "guard" command, the edge authorizer.
func buildGuardCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "guard",
		Short: "Run the edge guard",
		Long: `Run the edge guard.

The guard authenticates callers, checks the agent/chat allowlist, validates
arguments and forwards each call to the runner with a policy derived from
the tool and its arguments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuard(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON config file (optional)")
	return cmd
}

func runGuard(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateGuard(); err != nil {
		return err
	}
	allowlist, err := config.LoadAllowlist(cfg.Guard.AllowlistPath)
	if err != nil {
		return err
	}

	tel := newTelemetry(cfg, "toolrunner-guard")
	defer tel.close()

	server := edge.NewServer(edge.Config{
		Version:       version,
		Token:         cfg.Guard.Token,
		RunnerURL:     cfg.Guard.RunnerURL,
		RunnerToken:   cfg.Guard.RunnerToken,
		RunnerTimeout: cfg.Guard.RunnerTimeout,
	}, allowlist, edge.Options{
		Logger:   tel.logger,
		Metrics:  tel.metrics,
		Tracer:   tel.tracer,
		Gatherer: tel.registry,
	})

	ctx, cancel := signalContext(parent)
	defer cancel()
	tel.logger.Info(ctx, "starting guard",
		"addr", cfg.Guard.ListenAddr,
		"runner_url", cfg.Guard.RunnerURL,
		"allowed_pairs", allowlist.Len(),
	)
	return web.Serve(ctx, cfg.Guard.ListenAddr, server.Handler(), tel.logger)
}

// buildRunnerCmd creates the "runner" command, the orchestrator.
func buildRunnerCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "runner",
		Short: "Run the tool runner",
		Long: `Run the tool runner.

The runner re-validates every call, derives a clamped policy and executes
the tool in a fresh isolation unit that is removed afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunner(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON config file (optional)")
	return cmd
}

func runRunner(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateRunner(); err != nil {
		return err
	}

	tel := newTelemetry(cfg, "toolrunner-runner")
	defer tel.close()

	launcher := &sandbox.Launcher{
		Runtime: sandbox.DockerRuntime{Binary: cfg.Runner.DockerBinary},
		Logger:  tel.logger.WithFields("component", "launcher"),
		Metrics: tel.metrics,
		Tracer:  tel.tracer,
	}
	server := runner.NewServer(runner.Config{
		Version:        version,
		Token:          cfg.Runner.Token,
		WorkspacesRoot: cfg.Runner.WorkspacesRoot,
		JobImage:       cfg.Runner.JobImage,
		JobBinary:      cfg.Runner.JobBinary,
		NetworkName:    cfg.Runner.NetworkName,
	}, launcher, runner.Options{
		Logger:   tel.logger,
		Metrics:  tel.metrics,
		Tracer:   tel.tracer,
		Gatherer: tel.registry,
	})

	ctx, cancel := signalContext(parent)
	defer cancel()
	tel.logger.Info(ctx, "starting runner",
		"addr", cfg.Runner.ListenAddr,
		"image", cfg.Runner.JobImage,
		"network", cfg.Runner.NetworkName,
		"workspaces_root", cfg.Runner.WorkspacesRoot,
	)
	return web.Serve(ctx, cfg.Runner.ListenAddr, server.Handler(), tel.logger)
}

// buildJobCmd creates the "job" command, the executor that runs inside an
// isolation unit. Its stdout carries exactly one result object and its exit
// status encodes the outcome, so it never returns an error to cobra.
func buildJobCmd() *cobra.Command {
	var request string
	cmd := &cobra.Command{
		Use:    "job",
		Short:  "Execute one encoded tool request (inside an isolation unit)",
		Hidden: true,
		Args:   cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signalContext(cmd.Context())
			code := (&job.Executor{
				Root:  job.DefaultRoot,
				Out:   cmd.OutOrStdout(),
				Stdin: cmd.InOrStdin(),
			}).Run(ctx, request)
			cancel()
			os.Exit(code)
		},
	}
	cmd.Flags().StringVar(&request, "request", "", `Encoded request, or "-" to read it from stdin`)
	return cmd
}
