// Command agentgridd runs an AgentGrid orchestrator as a long-lived daemon
// exposing liveness, readiness, and Prometheus metrics endpoints.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentgrid/agentgrid"
	"github.com/agentgrid/agentgrid/config"
	"github.com/agentgrid/agentgrid/logging"
	"github.com/agentgrid/agentgrid/metrics"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "agentgridd",
		Short:        "AgentGrid orchestration daemon",
		Long:         "agentgridd hosts an AgentGrid orchestrator and serves its health and metrics endpoints.",
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newValidateCmd(&configPath))

	return cmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if *configPath == "" {
				return fmt.Errorf("--config is required")
			}
			if _, err := config.Load(*configPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := buildLogger(cfg.Logging)

	collector := metrics.NewCollector()

	orch := agentgrid.New(func(o *agentgrid.Options) {
		o.Config = cfg
		o.Logger = logger
		o.Metrics = collector
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer orch.Stop()

	srv := newServer(cfg, orch, collector, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.run(ctx) }()

	logger.Info("agentgridd started", "addr", cfg.Server.Addr, "version", version)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return srv.shutdown(cfg.Server.ShutdownTimeout.Std())
	case err := <-errCh:
		return err
	}
}

func buildLogger(cfg config.LoggingConfig) logging.Logger {
	return logging.NewSlogLogger(logging.ParseLevel(cfg.Level), cfg.Format, false)
}
