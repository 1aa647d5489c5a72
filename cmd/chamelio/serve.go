package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chamelio/chamelio"
)

// createServeCommand creates the serve subcommand.
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the chamelio daemon",
		Long: `Start the daemon: profile API, worker supervisor, heartbeat ingest and
observer push channels.

Examples:
  chamelio serve                    # defaults, sqlite registry under ./data
  chamelio serve config.toml
  chamelio serve --config=config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServeCommand(configPath)
		},
	}
}

func runServeCommand(configPath string) error {
	cfg, err := chamelio.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := chamelio.NewLogger(cfg.LogLevel)

	daemon, err := chamelio.NewDaemon(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return daemon.Shutdown(shutdownCtx)
}
