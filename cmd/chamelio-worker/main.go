package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chamelio/chamelio/internal/logger"
	"github.com/chamelio/chamelio/internal/worker"
)

// workerFlags are set by the supervisor when it spawns this binary.
type workerFlags struct {
	ID       string
	Name     string
	Proxy    string
	Ingest   string
	Dir      string
	LogLevel string
}

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	flags := &workerFlags{}
	root := &cobra.Command{
		Use:   "chamelio-worker",
		Short: "Single browser profile session worker",
		Long: `Runs one browser session for one profile: applies the profile's stored
fingerprint and proxy, then reports heartbeats to the daemon until terminated.
Normally spawned by the chamelio daemon, not invoked by hand.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}
	root.Flags().StringVar(&flags.ID, "id", "", "profile id (required)")
	root.Flags().StringVar(&flags.Name, "name", "", "profile name")
	root.Flags().StringVar(&flags.Proxy, "proxy", "", "proxy URL")
	root.Flags().StringVar(&flags.Ingest, "ingest", "", "heartbeat websocket URL (required)")
	root.Flags().StringVar(&flags.Dir, "dir", "", "profile user-data directory (required)")
	root.Flags().StringVar(&flags.LogLevel, "log-level", "info", "log level")
	for _, name := range []string{"id", "ingest", "dir"} {
		if err := root.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
	return root
}

func run(flags *workerFlags) error {
	log := logger.New(logger.ParseLevel(flags.LogLevel)).With("profile", flags.ID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return worker.Run(ctx, worker.Options{
		ID:        flags.ID,
		Name:      flags.Name,
		Proxy:     flags.Proxy,
		IngestURL: flags.Ingest,
		Dir:       flags.Dir,
		Log:       log,
	})
}
