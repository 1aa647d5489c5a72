package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/chamelio/chamelio/internal/fingerprint"
)

// Options carry the per-profile launch parameters handed over on the command
// line by the supervisor.
type Options struct {
	ID        string
	Name      string
	Proxy     string
	IngestURL string
	Dir       string
	Log       *slog.Logger
}

// Run drives one profile session: it resolves the profile's fingerprint,
// starts the browser engine and reports heartbeats until ctx is cancelled or
// the engine dies.
func Run(ctx context.Context, opts Options) error {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	if opts.ID == "" || opts.IngestURL == "" || opts.Dir == "" {
		return fmt.Errorf("worker: id, ingest url and profile dir are required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return fmt.Errorf("worker: profile dir: %w", err)
	}

	proxy, err := fingerprint.ParseProxy(opts.Proxy)
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	fp, err := fingerprint.Resolve(ctx, opts.Dir, proxy, false, log)
	if err != nil {
		return fmt.Errorf("worker: fingerprint: %w", err)
	}

	// The engine lives on its own context so a shutdown signal drains the
	// heartbeat loop first and releases the browser last.
	engCtx, engCancel := context.WithCancel(context.Background())
	defer engCancel()
	engine, err := startEngine(engCtx, opts.Dir, proxy, fp, log)
	if err != nil {
		return fmt.Errorf("worker: engine start: %w", err)
	}
	log.Info("engine started", "profile", opts.ID, "name", opts.Name)

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()

	hb := &Heartbeat{
		ProfileID:  opts.ID,
		IngestURL:  opts.IngestURL,
		EngineName: EngineTag,
		CurrentURL: engine.CurrentURL,
		Log:        log,
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hb.Run(hbCtx)
	}()

	<-ctx.Done()
	log.Info("shutting down", "profile", opts.ID)
	hbCancel()
	wg.Wait()
	_ = engine.Close()
	return nil
}

// startEngine is swapped in tests; workers always drive Chrome.
var startEngine = func(ctx context.Context, dir string, proxy *fingerprint.Proxy, fp fingerprint.Fingerprint, log *slog.Logger) (Engine, error) {
	return StartChrome(ctx, dir, proxy, fp, log)
}
