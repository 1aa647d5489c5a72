// Package chamelio manages a fleet of isolated browser profiles: a persistent
// registry, a supervisor that runs one worker process per profile, a heartbeat
// ingest channel and an observer push channel.
package chamelio

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/chamelio/chamelio/internal/config"
	"github.com/chamelio/chamelio/internal/hub"
	"github.com/chamelio/chamelio/internal/logger"
	"github.com/chamelio/chamelio/internal/metrics"
	"github.com/chamelio/chamelio/internal/registry"
	"github.com/chamelio/chamelio/internal/registry/factory"
	"github.com/chamelio/chamelio/internal/server"
	"github.com/chamelio/chamelio/internal/supervisor"
)

// Re-exported registry types for embedders.
type (
	Profile = registry.Profile
	Update  = registry.Update
	Store   = registry.Store
	Result  = supervisor.Result
	Config  = config.FileConfig
)

var (
	ErrNotFound      = registry.ErrNotFound
	ErrDuplicateName = registry.ErrDuplicateName
)

// LoadConfig reads a TOML config file and applies defaults.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// NewStore opens a profile registry from a DSN (sqlite path, sqlite:// or
// postgres:// URL).
func NewStore(dsn string) (Store, error) {
	return factory.NewFromDSN(dsn)
}

// NewLogger builds the process logger for the given level string.
func NewLogger(level string) *slog.Logger {
	return logger.New(logger.ParseLevel(level))
}

// Daemon bundles the registry, supervisor, hub and HTTP server into one
// runnable unit.
type Daemon struct {
	Store      Store
	Supervisor *supervisor.Supervisor
	Hub        *hub.Hub

	cfg    Config
	log    *slog.Logger
	server *http.Server
}

// NewDaemon wires a daemon from config. The registry schema is ensured and
// metrics collectors registered; nothing listens until Start.
func NewDaemon(cfg Config, log *slog.Logger) (*Daemon, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	store, err := factory.NewFromDSN(cfg.RegistryDSN)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(context.Background()); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := metrics.RegisterDefault(); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	sup := supervisor.New(store, supervisor.Config{
		WorkerBin:   cfg.WorkerBin,
		ProfilesDir: cfg.ProfilesDir,
		IngestURL:   cfg.IngestURL,
		StopGrace:   cfg.StopGrace,
		WorkerLog:   cfg.WorkerLog,
	}, log)

	return &Daemon{
		Store:      store,
		Supervisor: sup,
		Hub:        hub.New(log),
		cfg:        cfg,
		log:        log,
	}, nil
}

// Start reconciles stale registry rows, launches the periodic sweep and
// begins serving HTTP on the configured listen address.
func (d *Daemon) Start(ctx context.Context) error {
	d.Supervisor.ReconcileOnce(ctx)
	d.Supervisor.StartReconciler(ctx, d.cfg.ReconcileInterval)

	router := server.NewRouter(d.Store, d.Supervisor, d.Hub, d.cfg.StaticDir, d.log)
	d.server = server.NewServer(d.cfg.Listen, router)
	d.log.Info("listening", "addr", d.cfg.Listen)
	return nil
}

// Shutdown stops background work and the HTTP listener. Running workers are
// left alone; the next start reconciles them.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.Supervisor.Shutdown()
	var err error
	if d.server != nil {
		err = d.server.Shutdown(ctx)
	}
	if cerr := d.Store.Close(); err == nil {
		err = cerr
	}
	return err
}
