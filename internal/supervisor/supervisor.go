package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/chamelio/chamelio/internal/fingerprint"
	"github.com/chamelio/chamelio/internal/logger"
	"github.com/chamelio/chamelio/internal/metrics"
	"github.com/chamelio/chamelio/internal/registry"
)

// ErrLaunchFailure wraps spawn errors (worker binary missing, resource
// exhaustion). The registry is left at stopped when it occurs.
var ErrLaunchFailure = errors.New("worker launch failed")

// Operation outcomes reported to the API caller.
const (
	StatusLaunched       = "launched"
	StatusAlreadyRunning = "already_running"
	StatusStopped        = "stopped"
	StatusNotRunning     = "not_running"
)

// runState is the explicit three-state machine the registry's state+pid pair
// encodes implicitly: a row may claim running while its process is gone.
type runState int

const (
	runStopped runState = iota
	runLive
	runStale
)

// Config holds everything the supervisor needs to spawn workers.
type Config struct {
	WorkerBin   string        // worker executable, resolved via PATH if relative
	ProfilesDir string        // per-profile user-data directories live here
	IngestURL   string        // ws endpoint handed to every worker
	StopGrace   time.Duration // SIGTERM grace before SIGKILL
	WorkerLog   logger.Config // per-profile stdout/stderr sinks
}

// Result is the outcome of a start or stop operation.
type Result struct {
	Status string `json:"status"`
	PID    int    `json:"pid,omitempty"`
}

// Supervisor starts, stops and reconciles one worker process per profile.
// The single liveness invariant it upholds: at most one live worker per
// profile, and a recorded PID only while that worker is actually alive.
// Lifecycle transitions serialize per profile; a stop waiting out its grace
// period never blocks another profile's start.
type Supervisor struct {
	store registry.Store
	cfg   Config
	log   *slog.Logger

	mu    sync.Mutex // guards locks
	locks map[string]*sync.Mutex

	reconStop chan struct{}
	reconOnce sync.Once
}

func New(store registry.Store, cfg Config, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 10 * time.Second
	}
	return &Supervisor{store: store, cfg: cfg, log: log, locks: make(map[string]*sync.Mutex)}
}

// lockFor returns the profile's lifecycle lock, creating it on first use.
func (s *Supervisor) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// ProfileDir returns the user-data directory for a profile.
func (s *Supervisor) ProfileDir(id string) string {
	return filepath.Join(s.cfg.ProfilesDir, id)
}

func runtimeOf(p registry.Profile) runState {
	if p.State != registry.StateRunning || p.PID == 0 {
		return runStopped
	}
	if pidAlive(p.PID) {
		return runLive
	}
	return runStale
}

// Start launches a worker for the profile. Idempotent while the previously
// launched process is alive; a stale running row is reconciled to stopped
// before the idempotency check.
func (s *Supervisor) Start(ctx context.Context, id string) (Result, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}

	switch runtimeOf(p) {
	case runLive:
		return Result{Status: StatusAlreadyRunning, PID: p.PID}, nil
	case runStale:
		s.log.Warn("stale running row, reconciling", "profile", id, "pid", p.PID)
		metrics.IncStaleReconciled()
		if err := s.store.SetRuntime(ctx, id, registry.StateStopped, 0); err != nil {
			return Result{}, err
		}
	}

	// Proxy problems must surface before any process exists.
	proxy, err := fingerprint.ParseProxy(p.Proxy)
	if err != nil {
		return Result{}, err
	}
	dir := s.ProfileDir(id)
	if _, err := fingerprint.Resolve(ctx, dir, proxy, false, s.log); err != nil {
		return Result{}, fmt.Errorf("%w: resolve launch configuration: %v", ErrLaunchFailure, err)
	}

	cmd := s.workerCmd(p, dir)
	sink, err := s.cfg.WorkerLog.Writer(id)
	if err != nil {
		s.log.Warn("worker log sink unavailable", "profile", id, "error", err)
	}
	if sink != nil {
		cmd.Stdout = sink
		cmd.Stderr = sink
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}
	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		if sink != nil {
			_ = sink.Close()
		}
		return Result{}, fmt.Errorf("%w: %v", ErrLaunchFailure, err)
	}
	pid := cmd.Process.Pid

	// Reap the child when it exits so no zombie lingers; registry state is
	// corrected lazily at start time or by the reconcile sweep.
	go func() {
		_ = cmd.Wait()
		if sink != nil {
			_ = sink.Close()
		}
	}()

	if err := s.store.SetRuntime(ctx, id, registry.StateRunning, pid); err != nil {
		return Result{}, err
	}
	metrics.IncLaunch()
	s.log.Info("worker launched", "profile", id, "name", p.Name, "pid", pid)
	return Result{Status: StatusLaunched, PID: pid}, nil
}

func (s *Supervisor) workerCmd(p registry.Profile, dir string) *exec.Cmd {
	// #nosec G204 -- binary path comes from operator config
	return exec.Command(s.cfg.WorkerBin,
		"--id", p.ID,
		"--name", p.Name,
		"--proxy", p.Proxy,
		"--ingest", s.cfg.IngestURL,
		"--dir", dir,
	)
}

// Stop terminates the profile's worker: graceful signal, grace period,
// forceful kill. The registry transitions to stopped regardless of which
// path succeeded.
func (s *Supervisor) Stop(ctx context.Context, id string) (Result, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if p.PID == 0 {
		return Result{Status: StatusNotRunning}, nil
	}

	s.terminate(p.PID, id)

	if err := s.store.SetRuntime(ctx, id, registry.StateStopped, 0); err != nil {
		return Result{}, err
	}
	metrics.IncStop()
	s.log.Info("worker stopped", "profile", id, "pid", p.PID)
	return Result{Status: StatusStopped}, nil
}

// terminate signals the worker's process group and escalates to SIGKILL after
// the grace period. A process that survives even the kill is logged as an
// orphan; the state transition proceeds anyway.
func (s *Supervisor) terminate(pid int, id string) {
	if !pidAlive(pid) {
		return
	}
	signalTerm(pid)
	deadline := time.Now().Add(s.cfg.StopGrace)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	s.log.Warn("grace period elapsed, killing", "profile", id, "pid", pid)
	signalKill(pid)
	metrics.IncKill()
	time.Sleep(200 * time.Millisecond)
	if pidAlive(pid) {
		s.log.Error("worker survived SIGKILL, orphaned", "profile", id, "pid", pid)
	}
}

// Delete stops the worker if one is recorded (errors swallowed), removes the
// registry row, then best-effort removes the profile directory. Success is
// reported once the row is gone even if cleanup failed.
func (s *Supervisor) Delete(ctx context.Context, id string) error {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.PID != 0 {
		if _, err := s.Stop(ctx, id); err != nil {
			s.log.Warn("stop before delete failed", "profile", id, "error", err)
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
	if err := os.RemoveAll(s.ProfileDir(id)); err != nil {
		s.log.Warn("profile directory cleanup failed", "profile", id, "error", err)
	}
	s.log.Info("profile deleted", "profile", id, "name", p.Name)
	return nil
}

// ReconcileOnce corrects every running row whose PID no longer exists.
func (s *Supervisor) ReconcileOnce(ctx context.Context) {
	profiles, err := s.store.List(ctx)
	if err != nil {
		s.log.Warn("reconcile list failed", "error", err)
		return
	}
	for _, p := range profiles {
		if runtimeOf(p) != runStale {
			continue
		}
		s.log.Info("reconciling dead worker", "profile", p.ID, "pid", p.PID)
		metrics.IncStaleReconciled()
		if err := s.store.SetRuntime(ctx, p.ID, registry.StateStopped, 0); err != nil {
			s.log.Warn("reconcile update failed", "profile", p.ID, "error", err)
		}
	}
}

// StartReconciler runs ReconcileOnce on the given interval until
// StopReconciler is called. A non-positive interval disables the sweep.
func (s *Supervisor) StartReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.reconStop = make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.ReconcileOnce(ctx)
			case <-s.reconStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopReconciler halts the periodic sweep; safe to call when none is running.
func (s *Supervisor) StopReconciler() {
	if s.reconStop != nil {
		s.reconOnce.Do(func() { close(s.reconStop) })
	}
}

// Shutdown halts background work. Running workers are left alone; the next
// server start reconciles them.
func (s *Supervisor) Shutdown() {
	s.StopReconciler()
}
