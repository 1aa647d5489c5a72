//go:build !windows

package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chamelio/chamelio/internal/fingerprint"
	"github.com/chamelio/chamelio/internal/registry"
	"github.com/chamelio/chamelio/internal/registry/sqlite"
)

// fakeWorker writes a script that ignores its flags and sleeps, standing in
// for the worker binary.
func fakeWorker(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-worker")
	script := "#!/bin/sh\nsleep 60\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil { // #nosec G306
		t.Fatal(err)
	}
	return path
}

// stubbornWorker writes a script that shrugs off SIGTERM, forcing Stop
// through its full grace period and the SIGKILL escalation.
func stubbornWorker(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stubborn-worker")
	script := "#!/bin/sh\ntrap '' TERM\nwhile :; do sleep 1; done\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil { // #nosec G306
		t.Fatal(err)
	}
	return path
}

func newSupervisor(t *testing.T, workerBin string) (*Supervisor, registry.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	sup := New(store, Config{
		WorkerBin:   workerBin,
		ProfilesDir: t.TempDir(),
		IngestURL:   "ws://127.0.0.1:8089/ingest",
		StopGrace:   2 * time.Second,
	}, nil)
	return sup, store
}

func waitForDeath(t *testing.T, pid int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for pidAlive(pid) && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if pidAlive(pid) {
		t.Fatalf("pid %d still alive", pid)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	sup, store := newSupervisor(t, fakeWorker(t))
	ctx := context.Background()

	p, err := store.Create(ctx, "life", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := sup.Start(ctx, p.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Status != StatusLaunched || res.PID == 0 {
		t.Fatalf("unexpected start result: %+v", res)
	}
	if !pidAlive(res.PID) {
		t.Fatalf("worker not alive: pid %d", res.PID)
	}
	t.Cleanup(func() { signalKill(res.PID) })

	got, _ := store.Get(ctx, p.ID)
	if got.State != registry.StateRunning || got.PID != res.PID {
		t.Fatalf("registry not updated: %+v", got)
	}

	// Idempotent while the worker is alive.
	again, err := sup.Start(ctx, p.ID)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if again.Status != StatusAlreadyRunning || again.PID != res.PID {
		t.Fatalf("expected already_running with same pid: %+v", again)
	}

	stop, err := sup.Stop(ctx, p.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stop.Status != StatusStopped {
		t.Fatalf("unexpected stop result: %+v", stop)
	}
	waitForDeath(t, res.PID)

	got, _ = store.Get(ctx, p.ID)
	if got.State != registry.StateStopped || got.PID != 0 {
		t.Fatalf("registry not cleared: %+v", got)
	}

	// Stopping a stopped profile is a no-op.
	stop, err = sup.Stop(ctx, p.ID)
	if err != nil || stop.Status != StatusNotRunning {
		t.Fatalf("expected not_running, got %+v, %v", stop, err)
	}
}

func TestStopBlocksOnlyItsProfile(t *testing.T) {
	sup, store := newSupervisor(t, stubbornWorker(t))
	ctx := context.Background()

	a, _ := store.Create(ctx, "stubborn", "")
	b, _ := store.Create(ctx, "bystander", "")

	resA, err := sup.Start(ctx, a.ID)
	if err != nil {
		t.Fatalf("start a: %v", err)
	}
	t.Cleanup(func() { signalKill(resA.PID) })

	// The worker ignores SIGTERM, so this Stop sits in its grace poll until
	// the SIGKILL escalation.
	stopDone := make(chan Result, 1)
	go func() {
		res, _ := sup.Stop(ctx, a.ID)
		stopDone <- res
	}()
	time.Sleep(200 * time.Millisecond)

	resB, err := sup.Start(ctx, b.ID)
	if err != nil {
		t.Fatalf("start b: %v", err)
	}
	t.Cleanup(func() { signalKill(resB.PID) })
	select {
	case <-stopDone:
		t.Fatalf("stop returned before its grace period elapsed")
	default:
	}

	select {
	case res := <-stopDone:
		if res.Status != StatusStopped {
			t.Fatalf("unexpected stop result: %+v", res)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("stop never finished")
	}
	waitForDeath(t, resA.PID)
	if !pidAlive(resB.PID) {
		t.Fatalf("bystander worker died")
	}
}

func TestStartReconcilesStaleRow(t *testing.T) {
	sup, store := newSupervisor(t, fakeWorker(t))
	ctx := context.Background()

	p, err := store.Create(ctx, "stale", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Claim a running worker whose pid is long gone.
	if err := store.SetRuntime(ctx, p.ID, registry.StateRunning, 999999); err != nil {
		t.Fatalf("set runtime: %v", err)
	}

	res, err := sup.Start(ctx, p.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Status != StatusLaunched {
		t.Fatalf("stale row must not block a launch: %+v", res)
	}
	t.Cleanup(func() { signalKill(res.PID) })
}

func TestReconcileOnce(t *testing.T) {
	sup, store := newSupervisor(t, fakeWorker(t))
	ctx := context.Background()

	p, _ := store.Create(ctx, "sweep", "")
	if err := store.SetRuntime(ctx, p.ID, registry.StateRunning, 999999); err != nil {
		t.Fatalf("set runtime: %v", err)
	}

	sup.ReconcileOnce(ctx)

	got, _ := store.Get(ctx, p.ID)
	if got.State != registry.StateStopped || got.PID != 0 {
		t.Fatalf("stale row not reconciled: %+v", got)
	}
}

func TestStartInvalidProxy(t *testing.T) {
	sup, store := newSupervisor(t, fakeWorker(t))
	ctx := context.Background()

	p, _ := store.Create(ctx, "badproxy", "not-a-proxy")
	if _, err := sup.Start(ctx, p.ID); !errors.Is(err, fingerprint.ErrInvalidProxy) {
		t.Fatalf("expected ErrInvalidProxy, got %v", err)
	}
	got, _ := store.Get(ctx, p.ID)
	if got.State != registry.StateStopped || got.PID != 0 {
		t.Fatalf("failed launch must leave profile stopped: %+v", got)
	}
}

func TestStartMissingBinary(t *testing.T) {
	sup, store := newSupervisor(t, "/nonexistent/worker-binary")
	ctx := context.Background()

	p, _ := store.Create(ctx, "nobin", "")
	if _, err := sup.Start(ctx, p.ID); !errors.Is(err, ErrLaunchFailure) {
		t.Fatalf("expected ErrLaunchFailure, got %v", err)
	}
	got, _ := store.Get(ctx, p.ID)
	if got.State != registry.StateStopped || got.PID != 0 {
		t.Fatalf("failed launch must leave profile stopped: %+v", got)
	}
}

func TestStartUnknownProfile(t *testing.T) {
	sup, _ := newSupervisor(t, fakeWorker(t))
	if _, err := sup.Start(context.Background(), "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteStopsAndCleans(t *testing.T) {
	sup, store := newSupervisor(t, fakeWorker(t))
	ctx := context.Background()

	p, _ := store.Create(ctx, "doomed", "")
	res, err := sup.Start(ctx, p.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := sup.Delete(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitForDeath(t, res.PID)

	if _, err := store.Get(ctx, p.ID); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("row survived delete: %v", err)
	}
	if _, err := os.Stat(sup.ProfileDir(p.ID)); !os.IsNotExist(err) {
		t.Fatalf("profile dir survived delete: %v", err)
	}
	if err := sup.Delete(ctx, p.ID); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
