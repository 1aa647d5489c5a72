package chamelio

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestNewStoreSqlite(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "profiles.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	p, err := store.Create(ctx, "facade", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Get(ctx, p.ID)
	if err != nil || got.Name != "facade" {
		t.Fatalf("get: %+v, %v", got, err)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Listen:  "127.0.0.1:0",
		DataDir: dir,
	}
	cfg.Default()

	daemon, err := NewDaemon(cfg, nil)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	ctx := context.Background()
	if err := daemon.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	p, err := daemon.Store.Create(ctx, "boot", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := daemon.Store.Get(ctx, p.ID); err != nil {
		t.Fatalf("get: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := daemon.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
