package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/chamelio/chamelio/internal/logger"
)

// FileConfig represents the top-level TOML structure.
//
//	listen = "127.0.0.1:8000"
//	data_dir = "/var/lib/chamelio"
//	registry_dsn = "sqlite:///var/lib/chamelio/profiles.db"
//	worker_bin = "chamelio-worker"
//	log_level = "info"
//	reconcile_interval = "30s"
//	stop_grace = "10s"
//	[worker_log]
//	dir = "/var/lib/chamelio/logs"
type FileConfig struct {
	Listen            string        `toml:"listen" mapstructure:"listen"`
	DataDir           string        `toml:"data_dir" mapstructure:"data_dir"`
	RegistryDSN       string        `toml:"registry_dsn" mapstructure:"registry_dsn"`
	ProfilesDir       string        `toml:"profiles_dir" mapstructure:"profiles_dir"`
	StaticDir         string        `toml:"static_dir" mapstructure:"static_dir"`
	WorkerBin         string        `toml:"worker_bin" mapstructure:"worker_bin"`
	IngestURL         string        `toml:"ingest_url" mapstructure:"ingest_url"`
	LogLevel          string        `toml:"log_level" mapstructure:"log_level"`
	ReconcileInterval time.Duration `toml:"reconcile_interval" mapstructure:"reconcile_interval"`
	StopGrace         time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	WorkerLog         logger.Config `toml:"worker_log" mapstructure:"worker_log"`
}

// Default fills unset fields from the data directory layout: profiles under
// <data>/profiles, logs under <data>/logs, sqlite registry at
// <data>/profiles.db, ingest endpoint derived from the listen address.
func (c *FileConfig) Default() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8000"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.RegistryDSN == "" {
		c.RegistryDSN = "sqlite://" + filepath.Join(c.DataDir, "profiles.db")
	}
	if c.ProfilesDir == "" {
		c.ProfilesDir = filepath.Join(c.DataDir, "profiles")
	}
	if c.StaticDir == "" {
		c.StaticDir = "static"
	}
	if c.WorkerBin == "" {
		c.WorkerBin = "chamelio-worker"
	}
	if c.IngestURL == "" {
		c.IngestURL = "ws://" + c.Listen + "/ingest"
	}
	if c.WorkerLog.Dir == "" {
		c.WorkerLog.Dir = filepath.Join(c.DataDir, "logs")
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
	// Unset means the 30s sweep; a negative value turns the sweep off.
	if c.ReconcileInterval == 0 {
		c.ReconcileInterval = 30 * time.Second
	} else if c.ReconcileInterval < 0 {
		c.ReconcileInterval = 0
	}
}

// EnsureDirs creates the data/profiles/logs directories.
func (c *FileConfig) EnsureDirs() error {
	for _, d := range []string{c.DataDir, c.ProfilesDir, c.WorkerLog.Dir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// Load reads a TOML config file and applies defaults. An empty path yields a
// pure-defaults config.
func Load(path string) (FileConfig, error) {
	var fc FileConfig
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fc, err
		}
		if err := v.Unmarshal(&fc); err != nil {
			return fc, err
		}
	}
	fc.Default()
	return fc, nil
}
