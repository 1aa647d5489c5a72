package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for worker log sinks.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes the log destination for a worker process. The supervisor
// redirects the worker's combined stdout/stderr into Dir/<profile-id>.log.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Writer returns an io.WriteCloser for the named profile's log sink, or nil
// when no log directory is configured.
func (c Config) Writer(profileID string) (io.WriteCloser, error) {
	if c.Dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return nil, err
	}
	return &lj.Logger{
		Filename:   filepath.Join(c.Dir, fmt.Sprintf("%s.log", profileID)),
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}, nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// New builds the process-wide slog logger. Colored output goes to stderr when
// it is a terminal; otherwise plain text.
func New(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if isTerminal(os.Stderr) {
		return slog.New(NewColorTextHandler(os.Stderr, opts, true))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
