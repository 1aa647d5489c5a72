package factory

import (
	"errors"
	"strings"

	"github.com/chamelio/chamelio/internal/registry"
	pg "github.com/chamelio/chamelio/internal/registry/postgres"
	sq "github.com/chamelio/chamelio/internal/registry/sqlite"
)

// NewFromDSN selects a registry store implementation based on DSN.
// Supported:
//   - sqlite:  "sqlite://<path>" or a bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (registry.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(strings.TrimPrefix(d, "sqlite://"))
	}
	// default to sqlite path
	return sq.New(d)
}
