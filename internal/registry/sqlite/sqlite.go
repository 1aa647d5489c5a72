package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chamelio/chamelio/internal/registry"
)

// DB implements registry.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the database file; use ":memory:" for tests.

type DB struct {
	db *sql.DB
}

func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	// an in-memory database exists per connection; keep the pool at one
	if p == ":memory:" {
		d.SetMaxOpenConns(1)
	}
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS profiles(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			proxy TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT 'stopped',
			pid INTEGER NOT NULL DEFAULT 0,
			last_url TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_state ON profiles(state);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Create(ctx context.Context, name, proxy string) (registry.Profile, error) {
	if err := registry.ValidateName(name); err != nil {
		return registry.Profile{}, err
	}
	p := registry.Profile{
		ID:    uuid.NewString(),
		Name:  name,
		Proxy: proxy,
		State: registry.StateStopped,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles(id, name, proxy, state) VALUES(?, ?, ?, ?);`,
		p.ID, p.Name, p.Proxy, p.State)
	if err != nil {
		if isUniqueViolation(err) {
			return registry.Profile{}, registry.ErrDuplicateName
		}
		return registry.Profile{}, err
	}
	return p, nil
}

func (s *DB) List(ctx context.Context) ([]registry.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, proxy, state, pid, last_url FROM profiles ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanProfiles(rows)
}

func (s *DB) Get(ctx context.Context, id string) (registry.Profile, error) {
	var p registry.Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, proxy, state, pid, last_url FROM profiles WHERE id=?;`, id).
		Scan(&p.ID, &p.Name, &p.Proxy, &p.State, &p.PID, &p.LastURL)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Profile{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Profile{}, err
	}
	return p, nil
}

func (s *DB) Update(ctx context.Context, id string, upd registry.Update) (int, error) {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if upd.Name != nil {
		if err := registry.ValidateName(*upd.Name); err != nil {
			return 0, err
		}
		sets = append(sets, "name=?")
		args = append(args, *upd.Name)
	}
	if upd.Proxy != nil {
		sets = append(sets, "proxy=?")
		args = append(args, *upd.Proxy)
	}
	if len(sets) == 0 {
		return 0, nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET `+strings.Join(sets, ", ")+` WHERE id=?;`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, registry.ErrDuplicateName
		}
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return 0, registry.ErrNotFound
	}
	return len(sets), nil
}

func (s *DB) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id=?;`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (s *DB) SetRuntime(ctx context.Context, id, state string, pid int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET state=?, pid=? WHERE id=?;`, state, pid, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (s *DB) RecordHeartbeat(ctx context.Context, id, state, url string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET state=?, last_url=? WHERE id=?;`, state, url, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func scanProfiles(rows *sql.Rows) ([]registry.Profile, error) {
	out := make([]registry.Profile, 0)
	for rows.Next() {
		var p registry.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Proxy, &p.State, &p.PID, &p.LastURL); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
