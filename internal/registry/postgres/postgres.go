package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/chamelio/chamelio/internal/registry"
)

// DB implements registry.Store for PostgreSQL via the pgx stdlib driver.

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
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
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Create(ctx context.Context, name, proxy string) (registry.Profile, error) {
	if err := registry.ValidateName(name); err != nil {
		return registry.Profile{}, err
	}
	prof := registry.Profile{
		ID:    uuid.NewString(),
		Name:  name,
		Proxy: proxy,
		State: registry.StateStopped,
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO profiles(id, name, proxy, state) VALUES($1, $2, $3, $4);`,
		prof.ID, prof.Name, prof.Proxy, prof.State)
	if err != nil {
		if isUniqueViolation(err) {
			return registry.Profile{}, registry.ErrDuplicateName
		}
		return registry.Profile{}, err
	}
	return prof, nil
}

func (p *DB) List(ctx context.Context) ([]registry.Profile, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, name, proxy, state, pid, last_url FROM profiles ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]registry.Profile, 0)
	for rows.Next() {
		var prof registry.Profile
		if err := rows.Scan(&prof.ID, &prof.Name, &prof.Proxy, &prof.State, &prof.PID, &prof.LastURL); err != nil {
			return nil, err
		}
		out = append(out, prof)
	}
	return out, rows.Err()
}

func (p *DB) Get(ctx context.Context, id string) (registry.Profile, error) {
	var prof registry.Profile
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, proxy, state, pid, last_url FROM profiles WHERE id=$1;`, id).
		Scan(&prof.ID, &prof.Name, &prof.Proxy, &prof.State, &prof.PID, &prof.LastURL)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Profile{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Profile{}, err
	}
	return prof, nil
}

func (p *DB) Update(ctx context.Context, id string, upd registry.Update) (int, error) {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	n := 1
	if upd.Name != nil {
		if err := registry.ValidateName(*upd.Name); err != nil {
			return 0, err
		}
		sets = append(sets, "name=$"+strconv.Itoa(n))
		args = append(args, *upd.Name)
		n++
	}
	if upd.Proxy != nil {
		sets = append(sets, "proxy=$"+strconv.Itoa(n))
		args = append(args, *upd.Proxy)
		n++
	}
	if len(sets) == 0 {
		return 0, nil
	}
	args = append(args, id)
	res, err := p.db.ExecContext(ctx,
		`UPDATE profiles SET `+strings.Join(sets, ", ")+` WHERE id=$`+strconv.Itoa(n)+`;`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, registry.ErrDuplicateName
		}
		return 0, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return 0, registry.ErrNotFound
	}
	return len(sets), nil
}

func (p *DB) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM profiles WHERE id=$1;`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (p *DB) SetRuntime(ctx context.Context, id, state string, pid int) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE profiles SET state=$1, pid=$2 WHERE id=$3;`, state, pid, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (p *DB) RecordHeartbeat(ctx context.Context, id, state, url string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE profiles SET state=$1, last_url=$2 WHERE id=$3;`, state, url, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
