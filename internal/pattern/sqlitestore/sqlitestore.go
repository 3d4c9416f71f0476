// Package sqlitestore is a file-backed pattern.Store on SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/sentinel/internal/pattern"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements pattern.Store on a SQLite database file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (creating if needed) the database at path and applies
// pending migrations. Use ":memory:" for a throwaway database.
func New(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save implements pattern.Store.
func (s *Store) Save(ctx context.Context, r pattern.Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pattern_records (fingerprint, root_cause, fix_signature, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.Fingerprint, r.RootCause, r.FixSignature, r.Outcome, r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert pattern: %w", err)
	}
	return nil
}

// FindLatest implements pattern.Store.
func (s *Store) FindLatest(ctx context.Context, fingerprint string) (*pattern.Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint, root_cause, fix_signature, outcome, created_at
		 FROM pattern_records WHERE fingerprint = ? ORDER BY id DESC LIMIT 1`,
		fingerprint,
	)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find pattern: %w", err)
	}
	return &r, true, nil
}

// ListRecent implements pattern.Store.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]pattern.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fingerprint, root_cause, fix_signature, outcome, created_at
		 FROM pattern_records ORDER BY id DESC LIMIT ?`,
		pattern.Limit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []pattern.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patterns: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (pattern.Record, error) {
	var (
		r       pattern.Record
		created string
	)
	if err := sc.Scan(&r.ID, &r.Fingerprint, &r.RootCause, &r.FixSignature, &r.Outcome, &created); err != nil {
		return pattern.Record{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return pattern.Record{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	r.CreatedAt = t
	return r, nil
}
