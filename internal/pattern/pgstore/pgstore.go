// Package pgstore provides a PostgreSQL implementation of pattern.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sentinel/internal/pattern"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sentinel/internal/pattern/pgstore")

//go:embed schema.sql
var schema string

// Store persists pattern records in PostgreSQL. The pool is owned by the
// caller.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pgstore: nil pool")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const patternColumns = `id, fingerprint, root_cause, fix_signature, outcome, created_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Save inserts a pattern record.
func (s *Store) Save(ctx context.Context, r pattern.Record) error {
	ctx, span := startSpan(ctx, "pgstore.Save", "INSERT")
	defer span.End()
	span.SetAttributes(attribute.String("sentinel.incident.fingerprint", r.Fingerprint))

	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pattern_records (fingerprint, root_cause, fix_signature, outcome, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.Fingerprint, r.RootCause, r.FixSignature, r.Outcome, created,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert pattern: %w", err))
	}
	return nil
}

// FindLatest returns the newest record for fingerprint.
func (s *Store) FindLatest(ctx context.Context, fingerprint string) (*pattern.Record, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.FindLatest", "SELECT")
	defer span.End()
	span.SetAttributes(attribute.String("sentinel.incident.fingerprint", fingerprint))

	query := `SELECT ` + patternColumns + ` FROM pattern_records WHERE fingerprint = $1 ORDER BY id DESC LIMIT 1`
	var r pattern.Record
	err := s.pool.QueryRow(ctx, query, fingerprint).Scan(
		&r.ID, &r.Fingerprint, &r.RootCause, &r.FixSignature, &r.Outcome, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("find pattern: %w", err))
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, true, nil
}

// ListRecent returns up to limit records, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]pattern.Record, error) {
	ctx, span := startSpan(ctx, "pgstore.ListRecent", "SELECT")
	defer span.End()

	query := `SELECT ` + patternColumns + ` FROM pattern_records ORDER BY id DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, pattern.Limit(limit))
	if err != nil {
		return nil, fail(span, fmt.Errorf("list patterns: %w", err))
	}
	defer rows.Close()

	var out []pattern.Record
	for rows.Next() {
		var r pattern.Record
		if err := rows.Scan(&r.ID, &r.Fingerprint, &r.RootCause, &r.FixSignature, &r.Outcome, &r.CreatedAt); err != nil {
			return nil, fail(span, fmt.Errorf("scan pattern: %w", err))
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate patterns: %w", err))
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}
