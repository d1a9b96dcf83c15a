// Package postgres stores document snapshots in PostgreSQL. Every save
// appends a new version; loads return the latest one.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/printdesk/editor/internal/store"
	"github.com/printdesk/editor/internal/typeid"
)

const Schema = `
CREATE TABLE IF NOT EXISTS document_snapshots (
	id         TEXT PRIMARY KEY,
	doc_id     TEXT NOT NULL,
	version    INTEGER NOT NULL,
	document   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (doc_id, version)
);
`

// maxVersionRetries bounds retries when two writers race for a version.
const maxVersionRetries = 3

type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and applies the schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Save appends data as the next version of docID.
func (s *Store) Save(ctx context.Context, docID string, data []byte) error {
	var err error
	for range maxVersionRetries {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO document_snapshots (id, doc_id, version, document)
			SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3
			FROM document_snapshots WHERE doc_id = $2`,
			typeid.NewSnapshotID(), docID, data)
		if !isUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, docID string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT document FROM document_snapshots
		WHERE doc_id = $1
		ORDER BY version DESC
		LIMIT 1`, docID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return data, nil
}

// Version returns the latest version number of docID, or 0.
func (s *Store) Version(ctx context.Context, docID string) (int, error) {
	var v int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM document_snapshots WHERE doc_id = $1`, docID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
