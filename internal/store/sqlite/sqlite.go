// Package sqlite stores document snapshots in a local SQLite file, for
// single-user installs that run without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/printdesk/editor/internal/store"
	"github.com/printdesk/editor/internal/typeid"
)

const Schema = `
CREATE TABLE IF NOT EXISTS document_snapshots (
	id         TEXT PRIMARY KEY,
	doc_id     TEXT NOT NULL,
	version    INTEGER NOT NULL,
	document   BLOB NOT NULL,
	created_at INTEGER NOT NULL DEFAULT (unixepoch()),
	UNIQUE (doc_id, version)
);
`

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer keeps version numbering serial, and keeps an
	// in-memory database on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Save(ctx context.Context, docID string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_snapshots (id, doc_id, version, document)
		SELECT ?1, ?2, COALESCE(MAX(version), 0) + 1, ?3
		FROM document_snapshots WHERE doc_id = ?2`,
		typeid.NewSnapshotID(), docID, data)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, docID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT document FROM document_snapshots
		WHERE doc_id = ?
		ORDER BY version DESC
		LIMIT 1`, docID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return data, nil
}

// Version returns the latest version number of docID, or 0.
func (s *Store) Version(ctx context.Context, docID string) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM document_snapshots WHERE doc_id = ?`, docID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

// Prune deletes all but the newest keep versions of docID.
func (s *Store) Prune(ctx context.Context, docID string, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM document_snapshots
		WHERE doc_id = ?1 AND version <= (
			SELECT COALESCE(MAX(version), 0) - ?2 FROM document_snapshots WHERE doc_id = ?1
		)`, docID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}
