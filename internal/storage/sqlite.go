package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key TEXT NOT NULL PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

type sqliteStore struct {
	db    *sql.DB
	quota int64
}

// NewSQLite opens (or creates) a key-value database at path. A positive
// quota caps the summed size of keys and values.
func NewSQLite(path string, quotaBytes int64) (Store, error) {
	if path == "" {
		return nil, errors.New("storage: sqlite path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate sqlite: %w", err)
	}
	return &sqliteStore{db: db, quota: quotaBytes}, nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: sqlite get: %w", err)
	}
	return value, true, nil
}

func (s *sqliteStore) Set(ctx context.Context, key string, value []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: sqlite begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.quota > 0 {
		var used int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(length(key) + length(value)), 0) FROM kv_entries WHERE key <> ?`, key,
		).Scan(&used)
		if err != nil {
			return fmt.Errorf("storage: sqlite usage: %w", err)
		}
		if used+entrySize(key, value) > s.quota {
			return ErrQuotaExceeded
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: sqlite set: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: sqlite commit: %w", err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("storage: sqlite delete: %w", err)
	}
	return nil
}

func (s *sqliteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv_entries WHERE substr(key, 1, length(?)) = ?`, prefix, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: sqlite keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("storage: sqlite scan: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: sqlite rows: %w", err)
	}
	return keys, nil
}

func (s *sqliteStore) Close(context.Context) error {
	return s.db.Close()
}
