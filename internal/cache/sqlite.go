package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS assets (
	path TEXT PRIMARY KEY,
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshot_meta (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	written_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore persists snapshots as one row per asset.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the SQLite database and applies the schema.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cache: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

// Exists reports whether a snapshot has ever been saved.
func (s *SQLiteStore) Exists(ctx context.Context) (bool, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT count(*) FROM snapshot_meta`).Scan(&n); err != nil {
		return false, fmt.Errorf("cache: exists: %w", err)
	}
	return n > 0, nil
}

// Load reads every asset row.
func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT path, data FROM assets`)
	if err != nil {
		return nil, fmt.Errorf("cache: load: %w", err)
	}
	defer rows.Close()

	out := Snapshot{}
	for rows.Next() {
		var path, data string
		if err := rows.Scan(&path, &data); err != nil {
			return nil, err
		}
		var entry CachedAsset
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("cache: decode %s: %w", path, err)
		}
		out[path] = entry
	}
	return out, rows.Err()
}

// Save replaces all rows within a transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `DELETE FROM assets`); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO assets (path, data) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("cache: prepare insert: %w", err)
	}
	defer stmt.Close()
	for path, entry := range snap {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("cache: encode %s: %w", path, err)
		}
		if _, err := stmt.ExecContext(ctx, path, string(data)); err != nil {
			return fmt.Errorf("cache: insert %s: %w", path, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot_meta (id, written_at) VALUES (1, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET written_at = excluded.written_at
	`); err != nil {
		return fmt.Errorf("cache: stamp: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
