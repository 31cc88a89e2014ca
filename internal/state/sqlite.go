package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	scope_path TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (scope_path, id)
);
CREATE INDEX IF NOT EXISTS idx_records_scope_path ON records(scope_path);
`

// SQLiteStore keeps records in a single SQLite database. WAL mode keeps
// concurrent readers cheap; per-key atomicity comes from the upsert running
// in its own implicit transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &CorruptionError{Err: fmt.Errorf("failed to open state database: %w", err)}
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, &CorruptionError{Err: fmt.Errorf("failed to configure state database: %w", err)}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, &CorruptionError{Err: fmt.Errorf("failed to migrate state database: %w", err)}
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, scopePath []string, id string) (*Record, error) {
	key := strings.Join(scopePath, "/")
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM records WHERE scope_path = ? AND id = ?", key, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, &CorruptionError{Key: Key(scopePath, id), Err: err}
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &CorruptionError{Key: Key(scopePath, id), Err: fmt.Errorf("unreadable record: %w", err)}
	}
	return &rec, nil
}

func (s *SQLiteStore) Put(ctx context.Context, scopePath []string, id string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &CorruptionError{Key: Key(scopePath, id), Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (scope_path, id, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(scope_path, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		strings.Join(scopePath, "/"), id, data, rec.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &CorruptionError{Key: Key(scopePath, id), Err: err}
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, scopePath []string, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE scope_path = ? AND id = ?",
		strings.Join(scopePath, "/"), id)
	if err != nil {
		return &CorruptionError{Key: Key(scopePath, id), Err: err}
	}
	return nil
}

// escapeLike neutralizes LIKE metacharacters in a scope key so a scope
// named "pr_d" never matches records under a sibling like "prod".
var escapeLike = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace

func (s *SQLiteStore) List(ctx context.Context, scopePathPrefix []string) ([]*Record, error) {
	var rows *sql.Rows
	var err error
	if len(scopePathPrefix) == 0 {
		rows, err = s.db.QueryContext(ctx, "SELECT data FROM records ORDER BY scope_path, id")
	} else {
		key := strings.Join(scopePathPrefix, "/")
		rows, err = s.db.QueryContext(ctx,
			`SELECT data FROM records WHERE scope_path = ? OR scope_path LIKE ? ESCAPE '\' ORDER BY scope_path, id`,
			key, escapeLike(key)+"/%")
	}
	if err != nil {
		return nil, &CorruptionError{Key: Key(scopePathPrefix, ""), Err: err}
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, &CorruptionError{Err: err}
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, &CorruptionError{Err: fmt.Errorf("unreadable record: %w", err)}
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &CorruptionError{Err: err}
	}
	return records, nil
}
