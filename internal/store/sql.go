package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// sqlStore implements Store on a single table:
//
//	draft_key TEXT PRIMARY KEY, payload BLOB/BYTEA, updated_at INTEGER, expires_at INTEGER
//
// expires_at is a unix timestamp; 0 means the row never expires.
type sqlStore struct {
	name  string // "sqlite" or "postgres", for error messages
	db    *sql.DB
	table string
	ttl   time.Duration

	getQuery    string
	upsertQuery string
	deleteQuery string
}

// SQLiteStore stores drafts in a SQLite table.
type SQLiteStore struct {
	*sqlStore
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path and the
// drafts table.
func NewSQLiteStore(ctx context.Context, path, table string) (*SQLiteStore, error) {
	if path == "" {
		path = "./formwizard.db"
	}
	if !isValidIdentifier(table) {
		return nil, fmt.Errorf("sqlite store: invalid table name %q", table)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: failed to open database: %w", err)
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: failed to connect: %w", err)
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		draft_key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	)`, table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: failed to create table %q: %w", table, err)
	}

	s := &sqlStore{
		name:        "sqlite",
		db:          db,
		table:       table,
		getQuery:    fmt.Sprintf("SELECT payload, expires_at FROM %s WHERE draft_key = ?", table),
		upsertQuery: fmt.Sprintf("INSERT INTO %s (draft_key, payload, updated_at, expires_at) VALUES (?, ?, ?, ?) ON CONFLICT(draft_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at, expires_at = excluded.expires_at", table),
		deleteQuery: fmt.Sprintf("DELETE FROM %s WHERE draft_key = ?", table),
	}
	return &SQLiteStore{sqlStore: s, path: path}, nil
}

// PostgresStore stores drafts in a PostgreSQL table.
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore connects to dsn and creates the drafts table if needed.
func NewPostgresStore(ctx context.Context, dsn, table string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres store: database connection required (set storage.postgres.dsn or DATABASE_URL)")
	}
	if !isValidIdentifier(table) {
		return nil, fmt.Errorf("postgres store: invalid table name %q", table)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres store: failed to connect: %w", err)
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		draft_key TEXT PRIMARY KEY,
		payload BYTEA NOT NULL,
		updated_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL DEFAULT 0
	)`, table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres store: failed to create table %q: %w", table, err)
	}

	s := &sqlStore{
		name:        "postgres",
		db:          db,
		table:       table,
		getQuery:    fmt.Sprintf("SELECT payload, expires_at FROM %s WHERE draft_key = $1", table),
		upsertQuery: fmt.Sprintf("INSERT INTO %s (draft_key, payload, updated_at, expires_at) VALUES ($1, $2, $3, $4) ON CONFLICT (draft_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at", table),
		deleteQuery: fmt.Sprintf("DELETE FROM %s WHERE draft_key = $1", table),
	}
	return &PostgresStore{sqlStore: s}, nil
}

// Get returns the payload stored under key
func (s *sqlStore) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		payload []byte
		expires int64
	)
	err := s.db.QueryRowContext(ctx, s.getQuery, key).Scan(&payload, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s store: get %q failed: %w", s.name, key, err)
	}

	if expires > 0 && time.Now().Unix() > expires {
		if err := s.Delete(ctx, key); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return payload, nil
}

// Set upserts the payload for key
func (s *sqlStore) Set(ctx context.Context, key string, value []byte) error {
	now := time.Now()
	var expires int64
	if exp := expiresAt(now, s.ttl); !exp.IsZero() {
		expires = exp.Unix()
	}

	if _, err := s.db.ExecContext(ctx, s.upsertQuery, key, value, now.Unix(), expires); err != nil {
		return fmt.Errorf("%s store: set %q failed: %w", s.name, key, err)
	}
	return nil
}

// Delete removes the row for key
func (s *sqlStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.deleteQuery, key); err != nil {
		return fmt.Errorf("%s store: delete %q failed: %w", s.name, key, err)
	}
	return nil
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}
