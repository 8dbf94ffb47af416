// Package store is the PeerStore: a document-store façade over SQLite
// providing CRUD for Users, Bots, BannedPairs, Profiles, Conversations and
// Complaints. Every method is awaitable (accepts a context and may block on
// I/O); the orchestrator must never hold its in-memory lock across a call
// into this package.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersionLatest = 1

	busyMaxRetries = 5
	busyBaseDelay  = 50 * time.Millisecond
	busyMaxDelay   = 500 * time.Millisecond
)

// Store is the PeerStore façade.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default on-disk location for the peer store.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".dialog-router", "peers.db")
}

// Open opens (and migrates) the SQLite-backed peer store at path. An empty
// path uses DefaultDBPath.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for callers that need raw access (tests).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			platform TEXT NOT NULL,
			external_id TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			banned INTEGER NOT NULL DEFAULT 0,
			assigned_test_bot TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (platform, external_id)
		);`,
		`CREATE TABLE IF NOT EXISTS bots (
			token TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			banned INTEGER NOT NULL DEFAULT 0,
			last_update_id INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS banned_pairs (
			platform TEXT NOT NULL,
			external_id TEXT NOT NULL,
			bot_token TEXT NOT NULL,
			PRIMARY KEY (platform, external_id, bot_token)
		);`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			sentences TEXT NOT NULL,
			link_group_id TEXT NOT NULL DEFAULT '',
			topics TEXT NOT NULL DEFAULT '[]',
			description TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_link_group ON profiles(link_group_id);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id INTEGER PRIMARY KEY,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			payload TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS complaints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			complainer_platform TEXT NOT NULL,
			complainer_external_id TEXT NOT NULL,
			complain_to TEXT NOT NULL,
			conversation_id INTEGER NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_migrations (version) VALUES (?);`, schemaVersionLatest); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// retryOnBusy retries f when SQLite reports BUSY/LOCKED, with bounded
// exponential backoff and jitter on top of the driver's own busy_timeout.
func retryOnBusy(ctx context.Context, f func() error) error {
	var err error
	for attempt := 0; attempt <= busyMaxRetries; attempt++ {
		err = f()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		if attempt == busyMaxRetries {
			return err
		}
		delay := busyBaseDelay << uint(attempt)
		if delay > busyMaxDelay {
			delay = busyMaxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay/2) + 1))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStrings(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
