// Package store implements the relational store (schema-versioned SQLite)
// and the pending-message queue that shares its connection.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the relational database connection. All writers serialize
// through database/sql's own connection pool and short transactions; WAL
// mode plus synchronous=NORMAL keep readers unblocked.
type Store struct {
	db *sql.DB
	mu sync.RWMutex // guards re-open during reinitialization, not normal queries
}

// Open opens (creating if necessary) the single-file SQLite database at
// path, applies the required pragmas, and runs every pending migration. A
// migration failure aborts startup: Open returns an error and the caller
// must not run with a partially-migrated schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer file DB; WAL lets readers proceed regardless

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("relational store ready", "path", path)
	return s, nil
}

// DB returns the underlying connection for components (health checks,
// tests) that need direct access.
func (s *Store) DB() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
