package cacheserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteItemStore stores items in a SQLite database, for single-node
// deployments without Redis.
type SQLiteItemStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteItemStore opens the database at filename. An empty filename
// opens a shared in-memory database.
func NewSQLiteItemStore(filename string) (*SQLiteItemStore, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", filename, err)
	}
	// Shared-cache memory databases report table locks instead of waiting
	if strings.Contains(filename, ":memory:") || strings.Contains(filename, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS items (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			written INTEGER NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS written_idx ON items (written)",
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}

	return &SQLiteItemStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// GetItems implements ItemStore.
func (s *SQLiteItemStore) GetItems(ctx context.Context, keys []string) (map[string]Item, error) {
	items := make(map[string]Item, len(keys))
	for _, key := range keys {
		var (
			value   string
			written int64
		)
		err := s.db.QueryRowContext(ctx, "SELECT value, written FROM items WHERE key = ?", key).Scan(&value, &written)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("select item %s: %w", key, err)
		}
		items[key] = Item{Value: value, Written: time.UnixMilli(written)}
	}
	return items, nil
}

// SetItems implements ItemStore in one transaction.
func (s *SQLiteItemStore) SetItems(ctx context.Context, items map[string]Item) error {
	if len(items) == 0 {
		return nil
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for key, item := range items {
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO items (key, value, written) VALUES (?, ?, ?)",
			key, item.Value, item.Written.UnixMilli())
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert item %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Purge removes items written before cutoff and returns how many were removed.
func (s *SQLiteItemStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE written < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge items: %w", err)
	}
	return res.RowsAffected()
}

// Len returns the number of stored items.
func (s *SQLiteItemStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// Ping implements ItemStore.
func (s *SQLiteItemStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteItemStore) Close() error {
	return s.db.Close()
}
