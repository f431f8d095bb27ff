// Package store is the single versioned SQLite database behind every
// analyzer. Writes are wrapped as errs.StorageError; missing rows are
// reported as errs.NotFoundError.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver.

	"github.com/highbeam/changeguard/internal/errs"
)

// Store wraps a SQLite database connection shared by all analyzers.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath with WAL mode,
// a 5-second busy timeout and immediate write transactions, then runs any
// pending migrations. A migration failure is returned and the store is
// closed.
func New(dbPath string) (*Store, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func open(dbPath string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verify connection and WAL mode.
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("check journal mode: %w", err)
	}
	if journalMode != "wal" {
		_ = db.Close()
		return nil, fmt.Errorf("expected WAL journal mode, got %q", journalMode)
	}
	return db, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Stats summarizes the database for the status command.
type Stats struct {
	SchemaVersion  int   `json:"schemaVersion"`
	Sessions       int64 `json:"sessions"`
	Snapshots      int64 `json:"snapshots"`
	CachedPackages int64 `json:"cachedPackages"`
	Briefs         int64 `json:"briefs"`
	Events         int64 `json:"events"`
	SizeBytes      int64 `json:"sizeBytes"`
}

// Stats returns row counts and the approximate database size.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	v, err := s.CurrentVersion(ctx)
	if err != nil {
		return st, errs.Storage("read version", err)
	}
	st.SchemaVersion = v

	counts := []struct {
		table string
		dst   *int64
	}{
		{"sessions", &st.Sessions},
		{"drift_snapshots", &st.Snapshots},
		{"package_cache", &st.CachedPackages},
		{"brief_records", &st.Briefs},
		{"learning_events", &st.Events},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return st, errs.Storage("count "+c.table, err)
		}
	}

	size, err := s.DBSizeBytes(ctx)
	if err != nil {
		return st, errs.Storage("db size", err)
	}
	st.SizeBytes = size
	return st, nil
}

// DBSizeBytes returns the database file size in bytes.
// This is an approximation using page_count * page_size.
func (s *Store) DBSizeBytes(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, err
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, err
	}
	return pageCount * pageSize, nil
}

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return parseTime(ns.String)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
