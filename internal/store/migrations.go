package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// migration is one numbered schema step.
type migration struct {
	version int
	name    string
	steps   []step
}

// step is a single additive statement. When column is set the statement
// is an ADD COLUMN and is skipped if the column already exists.
type step struct {
	sql    string
	table  string
	column string
}

func stmt(sql string) step {
	return step{sql: sql}
}

func addColumn(table, column, decl string) step {
	return step{
		sql:    fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl),
		table:  table,
		column: column,
	}
}

// Migrate applies every pending migration. It is safe to call on every start.
func (s *Store) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, migrations, SchemaVersion)
}

// CurrentVersion returns the highest applied migration, 0 for a fresh file.
func (s *Store) CurrentVersion(ctx context.Context) (int, error) {
	return currentVersion(ctx, s.db)
}

// migrateTo applies migrations up to target only. Used to build stores at
// an older schema.
func migrateTo(ctx context.Context, db *sql.DB, target int) error {
	return runMigrations(ctx, db, migrations, target)
}

// runMigrations applies each migration in list with a version above the
// recorded one and at most target. Each migration runs in its own
// transaction together with the version bump.
func runMigrations(ctx context.Context, db *sql.DB, list []migration, target int) error {
	if _, err := db.ExecContext(ctx, schemaMetaDDL); err != nil {
		return fmt.Errorf("create schema_meta: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range list {
		if m.version <= current || m.version > target {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
		current = m.version
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}

	for i, st := range m.steps {
		if st.column != "" {
			exists, err := columnExists(ctx, tx, st.table, st.column)
			if err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d step %d: %w", m.version, i+1, err)
			}
			if exists {
				continue
			}
		}
		if _, err := tx.ExecContext(ctx, st.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) step %d: %w", m.version, m.name, i+1, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_meta (id, version, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at`,
		m.version, now,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update schema version to %d: %w", m.version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.version, err)
	}
	return nil
}

// currentVersion reads the schema version from schema_meta.
// Returns 0 if no version is recorded yet.
func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_meta WHERE id = 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspect %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}
