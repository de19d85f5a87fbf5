package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var migrationName = regexp.MustCompile(`^(\d+)_.+\.(up|down)\.sql$`)

// migration is one numbered schema step. version is the up file name, which
// is what schema_migrations records.
type migration struct {
	number  string
	version string
	up      string
	down    string
}

func loadMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	byNumber := map[string]*migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		m := byNumber[match[1]]
		if m == nil {
			m = &migration{number: match[1]}
			byNumber[match[1]] = m
		}
		path := filepath.Join(dir, entry.Name())
		if match[2] == "up" {
			m.up, m.version = path, entry.Name()
		} else {
			m.down = path
		}
	}

	out := make([]migration, 0, len(byNumber))
	for _, m := range byNumber {
		if m.up == "" {
			return nil, fmt.Errorf("migration %s has no up file", m.number)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].number < out[j].number })
	return out, nil
}

func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}
	migrations, err := loadMigrations(migrationsDir)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		migrated, err := isMigrated(ctx, db, m.version)
		if err != nil {
			return err
		}
		if migrated {
			continue
		}
		if err := runMigration(ctx, db, m.version, m.up, `INSERT INTO schema_migrations(version) VALUES($1)`); err != nil {
			return err
		}
	}
	return nil
}

// RevertMigrations runs the down files of the last steps applied migrations,
// newest first.
func RevertMigrations(ctx context.Context, db *sql.DB, migrationsDir string, steps int) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}
	migrations, err := loadMigrations(migrationsDir)
	if err != nil {
		return err
	}
	for i := len(migrations) - 1; i >= 0 && steps > 0; i-- {
		m := migrations[i]
		migrated, err := isMigrated(ctx, db, m.version)
		if err != nil {
			return err
		}
		if !migrated {
			continue
		}
		if m.down == "" {
			return fmt.Errorf("migration %s has no down file", m.version)
		}
		if err := runMigration(ctx, db, m.version, m.down, `DELETE FROM schema_migrations WHERE version=$1`); err != nil {
			return err
		}
		steps--
	}
	return nil
}

func runMigration(ctx context.Context, db *sql.DB, version, path, record string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", filepath.Base(path), err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", version, err)
	}
	if text := strings.TrimSpace(string(contents)); text != "" {
		if _, err := tx.ExecContext(ctx, text); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", filepath.Base(path), err)
		}
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
