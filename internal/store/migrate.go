package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

var migrationFilePattern = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

// Migration is one numbered schema change with its rollback.
type Migration struct {
	Version string
	UpPath  string
	// DownPath is empty when no down file exists; LoadMigrations rejects that.
	DownPath string
}

// LoadMigrations pairs the up and down files in dir, ordered by version.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		path := filepath.Join(dir, entry.Name())
		switch {
		case direction == "up" && m.UpPath == "":
			m.UpPath = path
		case direction == "down" && m.DownPath == "":
			m.DownPath = path
		default:
			return nil, fmt.Errorf("duplicate %s migration for version %s", direction, version)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpPath == "" || m.DownPath == "" {
			return nil, fmt.Errorf("version %s must include both up and down files", m.Version)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// ApplyMigrations runs every pending up migration, each in its own
// transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	for _, m := range migrations {
		migrated, err := isMigrated(ctx, db, m.Version)
		if err != nil {
			return err
		}
		if migrated {
			continue
		}
		if err := runMigrationFile(ctx, db, m.UpPath, `INSERT INTO schema_migrations(version) VALUES($1)`, m.Version); err != nil {
			return err
		}
	}
	return nil
}

// RollbackMigration reverts the most recently applied migration and returns
// its version. It returns an empty version when nothing is applied.
func RollbackMigration(ctx context.Context, db *sql.DB, migrationsDir string) (string, error) {
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return "", err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return "", err
	}

	var latest string
	err = db.QueryRowContext(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find latest migration: %w", err)
	}

	for _, m := range migrations {
		if m.Version != latest {
			continue
		}
		if err := runMigrationFile(ctx, db, m.DownPath, `DELETE FROM schema_migrations WHERE version=$1`, m.Version); err != nil {
			return "", err
		}
		return latest, nil
	}
	return "", fmt.Errorf("no migration files for applied version %s", latest)
}

func runMigrationFile(ctx context.Context, db *sql.DB, path, bookkeeping, version string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration %s: %w", filepath.Base(path), err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
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
