package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// migration is one NNNNNN_name.up.sql file
type migration struct {
	Version int64
	File    string
}

// EnsureSchema applies all pending migrations in the migrations directory.
// It creates a schema_migrations table to track applied versions.
func EnsureSchema(ctx context.Context, db *DB, migrationsDir string) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version BIGINT PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	migrations, err := readMigrations(migrationsDir)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		var applied bool
		err = db.Pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", m.Version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration version %d: %w", m.Version, err)
		}
		if applied {
			continue
		}

		if err := applyMigration(ctx, db, migrationsDir, m); err != nil {
			return err
		}
		slog.Info("migration applied", "version", m.Version, "file", m.File)
	}

	return nil
}

func applyMigration(ctx context.Context, db *DB, dir string, m migration) error {
	content, err := os.ReadFile(filepath.Join(dir, m.File))
	if err != nil {
		return fmt.Errorf("read migration file %s: %w", m.File, err)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("execute migration %s: %w", m.File, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
		return fmt.Errorf("record migration %s: %w", m.File, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.File, err)
	}
	return nil
}

// readMigrations lists the .up.sql files of dir ordered by version
func readMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var migrations []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		// "000001" from "000001_online_status.up.sql"
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil {
			slog.Warn("skipping migration file with invalid version format", "file", name)
			continue
		}
		migrations = append(migrations, migration{Version: version, File: name})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}
