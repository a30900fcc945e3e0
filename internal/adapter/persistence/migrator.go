package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/logger"
)

// MigrationFile is one versioned SQL script under the migrations directory
type MigrationFile struct {
	Version int
	Name    string
	Path    string
	Up      bool
}

// Migrator applies the numbered SQL scripts in a directory and tracks them
// in schema_migrations. Each script runs in its own transaction.
type Migrator struct {
	db     *sql.DB
	dir    string
	logger logger.Logger
}

// NewMigrator creates a new migrator
func NewMigrator(db *sql.DB, dir string, log logger.Logger) *Migrator {
	return &Migrator{db: db, dir: dir, logger: log}
}

// Up applies every pending up script in version order. It returns how many
// scripts ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	files, err := LoadMigrationFiles(m.dir)
	if err != nil {
		return 0, err
	}
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}

	applied := 0
	for _, f := range files {
		if !f.Up {
			continue
		}
		done, err := m.isApplied(ctx, f.Version)
		if err != nil {
			return applied, err
		}
		if done {
			continue
		}

		m.logger.Info(ctx, "Applying migration", map[string]interface{}{
			"version": f.Version,
			"name":    f.Name,
		})
		err = m.run(ctx, f, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", f.Version, f.Name)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("failed applying %s: %w", f.Path, err)
		}
		applied++
	}
	return applied, nil
}

// Down reverts every applied down script in reverse version order
func (m *Migrator) Down(ctx context.Context) (int, error) {
	files, err := LoadMigrationFiles(m.dir)
	if err != nil {
		return 0, err
	}
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}

	var downs []MigrationFile
	for _, f := range files {
		if !f.Up {
			downs = append(downs, f)
		}
	}
	sort.Slice(downs, func(i, j int) bool { return downs[i].Version > downs[j].Version })

	reverted := 0
	for _, f := range downs {
		done, err := m.isApplied(ctx, f.Version)
		if err != nil {
			return reverted, err
		}
		if !done {
			continue
		}

		m.logger.Info(ctx, "Reverting migration", map[string]interface{}{
			"version": f.Version,
			"name":    f.Name,
		})
		err = m.run(ctx, f, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = $1", f.Version)
			return err
		})
		if err != nil {
			return reverted, fmt.Errorf("failed reverting %s: %w", f.Path, err)
		}
		reverted++
	}
	return reverted, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) isApplied(ctx context.Context, version int) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check migration %d: %w", version, err)
	}
	return exists, nil
}

func (m *Migrator) run(ctx context.Context, f MigrationFile, track func(*sql.Tx) error) error {
	script, err := os.ReadFile(f.Path)
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return err
	}
	if err := track(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadMigrationFiles lists the versioned .sql files of dir sorted by version.
// Files without a numeric prefix are skipped; a plain .sql file counts as up.
func LoadMigrationFiles(dir string) ([]MigrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []MigrationFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		lower := strings.ToLower(name)
		if !strings.HasSuffix(lower, ".sql") {
			continue
		}

		version, migName, err := parseVersionAndName(name)
		if err != nil {
			continue
		}
		files = append(files, MigrationFile{
			Version: version,
			Name:    migName,
			Path:    filepath.Join(dir, name),
			Up:      !strings.HasSuffix(lower, ".down.sql"),
		})
	}

	sort.SliceStable(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// parseVersionAndName splits "001_create_tables.up.sql" into 1 and
// "create_tables".
func parseVersionAndName(filename string) (int, string, error) {
	parts := strings.SplitN(filename, "_", 2)
	if len(parts) < 2 || parts[0] == "" {
		return 0, "", errors.New("invalid migration filename")
	}
	for _, r := range parts[0] {
		if r < '0' || r > '9' {
			return 0, "", errors.New("invalid migration version")
		}
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", err
	}

	name := parts[1]
	for _, suffix := range []string{".up.sql", ".down.sql", ".sql"} {
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			name = name[:len(name)-len(suffix)]
			break
		}
	}
	return version, name, nil
}
