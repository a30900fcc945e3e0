package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"002_add_index.up.sql",
		"001_create_tables.down.sql",
		"001_create_tables.up.sql",
		"003_seed.sql",
		"README.md",
		"notes.sql",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "004_dir"), 0o755))

	files, err := LoadMigrationFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 4)

	assert.Equal(t, 1, files[0].Version)
	assert.Equal(t, 1, files[1].Version)
	assert.Equal(t, 2, files[2].Version)
	assert.Equal(t, "add_index", files[2].Name)
	assert.True(t, files[2].Up)
	assert.Equal(t, 3, files[3].Version)
	assert.True(t, files[3].Up)

	var downs int
	for _, f := range files {
		if !f.Up {
			downs++
			assert.Equal(t, "create_tables", f.Name)
		}
	}
	assert.Equal(t, 1, downs)
}

func TestLoadMigrationFiles_RepoMigrations(t *testing.T) {
	files, err := LoadMigrationFiles(filepath.Join("..", "..", "..", "migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "create_killswitch_tables", files[0].Name)
}

func TestParseVersionAndName(t *testing.T) {
	tests := []struct {
		filename string
		version  int
		name     string
		wantErr  bool
	}{
		{"001_create_tables.up.sql", 1, "create_tables", false},
		{"010_backfill.DOWN.sql", 10, "backfill", false},
		{"7_plain.sql", 7, "plain", false},
		{"v1_bad.sql", 0, "", true},
		{"nounderscore.sql", 0, "", true},
		{"_leading.sql", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, err := parseVersionAndName(tt.filename)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.version, version)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestLoadMigrationFiles_MissingDir(t *testing.T) {
	_, err := LoadMigrationFiles(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
