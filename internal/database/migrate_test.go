package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMigrations_OrdersByVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000010_later.up.sql",
		"000002_second.up.sql",
		"000002_second.down.sql",
		"000001_online_status.up.sql",
		"notes.txt",
		"bad_version.up.sql",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "000003_dir.up.sql"), 0o755))

	migrations, err := readMigrations(dir)
	require.NoError(t, err)

	require.Len(t, migrations, 3)
	assert.Equal(t, migration{Version: 1, File: "000001_online_status.up.sql"}, migrations[0])
	assert.Equal(t, migration{Version: 2, File: "000002_second.up.sql"}, migrations[1])
	assert.Equal(t, migration{Version: 10, File: "000010_later.up.sql"}, migrations[2])
}

func TestReadMigrations_MissingDir(t *testing.T) {
	_, err := readMigrations(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestReadMigrations_RepositoryMigrations(t *testing.T) {
	migrations, err := readMigrations(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, int64(1), migrations[0].Version)
}
