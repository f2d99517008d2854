package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureWorkspaceCreatesStateDir(t *testing.T) {
	ws := t.TempDir()
	dir, err := EnsureWorkspace(ws)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws, ".releasedesk"), dir)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	again, err := EnsureWorkspace(ws)
	require.NoError(t, err)
	assert.Equal(t, dir, again)
}

func TestOpenSQLiteUsesStateDir(t *testing.T) {
	ws := t.TempDir()
	conn, err := Open(Config{Dialect: DialectSQLite, Workspace: ws})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Ping())

	assert.Equal(t, filepath.Join(ws, ".releasedesk", "releasedesk.db"), Path(Config{Workspace: ws}))
	_, err = os.Stat(filepath.Join(ws, ".releasedesk", "releasedesk.db"))
	assert.NoError(t, err)
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	_, err := Open(Config{Dialect: "mysql"})
	assert.Error(t, err)
	_, err = Open(Config{Dialect: DialectPostgres})
	assert.Error(t, err)
}
