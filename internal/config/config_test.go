package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendJSONFile, cfg.Storage.Backend)
	assert.Equal(t, 5*time.Second, cfg.Watch.PollInterval)
	assert.Equal(t, 3, cfg.Workflow.ProjectTerminalStep)
	assert.Equal(t, 3, cfg.Workflow.ModelTerminalStep)
	assert.Equal(t, "TEST_SUITE/", cfg.Objstore.Prefix)
	assert.Equal(t, 5*time.Second, cfg.TestRunner.HealthTimeout)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
storage:
  backend: sqlite
workflow:
  project_terminal_step: 5
webhooks:
  - url: https://hooks.example.com/release
    events: [releases.completed]
`))
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, 5, cfg.Workflow.ProjectTerminalStep)
	assert.Equal(t, 3, cfg.Workflow.ModelTerminalStep)
	assert.Equal(t, "/api", cfg.Server.BasePath)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"releases.completed"}, cfg.Webhooks[0].Events)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown backend":     "storage:\n  backend: mongo\n",
		"postgres no dsn":     "storage:\n  backend: postgres\n",
		"postgres kv dsn":     "storage:\n  backend: postgres\n  postgres_dsn: host=localhost\n",
		"terminal too high":   "workflow:\n  model_terminal_step: 7\n",
		"terminal zero":       "workflow:\n  project_terminal_step: 0\n",
		"s3 without bucket":   "objstore:\n  kind: s3\n",
		"webhook without url": "webhooks:\n  - events: [x]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, BackendJSONFile, cfg.Storage.Backend)

	_, err = Load(dir)
	assert.ErrorContains(t, err, "not found")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "releasedesk.yml"), []byte("storage:\n  backend: sqlite\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
}
