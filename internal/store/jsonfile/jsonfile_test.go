package jsonfile_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"releasedesk/internal/domain"
	"releasedesk/internal/store"
	"releasedesk/internal/store/jsonfile"
	"releasedesk/internal/store/storetest"
)

func open(t *testing.T, clock *storetest.Clock) store.Backend {
	t.Helper()
	s, err := jsonfile.Open(jsonfile.Config{Path: filepath.Join(t.TempDir(), "data", "data.json"), Now: clock.Now})
	require.NoError(t, err)
	return s
}

func TestContract(t *testing.T) {
	storetest.Run(t, open)
}

func TestOpenCreatesEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.json")
	_, err := jsonfile.Open(jsonfile.Config{Path: path})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{"projects", "releases", "app_config"} {
		assert.JSONEq(t, `[]`, string(doc[key]), key)
	}
}

func TestDocumentIsSharedAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	a, err := jsonfile.Open(jsonfile.Config{Path: path})
	require.NoError(t, err)
	b, err := jsonfile.Open(jsonfile.Config{Path: path})
	require.NoError(t, err)

	ctx := context.Background()
	p, err := a.Projects().Create(ctx, storetest.SampleProject())
	require.NoError(t, err)
	got, err := b.Projects().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"currentRound": 2`)
	assert.Contains(t, string(data), `"roundNumber": 1`)
}

func TestCorruptFileIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	s, err := jsonfile.Open(jsonfile.Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err = s.Projects().List(context.Background())
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	_, err = s.Releases().Create(context.Background(), storetest.SampleRelease())
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}
