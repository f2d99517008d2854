package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"releasedesk/internal/domain"
	"releasedesk/internal/store"
)

var now = time.Date(2026, 5, 4, 12, 30, 0, 0, time.FixedZone("CEST", 2*3600))

func TestPrepareAssignsIDOnlyWhenEmpty(t *testing.T) {
	e, id, err := store.Prepare(domain.AppConfigEntry{Key: "k"}, func() string { return "gen" }, now)
	require.NoError(t, err)
	assert.Equal(t, "gen", id)
	assert.Equal(t, "gen", e.ID)
	assert.Equal(t, "2026-05-04T10:30:00Z", e.CreatedAt)
	assert.Equal(t, e.CreatedAt, e.UpdatedAt)

	e, id, err = store.Prepare(domain.AppConfigEntry{ID: "mine", CreatedAt: "old"}, func() string { return "gen" }, now)
	require.NoError(t, err)
	assert.Equal(t, "mine", id)
	assert.Equal(t, "2026-05-04T10:30:00Z", e.CreatedAt)
}

func TestMergeProtectsIdentity(t *testing.T) {
	cur := domain.AppConfigEntry{ID: "a", Key: "k", Value: "1", CreatedAt: "c", UpdatedAt: "u"}
	got, err := store.Merge(cur, store.Patch{"id": "b", "createdAt": "x", "value": "2"}, now)
	require.NoError(t, err)
	assert.Equal(t, domain.AppConfigEntry{ID: "a", Key: "k", Value: "2", CreatedAt: "c", UpdatedAt: "2026-05-04T10:30:00Z"}, got)
}

func TestMergeReplacesNestedValues(t *testing.T) {
	r := domain.Release{ID: "r", Version: "v1", Models: []domain.ReleaseModel{{ID: "m1"}, {ID: "m2"}}}
	got, err := store.Merge(r, store.Patch{"models": []map[string]any{{"id": "m3"}}}, now)
	require.NoError(t, err)
	require.Len(t, got.Models, 1)
	assert.Equal(t, "m3", got.Models[0].ID)
	assert.Equal(t, "v1", got.Version)
}

func TestMergeRejectsMistypedFields(t *testing.T) {
	_, err := store.Merge(domain.Release{ID: "r"}, store.Patch{"completed": "yes"}, now)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
