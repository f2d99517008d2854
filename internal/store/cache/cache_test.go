package cache_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"releasedesk/internal/domain"
	"releasedesk/internal/events"
	"releasedesk/internal/store"
	"releasedesk/internal/store/cache"
	"releasedesk/internal/store/jsonfile"
	"releasedesk/internal/store/storetest"
)

func TestContractThroughCache(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock *storetest.Clock) store.Backend {
		inner, err := jsonfile.Open(jsonfile.Config{Path: filepath.Join(t.TempDir(), "data.json"), Now: clock.Now})
		require.NoError(t, err)
		return cache.Wrap(inner, nil, nil)
	})
}

// countingBackend counts List calls reaching the wrapped store.
type countingBackend struct {
	store.Backend
	lists int
}

type countingProjects struct {
	store.Collection[domain.Project]
	b *countingBackend
}

func (c countingProjects) List(ctx context.Context) ([]domain.Project, error) {
	c.b.lists++
	return c.Collection.List(ctx)
}

func (b *countingBackend) Projects() store.Collection[domain.Project] {
	return countingProjects{Collection: b.Backend.Projects(), b: b}
}

func TestSnapshotsAreReusedUntilInvalidated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	inner, err := jsonfile.Open(jsonfile.Config{Path: path})
	require.NoError(t, err)
	counting := &countingBackend{Backend: inner}
	broker := events.NewBroker(nil)
	c := cache.Wrap(counting, broker, nil)
	ctx := context.Background()

	p, err := c.Projects().Create(ctx, storetest.SampleProject())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		list, err := c.Projects().List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
	}
	assert.Equal(t, 1, counting.lists)

	// Another process writes the file directly.
	other, err := jsonfile.Open(jsonfile.Config{Path: path})
	require.NoError(t, err)
	_, err = other.Projects().Update(ctx, p.ID, store.Patch{"status": domain.StatusOnHold})
	require.NoError(t, err)

	got, err := c.Projects().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, got.Status, "served from the snapshot")

	require.NoError(t, broker.Publish(ctx, events.Change{Collection: store.Projects, Op: events.OpUpdated, ID: p.ID}))
	got, err = c.Projects().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnHold, got.Status)
}

func TestCachedValuesAreCopies(t *testing.T) {
	inner, err := jsonfile.Open(jsonfile.Config{Path: filepath.Join(t.TempDir(), "data.json")})
	require.NoError(t, err)
	c := cache.Wrap(inner, nil, nil)
	ctx := context.Background()
	r, err := c.Releases().Create(ctx, storetest.SampleRelease())
	require.NoError(t, err)

	list, err := c.Releases().List(ctx)
	require.NoError(t, err)
	list[0].Models[0].Rounds[0].CurrentStep = 99

	got, err := c.Releases().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Models[0].Rounds[0].CurrentStep)
}
