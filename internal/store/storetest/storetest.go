// Package storetest holds the behavioural suite every store.Backend must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"releasedesk/internal/domain"
	"releasedesk/internal/store"
)

// Clock is a settable time source for backends under test.
type Clock struct{ T time.Time }

func (c *Clock) Now() time.Time { return c.T }

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// Factory opens a fresh, empty backend reading time from clock.
type Factory func(t *testing.T, clock *Clock) store.Backend

func strp(s string) *string { return &s }

// SampleProject returns a project on round 2 with history, notes and ids.
func SampleProject() domain.Project {
	p := domain.Project{Country: "ITA", Segment: domain.SegmentConsumer}
	p.Status = domain.StatusInProgress
	p.CurrentRound = 2
	p.Rounds = []domain.WorkflowRound{
		{ID: "r1", RoundNumber: 1, TestType: domain.TestCategorization, CurrentStep: 3,
			StartedAt: "2026-01-01T00:00:00Z", CompletedAt: strp("2026-01-02T00:00:00Z"), Notes: strp("bad recall")},
		{ID: "r2", RoundNumber: 2, TestType: domain.TestSuite, CurrentStep: 1,
			StartedAt: "2026-01-03T00:00:00Z", TestRunID: strp("run-7")},
	}
	p.ModelIDs = &domain.ModelIDs{ModelOut: strp("m-out")}
	return p
}

// SampleRelease returns a release with two models, one excluded.
func SampleRelease() domain.Release {
	a := domain.ReleaseModel{ID: "m1", Country: "ITA", Segment: domain.SegmentConsumer, Included: true}
	a.Status = domain.StatusInProgress
	a.CurrentRound = 1
	a.Rounds = []domain.WorkflowRound{{ID: "r1", RoundNumber: 1, TestType: domain.TestCategorization, CurrentStep: 2, StartedAt: "2026-01-01T00:00:00Z"}}
	b := domain.ReleaseModel{ID: "m2", Country: "DEU", Segment: domain.SegmentTagger, Included: false, Confirmed: true}
	b.Status = domain.StatusWaiting
	b.CurrentRound = 1
	b.Rounds = []domain.WorkflowRound{{ID: "r1", RoundNumber: 1, TestType: domain.TestTagging, CurrentStep: 3, StartedAt: "2026-01-01T00:00:00Z"}}
	b.ConfirmedAt = strp("2026-01-04T00:00:00Z")
	b.ModelIDs = &domain.ModelIDs{ModelOut: strp("o"), ModelIn: strp("i"), RulesOut: strp("ro"), RulesIn: strp("ri")}
	return domain.Release{Version: "v2.3", TargetDate: "2026-03-01", Models: []domain.ReleaseModel{a, b}}
}

// Run exercises the collection contract against backends built by open.
func Run(t *testing.T, open Factory) {
	ctx := context.Background()
	start := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	t.Run("CreateStampsIDAndTimestamps", func(t *testing.T) {
		clock := &Clock{T: start}
		b := open(t, clock)
		p, err := b.Projects().Create(ctx, SampleProject())
		require.NoError(t, err)
		assert.NotEmpty(t, p.ID)
		assert.Equal(t, "2026-02-01T09:00:00Z", p.CreatedAt)
		assert.Equal(t, p.CreatedAt, p.UpdatedAt)

		got, err := b.Projects().Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	})

	t.Run("CreateKeepsGivenIDAndRejectsDuplicates", func(t *testing.T) {
		b := open(t, &Clock{T: start})
		e, err := b.AppConfig().Create(ctx, domain.AppConfigEntry{ID: "cfg-1", Key: domain.ConfigKeySharedPassword, Value: "x"})
		require.NoError(t, err)
		assert.Equal(t, "cfg-1", e.ID)

		_, err = b.AppConfig().Create(ctx, domain.AppConfigEntry{ID: "cfg-1", Key: "other", Value: "y"})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("ReleaseRoundTripsModels", func(t *testing.T) {
		b := open(t, &Clock{T: start})
		r, err := b.Releases().Create(ctx, SampleRelease())
		require.NoError(t, err)
		got, err := b.Releases().Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r, got)
		require.Len(t, got.Models, 2)
		assert.Equal(t, "ITA", got.Models[0].Country)
		assert.Equal(t, "DEU", got.Models[1].Country)
	})

	t.Run("EmptyReleaseKeepsEmptyModels", func(t *testing.T) {
		b := open(t, &Clock{T: start})
		rel := SampleRelease()
		rel.Models = []domain.ReleaseModel{}
		r, err := b.Releases().Create(ctx, rel)
		require.NoError(t, err)
		got, err := b.Releases().Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r, got)
		assert.NotNil(t, got.Models)
		list, err := b.Releases().List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.NotNil(t, list[0].Models)
	})

	t.Run("ListKeepsInsertionOrder", func(t *testing.T) {
		clock := &Clock{T: start}
		b := open(t, clock)
		for _, c := range []string{"ITA", "DEU", "FRA"} {
			p := SampleProject()
			p.Country = c
			_, err := b.Projects().Create(ctx, p)
			require.NoError(t, err)
			clock.Advance(time.Minute)
		}
		list, err := b.Projects().List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []string{"ITA", "DEU", "FRA"}, []string{list[0].Country, list[1].Country, list[2].Country})
	})

	t.Run("UpdateMergesShallowly", func(t *testing.T) {
		clock := &Clock{T: start}
		b := open(t, clock)
		p, err := b.Projects().Create(ctx, SampleProject())
		require.NoError(t, err)

		clock.Advance(time.Hour)
		held, err := b.Projects().Update(ctx, p.ID, store.Patch{"status": domain.StatusOnHold, "id": "hijack", "createdAt": "1999-01-01T00:00:00Z"})
		require.NoError(t, err)
		assert.Equal(t, p.ID, held.ID)
		assert.Equal(t, p.CreatedAt, held.CreatedAt)
		assert.Equal(t, "2026-02-01T10:00:00Z", held.UpdatedAt)
		assert.Equal(t, domain.StatusOnHold, held.Status)
		assert.Equal(t, p.Rounds, held.Rounds, "untouched fields survive")

		rounds := []domain.WorkflowRound{{ID: "only", RoundNumber: 1, TestType: domain.TestSuite, CurrentStep: 2, StartedAt: "2026-02-01T10:00:00Z"}}
		replaced, err := b.Projects().Update(ctx, p.ID, store.Patch{"rounds": rounds, "currentRound": 1})
		require.NoError(t, err)
		assert.Equal(t, rounds, replaced.Rounds, "nested values are replaced whole")

		got, err := b.Projects().Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, replaced, got)
	})

	t.Run("UpdateReplacesReleaseModels", func(t *testing.T) {
		b := open(t, &Clock{T: start})
		r, err := b.Releases().Create(ctx, SampleRelease())
		require.NoError(t, err)
		models := []domain.ReleaseModel{r.Models[1]}
		updated, err := b.Releases().Update(ctx, r.ID, store.Patch{"models": models, "completed": true})
		require.NoError(t, err)
		assert.True(t, updated.Completed)

		got, err := b.Releases().Get(ctx, r.ID)
		require.NoError(t, err)
		require.Len(t, got.Models, 1)
		assert.Equal(t, "DEU", got.Models[0].Country)
		assert.True(t, got.Completed)
	})

	t.Run("MissingIDsAreNotFound", func(t *testing.T) {
		b := open(t, &Clock{T: start})
		_, err := b.Projects().Get(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = b.Releases().Update(ctx, "nope", store.Patch{"version": "x"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, b.AppConfig().Remove(ctx, "nope"), domain.ErrNotFound)
	})

	t.Run("RemoveDeletes", func(t *testing.T) {
		b := open(t, &Clock{T: start})
		r, err := b.Releases().Create(ctx, SampleRelease())
		require.NoError(t, err)
		require.NoError(t, b.Releases().Remove(ctx, r.ID))
		_, err = b.Releases().Get(ctx, r.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		list, err := b.Releases().List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}
