package release_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"releasedesk/internal/domain"
	"releasedesk/internal/release"
	"releasedesk/internal/workflow"
)

var t0 = time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

func newRelease(t *testing.T, pairs ...domain.ReleaseModel) *domain.Release {
	t.Helper()
	r := &domain.Release{ID: "rel-1", Version: "7.6.6", TargetDate: "2026-03-01"}
	for i, p := range pairs {
		m, err := release.NewModel(string(rune('a'+i)), "round", p.Country, p.Segment, t0)
		require.NoError(t, err)
		require.NoError(t, release.AddModel(r, m))
	}
	return r
}

func pair(country string, segment domain.Segment) domain.ReleaseModel {
	return domain.ReleaseModel{Country: country, Segment: segment}
}

func toTerminal(t *testing.T, r *domain.Release, id string) {
	t.Helper()
	policy := workflow.ModelPolicy(0)
	idx := r.Model(id)
	require.GreaterOrEqual(t, idx, 0)
	for r.Models[idx].Rounds[r.Models[idx].ActiveRound()].CurrentStep < policy.TerminalStep {
		require.NoError(t, policy.Advance(&r.Models[idx], r.Models[idx].CurrentRound, t0))
	}
}

func confirm(t *testing.T, r *domain.Release, id string) {
	t.Helper()
	toTerminal(t, r, id)
	require.NoError(t, release.ConfirmModel(r, id, workflow.ModelPolicy(0), nil, t0))
}

func TestNewModelStartsWorkflow(t *testing.T) {
	m, err := release.NewModel("m1", "r1", "MEX", domain.SegmentTagger, t0)
	require.NoError(t, err)
	assert.True(t, m.Included)
	assert.False(t, m.Confirmed)
	assert.Equal(t, domain.StatusInProgress, m.Status)
	assert.Equal(t, domain.TestTagging, m.Rounds[0].TestType)
	require.NoError(t, workflow.Check(m.Workflow))

	_, err = release.NewModel("m2", "r2", "ITA", "retail", t0)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCompletesAfterLastIncludedConfirmation(t *testing.T) {
	r := newRelease(t, pair("ITA", domain.SegmentConsumer), pair("ITA", domain.SegmentBusiness))
	require.Len(t, r.Models, 2)
	assert.False(t, r.Completed)

	confirm(t, r, "a")
	assert.False(t, r.Completed)
	confirm(t, r, "b")
	assert.True(t, r.Completed)
}

func TestCompletionOrderIndependent(t *testing.T) {
	r := newRelease(t, pair("DEU", domain.SegmentConsumer), pair("DEU", domain.SegmentBusiness), pair("DEU", domain.SegmentTagger))
	for i, id := range []string{"c", "a", "b"} {
		confirm(t, r, id)
		assert.Equal(t, i == 2, r.Completed, "after confirming %s", id)
	}
}

func TestExcludedModelIsNotCounted(t *testing.T) {
	r := newRelease(t, pair("ITA", domain.SegmentConsumer), pair("ITA", domain.SegmentBusiness))
	require.NoError(t, release.ToggleInclusion(r, "b"))
	assert.False(t, r.Completed)
	confirm(t, r, "a")
	assert.True(t, r.Completed)
}

func TestExcludingBeforeConfirmationDoesNotComplete(t *testing.T) {
	r := newRelease(t, pair("ITA", domain.SegmentConsumer), pair("ITA", domain.SegmentBusiness))
	require.NoError(t, release.ToggleInclusion(r, "a"))
	assert.False(t, r.Completed)
	require.NoError(t, release.ToggleInclusion(r, "a"))
	confirm(t, r, "a")
	assert.False(t, r.Completed)
}

func TestAllExcludedNeverCompletes(t *testing.T) {
	r := newRelease(t, pair("ESP", domain.SegmentConsumer))
	require.NoError(t, release.ToggleInclusion(r, "a"))
	assert.False(t, release.Evaluate(r))
	assert.False(t, r.Completed)

	empty := &domain.Release{ID: "x"}
	assert.False(t, release.Evaluate(empty))
}

func TestCompletionIsMonotonic(t *testing.T) {
	r := newRelease(t, pair("FRA", domain.SegmentConsumer))
	confirm(t, r, "a")
	require.True(t, r.Completed)

	m, err := release.NewModel("z", "rz", "FRA", domain.SegmentBusiness, t0)
	require.NoError(t, err)
	require.NoError(t, release.AddModel(r, m))
	assert.True(t, r.Completed)

	require.NoError(t, release.ToggleInclusion(r, "a"))
	assert.True(t, r.Completed)
}

func TestDuplicatePairRejected(t *testing.T) {
	r := newRelease(t, pair("ITA", domain.SegmentConsumer))
	m, err := release.NewModel("dup", "rd", "ITA", domain.SegmentConsumer, t0)
	require.NoError(t, err)
	require.ErrorIs(t, release.AddModel(r, m), domain.ErrDuplicateModel)
	assert.Len(t, r.Models, 1)
}

func TestRemoveModel(t *testing.T) {
	r := newRelease(t, pair("GBR", domain.SegmentConsumer), pair("GBR", domain.SegmentBusiness))
	confirm(t, r, "a")
	removed, err := release.RemoveModel(r, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", removed.ID)
	assert.Len(t, r.Models, 1)
	assert.True(t, r.Completed, "remaining included models are all confirmed")

	_, err = release.RemoveModel(r, "b")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConfirmModelNotReady(t *testing.T) {
	r := newRelease(t, pair("IND", domain.SegmentConsumer))
	err := release.ConfirmModel(r, "a", workflow.ModelPolicy(0), nil, t0)
	require.ErrorIs(t, err, domain.ErrNotReady)
	assert.False(t, r.Models[0].Confirmed)
	assert.False(t, r.Completed)

	require.ErrorIs(t, release.ConfirmModel(r, "missing", workflow.ModelPolicy(0), nil, t0), domain.ErrNotFound)
}

func TestForceComplete(t *testing.T) {
	r := newRelease(t, pair("USA", domain.SegmentConsumer))
	release.ForceComplete(r)
	assert.True(t, r.Completed)
	assert.False(t, r.Models[0].Confirmed)
}

func TestValidateHeader(t *testing.T) {
	require.NoError(t, release.ValidateHeader("7.6.6", "2026-03-01"))
	require.ErrorIs(t, release.ValidateHeader(" ", "2026-03-01"), domain.ErrValidation)
	require.ErrorIs(t, release.ValidateHeader("7.6.6", "01/03/2026"), domain.ErrValidation)
}

func TestSummarize(t *testing.T) {
	r := newRelease(t, pair("POL", domain.SegmentConsumer), pair("CZE", domain.SegmentConsumer), pair("CZE", domain.SegmentBusiness))
	require.NoError(t, release.ToggleInclusion(r, "c"))
	confirm(t, r, "a")
	s := release.Summarize(*r)
	assert.Equal(t, release.Summary{Total: 3, Included: 2, Confirmed: 1, Pending: 1}, s)
}
