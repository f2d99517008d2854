package testrunner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"releasedesk/internal/domain"
)

func newClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(srv.URL, nil)
	c.PollInterval = 5 * time.Millisecond
	c.HTTPClient.(*RetryClient).BaseDelay = time.Millisecond
	return c
}

func TestHealthReportsUnavailableAfterTimeout(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	c.HealthTimeout = 20 * time.Millisecond

	start := time.Now()
	h := c.Health(context.Background())
	assert.Equal(t, HealthUnavailable, h.Status)
	assert.NotEmpty(t, h.Error)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHealthOK(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ok","data_available":true}`))
	}))
	h := c.Health(context.Background())
	assert.Equal(t, HealthOK, h.Status)
	assert.True(t, h.DataAvailable)
}

func TestTriggerRoutesBySegment(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"run_id":"ITA_Tagger_1","status":"pending"}`))
	}))

	id, err := c.Trigger(context.Background(), RunConfig{
		Country: "ITA", Segment: domain.SegmentTagger, Version: "1.2.0",
		OldModel: "old.zip", NewModel: "new.zip",
		CompanyList: "companies.csv", DistributionData: "dist.csv",
	})
	require.NoError(t, err)
	assert.Equal(t, "ITA_Tagger_1", id)
	assert.Equal(t, "/api/testsuite/run/tagger", gotPath)
	assert.Equal(t, "Tagger", gotBody["segment"])
	assert.Equal(t, "companies.csv", gotBody["company_list"])

	_, err = c.Trigger(context.Background(), RunConfig{
		Country: "ITA", Segment: domain.SegmentConsumer, OldModel: "a", NewModel: "b",
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/testsuite/run/consumer-business", gotPath)
	assert.Equal(t, "Consumer", gotBody["segment"])
}

func TestTriggerIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	_, err := c.Trigger(context.Background(), RunConfig{Country: "ITA", Segment: domain.SegmentBusiness, OldModel: "a", NewModel: "b"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTriggerValidatesLocally(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("runner must not be called")
	}))
	_, err := c.Trigger(context.Background(), RunConfig{Country: "ITA", Segment: domain.SegmentTagger, OldModel: "a", NewModel: "b"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStatusRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"run_id":"r1","status":"running","progress":40}`))
	}))
	st, err := c.Status(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, st.Status)
	require.NotNil(t, st.Progress)
	assert.Equal(t, 40, *st.Progress)
	assert.Equal(t, int32(3), calls.Load())
}

func TestStatusUnknownRunIsNotFound(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Test run not found"}`, http.StatusNotFound)
	}))
	_, err := c.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWaitPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			_, _ = w.Write([]byte(`{"run_id":"r1","status":"pending"}`))
		case 2:
			_, _ = w.Write([]byte(`{"run_id":"r1","status":"running"}`))
		default:
			_, _ = w.Write([]byte(`{"run_id":"r1","status":"completed","result":{"reports":4}}`))
		}
	}))
	var seen []string
	st, err := c.Wait(context.Background(), "r1", func(s RunStatus) { seen = append(seen, s.Status) })
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, st.Status)
	assert.Equal(t, []string{RunPending, RunRunning, RunCompleted}, seen)
	assert.EqualValues(t, 4, st.Result["reports"])
}

func TestWaitReportsFailure(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"run_id":"r1","status":"failed","message":"model file missing"}`))
	}))
	st, err := c.Wait(context.Background(), "r1", nil)
	assert.True(t, errors.Is(err, ErrRunFailed))
	assert.Equal(t, RunFailed, st.Status)
}

func TestWaitStopsOnContext(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"run_id":"r1","status":"running"}`))
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx, "r1", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRuns(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"runs":[{"run_id":"a","status":"completed"},{"run_id":"b","status":"running"}]}`))
	}))
	runs, err := c.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].Terminal())
	assert.False(t, runs[1].Terminal())
}
