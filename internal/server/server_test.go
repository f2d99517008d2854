package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"releasedesk/internal/auth"
	"releasedesk/internal/config"
	"releasedesk/internal/domain"
	"releasedesk/internal/engine"
	"releasedesk/internal/events"
	"releasedesk/internal/objstore"
	"releasedesk/internal/store"
	"releasedesk/internal/store/jsonfile"
	"releasedesk/internal/testrunner"
)

type testServer struct {
	URL     string
	Token   string
	Engine  engine.Engine
	Broker  *events.Broker
	Store   *jsonfile.Store
	Objects objstore.Local
	client  *http.Client
}

type serverOptions struct {
	runnerURL string
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	s, err := jsonfile.Open(jsonfile.Config{Path: filepath.Join(t.TempDir(), "data.json")})
	require.NoError(t, err)
	broker := events.NewBroker(nil)
	e := engine.New(s, engine.Options{Events: broker})
	objects := objstore.Local{Root: t.TempDir()}
	runnerURL := opts.runnerURL
	if runnerURL == "" {
		runnerURL = "http://127.0.0.1:1"
	}
	runner := testrunner.New(runnerURL, nil)
	runner.HealthTimeout = 200 * time.Millisecond

	handler, err := New(Config{
		Engine:   e,
		Broker:   broker,
		Gate:     &auth.Gate{Config: s.AppConfig()},
		Sessions: auth.Sessions{Secret: "test-secret", TTL: time.Hour},
		Objects:  objects,
		Runner:   runner,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		_ = s.Close()
	})

	ts := &testServer{URL: srv.URL, Engine: e, Broker: broker, Store: s, Objects: objects, client: srv.Client()}
	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/api/auth/login", map[string]any{"password": "hunter2"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var login LoginResponse
	require.NoError(t, json.Unmarshal(body, &login))
	require.True(t, login.Bootstrapped)
	ts.Token = login.Token
	return ts
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	return doJSON(t, s.client, method, s.URL+"/api"+path, body, map[string]string{
		"Authorization": "Bearer " + s.Token,
	})
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func TestLoginGuardsTheAPI(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	res, body := doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/projects", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, body))

	res, body = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/projects", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, body))

	res, body = doJSON(t, srv.client, http.MethodPost, srv.URL+"/api/auth/login", map[string]any{"password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, body))

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, body = srv.do(t, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestProjectWorkflowOverHTTP(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	res, body := srv.do(t, http.MethodPost, "/projects", map[string]any{"country": "ITA", "segment": "consumer", "testType": "test-suite"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	p := decode[domain.Project](t, body)
	assert.Equal(t, domain.StatusInProgress, p.Status)

	res, body = srv.do(t, http.MethodPost, "/projects/"+p.ID+"/confirm", map[string]any{})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "not_ready", errorCode(t, body))

	for i := 0; i < 2; i++ {
		res, body = srv.do(t, http.MethodPost, "/projects/"+p.ID+"/advance", map[string]any{"round": 1})
		require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	}
	p = decode[domain.Project](t, body)
	assert.True(t, p.AwaitingConfirmation)

	res, body = srv.do(t, http.MethodPost, "/projects/"+p.ID+"/advance", map[string]any{"round": 1})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "invalid_transition", errorCode(t, body))

	res, body = srv.do(t, http.MethodPost, "/projects/"+p.ID+"/confirm", map[string]any{"modelIds": map[string]any{"modelIn": "m-2"}})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	p = decode[domain.Project](t, body)
	assert.Equal(t, domain.StatusCompleted, p.Status)
	require.NotNil(t, p.ModelIDs)
	assert.Equal(t, "m-2", *p.ModelIDs.ModelIn)

	res, _ = srv.do(t, http.MethodDelete, "/projects/"+p.ID, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestErrorEnvelope(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	res, body := srv.do(t, http.MethodGet, "/projects/missing", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, body))

	res, body = srv.do(t, http.MethodPost, "/projects", map[string]any{"country": "ITA", "segment": "retail"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "bad_request", errorCode(t, body))

	res, body = srv.do(t, http.MethodPost, "/projects", map[string]any{"country": "USA", "segment": "tagger"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "bad_request", errorCode(t, body))
}

func TestReleaseCompletionOverHTTP(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	res, body := srv.do(t, http.MethodPost, "/releases", map[string]any{
		"version":    "7.6.6",
		"targetDate": "2026-03-01",
		"models":     []map[string]any{{"country": "ITA", "segment": "consumer"}, {"country": "ESP", "segment": "business"}},
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	r := decode[ReleaseResponse](t, body)
	require.Len(t, r.Models, 2)
	assert.Equal(t, 2, r.Summary.Pending)

	second := r.Models[1].ID
	res, _ = srv.do(t, http.MethodPost, "/releases/"+r.ID+"/models/"+second+"/include", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	first := r.Models[0].ID
	for i := 0; i < 2; i++ {
		res, body = srv.do(t, http.MethodPost, "/releases/"+r.ID+"/models/"+first+"/advance", map[string]any{"round": 1})
		require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	}
	res, body = srv.do(t, http.MethodPost, "/releases/"+r.ID+"/models/"+first+"/confirm", map[string]any{})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	r = decode[ReleaseResponse](t, body)
	assert.True(t, r.Completed)
	assert.Equal(t, 1, r.Summary.Included)
	assert.Equal(t, 1, r.Summary.Confirmed)

	res, body = srv.do(t, http.MethodPost, "/releases/"+r.ID+"/models", map[string]any{"country": "ITA", "segment": "consumer"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Len(t, decode[ReleaseResponse](t, body).Models, 2, "existing pair is left unchanged")
}

func TestExportCSV(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	_, err := srv.Engine.CreateProject(context.Background(), engine.CreateProjectOptions{Country: "ITA", Segment: domain.SegmentConsumer})
	require.NoError(t, err)

	res, body := srv.do(t, http.MethodGet, "/export/projects?format=csv", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Contains(t, res.Header.Get("Content-Type"), "text/csv")
	assert.Contains(t, res.Header.Get("Content-Disposition"), "projects.csv")
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "ITA")

	res, _ = srv.do(t, http.MethodGet, "/export/models", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestStorageRoutes(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/storage/file?path=reports/ita/summary.txt", strings.NewReader("accuracy 0.97"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+srv.Token)
	req.Header.Set("Content-Type", "application/octet-stream")
	res, err := srv.client.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, body := srv.do(t, http.MethodGet, "/storage/list?path=reports/ita", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	entries := decode[[]objstore.Entry](t, body)
	require.Len(t, entries, 1)
	assert.Equal(t, "summary.txt", entries[0].Name)

	res, body = srv.do(t, http.MethodGet, "/storage/file?path=reports/ita/summary.txt", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "accuracy 0.97", string(body))

	res, _ = srv.do(t, http.MethodGet, "/storage/file?path=../etc/passwd", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = srv.do(t, http.MethodGet, "/storage/url?path=reports/ita/summary.txt", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, "local store has no presigned links")
}

func TestTriggerRunRecordsOnProject(t *testing.T) {
	var triggered string
	runner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_, _ = io.WriteString(w, `{"status":"ok","data_available":true}`)
		case "/api/testsuite/run/consumer-business":
			triggered = r.URL.Path
			_, _ = io.WriteString(w, `{"run_id":"run-7","status":"pending","message":"queued"}`)
		case "/api/testsuite/status/run-7":
			_, _ = io.WriteString(w, `{"run_id":"run-7","status":"running","progress":40}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer runner.Close()
	srv := newTestServer(t, serverOptions{runnerURL: runner.URL})

	p, err := srv.Engine.CreateProject(context.Background(), engine.CreateProjectOptions{Country: "ITA", Segment: domain.SegmentConsumer})
	require.NoError(t, err)

	res, body := srv.do(t, http.MethodGet, "/testrunner/health", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, testrunner.HealthOK, decode[testrunner.Health](t, body).Status)

	res, body = srv.do(t, http.MethodPost, "/testrunner/runs", map[string]any{
		"country":   "ITA",
		"segment":   "consumer",
		"version":   "7.6.6",
		"old_model": "m-1",
		"new_model": "m-2",
		"projectId": p.ID,
	})
	require.Equal(t, http.StatusAccepted, res.StatusCode, string(body))
	assert.Equal(t, "run-7", decode[TriggerRunResponse](t, body).RunID)
	assert.Equal(t, "/api/testsuite/run/consumer-business", triggered)

	got, err := srv.Engine.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Rounds[0].TestRunID)
	assert.Equal(t, "run-7", *got.Rounds[0].TestRunID)

	res, body = srv.do(t, http.MethodGet, "/testrunner/runs/run-7", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, testrunner.RunRunning, decode[testrunner.RunStatus](t, body).Status)

	res, body = srv.do(t, http.MethodGet, "/testrunner/runs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, body))
}

func TestTestRunnerHealthWhenDown(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	res, body := srv.do(t, http.MethodGet, "/testrunner/health", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, testrunner.HealthUnavailable, decode[testrunner.Health](t, body).Status)
}

func TestEventStream(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?access_token="+srv.Token, nil)
	require.NoError(t, err)
	res, err := srv.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	lines := bufio.NewScanner(res.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: connected", lines.Text())

	// The flat file does not publish its own writes; a poller diffs it.
	poller := &events.Poller[domain.Project]{
		Collection: store.Projects,
		List:       srv.Store.Projects().List,
		Key:        func(p domain.Project) string { return p.ID },
		Publisher:  srv.Broker,
	}
	_, err = poller.Poll(ctx)
	require.NoError(t, err)

	p, err := srv.Engine.CreateProject(context.Background(), engine.CreateProjectOptions{Country: "ITA", Segment: domain.SegmentConsumer})
	require.NoError(t, err)
	changes, err := poller.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)

	for lines.Scan() {
		if lines.Text() != "event: projects.created" {
			continue
		}
		require.True(t, lines.Scan())
		data := strings.TrimPrefix(lines.Text(), "data: ")
		c := decode[events.Change](t, []byte(data))
		assert.Equal(t, p.ID, c.ID)
		return
	}
	t.Fatalf("stream ended before projects.created: %v", lines.Err())
}

func TestWebhooksDeliverMatchingChanges(t *testing.T) {
	got := make(chan *http.Request, 4)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	broker := events.NewBroker(nil)
	hooks := StartWebhooks(broker, []config.Webhook{{URL: receiver.URL, Events: []string{"releases.*"}, Secret: "s"}}, nil)
	require.NotNil(t, hooks)

	ctx := context.Background()
	require.NoError(t, broker.Publish(ctx, events.Change{Collection: "projects", Op: events.OpCreated, ID: "p1"}))
	require.NoError(t, broker.Publish(ctx, events.Change{Collection: "releases", Op: events.OpCompleted, ID: "r1"}))
	hooks.Stop()
	close(got)

	var delivered []*http.Request
	for r := range got {
		delivered = append(delivered, r)
	}
	require.Len(t, delivered, 1)
	assert.Equal(t, "releases.completed", delivered[0].Header.Get("X-Releasedesk-Event"))
	assert.Equal(t, "s", delivered[0].Header.Get("X-Releasedesk-Secret"))
}

func TestEventFilter(t *testing.T) {
	assert.True(t, newEventFilter(nil).match("projects.created"))
	f := newEventFilter([]string{"releases.completed", "projects.*"})
	assert.True(t, f.match("releases.completed"))
	assert.False(t, f.match("releases.updated"))
	assert.True(t, f.match("projects.removed"))
}

func TestOpenAPIDocumentUnderConcurrentFirstRequests(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	const n = 8
	bodies := make(chan []byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := srv.client.Get(srv.URL + "/api/openapi.json")
			if err != nil {
				bodies <- nil
				return
			}
			defer res.Body.Close()
			data, _ := io.ReadAll(res.Body)
			bodies <- data
		}()
	}
	wg.Wait()
	close(bodies)

	var first []byte
	for body := range bodies {
		require.NotEmpty(t, body)
		if first == nil {
			first = body
			continue
		}
		assert.Equal(t, first, body)
	}
	var doc map[string]any
	require.NoError(t, json.Unmarshal(first, &doc))
	assert.Contains(t, doc, "paths")
}

func TestResponsesCarryNoSchemaLinks(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	res, body := srv.do(t, http.MethodPost, "/projects", map[string]any{"country": "ITA", "segment": "consumer"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	p := decode[domain.Project](t, body)

	res, body = srv.do(t, http.MethodGet, "/projects/"+p.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, res.Header.Get("Link"))
	fields := decode[map[string]any](t, body)
	assert.NotContains(t, fields, "$schema")
	assert.Contains(t, fields, "currentRound")

	res, body = srv.do(t, http.MethodPost, "/releases", map[string]any{"version": "1.0.0", "targetDate": "2026-03-01", "models": []map[string]any{}})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	fields = decode[map[string]any](t, body)
	assert.NotContains(t, fields, "$schema")
	assert.Equal(t, []any{}, fields["models"])
}
