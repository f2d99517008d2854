package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"releasedesk/internal/domain"
	"releasedesk/internal/engine"
	"releasedesk/internal/testrunner"
)

func registerTestRunner(api huma.API, e engine.Engine, runner *testrunner.Client) {
	errs := []int{http.StatusBadRequest, http.StatusNotFound, http.StatusBadGateway}

	huma.Register(api, huma.Operation{
		OperationID: "testrunner-health",
		Method:      http.MethodGet,
		Path:        "/testrunner/health",
		Summary:     "Test runner reachability",
		Tags:        []string{"testrunner"},
	}, func(ctx context.Context, _ *struct{}) (*out[testrunner.Health], error) {
		return reply(runner.Health(ctx)), nil
	})

	trigger := huma.Operation{
		OperationID:   "trigger-test-run",
		Method:        http.MethodPost,
		Path:          "/testrunner/runs",
		Summary:       "Start a test run",
		Tags:          []string{"testrunner"},
		Errors:        errs,
		DefaultStatus: http.StatusAccepted,
	}
	huma.Register(api, trigger, func(ctx context.Context, input *struct {
		Body TriggerRunRequest `json:"body"`
	}) (*out[TriggerRunResponse], error) {
		req := input.Body
		if req.ModelID != "" && req.ReleaseID == "" {
			return nil, handleError(fmt.Errorf("%w: modelId needs releaseId", domain.ErrValidation))
		}
		runID, err := runner.Trigger(ctx, req.RunConfig)
		if err != nil {
			return nil, handleError(err)
		}
		switch {
		case req.ProjectID != "":
			_, err = e.RecordProjectTestRun(ctx, req.ProjectID, runID)
		case req.ModelID != "":
			_, err = e.RecordModelTestRun(ctx, req.ReleaseID, req.ModelID, runID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return reply(TriggerRunResponse{RunID: runID}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-test-runs",
		Method:      http.MethodGet,
		Path:        "/testrunner/runs",
		Summary:     "List runs known to the runner",
		Tags:        []string{"testrunner"},
		Errors:      errs,
	}, func(ctx context.Context, _ *struct{}) (*out[[]testrunner.RunStatus], error) {
		runs, err := runner.Runs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if runs == nil {
			runs = []testrunner.RunStatus{}
		}
		return reply(runs), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-test-run",
		Method:      http.MethodGet,
		Path:        "/testrunner/runs/{run_id}",
		Summary:     "Run status",
		Tags:        []string{"testrunner"},
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*out[testrunner.RunStatus], error) {
		st, err := runner.Status(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(st), nil
	})
}
