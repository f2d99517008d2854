package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"releasedesk/internal/domain"
	"releasedesk/internal/engine"
)

// out is the response envelope huma serializes: Body becomes the JSON body.
type out[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *out[T] { return &out[T]{Body: v} }

type idPath struct {
	ID string `path:"id"`
}

func projectOp(id, method, route, summary string) huma.Operation {
	return huma.Operation{
		OperationID: id,
		Method:      method,
		Path:        route,
		Summary:     summary,
		Tags:        []string{"projects"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, projectOp("list-projects", http.MethodGet, "/projects", "List projects"),
		func(ctx context.Context, _ *struct{}) (*out[[]domain.Project], error) {
			items, err := e.ListProjects(ctx)
			if err != nil {
				return nil, handleError(err)
			}
			if items == nil {
				items = []domain.Project{}
			}
			return reply(items), nil
		})

	create := projectOp("create-project", http.MethodPost, "/projects", "Create project")
	create.DefaultStatus = http.StatusCreated
	huma.Register(api, create, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*out[domain.Project], error) {
		p, err := e.CreateProject(ctx, engine.CreateProjectOptions{
			Country:  input.Body.Country,
			Segment:  input.Body.Segment,
			TestType: input.Body.TestType,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, projectOp("get-project", http.MethodGet, "/projects/{id}", "Get project"),
		func(ctx context.Context, input *idPath) (*out[domain.Project], error) {
			p, err := e.GetProject(ctx, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(p), nil
		})

	del := projectOp("delete-project", http.MethodDelete, "/projects/{id}", "Delete project")
	del.DefaultStatus = http.StatusNoContent
	huma.Register(api, del, func(ctx context.Context, input *idPath) (*struct{}, error) {
		if err := e.DeleteProject(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, projectOp("advance-project", http.MethodPost, "/projects/{id}/advance", "Advance the active round one step"),
		func(ctx context.Context, input *struct {
			ID   string         `path:"id"`
			Body AdvanceRequest `json:"body"`
		}) (*out[domain.Project], error) {
			return projectResult(e.AdvanceProject(ctx, input.ID, input.Body.Round))
		})

	huma.Register(api, projectOp("start-project-round", http.MethodPost, "/projects/{id}/rounds", "Start a new round"),
		func(ctx context.Context, input *struct {
			ID   string            `path:"id"`
			Body StartRoundRequest `json:"body"`
		}) (*out[domain.Project], error) {
			return projectResult(e.StartProjectRound(ctx, input.ID, input.Body.TestType))
		})

	huma.Register(api, projectOp("confirm-project", http.MethodPost, "/projects/{id}/confirm", "Confirm the project"),
		func(ctx context.Context, input *struct {
			ID   string         `path:"id"`
			Body ConfirmRequest `json:"body"`
		}) (*out[domain.Project], error) {
			return projectResult(e.ConfirmProject(ctx, input.ID, input.Body.ModelIDs))
		})

	huma.Register(api, projectOp("set-project-status", http.MethodPost, "/projects/{id}/status", "Set project status"),
		func(ctx context.Context, input *struct {
			ID   string           `path:"id"`
			Body SetStatusRequest `json:"body"`
		}) (*out[domain.Project], error) {
			return projectResult(e.SetProjectStatus(ctx, input.ID, input.Body.Status))
		})

	huma.Register(api, projectOp("project-notes", http.MethodPost, "/projects/{id}/notes", "Set notes on a round"),
		func(ctx context.Context, input *struct {
			ID   string       `path:"id"`
			Body NotesRequest `json:"body"`
		}) (*out[domain.Project], error) {
			return projectResult(e.AddProjectNotes(ctx, input.ID, input.Body.Round, input.Body.Notes))
		})

	huma.Register(api, projectOp("project-test-run", http.MethodPost, "/projects/{id}/test-runs", "Record a test run on the active round"),
		func(ctx context.Context, input *struct {
			ID   string               `path:"id"`
			Body RecordTestRunRequest `json:"body"`
		}) (*out[domain.Project], error) {
			return projectResult(e.RecordProjectTestRun(ctx, input.ID, input.Body.RunID))
		})

	huma.Register(api, projectOp("promote-project", http.MethodPost, "/projects/{id}/promote", "Move the project into a release"),
		func(ctx context.Context, input *struct {
			ID   string         `path:"id"`
			Body PromoteRequest `json:"body"`
		}) (*out[ReleaseResponse], error) {
			r, err := e.PromoteProject(ctx, input.ID, input.Body.ReleaseID)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(releaseResponse(r)), nil
		})
}

func projectResult(p domain.Project, err error) (*out[domain.Project], error) {
	if err != nil {
		return nil, handleError(err)
	}
	return reply(p), nil
}
