package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"releasedesk/internal/domain"
	"releasedesk/internal/engine"
)

type ModelPath struct {
	ID      string `path:"id"`
	ModelID string `path:"model_id"`
}

func releaseOp(id, method, route, summary string) huma.Operation {
	return huma.Operation{
		OperationID: id,
		Method:      method,
		Path:        route,
		Summary:     summary,
		Tags:        []string{"releases"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}
}

func registerReleases(api huma.API, e engine.Engine) {
	huma.Register(api, releaseOp("list-releases", http.MethodGet, "/releases", "List releases"),
		func(ctx context.Context, _ *struct{}) (*out[[]ReleaseResponse], error) {
			items, err := e.ListReleases(ctx)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(mapReleases(items)), nil
		})

	create := releaseOp("create-release", http.MethodPost, "/releases", "Create release")
	create.DefaultStatus = http.StatusCreated
	huma.Register(api, create, func(ctx context.Context, input *struct {
		Body CreateReleaseRequest `json:"body"`
	}) (*out[ReleaseResponse], error) {
		return releaseResult(e.CreateRelease(ctx, engine.CreateReleaseOptions{
			Version:    input.Body.Version,
			TargetDate: input.Body.TargetDate,
			Models:     input.Body.Models,
		}))
	})

	huma.Register(api, releaseOp("get-release", http.MethodGet, "/releases/{id}", "Get release"),
		func(ctx context.Context, input *idPath) (*out[ReleaseResponse], error) {
			return releaseResult(e.GetRelease(ctx, input.ID))
		})

	del := releaseOp("delete-release", http.MethodDelete, "/releases/{id}", "Delete release")
	del.DefaultStatus = http.StatusNoContent
	huma.Register(api, del, func(ctx context.Context, input *idPath) (*struct{}, error) {
		if err := e.DeleteRelease(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, releaseOp("update-release-date", http.MethodPatch, "/releases/{id}/date", "Move the target date"),
		func(ctx context.Context, input *struct {
			ID   string            `path:"id"`
			Body UpdateDateRequest `json:"body"`
		}) (*out[ReleaseResponse], error) {
			return releaseResult(e.UpdateReleaseDate(ctx, input.ID, input.Body.TargetDate))
		})

	huma.Register(api, releaseOp("complete-release", http.MethodPost, "/releases/{id}/complete", "Mark the release completed regardless of its models"),
		func(ctx context.Context, input *idPath) (*out[ReleaseResponse], error) {
			return releaseResult(e.ForceCompleteRelease(ctx, input.ID))
		})

	huma.Register(api, releaseOp("add-release-model", http.MethodPost, "/releases/{id}/models", "Add a model; an existing pair is left unchanged"),
		func(ctx context.Context, input *struct {
			ID   string           `path:"id"`
			Body engine.ModelSpec `json:"body"`
		}) (*out[ReleaseResponse], error) {
			return releaseResult(e.AddModel(ctx, input.ID, input.Body))
		})

	huma.Register(api, releaseOp("remove-release-model", http.MethodDelete, "/releases/{id}/models/{model_id}", "Remove a model"),
		func(ctx context.Context, input *ModelPath) (*out[ReleaseResponse], error) {
			return releaseResult(e.RemoveModel(ctx, input.ID, input.ModelID))
		})

	huma.Register(api, releaseOp("toggle-release-model", http.MethodPost, "/releases/{id}/models/{model_id}/include", "Toggle inclusion"),
		func(ctx context.Context, input *ModelPath) (*out[ReleaseResponse], error) {
			return releaseResult(e.ToggleModelInclusion(ctx, input.ID, input.ModelID))
		})

	huma.Register(api, releaseOp("confirm-release-model", http.MethodPost, "/releases/{id}/models/{model_id}/confirm", "Confirm a model"),
		func(ctx context.Context, input *struct {
			ModelPath
			Body ConfirmRequest `json:"body"`
		}) (*out[ReleaseResponse], error) {
			return releaseResult(e.ConfirmModel(ctx, input.ID, input.ModelID, input.Body.ModelIDs))
		})

	huma.Register(api, releaseOp("advance-release-model", http.MethodPost, "/releases/{id}/models/{model_id}/advance", "Advance a model's active round"),
		func(ctx context.Context, input *struct {
			ModelPath
			Body AdvanceRequest `json:"body"`
		}) (*out[ReleaseResponse], error) {
			return releaseResult(e.AdvanceModel(ctx, input.ID, input.ModelID, input.Body.Round))
		})

	huma.Register(api, releaseOp("start-release-model-round", http.MethodPost, "/releases/{id}/models/{model_id}/rounds", "Start a new round for a model"),
		func(ctx context.Context, input *struct {
			ModelPath
			Body StartRoundRequest `json:"body"`
		}) (*out[ReleaseResponse], error) {
			return releaseResult(e.StartModelRound(ctx, input.ID, input.ModelID, input.Body.TestType))
		})

	huma.Register(api, releaseOp("set-release-model-status", http.MethodPost, "/releases/{id}/models/{model_id}/status", "Set a model's status"),
		func(ctx context.Context, input *struct {
			ModelPath
			Body SetStatusRequest `json:"body"`
		}) (*out[ReleaseResponse], error) {
			return releaseResult(e.SetModelStatus(ctx, input.ID, input.ModelID, input.Body.Status))
		})

	huma.Register(api, releaseOp("release-model-notes", http.MethodPost, "/releases/{id}/models/{model_id}/notes", "Set notes on a model round"),
		func(ctx context.Context, input *struct {
			ModelPath
			Body NotesRequest `json:"body"`
		}) (*out[ReleaseResponse], error) {
			return releaseResult(e.AddModelNotes(ctx, input.ID, input.ModelID, input.Body.Round, input.Body.Notes))
		})

	huma.Register(api, releaseOp("release-model-test-run", http.MethodPost, "/releases/{id}/models/{model_id}/test-runs", "Record a test run on a model's active round"),
		func(ctx context.Context, input *struct {
			ModelPath
			Body RecordTestRunRequest `json:"body"`
		}) (*out[ReleaseResponse], error) {
			return releaseResult(e.RecordModelTestRun(ctx, input.ID, input.ModelID, input.Body.RunID))
		})

	huma.Register(api, releaseOp("demote-release-model", http.MethodPost, "/releases/{id}/models/{model_id}/demote", "Turn a model back into a standalone project"),
		func(ctx context.Context, input *ModelPath) (*out[domain.Project], error) {
			return projectResult(e.DemoteModel(ctx, input.ID, input.ModelID))
		})
}

func releaseResult(r domain.Release, err error) (*out[ReleaseResponse], error) {
	if err != nil {
		return nil, handleError(err)
	}
	return reply(releaseResponse(r)), nil
}
