package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"releasedesk/internal/domain"
	"releasedesk/internal/release"
)

// PromoteProject moves a standalone project into a release as a model,
// carrying its rounds. If the release already holds the pair, nothing
// changes and the project is kept.
func (e Engine) PromoteProject(ctx context.Context, projectID, releaseID string) (domain.Release, error) {
	p, err := e.Store.Projects().Get(ctx, projectID)
	if err != nil {
		return domain.Release{}, err
	}
	r, err := e.Store.Releases().Get(ctx, releaseID)
	if err != nil {
		return domain.Release{}, err
	}
	if r.HasPair(p.Country, p.Segment) {
		e.Logger.Debug("promote skipped, pair already in release",
			zap.String("project_id", projectID), zap.String("release_id", releaseID))
		return r, nil
	}
	m := domain.ReleaseModel{
		ID:        e.newID(),
		Country:   p.Country,
		Segment:   p.Segment,
		Included:  true,
		Confirmed: p.Status == domain.StatusCompleted,
		Workflow:  p.Workflow.Clone(),
	}
	e.fitToModelFlow(&m)
	updated, err := e.mutateRelease(ctx, releaseID, func(r *domain.Release) error {
		return release.AddModel(r, m)
	})
	if err != nil {
		return domain.Release{}, err
	}
	if err := e.Store.Projects().Remove(ctx, projectID); err != nil {
		e.Logger.Error("promote: remove project", zap.String("project_id", projectID), zap.Error(err))
		return domain.Release{}, err
	}
	e.Logger.Info("project promoted", zap.String("project_id", projectID), zap.String("release_id", releaseID), zap.String("model_id", m.ID))
	return updated, nil
}

// fitToModelFlow clamps an active round that went past the model terminal
// step under a longer project flow, so the model can still be confirmed.
func (e Engine) fitToModelFlow(m *domain.ReleaseModel) {
	idx := m.ActiveRound()
	if idx < 0 || m.Confirmed || m.Rounds[idx].CurrentStep < e.ModelFlow.TerminalStep {
		return
	}
	m.Rounds[idx].CurrentStep = e.ModelFlow.TerminalStep
	m.AwaitingConfirmation = true
	if m.Status == domain.StatusInProgress {
		m.Status = domain.StatusWaiting
	}
}

// DemoteModel turns a release model back into a standalone project and
// removes it from the release.
func (e Engine) DemoteModel(ctx context.Context, releaseID, modelID string) (domain.Project, error) {
	r, err := e.Store.Releases().Get(ctx, releaseID)
	if err != nil {
		return domain.Project{}, err
	}
	idx := r.Model(modelID)
	if idx < 0 {
		return domain.Project{}, fmt.Errorf("release model %s: %w", modelID, domain.ErrNotFound)
	}
	m := r.Models[idx]
	p := domain.Project{
		ID:       e.newID(),
		Country:  m.Country,
		Segment:  m.Segment,
		Workflow: m.Workflow.Clone(),
	}
	if m.Confirmed {
		p.Finalize()
	}
	created, err := e.Store.Projects().Create(ctx, p)
	if err != nil {
		return domain.Project{}, err
	}
	if _, err := e.RemoveModel(ctx, releaseID, modelID); err != nil {
		e.Logger.Error("demote: remove model", zap.String("release_id", releaseID), zap.String("model_id", modelID), zap.Error(err))
		return domain.Project{}, err
	}
	e.Logger.Info("model demoted", zap.String("release_id", releaseID), zap.String("model_id", modelID), zap.String("project_id", created.ID))
	return created, nil
}
