package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"releasedesk/internal/domain"
	"releasedesk/internal/release"
	"releasedesk/internal/workflow"
)

type ModelSpec struct {
	Country string         `json:"country"`
	Segment domain.Segment `json:"segment"`
}

type CreateReleaseOptions struct {
	Version    string
	TargetDate string
	Models     []ModelSpec
}

func (e Engine) ListReleases(ctx context.Context) ([]domain.Release, error) {
	return e.Store.Releases().List(ctx)
}

func (e Engine) GetRelease(ctx context.Context, id string) (domain.Release, error) {
	return e.Store.Releases().Get(ctx, id)
}

// CreateRelease validates the header and seeds one workflow per requested
// model. Repeated (country, segment) pairs are skipped.
func (e Engine) CreateRelease(ctx context.Context, opts CreateReleaseOptions) (domain.Release, error) {
	version := strings.TrimSpace(opts.Version)
	if err := release.ValidateHeader(version, opts.TargetDate); err != nil {
		return domain.Release{}, err
	}
	r := domain.Release{ID: e.newID(), Version: version, TargetDate: opts.TargetDate, Models: []domain.ReleaseModel{}}
	for _, spec := range opts.Models {
		m, err := e.newModel(ctx, spec)
		if err != nil {
			return domain.Release{}, err
		}
		if err := release.AddModel(&r, m); err != nil && !errors.Is(err, domain.ErrDuplicateModel) {
			return domain.Release{}, err
		}
	}
	created, err := e.Store.Releases().Create(ctx, r)
	if err != nil {
		return domain.Release{}, err
	}
	e.Logger.Info("release created", zap.String("release_id", created.ID), zap.String("version", version), zap.Int("models", len(created.Models)))
	return created, nil
}

func (e Engine) newModel(ctx context.Context, spec ModelSpec) (domain.ReleaseModel, error) {
	country := strings.TrimSpace(spec.Country)
	if err := e.checkCountry(ctx, country, spec.Segment); err != nil {
		return domain.ReleaseModel{}, err
	}
	return release.NewModel(e.newID(), e.newID(), country, spec.Segment, e.now())
}

// AddModel adds a fresh model to the release. Adding a pair that is already
// present leaves the release unchanged and is not an error.
func (e Engine) AddModel(ctx context.Context, releaseID string, spec ModelSpec) (domain.Release, error) {
	m, err := e.newModel(ctx, spec)
	if err != nil {
		return domain.Release{}, err
	}
	r, err := e.Store.Releases().Get(ctx, releaseID)
	if err != nil {
		return domain.Release{}, err
	}
	if r.HasPair(m.Country, m.Segment) {
		e.Logger.Debug("model already in release", zap.String("release_id", releaseID), zap.String("country", m.Country), zap.String("segment", string(m.Segment)))
		return r, nil
	}
	return e.mutateRelease(ctx, releaseID, func(r *domain.Release) error {
		err := release.AddModel(r, m)
		if errors.Is(err, domain.ErrDuplicateModel) {
			return nil
		}
		return err
	})
}

func (e Engine) RemoveModel(ctx context.Context, releaseID, modelID string) (domain.Release, error) {
	return e.mutateRelease(ctx, releaseID, func(r *domain.Release) error {
		_, err := release.RemoveModel(r, modelID)
		return err
	})
}

func (e Engine) ToggleModelInclusion(ctx context.Context, releaseID, modelID string) (domain.Release, error) {
	return e.mutateRelease(ctx, releaseID, func(r *domain.Release) error {
		return release.ToggleInclusion(r, modelID)
	})
}

func (e Engine) ConfirmModel(ctx context.Context, releaseID, modelID string, ids *domain.ModelIDs) (domain.Release, error) {
	return e.mutateRelease(ctx, releaseID, func(r *domain.Release) error {
		return release.ConfirmModel(r, modelID, e.ModelFlow, ids, e.now())
	})
}

func (e Engine) AdvanceModel(ctx context.Context, releaseID, modelID string, round int) (domain.Release, error) {
	return e.withModel(ctx, releaseID, modelID, func(m *domain.ReleaseModel) error {
		return e.ModelFlow.Advance(m, round, e.now())
	})
}

func (e Engine) StartModelRound(ctx context.Context, releaseID, modelID string, testType domain.TestType) (domain.Release, error) {
	return e.withModel(ctx, releaseID, modelID, func(m *domain.ReleaseModel) error {
		return e.ModelFlow.StartRound(m, testType, e.newID(), e.now())
	})
}

func (e Engine) SetModelStatus(ctx context.Context, releaseID, modelID string, status domain.Status) (domain.Release, error) {
	return e.withModel(ctx, releaseID, modelID, func(m *domain.ReleaseModel) error {
		return workflow.SetStatus(m, status)
	})
}

func (e Engine) AddModelNotes(ctx context.Context, releaseID, modelID string, round int, notes string) (domain.Release, error) {
	return e.withModel(ctx, releaseID, modelID, func(m *domain.ReleaseModel) error {
		return workflow.AddNotes(m, round, notes)
	})
}

func (e Engine) RecordModelTestRun(ctx context.Context, releaseID, modelID, runID string) (domain.Release, error) {
	return e.withModel(ctx, releaseID, modelID, func(m *domain.ReleaseModel) error {
		return workflow.RecordTestRun(m, runID)
	})
}

// ForceCompleteRelease is the operator override that completes a release
// whatever its models say.
func (e Engine) ForceCompleteRelease(ctx context.Context, id string) (domain.Release, error) {
	return e.mutateRelease(ctx, id, func(r *domain.Release) error {
		release.ForceComplete(r)
		return nil
	})
}

func (e Engine) UpdateReleaseDate(ctx context.Context, id, targetDate string) (domain.Release, error) {
	if err := release.ValidateDate(targetDate); err != nil {
		return domain.Release{}, err
	}
	return e.mutateRelease(ctx, id, func(r *domain.Release) error {
		r.TargetDate = targetDate
		return nil
	})
}

func (e Engine) DeleteRelease(ctx context.Context, id string) error {
	if err := e.Store.Releases().Remove(ctx, id); err != nil {
		return err
	}
	e.Logger.Info("release deleted", zap.String("release_id", id))
	return nil
}

func (e Engine) withModel(ctx context.Context, releaseID, modelID string, fn func(*domain.ReleaseModel) error) (domain.Release, error) {
	return e.mutateRelease(ctx, releaseID, func(r *domain.Release) error {
		idx := r.Model(modelID)
		if idx < 0 {
			return fmt.Errorf("release model %s: %w", modelID, domain.ErrNotFound)
		}
		return fn(&r.Models[idx])
	})
}
