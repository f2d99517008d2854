package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"releasedesk/internal/domain"
	"releasedesk/internal/workflow"
)

type CreateProjectOptions struct {
	Country string
	Segment domain.Segment
	// TestType defaults to the first test type offered for the segment.
	TestType domain.TestType
}

func (e Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return e.Store.Projects().List(ctx)
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Store.Projects().Get(ctx, id)
}

// CreateProject starts a standalone workflow at round 1, step 1.
func (e Engine) CreateProject(ctx context.Context, opts CreateProjectOptions) (domain.Project, error) {
	country := strings.TrimSpace(opts.Country)
	if err := e.checkCountry(ctx, country, opts.Segment); err != nil {
		return domain.Project{}, err
	}
	testType := opts.TestType
	if testType == "" {
		testType = domain.TestTypesForSegment(opts.Segment)[0]
	}
	p := domain.Project{ID: e.newID(), Country: country, Segment: opts.Segment}
	if err := workflow.Begin(&p, testType, e.newID(), e.now()); err != nil {
		return domain.Project{}, err
	}
	created, err := e.Store.Projects().Create(ctx, p)
	if err != nil {
		return domain.Project{}, err
	}
	e.Logger.Info("project created", zap.String("project_id", created.ID), zap.String("country", country), zap.String("segment", string(opts.Segment)))
	return created, nil
}

// AdvanceProject moves the given round forward one step; it must be the active round.
func (e Engine) AdvanceProject(ctx context.Context, id string, round int) (domain.Project, error) {
	return e.mutateProject(ctx, id, func(p *domain.Project) error {
		return e.ProjectFlow.Advance(p, round, e.now())
	})
}

func (e Engine) StartProjectRound(ctx context.Context, id string, testType domain.TestType) (domain.Project, error) {
	return e.mutateProject(ctx, id, func(p *domain.Project) error {
		return e.ProjectFlow.StartRound(p, testType, e.newID(), e.now())
	})
}

func (e Engine) ConfirmProject(ctx context.Context, id string, ids *domain.ModelIDs) (domain.Project, error) {
	p, err := e.mutateProject(ctx, id, func(p *domain.Project) error {
		return e.ProjectFlow.Confirm(p, ids, e.now())
	})
	if err == nil {
		e.Logger.Info("project confirmed", zap.String("project_id", id))
	}
	return p, err
}

func (e Engine) SetProjectStatus(ctx context.Context, id string, status domain.Status) (domain.Project, error) {
	return e.mutateProject(ctx, id, func(p *domain.Project) error {
		return workflow.SetStatus(p, status)
	})
}

func (e Engine) AddProjectNotes(ctx context.Context, id string, round int, notes string) (domain.Project, error) {
	return e.mutateProject(ctx, id, func(p *domain.Project) error {
		return workflow.AddNotes(p, round, notes)
	})
}

func (e Engine) RecordProjectTestRun(ctx context.Context, id, runID string) (domain.Project, error) {
	return e.mutateProject(ctx, id, func(p *domain.Project) error {
		return workflow.RecordTestRun(p, runID)
	})
}

func (e Engine) DeleteProject(ctx context.Context, id string) error {
	if err := e.Store.Projects().Remove(ctx, id); err != nil {
		return err
	}
	e.Logger.Info("project deleted", zap.String("project_id", id))
	return nil
}

// checkCountry requires a configured country that offers the segment.
func (e Engine) checkCountry(ctx context.Context, code string, segment domain.Segment) error {
	if code == "" {
		return fmt.Errorf("%w: country is required", domain.ErrValidation)
	}
	if !segment.Valid() {
		return fmt.Errorf("%w: unknown segment %q", domain.ErrValidation, segment)
	}
	countries, err := e.ListCountries(ctx)
	if err != nil {
		return err
	}
	for _, c := range countries {
		if c.Code != code {
			continue
		}
		if !c.Supports(segment) {
			return fmt.Errorf("%w: country %s does not offer segment %s", domain.ErrValidation, code, segment)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown country %s", domain.ErrValidation, code)
}
