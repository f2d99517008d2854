// Package engine applies workflow and release rules to persisted entities.
// Every operation reads the current record, transitions a copy, and writes
// the changed fields back through the storage backend.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"releasedesk/internal/domain"
	"releasedesk/internal/events"
	"releasedesk/internal/release"
	"releasedesk/internal/store"
	"releasedesk/internal/workflow"
)

type Options struct {
	// Events receives domain events such as releases.completed.
	Events              events.Publisher
	Logger              *zap.Logger
	Now                 func() time.Time
	NewID               func() string
	ProjectTerminalStep int
	ModelTerminalStep   int
}

type Engine struct {
	Store       store.Backend
	Events      events.Publisher
	Logger      *zap.Logger
	Now         func() time.Time
	NewID       func() string
	ProjectFlow workflow.Policy
	ModelFlow   workflow.Policy

	seeding *sync.Mutex
}

func New(backend store.Backend, opts Options) Engine {
	e := Engine{
		Store:       backend,
		Events:      opts.Events,
		Logger:      opts.Logger,
		Now:         opts.Now,
		NewID:       opts.NewID,
		ProjectFlow: workflow.ProjectPolicy(opts.ProjectTerminalStep),
		ModelFlow:   workflow.ModelPolicy(opts.ModelTerminalStep),
		seeding:     &sync.Mutex{},
	}
	if e.Events == nil {
		e.Events = events.Discard
	}
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// flowPatch carries every workflow field so a transition is persisted whole.
func flowPatch(w domain.Workflow) store.Patch {
	return store.Patch{
		"status":               w.Status,
		"currentRound":         w.CurrentRound,
		"rounds":               w.Rounds,
		"awaitingConfirmation": w.AwaitingConfirmation,
		"confirmedAt":          w.ConfirmedAt,
		"modelIds":             w.ModelIDs,
	}
}

func (e Engine) mutateProject(ctx context.Context, id string, fn func(*domain.Project) error) (domain.Project, error) {
	p, err := e.Store.Projects().Get(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	next := p
	next.Workflow = p.Workflow.Clone()
	if err := fn(&next); err != nil {
		return domain.Project{}, err
	}
	updated, err := e.Store.Projects().Update(ctx, id, flowPatch(next.Workflow))
	if err != nil {
		e.Logger.Error("persist project", zap.String("project_id", id), zap.Error(err))
		return domain.Project{}, err
	}
	return updated, nil
}

// mutateRelease runs fn on a copy of the release, re-applies the completion
// rule and persists the result. A release that becomes completed is announced.
func (e Engine) mutateRelease(ctx context.Context, id string, fn func(*domain.Release) error) (domain.Release, error) {
	r, err := e.Store.Releases().Get(ctx, id)
	if err != nil {
		return domain.Release{}, err
	}
	next := r.Clone()
	if err := fn(&next); err != nil {
		return domain.Release{}, err
	}
	release.Evaluate(&next)
	updated, err := e.Store.Releases().Update(ctx, id, store.Patch{
		"version":    next.Version,
		"targetDate": next.TargetDate,
		"models":     next.Models,
		"completed":  next.Completed,
	})
	if err != nil {
		e.Logger.Error("persist release", zap.String("release_id", id), zap.Error(err))
		return domain.Release{}, err
	}
	if !r.Completed && updated.Completed {
		e.announceCompleted(ctx, updated)
	}
	return updated, nil
}

func (e Engine) announceCompleted(ctx context.Context, r domain.Release) {
	e.Logger.Info("release completed", zap.String("release_id", r.ID), zap.String("version", r.Version))
	c := events.Change{Collection: store.Releases, Op: events.OpCompleted, ID: r.ID, At: store.Timestamp(e.now())}
	if err := e.Events.Publish(ctx, c); err != nil {
		e.Logger.Warn("publish release completed", zap.String("release_id", r.ID), zap.Error(err))
	}
}
