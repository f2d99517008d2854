// Package cache wraps a backend with per-collection snapshots that are
// dropped on every local write and on every change announced by the broker.
package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"releasedesk/internal/domain"
	"releasedesk/internal/events"
	"releasedesk/internal/store"
)

type Backend struct {
	inner    store.Backend
	projects *collection[domain.Project]
	releases *collection[domain.Release]
	config   *collection[domain.AppConfigEntry]
	cancel   []func()
}

// Wrap caches reads from inner. When broker is non-nil, changes published on
// it invalidate the matching collection.
func Wrap(inner store.Backend, broker *events.Broker, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{
		inner: inner,
		projects: &collection[domain.Project]{
			inner: inner.Projects(), name: store.Projects, logger: logger,
			id:    func(p domain.Project) string { return p.ID },
			clone: func(p domain.Project) domain.Project { p.Workflow = p.Workflow.Clone(); return p },
		},
		releases: &collection[domain.Release]{
			inner: inner.Releases(), name: store.Releases, logger: logger,
			id:    func(r domain.Release) string { return r.ID },
			clone: func(r domain.Release) domain.Release { return r.Clone() },
		},
		config: &collection[domain.AppConfigEntry]{
			inner: inner.AppConfig(), name: store.AppConfig, logger: logger,
			id:    func(e domain.AppConfigEntry) string { return e.ID },
			clone: func(e domain.AppConfigEntry) domain.AppConfigEntry { return e },
		},
	}
	if broker != nil {
		b.cancel = append(b.cancel,
			broker.Subscribe(store.Projects, func(events.Change) { b.projects.invalidate() }),
			broker.Subscribe(store.Releases, func(events.Change) { b.releases.invalidate() }),
			broker.Subscribe(store.AppConfig, func(events.Change) { b.config.invalidate() }),
		)
	}
	return b
}

func (b *Backend) Projects() store.Collection[domain.Project]         { return b.projects }
func (b *Backend) Releases() store.Collection[domain.Release]         { return b.releases }
func (b *Backend) AppConfig() store.Collection[domain.AppConfigEntry] { return b.config }

// Unwrap returns the cached backend.
func (b *Backend) Unwrap() store.Backend { return b.inner }

func (b *Backend) Close() error {
	for _, c := range b.cancel {
		c()
	}
	return b.inner.Close()
}

type collection[T any] struct {
	inner  store.Collection[T]
	name   string
	id     func(T) string
	clone  func(T) T
	logger *zap.Logger

	mu    sync.Mutex
	items []T
	valid bool
	guard events.Guard
}

func (c *collection[T]) invalidate() {
	c.guard.Invalidate()
	c.mu.Lock()
	c.items, c.valid = nil, false
	c.mu.Unlock()
}

func (c *collection[T]) copyOf(items []T) []T {
	out := make([]T, len(items))
	for i, it := range items {
		out[i] = c.clone(it)
	}
	return out
}

func (c *collection[T]) List(ctx context.Context) ([]T, error) {
	c.mu.Lock()
	if c.valid {
		out := c.copyOf(c.items)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	ticket := c.guard.Begin(c.name)
	items, err := c.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	// A write or a newer fetch since Begin makes this snapshot stale.
	if ticket.Current() {
		c.items, c.valid = c.copyOf(items), true
	} else {
		c.logger.Debug("discarding superseded snapshot", zap.String("collection", c.name))
	}
	c.mu.Unlock()
	return items, nil
}

func (c *collection[T]) Get(ctx context.Context, id string) (T, error) {
	c.mu.Lock()
	if c.valid {
		for _, it := range c.items {
			if c.id(it) == id {
				c.mu.Unlock()
				return c.clone(it), nil
			}
		}
		c.mu.Unlock()
		var zero T
		return zero, store.NotFound(c.name, id)
	}
	c.mu.Unlock()
	return c.inner.Get(ctx, id)
}

func (c *collection[T]) Create(ctx context.Context, v T) (T, error) {
	defer c.invalidate()
	return c.inner.Create(ctx, v)
}

func (c *collection[T]) Update(ctx context.Context, id string, patch store.Patch) (T, error) {
	defer c.invalidate()
	return c.inner.Update(ctx, id, patch)
}

func (c *collection[T]) Remove(ctx context.Context, id string) error {
	defer c.invalidate()
	return c.inner.Remove(ctx, id)
}
