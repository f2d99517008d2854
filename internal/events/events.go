// Package events carries change notifications between backends, watchers and
// subscribers such as the event stream and webhooks.
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Op string

const (
	OpCreated   Op = "created"
	OpUpdated   Op = "updated"
	OpRemoved   Op = "removed"
	OpCompleted Op = "completed"
	// OpResync tells subscribers to refetch the whole collection.
	OpResync Op = "resync"
)

// Change describes one write to a collection.
type Change struct {
	Collection string `json:"collection"`
	Op         Op     `json:"op"`
	ID         string `json:"id,omitempty"`
	At         string `json:"at"`
	Origin     string `json:"origin,omitempty"`
}

// Type is the dotted name used for filtering, e.g. "releases.completed".
func (c Change) Type() string {
	return c.Collection + "." + string(c.Op)
}

// Publisher delivers a change to whoever listens on the other side.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, c Change) error

func (f PublisherFunc) Publish(ctx context.Context, c Change) error { return f(ctx, c) }

// Discard drops every change.
var Discard Publisher = PublisherFunc(func(context.Context, Change) error { return nil })

// Broker is an in-process pub/sub hub. Callbacks run synchronously on the
// publishing goroutine, in subscription order.
type Broker struct {
	mu     sync.RWMutex
	next   int
	subs   []subscription
	logger *zap.Logger
}

type subscription struct {
	id         int
	collection string
	fn         func(Change)
}

func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{logger: logger}
}

// Subscribe registers fn for one collection, or all collections when empty.
func (b *Broker) Subscribe(collection string, fn func(Change)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, collection: collection, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

func (b *Broker) Publish(_ context.Context, c Change) error {
	b.mu.RLock()
	targets := make([]func(Change), 0, len(b.subs))
	for _, s := range b.subs {
		if s.collection == "" || s.collection == c.Collection {
			targets = append(targets, s.fn)
		}
	}
	b.mu.RUnlock()
	b.logger.Debug("change", zap.String("type", c.Type()), zap.String("id", c.ID), zap.Int("subscribers", len(targets)))
	for _, fn := range targets {
		fn(c)
	}
	return nil
}
