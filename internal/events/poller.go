package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval matches the refresh cadence of the flat-file backend.
const DefaultPollInterval = 5 * time.Second

// Poller re-fetches a collection on a fixed interval and publishes the
// difference against the previous snapshot. The first poll only records a
// baseline.
type Poller[T any] struct {
	Collection string
	List       func(ctx context.Context) ([]T, error)
	Key        func(T) string
	Interval   time.Duration
	Publisher  Publisher
	Logger     *zap.Logger
	Now        func() time.Time

	mu    sync.Mutex
	seen  map[string]string
	guard Guard
}

func (p *Poller[T]) logger() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return zap.NewNop()
}

func (p *Poller[T]) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Poll runs one fetch-and-diff cycle. A cycle overtaken by a newer one
// discards its result.
func (p *Poller[T]) Poll(ctx context.Context) ([]Change, error) {
	ticket := p.guard.Begin(p.Collection)
	items, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	next := make(map[string]string, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		key := p.Key(item)
		data, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		next[key] = hex.EncodeToString(sum[:])
		order = append(order, key)
	}

	p.mu.Lock()
	if !ticket.Current() {
		p.mu.Unlock()
		return nil, nil
	}
	prev := p.seen
	p.seen = next
	p.mu.Unlock()
	if prev == nil {
		return nil, nil
	}

	at := p.now().UTC().Format(time.RFC3339)
	var changes []Change
	for _, key := range order {
		old, ok := prev[key]
		switch {
		case !ok:
			changes = append(changes, Change{Collection: p.Collection, Op: OpCreated, ID: key, At: at})
		case old != next[key]:
			changes = append(changes, Change{Collection: p.Collection, Op: OpUpdated, ID: key, At: at})
		}
	}
	for key := range prev {
		if _, ok := next[key]; !ok {
			changes = append(changes, Change{Collection: p.Collection, Op: OpRemoved, ID: key, At: at})
		}
	}
	if p.Publisher != nil {
		for _, c := range changes {
			if err := p.Publisher.Publish(ctx, c); err != nil {
				p.logger().Warn("poller publish failed", zap.String("collection", p.Collection), zap.Error(err))
			}
		}
	}
	return changes, nil
}

// Run polls until ctx is done. Fetch errors are logged and the previous
// snapshot is kept.
func (p *Poller[T]) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger().Warn("poll failed", zap.String("collection", p.Collection), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
