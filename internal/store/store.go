// Package store defines the persistence contract every backend satisfies.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"releasedesk/internal/domain"
	"releasedesk/internal/events"
)

// Collection names shared by all backends.
const (
	Projects  = "projects"
	Releases  = "releases"
	AppConfig = "app_config"
)

// Patch is a partial record keyed by JSON field name. Update merges it onto
// the stored record at the top level only: nested values are replaced whole.
type Patch map[string]any

// Collection is the CRUD contract for one entity collection.
type Collection[T any] interface {
	// List returns the current snapshot in insertion order.
	List(ctx context.Context) ([]T, error)
	Get(ctx context.Context, id string) (T, error)
	// Create assigns an id when absent and stamps createdAt/updatedAt.
	Create(ctx context.Context, v T) (T, error)
	Update(ctx context.Context, id string, patch Patch) (T, error)
	Remove(ctx context.Context, id string) error
}

// Backend groups the three collections behind one storage strategy.
type Backend interface {
	Projects() Collection[domain.Project]
	Releases() Collection[domain.Release]
	AppConfig() Collection[domain.AppConfigEntry]
	Close() error
}

// Subscriber is implemented by backends that push change notifications.
// Backends without it are watched by polling.
type Subscriber interface {
	Subscribe(collection string, fn func(events.Change)) (cancel func())
}

// Merge applies patch to current using shallow JSON merge semantics.
// id and createdAt are never overwritten; updatedAt is restamped.
func Merge[T any](current T, patch Patch, now time.Time) (T, error) {
	var zero T
	fields, err := toFields(current)
	if err != nil {
		return zero, err
	}
	for k, v := range patch {
		if k == "id" || k == "createdAt" {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return zero, fmt.Errorf("%w: patch field %s: %v", domain.ErrValidation, k, err)
		}
		fields[k] = raw
	}
	fields["updatedAt"] = mustRaw(Timestamp(now))
	return fromFields[T](fields)
}

// Prepare stamps a new record: id if empty, createdAt and updatedAt.
func Prepare[T any](v T, newID func() string, now time.Time) (T, string, error) {
	var zero T
	fields, err := toFields(v)
	if err != nil {
		return zero, "", err
	}
	var id string
	if raw, ok := fields["id"]; ok {
		_ = json.Unmarshal(raw, &id)
	}
	if id == "" {
		id = newID()
		fields["id"] = mustRaw(id)
	}
	ts := mustRaw(Timestamp(now))
	fields["createdAt"] = ts
	fields["updatedAt"] = ts
	out, err := fromFields[T](fields)
	return out, id, err
}

// Timestamp formats t the way every backend persists times.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toFields(v any) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode record fields: %w", err)
	}
	return fields, nil
}

func fromFields[T any](fields map[string]json.RawMessage) (T, error) {
	var out T
	data, err := json.Marshal(fields)
	if err != nil {
		return out, fmt.Errorf("encode record: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return out, nil
}

func mustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// Unavailable wraps a backend failure so callers can detect it with errors.Is.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

// NotFound builds the error returned for a missing id.
func NotFound(collection, id string) error {
	return fmt.Errorf("%s %s: %w", collection, id, domain.ErrNotFound)
}

// FindByKey returns the app config entry stored under key.
func FindByKey(ctx context.Context, c Collection[domain.AppConfigEntry], key string) (domain.AppConfigEntry, bool, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return domain.AppConfigEntry{}, false, err
	}
	for _, e := range entries {
		if e.Key == key {
			return e, true, nil
		}
	}
	return domain.AppConfigEntry{}, false, nil
}
