// Package jsonfile is the flat-file backend: every collection lives in one
// JSON document that is read, modified and rewritten whole on each write.
//
// There is no cross-process locking. Two processes writing the same file
// race and the last writer wins at whole-document granularity. Within one
// process writes are serialized and the document is replaced through a
// rename, so readers never observe a partially written file.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"releasedesk/internal/domain"
	"releasedesk/internal/store"
)

const DefaultPath = "data/data.json"

type document struct {
	Projects  []domain.Project        `json:"projects"`
	Releases  []domain.Release        `json:"releases"`
	AppConfig []domain.AppConfigEntry `json:"app_config"`
}

type Config struct {
	Path   string
	Now    func() time.Time
	NewID  func() string
	Logger *zap.Logger
}

type Store struct {
	path   string
	mu     sync.Mutex
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

// Open prepares the data file, creating an empty document if none exists.
func Open(cfg Config) (*Store, error) {
	s := &Store{
		path:   cfg.Path,
		now:    cfg.Now,
		newID:  cfg.NewID,
		logger: cfg.Logger,
	}
	if s.path == "" {
		s.path = DefaultPath
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.NewString() }
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, store.Unavailable("create data dir", err)
	}
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		if err := s.write(&document{}); err != nil {
			return nil, err
		}
		s.logger.Info("created data file", zap.String("path", s.path))
	} else if err != nil {
		return nil, store.Unavailable("stat data file", err)
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Projects() store.Collection[domain.Project] {
	return &collection[domain.Project]{
		s:     s,
		name:  store.Projects,
		slice: func(d *document) *[]domain.Project { return &d.Projects },
		id:    func(p domain.Project) string { return p.ID },
	}
}

func (s *Store) Releases() store.Collection[domain.Release] {
	return &collection[domain.Release]{
		s:     s,
		name:  store.Releases,
		slice: func(d *document) *[]domain.Release { return &d.Releases },
		id:    func(r domain.Release) string { return r.ID },
	}
}

func (s *Store) AppConfig() store.Collection[domain.AppConfigEntry] {
	return &collection[domain.AppConfigEntry]{
		s:     s,
		name:  store.AppConfig,
		slice: func(d *document) *[]domain.AppConfigEntry { return &d.AppConfig },
		id:    func(e domain.AppConfigEntry) string { return e.ID },
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &document{}, nil
	}
	if err != nil {
		return nil, store.Unavailable("read data file", err)
	}
	var doc document
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, store.Unavailable("parse data file", err)
		}
	}
	return &doc, nil
}

func (s *Store) write(doc *document) error {
	if doc.Projects == nil {
		doc.Projects = []domain.Project{}
	}
	if doc.Releases == nil {
		doc.Releases = []domain.Release{}
	}
	if doc.AppConfig == nil {
		doc.AppConfig = []domain.AppConfigEntry{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return store.Unavailable("encode data file", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".data-*.json")
	if err != nil {
		return store.Unavailable("write data file", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return store.Unavailable("write data file", err)
	}
	if err := tmp.Close(); err != nil {
		return store.Unavailable("write data file", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return store.Unavailable("replace data file", err)
	}
	return nil
}

type collection[T any] struct {
	s     *Store
	name  string
	slice func(*document) *[]T
	id    func(T) string
}

func (c *collection[T]) List(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := c.s.read()
	if err != nil {
		return nil, err
	}
	items := *c.slice(doc)
	return append(make([]T, 0, len(items)), items...), nil
}

func (c *collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	items, err := c.List(ctx)
	if err != nil {
		return zero, err
	}
	for _, item := range items {
		if c.id(item) == id {
			return item, nil
		}
	}
	return zero, store.NotFound(c.name, id)
}

func (c *collection[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	created, id, err := store.Prepare(v, c.s.newID, c.s.now())
	if err != nil {
		return zero, err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	doc, err := c.s.read()
	if err != nil {
		return zero, err
	}
	items := c.slice(doc)
	for _, item := range *items {
		if c.id(item) == id {
			return zero, fmt.Errorf("%w: %s %s already exists", domain.ErrValidation, c.name, id)
		}
	}
	*items = append(*items, created)
	if err := c.s.write(doc); err != nil {
		return zero, err
	}
	return created, nil
}

func (c *collection[T]) Update(ctx context.Context, id string, patch store.Patch) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	doc, err := c.s.read()
	if err != nil {
		return zero, err
	}
	items := *c.slice(doc)
	for i, item := range items {
		if c.id(item) != id {
			continue
		}
		merged, err := store.Merge(item, patch, c.s.now())
		if err != nil {
			return zero, err
		}
		items[i] = merged
		if err := c.s.write(doc); err != nil {
			return zero, err
		}
		return merged, nil
	}
	return zero, store.NotFound(c.name, id)
}

func (c *collection[T]) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	doc, err := c.s.read()
	if err != nil {
		return err
	}
	items := c.slice(doc)
	for i, item := range *items {
		if c.id(item) == id {
			*items = append((*items)[:i], (*items)[i+1:]...)
			return c.s.write(doc)
		}
	}
	return store.NotFound(c.name, id)
}
