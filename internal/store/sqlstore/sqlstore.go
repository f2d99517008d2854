// Package sqlstore is the relational backend. It runs on SQLite or
// PostgreSQL through sqlx; queries are written with ? placeholders and
// rebound for the connected dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"releasedesk/internal/domain"
	"releasedesk/internal/events"
	"releasedesk/internal/store"
)

type Config struct {
	DB *sqlx.DB
	// Publisher receives a change after every committed write.
	Publisher events.Publisher
	// Broker is where Subscribe attaches. It may differ from Publisher when
	// changes travel through PostgreSQL or Redis before coming back.
	Broker *events.Broker
	Now    func() time.Time
	NewID  func() string
	Logger *zap.Logger
}

type Store struct {
	db     *sqlx.DB
	pub    events.Publisher
	broker *events.Broker
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

func New(cfg Config) *Store {
	s := &Store{
		db:     cfg.DB,
		pub:    cfg.Publisher,
		broker: cfg.Broker,
		now:    cfg.Now,
		newID:  cfg.NewID,
		logger: cfg.Logger,
	}
	if s.pub == nil {
		if s.broker != nil {
			s.pub = s.broker
		} else {
			s.pub = events.Discard
		}
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
	return s
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Subscribe attaches fn to the store's broker.
func (s *Store) Subscribe(collection string, fn func(events.Change)) func() {
	if s.broker == nil {
		return func() {}
	}
	return s.broker.Subscribe(collection, fn)
}

func (s *Store) Projects() store.Collection[domain.Project] {
	return &table[domain.Project]{
		s:       s,
		name:    store.Projects,
		id:      func(p domain.Project) string { return p.ID },
		list:    s.listProjects,
		get:     s.getProject,
		insert:  s.insertProject,
		replace: s.replaceProject,
		remove:  s.deleteFrom("projects"),
	}
}

func (s *Store) Releases() store.Collection[domain.Release] {
	return &table[domain.Release]{
		s:       s,
		name:    store.Releases,
		id:      func(r domain.Release) string { return r.ID },
		list:    s.listReleases,
		get:     s.getRelease,
		insert:  s.insertRelease,
		replace: s.replaceRelease,
		remove:  s.deleteFrom("releases"),
	}
}

func (s *Store) AppConfig() store.Collection[domain.AppConfigEntry] {
	return &table[domain.AppConfigEntry]{
		s:       s,
		name:    store.AppConfig,
		id:      func(e domain.AppConfigEntry) string { return e.ID },
		list:    s.listConfig,
		get:     s.getConfig,
		insert:  s.insertConfig,
		replace: s.replaceConfig,
		remove:  s.deleteFrom("app_config"),
	}
}

func (s *Store) q(query string) string { return s.db.Rebind(query) }

func (s *Store) deleteFrom(tableName string) func(context.Context, *sqlx.Tx, string) (int64, error) {
	return func(ctx context.Context, tx *sqlx.Tx, id string) (int64, error) {
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+tableName+` WHERE id=?`), id)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}
}

func (s *Store) publish(ctx context.Context, collection string, op events.Op, id string) {
	c := events.Change{Collection: collection, Op: op, ID: id, At: store.Timestamp(s.now())}
	if err := s.pub.Publish(ctx, c); err != nil {
		s.logger.Warn("publish change failed", zap.String("type", c.Type()), zap.String("id", id), zap.Error(err))
	}
}

// table adapts per-entity SQL to the generic collection contract.
type table[T any] struct {
	s       *Store
	name    string
	id      func(T) string
	list    func(context.Context, sqlx.QueryerContext) ([]T, error)
	get     func(context.Context, sqlx.QueryerContext, string) (T, error)
	insert  func(context.Context, *sqlx.Tx, T) error
	replace func(context.Context, *sqlx.Tx, T) error
	remove  func(context.Context, *sqlx.Tx, string) (int64, error)
}

func (t *table[T]) List(ctx context.Context) ([]T, error) {
	items, err := t.list(ctx, t.s.db)
	if err != nil {
		return nil, store.Unavailable("list "+t.name, err)
	}
	return items, nil
}

func (t *table[T]) Get(ctx context.Context, id string) (T, error) {
	item, err := t.get(ctx, t.s.db, id)
	return item, t.wrap("get", id, err)
}

func (t *table[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	created, id, err := store.Prepare(v, t.s.newID, t.s.now())
	if err != nil {
		return zero, err
	}
	err = t.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := t.get(ctx, tx, id); err == nil {
			return fmt.Errorf("%w: %s %s already exists", domain.ErrValidation, t.name, id)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return t.insert(ctx, tx, created)
	})
	if err != nil {
		return zero, t.wrap("create", id, err)
	}
	t.s.publish(ctx, t.name, events.OpCreated, id)
	return created, nil
}

func (t *table[T]) Update(ctx context.Context, id string, patch store.Patch) (T, error) {
	var merged T
	err := t.inTx(ctx, func(tx *sqlx.Tx) error {
		current, err := t.get(ctx, tx, id)
		if err != nil {
			return err
		}
		merged, err = store.Merge(current, patch, t.s.now())
		if err != nil {
			return err
		}
		return t.replace(ctx, tx, merged)
	})
	if err != nil {
		var zero T
		return zero, t.wrap("update", id, err)
	}
	t.s.publish(ctx, t.name, events.OpUpdated, id)
	return merged, nil
}

func (t *table[T]) Remove(ctx context.Context, id string) error {
	err := t.inTx(ctx, func(tx *sqlx.Tx) error {
		n, err := t.remove(ctx, tx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		return t.wrap("remove", id, err)
	}
	t.s.publish(ctx, t.name, events.OpRemoved, id)
	return nil
}

func (t *table[T]) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := t.s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (t *table[T]) wrap(op, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return store.NotFound(t.name, id)
	case errors.Is(err, domain.ErrValidation), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return store.Unavailable(op+" "+t.name, err)
	}
}
