// Package app assembles a running releasedesk from its config: the storage
// backend, the change-watch strategy that fits it, the engine and the
// supporting clients.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"releasedesk/internal/auth"
	"releasedesk/internal/config"
	"releasedesk/internal/db"
	"releasedesk/internal/domain"
	"releasedesk/internal/engine"
	"releasedesk/internal/events"
	"releasedesk/internal/migrate"
	"releasedesk/internal/objstore"
	"releasedesk/internal/store"
	"releasedesk/internal/store/cache"
	"releasedesk/internal/store/jsonfile"
	"releasedesk/internal/store/sqlstore"
	"releasedesk/internal/testrunner"
)

type Options struct {
	// Workspace anchors relative paths from the config.
	Workspace string
	Logger    *zap.Logger
	Now       func() time.Time
}

// App is the assembled runtime. Changes from any source reach Broker exactly
// once per process.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Broker   *events.Broker
	Store    store.Backend
	Engine   engine.Engine
	Gate     *auth.Gate
	Sessions auth.Sessions
	Objects  objstore.Browser
	Runner   *testrunner.Client

	raw     store.Backend
	changes events.Publisher
	redis   *redis.Client
	bridge  *events.RedisBridge
	dsn     string

	mu    sync.Mutex
	stops []func()
}

// Open builds the App. Watchers are not started; call Watch for long-running
// processes.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config: cfg,
		Logger: logger,
		Broker: events.NewBroker(logger.Named("events")),
	}
	a.changes = a.Broker
	if cfg.Watch.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Watch.RedisAddr})
		a.bridge = &events.RedisBridge{
			Client:  a.redis,
			Channel: cfg.Watch.RedisChannel,
			Origin:  uuid.NewString(),
			Local:   a.Broker,
			Logger:  logger.Named("redis"),
		}
		a.changes = a.bridge
	}

	raw, err := a.openBackend(opts)
	if err != nil {
		a.closeRedis()
		return nil, err
	}
	a.raw = raw
	a.Store = raw
	if cfg.Storage.Cache {
		a.Store = cache.Wrap(raw, a.Broker, logger.Named("cache"))
	}

	a.Engine = engine.New(a.Store, engine.Options{
		Events:              a.changes,
		Logger:              logger.Named("engine"),
		Now:                 opts.Now,
		ProjectTerminalStep: cfg.Workflow.ProjectTerminalStep,
		ModelTerminalStep:   cfg.Workflow.ModelTerminalStep,
	})
	a.Gate = &auth.Gate{Config: a.Store.AppConfig(), Logger: logger.Named("auth")}
	a.Sessions = auth.Sessions{Secret: cfg.Auth.JWTSecret, TTL: cfg.Auth.SessionTTL, Now: opts.Now}

	a.Objects, err = openObjects(ctx, cfg, opts.Workspace)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Runner = testrunner.New(cfg.TestRunner.URL, logger.Named("testrunner"))
	if cfg.TestRunner.HealthTimeout > 0 {
		a.Runner.HealthTimeout = cfg.TestRunner.HealthTimeout
	}

	logger.Info("releasedesk ready",
		zap.String("backend", cfg.Storage.Backend),
		zap.Bool("cache", cfg.Storage.Cache),
		zap.Bool("redis", a.bridge != nil),
		zap.String("objstore", cfg.Objstore.Kind))
	return a, nil
}

func (a *App) openBackend(opts Options) (store.Backend, error) {
	cfg := a.Config
	log := a.Logger.Named("store")
	switch cfg.Storage.Backend {
	case config.BackendJSONFile:
		return jsonfile.Open(jsonfile.Config{
			Path:   resolve(opts.Workspace, cfg.Storage.JSONPath),
			Now:    opts.Now,
			Logger: log,
		})
	case config.BackendSQLite:
		conn, err := db.Open(db.Config{
			Dialect:   db.DialectSQLite,
			Path:      resolve(opts.Workspace, cfg.Storage.SQLitePath),
			Workspace: opts.Workspace,
		})
		if err != nil {
			return nil, store.Unavailable("open sqlite", err)
		}
		if err := migrate.Migrate(conn.DB, db.DialectSQLite, ""); err != nil {
			_ = conn.Close()
			return nil, store.Unavailable("migrate sqlite", err)
		}
		return sqlstore.New(sqlstore.Config{DB: conn, Publisher: a.changes, Broker: a.Broker, Now: opts.Now, Logger: log}), nil
	case config.BackendPostgres:
		a.dsn = cfg.Storage.PostgresDSN
		conn, err := db.Open(db.Config{Dialect: db.DialectPostgres, DSN: a.dsn})
		if err != nil {
			return nil, store.Unavailable("open postgres", err)
		}
		if err := migrate.Migrate(conn.DB, db.DialectPostgres, a.dsn); err != nil {
			_ = conn.Close()
			return nil, store.Unavailable("migrate postgres", err)
		}
		if a.bridge == nil {
			a.changes = events.PGNotifier{DB: conn.DB}
		}
		return sqlstore.New(sqlstore.Config{DB: conn, Publisher: a.changes, Broker: a.Broker, Now: opts.Now, Logger: log}), nil
	}
	return nil, fmt.Errorf("%w: unknown storage backend %q", domain.ErrValidation, cfg.Storage.Backend)
}

func openObjects(ctx context.Context, cfg *config.Config, workspace string) (objstore.Browser, error) {
	o := cfg.Objstore
	if o.Kind == config.ObjstoreS3 {
		return objstore.NewS3(ctx, objstore.S3Config{
			Bucket:          o.Bucket,
			Prefix:          o.Prefix,
			Region:          o.Region,
			Endpoint:        o.Endpoint,
			AccessKeyID:     o.AccessKeyID,
			SecretAccessKey: o.SecretAccessKey,
		})
	}
	return objstore.Local{Root: resolve(workspace, o.Root)}, nil
}

// Watch starts the change sources for the backend: the Redis subscription
// when configured, LISTEN/NOTIFY for PostgreSQL, and interval polling for the
// flat file, which has no push channel. Everything stops with ctx or Close.
func (a *App) Watch(ctx context.Context) error {
	if a.bridge != nil {
		stop, err := a.bridge.Start(ctx)
		if err != nil {
			return err
		}
		a.onClose(stop)
	}
	switch a.Config.Storage.Backend {
	case config.BackendPostgres:
		if a.bridge != nil {
			break
		}
		l := &events.PGListener{
			DSN:         a.dsn,
			Collections: []string{store.Projects, store.Releases, store.AppConfig},
			Local:       a.Broker,
			Logger:      a.Logger.Named("pg"),
		}
		stop, err := l.Start(ctx)
		if err != nil {
			return err
		}
		a.onClose(stop)
	case config.BackendJSONFile:
		ctx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		interval := a.Config.Watch.PollInterval
		log := a.Logger.Named("poller")
		run := func(fn func(context.Context)) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn(ctx)
			}()
		}
		run((&events.Poller[domain.Project]{
			Collection: store.Projects, List: a.raw.Projects().List,
			Key:      func(p domain.Project) string { return p.ID },
			Interval: interval, Publisher: a.Broker, Logger: log,
		}).Run)
		run((&events.Poller[domain.Release]{
			Collection: store.Releases, List: a.raw.Releases().List,
			Key:      func(r domain.Release) string { return r.ID },
			Interval: interval, Publisher: a.Broker, Logger: log,
		}).Run)
		run((&events.Poller[domain.AppConfigEntry]{
			Collection: store.AppConfig, List: a.raw.AppConfig().List,
			Key:      func(e domain.AppConfigEntry) string { return e.ID },
			Interval: interval, Publisher: a.Broker, Logger: log,
		}).Run)
		a.onClose(func() {
			cancel()
			wg.Wait()
		})
	}
	a.Logger.Info("watching for changes", zap.String("backend", a.Config.Storage.Backend))
	return nil
}

func (a *App) onClose(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops = append(a.stops, fn)
}

// Close stops watchers in reverse start order, then releases the backend.
func (a *App) Close() error {
	a.mu.Lock()
	stops := a.stops
	a.stops = nil
	a.mu.Unlock()
	for i := len(stops) - 1; i >= 0; i-- {
		stops[i]()
	}
	var err error
	if a.Store != nil {
		err = a.Store.Close()
	}
	a.closeRedis()
	return err
}

func (a *App) closeRedis() {
	if a.redis != nil {
		_ = a.redis.Close()
		a.redis = nil
	}
}

func resolve(workspace, p string) string {
	if p == "" || filepath.IsAbs(p) || workspace == "" {
		return p
	}
	return filepath.Join(workspace, p)
}
