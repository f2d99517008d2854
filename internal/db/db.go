package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"

	defaultDBName = "releasedesk.db"
)

type Config struct {
	Dialect string
	// Path is the SQLite file; defaults to <workspace>/.releasedesk/releasedesk.db.
	Path      string
	Workspace string
	// DSN is the PostgreSQL connection URL.
	DSN string
}

// StateDir is the per-workspace directory holding local state.
func StateDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".releasedesk")
}

// EnsureWorkspace creates the workspace state directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := StateDir(workspace)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Path returns the SQLite file used for cfg.
func Path(cfg Config) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(StateDir(cfg.Workspace), defaultDBName)
}

// Open connects to the configured database. SQLite runs with foreign keys on
// and a single connection so writers never contend for the file lock.
func Open(cfg Config) (*sqlx.DB, error) {
	switch cfg.Dialect {
	case "", DialectSQLite:
		path := Path(cfg)
		if cfg.Path == "" {
			if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
				return nil, err
			}
		} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
		conn, err := sqlx.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		conn.SetMaxOpenConns(1)
		return conn, nil
	case DialectPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
		conn, err := sqlx.Connect("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unknown dialect %q", cfg.Dialect)
	}
}
