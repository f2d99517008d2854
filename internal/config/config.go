package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendJSONFile = "jsonfile"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	ObjstoreLocal = "local"
	ObjstoreS3    = "s3"
)

// Config models releasedesk.yml.
type Config struct {
	Storage struct {
		Backend     string `yaml:"backend"`
		JSONPath    string `yaml:"json_path"`
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
		Cache       bool   `yaml:"cache"`
	} `yaml:"storage"`
	Watch struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		RedisAddr    string        `yaml:"redis_addr"`
		RedisChannel string        `yaml:"redis_channel"`
	} `yaml:"watch"`
	Workflow struct {
		ProjectTerminalStep int `yaml:"project_terminal_step"`
		ModelTerminalStep   int `yaml:"model_terminal_step"`
	} `yaml:"workflow"`
	Auth struct {
		JWTSecret  string        `yaml:"jwt_secret"`
		SessionTTL time.Duration `yaml:"session_ttl"`
	} `yaml:"auth"`
	Objstore struct {
		Kind            string `yaml:"kind"`
		Root            string `yaml:"root"`
		Bucket          string `yaml:"bucket"`
		Prefix          string `yaml:"prefix"`
		Region          string `yaml:"region"`
		Endpoint        string `yaml:"endpoint"`
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
	} `yaml:"objstore"`
	TestRunner struct {
		URL           string        `yaml:"url"`
		HealthTimeout time.Duration `yaml:"health_timeout"`
	} `yaml:"testrunner"`
	Server struct {
		Addr        string   `yaml:"addr"`
		BasePath    string   `yaml:"base_path"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Webhooks []Webhook `yaml:"webhooks"`
	Log      struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with rdesk init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendJSONFile, BackendSQLite:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config.storage.postgres_dsn is required for the postgres backend")
		}
		if !strings.HasPrefix(c.Storage.PostgresDSN, "postgres://") && !strings.HasPrefix(c.Storage.PostgresDSN, "postgresql://") {
			return fmt.Errorf("config.storage.postgres_dsn must be a postgres:// URL")
		}
	default:
		return fmt.Errorf("config.storage.backend must be one of jsonfile, sqlite, postgres (got %q)", c.Storage.Backend)
	}
	if c.Watch.PollInterval <= 0 {
		return fmt.Errorf("config.watch.poll_interval must be positive")
	}
	for name, step := range map[string]int{
		"project_terminal_step": c.Workflow.ProjectTerminalStep,
		"model_terminal_step":   c.Workflow.ModelTerminalStep,
	} {
		if step < 1 || step > 6 {
			return fmt.Errorf("config.workflow.%s must be between 1 and 6", name)
		}
	}
	switch c.Objstore.Kind {
	case ObjstoreLocal:
	case ObjstoreS3:
		if c.Objstore.Bucket == "" {
			return fmt.Errorf("config.objstore.bucket is required for s3")
		}
	default:
		return fmt.Errorf("config.objstore.kind must be local or s3")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("config.auth.session_ttl must be positive")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "releasedesk.yml")
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `storage:
  backend: jsonfile
  json_path: data/data.json
  sqlite_path: .releasedesk/releasedesk.db
  postgres_dsn: ""
  cache: true

watch:
  poll_interval: 5s
  redis_addr: ""
  redis_channel: releasedesk:changes

workflow:
  # Releases drive models through three steps. Projects use the same
  # transitions; set 5 to walk the full project label set.
  project_terminal_step: 3
  model_terminal_step: 3

auth:
  jwt_secret: change-me
  session_ttl: 12h

objstore:
  kind: local
  root: data/objects
  bucket: ""
  prefix: TEST_SUITE/
  region: us-east-1
  endpoint: ""
  # Empty keys fall back to the AWS default credential chain.
  access_key_id: ""
  secret_access_key: ""

testrunner:
  url: http://localhost:8090
  health_timeout: 5s

server:
  addr: 127.0.0.1:8080
  base_path: /api
  cors_origins: ["http://localhost:5173"]

webhooks: []

log:
  level: info
  format: json
`
