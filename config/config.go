// Package config loads flowd configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/internal/log"
	"github.com/meikuraledutech/flow/schedule"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the complete flowd configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Store     StoreConfig      `yaml:"store"`
	Engine    EngineConfig     `yaml:"engine"`
	Executors ExecutorsConfig  `yaml:"executors"`
	Auth      AuthConfig       `yaml:"auth"`
	Log       log.Config       `yaml:"log"`
	Schedules []schedule.Entry `yaml:"schedules"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address. Environment: FLOW_ADDR.
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is memory, sqlite or postgres. Environment: FLOW_STORE.
	Driver string `yaml:"driver"`
	// DSN is the postgres connection string. Environment: DATABASE_URL.
	DSN string `yaml:"dsn"`
	// Path is the sqlite database file. Environment: FLOW_SQLITE_PATH.
	Path string `yaml:"path"`
	WAL  bool   `yaml:"wal"`
}

// EngineConfig sizes the execution engine.
type EngineConfig struct {
	// Workers is the number of jobs run at once. Environment: FLOW_WORKERS.
	Workers int `yaml:"workers"`
	// Parallelism bounds concurrently executing nodes per job.
	// Environment: FLOW_PARALLELISM.
	Parallelism      int           `yaml:"parallelism"`
	QueueSize        int           `yaml:"queue_size"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
}

// ExecutorsConfig configures the built-in executors.
type ExecutorsConfig struct {
	HTTPRateLimit    float64       `yaml:"http_rate_limit"`
	HTTPBurst        int           `yaml:"http_burst"`
	TransformTimeout time.Duration `yaml:"transform_timeout"`
}

// AuthConfig configures bearer-token authentication of the API.
type AuthConfig struct {
	// JWTSecret is the HMAC key tokens are signed with. Empty disables
	// authentication. Environment: FLOW_JWT_SECRET.
	JWTSecret string `yaml:"jwt_secret"`
	// Issuer, if set, must match the iss claim.
	Issuer string `yaml:"issuer"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
			Path:   "flow.db",
			WAL:    true,
		},
		Engine: EngineConfig{
			Workers:          2,
			Parallelism:      flow.DefaultParallelism,
			QueueSize:        128,
			PollInterval:     5 * time.Second,
			SubscriberBuffer: flow.DefaultSubscriberBuffer,
		},
		Executors: ExecutorsConfig{
			TransformTimeout: time.Second,
		},
		Log: *log.DefaultConfig(),
	}
}

// Load reads configPath, if given, then applies environment overrides
// and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", configPath, err)
		}
	}
	cfg.loadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("FLOW_ADDR"); val != "" {
		c.Server.Addr = val
	}
	if val := os.Getenv("FLOW_STORE"); val != "" {
		c.Store.Driver = strings.ToLower(val)
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		c.Store.DSN = val
	}
	if val := os.Getenv("FLOW_SQLITE_PATH"); val != "" {
		c.Store.Path = val
	}
	if val := os.Getenv("FLOW_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.Workers = n
		}
	}
	if val := os.Getenv("FLOW_PARALLELISM"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.Parallelism = n
		}
	}
	if val := os.Getenv("FLOW_JWT_SECRET"); val != "" {
		c.Auth.JWTSecret = val
	}
	log.ApplyEnv(&c.Log)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn (or DATABASE_URL) is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be one of [memory, sqlite, postgres], got %q", c.Store.Driver))
	}
	if c.Engine.Workers < 1 {
		errs = append(errs, fmt.Sprintf("engine.workers must be positive, got %d", c.Engine.Workers))
	}
	if c.Engine.Parallelism < 1 {
		errs = append(errs, fmt.Sprintf("engine.parallelism must be positive, got %d", c.Engine.Parallelism))
	}
	if c.Executors.HTTPRateLimit < 0 {
		errs = append(errs, "executors.http_rate_limit must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Log.Format != log.FormatJSON && c.Log.Format != log.FormatText {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	seen := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		if s.WorkflowID == "" || s.Spec == "" {
			errs = append(errs, fmt.Sprintf("schedules[%d] needs workflow_id and spec", i))
		}
		if seen[s.WorkflowID] {
			errs = append(errs, fmt.Sprintf("schedules[%d]: workflow %q is scheduled twice", i, s.WorkflowID))
		}
		seen[s.WorkflowID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}
