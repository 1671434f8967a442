package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flow/internal/log"
	"github.com/meikuraledutech/flow/schedule"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"FLOW_ADDR", "FLOW_STORE", "DATABASE_URL", "FLOW_SQLITE_PATH",
		"FLOW_WORKERS", "FLOW_PARALLELISM", "FLOW_JWT_SECRET",
		"FLOW_DEBUG", "FLOW_LOG_LEVEL", "FLOW_LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
store:
  driver: sqlite
  path: /var/lib/flow/flow.db
engine:
  workers: 8
  poll_interval: 2s
log:
  level: debug
  format: text
schedules:
  - workflow_id: nightly
    spec: "0 2 * * *"
`), 0o600))

	t.Setenv("FLOW_WORKERS", "3")
	t.Setenv("FLOW_JWT_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/var/lib/flow/flow.db", cfg.Store.Path)
	assert.Equal(t, 3, cfg.Engine.Workers)
	assert.Equal(t, 2*time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, log.FormatText, cfg.Log.Format)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, []schedule.Entry{{WorkflowID: "nightly", Spec: "0 2 * * *"}}, cfg.Schedules)
}

func TestLoad_PostgresFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLOW_STORE", "postgres")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	t.Setenv("DATABASE_URL", "postgres://localhost/flow")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/flow", cfg.Store.DSN)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "mongo"
	cfg.Engine.Parallelism = 0
	cfg.Schedules = []schedule.Entry{{WorkflowID: "a", Spec: "@daily"}, {WorkflowID: "a", Spec: "@hourly"}}

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "engine.parallelism")
	assert.Contains(t, err.Error(), "scheduled twice")
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
