package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	watcher "github.com/goliatone/go-watcher"
)

func TestLoaderDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigFile("").WithEnvPrefix("WATCHER_TEST_DEFAULTS").Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Execution.DefaultThrottlePeriod)
	assert.Equal(t, 30*time.Second, cfg.Execution.MaxStopTimeout)
	assert.Equal(t, 10, cfg.Executor.Workers)
	assert.Equal(t, 1000, cfg.Executor.QueueSize)
	assert.Equal(t, "watcher.db", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoaderReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watcher.yaml")
	body := `
execution:
  default_throttle_period: 1m
executor:
  workers: 3
  queue_size: 7
store:
  path: /tmp/state.db
node:
  id: node-a
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("WATCHER_EXECUTOR_WORKERS", "5")

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Execution.DefaultThrottlePeriod)
	assert.Equal(t, 5, cfg.Executor.Workers)
	assert.Equal(t, 7, cfg.Executor.QueueSize)
	assert.Equal(t, "/tmp/state.db", cfg.Store.Path)
	assert.Equal(t, "node-a", cfg.Node.ID)
}

func TestLoaderRejectsNegativeThrottle(t *testing.T) {
	t.Setenv("WATCHER_EXECUTION_DEFAULT_THROTTLE_PERIOD", "-1s")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.True(t, watcher.HasCode(err, watcher.ErrCodeInvalidConfig))
}

func TestLoaderMissingExplicitFile(t *testing.T) {
	_, err := NewLoader().WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Execution: ExecutionConfig{MaxStopTimeout: time.Second},
		Executor:  ExecutorConfig{Workers: 1},
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero stop timeout", func(c *Config) { c.Execution.MaxStopTimeout = 0 }},
		{"no workers", func(c *Config) { c.Executor.Workers = 0 }},
		{"negative queue", func(c *Config) { c.Executor.QueueSize = -1 }},
		{"unknown format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, watcher.HasCode(err, watcher.ErrCodeInvalidConfig))
		})
	}
}
