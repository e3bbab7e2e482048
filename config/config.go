// Package config loads engine settings and watch definitions.
package config

import (
	"fmt"
	"strings"
	"time"

	watcher "github.com/goliatone/go-watcher"
)

type Config struct {
	Execution ExecutionConfig `mapstructure:"execution"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Store     StoreConfig     `mapstructure:"store"`
	Node      NodeConfig      `mapstructure:"node"`
	Log       LogConfig       `mapstructure:"log"`
	Watches   WatchesConfig   `mapstructure:"watches"`
}

type ExecutionConfig struct {
	DefaultThrottlePeriod time.Duration `mapstructure:"default_throttle_period"`
	MaxStopTimeout        time.Duration `mapstructure:"max_stop_timeout"`
}

type ExecutorConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type StoreConfig struct {
	// Path is the SQLite database file, ":memory:" keeps everything in process.
	Path string `mapstructure:"path"`
}

type NodeConfig struct {
	ID string `mapstructure:"id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WatchesConfig struct {
	File string `mapstructure:"file"`
}

// Validate checks value ranges. All problems are reported at once.
func (c *Config) Validate() error {
	var problems []string
	if c.Execution.DefaultThrottlePeriod < 0 {
		problems = append(problems, fmt.Sprintf("execution.default_throttle_period must be >= 0, got %s", c.Execution.DefaultThrottlePeriod))
	}
	if c.Execution.MaxStopTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("execution.max_stop_timeout must be > 0, got %s", c.Execution.MaxStopTimeout))
	}
	if c.Executor.Workers <= 0 {
		problems = append(problems, fmt.Sprintf("executor.workers must be > 0, got %d", c.Executor.Workers))
	}
	if c.Executor.QueueSize < 0 {
		problems = append(problems, fmt.Sprintf("executor.queue_size must be >= 0, got %d", c.Executor.QueueSize))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format must be console or json, got %q", c.Log.Format))
	}
	if len(problems) == 0 {
		return nil
	}
	return watcher.CloneError(watcher.ErrInvalidConfig, strings.Join(problems, "; "), nil, map[string]any{
		"problems": problems,
	})
}
