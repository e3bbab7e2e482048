package config

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/spf13/viper"
)

// Loader reads configuration from defaults, an optional file and the
// environment. Environment variables win over the file.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "WATCHER",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for overrides.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("watcher")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
	}

	// read config file (ignore not found)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, errors.CategoryBadInput, fmt.Sprintf("reading config %q", l.configFile))
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "unmarshaling config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("execution.default_throttle_period", "5s")
	l.v.SetDefault("execution.max_stop_timeout", "30s")

	l.v.SetDefault("executor.workers", 10)
	l.v.SetDefault("executor.queue_size", 1000)

	l.v.SetDefault("store.path", "watcher.db")

	l.v.SetDefault("node.id", "")

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "console")

	l.v.SetDefault("watches.file", "watches.yaml")
}
