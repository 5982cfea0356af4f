/*
Package config loads the unmask configuration from a YAML file and UNMASK_* environment
variables. Command line flags are applied on top by the caller.
*/
package config

/*
unmask — recover censored email domains from a list of known domains
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/x-stp/unmask/internal/core"
	"github.com/x-stp/unmask/internal/domainlib"
	"github.com/x-stp/unmask/internal/mask"
	"github.com/x-stp/unmask/internal/mlog"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. UNMASK_INDEX_SOURCE.
const EnvPrefix = "UNMASK"

// Config is the root of the configuration file.
type Config struct {
	Log     mlog.LogConfig `yaml:"log"`
	Index   IndexConfig    `yaml:"index"`
	Matcher MatcherConfig  `yaml:"matcher"`
	HTTP    HTTPConfig     `yaml:"http"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Cache   CacheConfig    `yaml:"cache"`
	Client  ClientConfig   `yaml:"client"`
}

// IndexConfig selects the candidate source and how it is interpreted.
type IndexConfig struct {
	// Source is "default", "-", a file path or an http(s) URL.
	Source string `yaml:"source"`
	// Wildcards are character groups; their union is the wildcard set.
	Wildcards []string `yaml:"wildcards"`
	// FilterValid drops candidates rejected by Validator.
	FilterValid bool `yaml:"filter_valid"`
	// Validator names a built-in validator, or a comma-separated list that must all accept.
	Validator string `yaml:"validator"`
	// Watch reloads a file source when it changes. Only used by serve.
	Watch       bool          `yaml:"watch"`
	ReloadDelay time.Duration `yaml:"reload_delay"`
}

type MatcherConfig struct {
	Workers   int  `yaml:"workers"`
	ChunkSize int  `yaml:"chunk_size"`
	QueueSize int  `yaml:"queue_size"`
	Affinity  bool `yaml:"affinity"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
	// RateLimit is the number of admitted requests per second. Zero disables limiting.
	RateLimit       float64       `yaml:"rate_limit"`
	Burst           int           `yaml:"burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// CacheConfig configures the bbolt cache of remote lists. An empty Path disables it.
type CacheConfig struct {
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"`
}

type ClientConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Retries        int           `yaml:"retries"`
	Turbo          bool          `yaml:"turbo"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.production", false)

	v.SetDefault("index.source", "default")
	v.SetDefault("index.wildcards", []string{mask.DefaultWildcards})
	v.SetDefault("index.filter_valid", true)
	v.SetDefault("index.validator", "syntax")
	v.SetDefault("index.watch", false)
	v.SetDefault("index.reload_delay", time.Second)

	v.SetDefault("matcher.workers", 0)
	v.SetDefault("matcher.chunk_size", core.DefaultChunkSize)
	v.SetDefault("matcher.queue_size", core.DefaultQueueSize)
	v.SetDefault("matcher.affinity", false)

	v.SetDefault("http.listen", "127.0.0.1:8080")
	v.SetDefault("http.rate_limit", 50.0)
	v.SetDefault("http.burst", 100)
	v.SetDefault("http.shutdown_timeout", 5*time.Second)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9090")

	v.SetDefault("cache.path", defaultCachePath())
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("client.request_timeout", 30*time.Second)
	v.SetDefault("client.retries", 2)
	v.SetDefault("client.turbo", false)
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "unmask", "lists.db")
}

func decoderOpt(cfg *mapstructure.DecoderConfig) {
	cfg.ErrorUnused = true
	cfg.TagName = "yaml"
	cfg.WeaklyTypedInput = true
}

// Load reads the configuration. With an empty path the file "unmask.yaml" is looked up in
// the working directory, the user config directory and /etc/unmask; a missing file is not
// an error then. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("unmask")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "unmask"))
		}
		v.AddConfigPath("/etc/unmask")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg, decoderOpt); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	var errs []error
	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			errs = append(errs, fmt.Errorf("log.level: %w", err))
		}
	}
	if _, err := domainlib.ByName(c.Index.Validator); err != nil {
		errs = append(errs, fmt.Errorf("index.validator: %w", err))
	}
	if c.Matcher.Workers < 0 || c.Matcher.Workers > core.MaxWorkers {
		errs = append(errs, fmt.Errorf("matcher.workers: must be between 0 and %d", core.MaxWorkers))
	}
	if c.Matcher.ChunkSize < 0 {
		errs = append(errs, errors.New("matcher.chunk_size: must not be negative"))
	}
	if c.Matcher.QueueSize < 0 {
		errs = append(errs, errors.New("matcher.queue_size: must not be negative"))
	}
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("http.rate_limit: must not be negative"))
	}
	if c.HTTP.Burst < 0 {
		errs = append(errs, errors.New("http.burst: must not be negative"))
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen: required when metrics are enabled"))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.ttl: must not be negative"))
	}
	return errors.Join(errs...)
}

// ValidatorFunc returns the configured validator.
func (c *Config) ValidatorFunc() domainlib.Validator {
	v, err := domainlib.ByName(c.Index.Validator)
	if err != nil {
		return domainlib.Syntax
	}
	return v
}
