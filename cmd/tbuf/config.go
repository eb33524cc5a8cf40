package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the optional config file. Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	LogLevel    string       `yaml:"log_level"`
	LogFormat   string       `yaml:"log_format"`
	Concurrency *int         `yaml:"concurrency"`
	Remote      RemoteConfig `yaml:"remote"`
	Serve       ServeConfig  `yaml:"serve"`
}

type RemoteConfig struct {
	Timeout      *time.Duration    `yaml:"timeout"`
	MaxRetries   *int              `yaml:"max_retries"`
	RetryWaitMin time.Duration     `yaml:"retry_wait_min"`
	RetryWaitMax time.Duration     `yaml:"retry_wait_max"`
	BearerToken  string            `yaml:"bearer_token"`
	Headers      map[string]string `yaml:"headers"`
}

type ServeConfig struct {
	Address      string `yaml:"address"`
	CacheEntries *int   `yaml:"cache_entries"`
}

// cfg is the config loaded by the root Before hook.
var cfg Config

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tensorbuffers", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config; a malformed one is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// applyGlobalConfig copies config values into global flag variables when
// the corresponding flag was not set explicitly.
func applyGlobalConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	if cfg.Remote.Timeout != nil && !c.IsSet("timeout") {
		timeout = *cfg.Remote.Timeout
	}
	if cfg.Remote.MaxRetries != nil && !c.IsSet("max-retries") {
		maxRetries = int64(*cfg.Remote.MaxRetries)
	}
	if cfg.Remote.BearerToken != "" && !c.IsSet("bearer-token") {
		bearerToken = cfg.Remote.BearerToken
	}
}

// applyConcurrencyConfig applies the config default to a command's
// --concurrency flag.
func applyConcurrencyConfig(c *cli.Command, cfg Config, concurrency *int64) {
	if cfg.Concurrency != nil && !c.IsSet("concurrency") {
		*concurrency = int64(*cfg.Concurrency)
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, cacheEntries *int64) {
	if cfg.Serve.Address != "" && !c.IsSet("addr") {
		*addr = cfg.Serve.Address
	}
	if cfg.Serve.CacheEntries != nil && !c.IsSet("cache-entries") {
		*cacheEntries = int64(*cfg.Serve.CacheEntries)
	}
}
