// Package config loads the server configuration from an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port" validate:"min=1,max=65535"`
	} `yaml:"server"`

	Cache struct {
		Dir         string `yaml:"dir"`
		Freshness   string `yaml:"freshness"`
		Timeout     string `yaml:"timeout"`
		Concurrency int    `yaml:"concurrency" validate:"min=0"`
		MaxBodySize string `yaml:"maxBodySize"`
	} `yaml:"cache"`

	Store struct {
		Driver         string `yaml:"driver" validate:"oneof=memory leveldb redis valkey"`
		Path           string `yaml:"path" validate:"required_if=Driver leveldb"`
		Addr           string `yaml:"addr" validate:"required_if=Driver redis,required_if=Driver valkey"`
		TTL            string `yaml:"ttl"`
		LocalCacheSize int    `yaml:"localCacheSize" validate:"min=0"`
	} `yaml:"store"`

	Log struct {
		Level  string `yaml:"level" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" validate:"oneof=console json"`
	} `yaml:"log"`

	// compiled
	freshness   time.Duration
	timeout     time.Duration
	maxBodySize int64
	ttl         time.Duration
}

// Defaults returns the configuration used when neither a file nor the
// environment says otherwise.
func Defaults() Config {
	var cfg Config
	cfg.Server.Port = 8080
	cfg.Cache.Freshness = "10m"
	cfg.Cache.Timeout = "30s"
	cfg.Store.Driver = "memory"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// Load reads path when it is not empty and exists, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, err
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("CACHE_MIN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("CACHE_MIN: invalid minutes %q", v)
		}
		cfg.Cache.Freshness = (time.Duration(n) * time.Minute).String()
	}
	if v := getenv("REMOTEVIEWS_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REMOTEVIEWS_PORT: %w", err)
		}
		cfg.Server.Port = n
	}
	if v := getenv("REMOTEVIEWS_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := getenv("REMOTEVIEWS_STORE"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := getenv("REMOTEVIEWS_STORE_ADDR"); v != "" {
		cfg.Store.Addr = v
	}
	if v := getenv("REMOTEVIEWS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	return nil
}

func (cfg *Config) compile() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	var err error
	if cfg.freshness, err = parseDuration(cfg.Cache.Freshness); err != nil {
		return fmt.Errorf("cache.freshness: %w", err)
	}
	if cfg.timeout, err = parseDuration(cfg.Cache.Timeout); err != nil {
		return fmt.Errorf("cache.timeout: %w", err)
	}
	if cfg.ttl, err = parseDuration(cfg.Store.TTL); err != nil {
		return fmt.Errorf("store.ttl: %w", err)
	}
	if cfg.Cache.MaxBodySize != "" {
		if cfg.maxBodySize, err = parseBytes(cfg.Cache.MaxBodySize); err != nil {
			return fmt.Errorf("cache.maxBodySize: %w", err)
		}
	}
	return nil
}

func (cfg Config) Freshness() time.Duration { return cfg.freshness }
func (cfg Config) Timeout() time.Duration { return cfg.timeout }
func (cfg Config) MaxBodySize() int64 { return cfg.maxBodySize }

// TTL is the metadata store expiry. Zero keeps entries forever.
func (cfg Config) TTL() time.Duration { return cfg.ttl }

func (cfg Config) Addr() string {
	return ":" + strconv.Itoa(cfg.Server.Port)
}

func parseDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration")
	}
	return d, nil
}

func parseBytes(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	last := s[len(s)-1]
	if last == 'b' {
		s = strings.TrimSpace(s[:len(s)-1])
		if s == "" {
			return 0, fmt.Errorf("invalid size")
		}
		last = s[len(s)-1]
	}
	switch last {
	case 'k':
		mult = 1024
		s = s[:len(s)-1]
	case 'm':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	case 'g':
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative size")
	}
	return int64(v * float64(mult)), nil
}
