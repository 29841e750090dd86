// Package config loads server configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
		// PublicURL is the externally visible base URL, used for avatar links.
		PublicURL string `yaml:"public_url"`
	} `yaml:"server"`

	Database struct {
		// Driver is "sqlite" or "postgres".
		Driver string `yaml:"driver"`
		// Path is the SQLite file or the PostgreSQL connection string.
		Path string `yaml:"path"`
	} `yaml:"database"`

	JWT struct {
		Secret string        `yaml:"secret"`
		TTL    time.Duration `yaml:"ttl"`
	} `yaml:"jwt"`

	Avatars struct {
		Dir string `yaml:"dir"`
	} `yaml:"avatars"`

	Client struct {
		// ProfileCacheTTL bounds how long author profiles are reused. Zero disables the cache.
		ProfileCacheTTL time.Duration `yaml:"profile_cache_ttl"`
	} `yaml:"client"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	c := &Config{}
	c.Server.Addr = ":8080"
	c.Server.PublicURL = "http://localhost:8080"
	c.Database.Driver = "sqlite"
	c.Database.Path = "./data/circles.db"
	c.JWT.TTL = 24 * time.Hour
	c.Avatars.Dir = "./data/avatars"
	c.Client.ProfileCacheTTL = 30 * time.Second
	c.Logging.Level = "info"
	return c
}

// Load reads configuration from path, if it exists, then applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults and environment only
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// applyEnv overrides fields from environment variables. The short names
// LOG_LEVEL, DB_PATH and JWT_SECRET are accepted alongside the CIRCLES_ ones,
// which win when both are set.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
			}
		}
	}
	dur := func(dst *time.Duration, key string) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str(&c.Server.Addr, "CIRCLES_ADDR")
	str(&c.Server.PublicURL, "CIRCLES_PUBLIC_URL")
	str(&c.Database.Driver, "CIRCLES_DB_DRIVER")
	str(&c.Database.Path, "DB_PATH", "CIRCLES_DB_PATH")
	str(&c.JWT.Secret, "JWT_SECRET", "CIRCLES_JWT_SECRET")
	str(&c.Avatars.Dir, "CIRCLES_AVATAR_DIR")
	str(&c.Logging.Level, "LOG_LEVEL", "CIRCLES_LOG_LEVEL")

	if err := dur(&c.JWT.TTL, "CIRCLES_JWT_TTL"); err != nil {
		return err
	}
	return dur(&c.Client.ProfileCacheTTL, "CIRCLES_PROFILE_CACHE_TTL")
}

// Validate checks that required fields are set and values are in range.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server address is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		return fmt.Errorf("public url must be http or https: %q", c.Server.PublicURL)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.JWT.Secret == "" {
		return errors.New("JWT secret is required")
	}
	if c.JWT.TTL <= 0 {
		return errors.New("JWT ttl must be positive")
	}
	if c.Avatars.Dir == "" {
		return errors.New("avatar directory is required")
	}
	if c.Client.ProfileCacheTTL < 0 {
		return errors.New("profile cache ttl cannot be negative")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Logging.Level)
	}
	return nil
}

// AvatarURL is the public base URL of stored avatars.
func (c *Config) AvatarURL() string {
	return strings.TrimRight(c.Server.PublicURL, "/") + AvatarPath
}

// AvatarPath is where avatars are served.
const AvatarPath = "/avatars"
