// Package config loads the service configuration from an optional YAML file
// and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Session  SessionConfig  `yaml:"session"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" validate:"required"`
	// AllowOrigins is forwarded to the CORS middleware. Empty disables CORS.
	AllowOrigins []string `yaml:"allow_origins"`
}

// DatabaseConfig selects the preset and session backend. An empty URL keeps
// everything in memory.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type UpstreamConfig struct {
	URL                  string        `yaml:"url" validate:"required,url"`
	Timeout              time.Duration `yaml:"timeout" validate:"gt=0"`
	DatasourceType       string        `yaml:"datasource_type" validate:"required"`
	MaxConcurrentQueries int           `yaml:"max_concurrent_queries" validate:"gte=0"`
}

type SessionConfig struct {
	TTL          time.Duration `yaml:"ttl" validate:"gte=0"`
	CookieName   string        `yaml:"cookie_name" validate:"required"`
	CookieSecure bool          `yaml:"cookie_secure"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{ListenAddr: ":8080"},
		Upstream: UpstreamConfig{
			URL:            "http://localhost:3000",
			Timeout:        30 * time.Second,
			DatasourceType: "influxdb",
		},
		Session: SessionConfig{
			TTL:        24 * time.Hour,
			CookieName: "fluxflow.sid",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults when path is non-empty, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg and reports every failing field.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables if
// set. Malformed values fail fast.
func applyEnvOverrides(cfg *Config) error {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if origins := os.Getenv("ALLOW_ORIGINS"); origins != "" {
		cfg.Server.AllowOrigins = splitList(origins)
	}

	if url := os.Getenv("UPSTREAM_URL"); url != "" {
		cfg.Upstream.URL = url
	}
	if timeout := os.Getenv("UPSTREAM_TIMEOUT"); timeout != "" {
		t, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid UPSTREAM_TIMEOUT %q: %w", timeout, err)
		}
		cfg.Upstream.Timeout = t
	}
	if dsType := os.Getenv("UPSTREAM_DATASOURCE_TYPE"); dsType != "" {
		cfg.Upstream.DatasourceType = dsType
	}
	if n := os.Getenv("UPSTREAM_MAX_CONCURRENT_QUERIES"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil {
			return fmt.Errorf("invalid UPSTREAM_MAX_CONCURRENT_QUERIES %q: %w", n, err)
		}
		cfg.Upstream.MaxConcurrentQueries = v
	}

	if ttl := os.Getenv("SESSION_TTL"); ttl != "" {
		t, err := time.ParseDuration(ttl)
		if err != nil {
			return fmt.Errorf("invalid SESSION_TTL %q: %w", ttl, err)
		}
		cfg.Session.TTL = t
	}
	if secure := os.Getenv("SESSION_COOKIE_SECURE"); secure != "" {
		b, err := parseBool(secure)
		if err != nil {
			return fmt.Errorf("invalid SESSION_COOKIE_SECURE %q: %w", secure, err)
		}
		cfg.Session.CookieSecure = b
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Log.Format = strings.ToLower(format)
	}
	return nil
}

// parseBool accepts "true", "1", "yes", "on" and their negatives.
func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", value)
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
