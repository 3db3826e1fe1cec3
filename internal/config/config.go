package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: RELAY_AGENT__ALIAS_ID sets agent.alias_id.
const EnvPrefix = "RELAY_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Agent     AgentConfig     `koanf:"agent"`
	Relay     RelayConfig     `koanf:"relay"`
	Sessions  SessionsConfig  `koanf:"sessions"`
	Reports   ReportsConfig   `koanf:"reports"`
	AWS       AWSConfig       `koanf:"aws"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	AllowedOrigins string        `koanf:"allowed_origins"` // Comma separated, "*" for any
	RequestTimeout time.Duration `koanf:"request_timeout"` // Applies to non-streaming routes
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

type AgentConfig struct {
	ID      string `koanf:"id"`
	AliasID string `koanf:"alias_id"`
	Region  string `koanf:"region"` // Optional: defaults to aws.region
}

type RelayConfig struct {
	MaxRetries int           `koanf:"max_retries"`
	RetryDelay time.Duration `koanf:"retry_delay"`
}

type SessionsConfig struct {
	Backend    string        `koanf:"backend"` // dynamodb, sqlite, memory
	Table      string        `koanf:"table"`
	SQLitePath string        `koanf:"sqlite_path"`
	TTL        time.Duration `koanf:"ttl"`
}

type ReportsConfig struct {
	Bucket string `koanf:"bucket"`
	Prefix string `koanf:"prefix"`
}

type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // Optional: local emulator endpoint
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

var defaults = map[string]any{
	"server.port":            8000,
	"server.allowed_origins": "*",
	"server.request_timeout": "30s",
	"log.level":              "info",
	"relay.max_retries":      5,
	"relay.retry_delay":      "10s",
	"sessions.backend":       "dynamodb",
	"sessions.table":         "LguWorkagentSessions",
	"sessions.sqlite_path":   "sessions.db",
	"sessions.ttl":           "24h",
	"reports.prefix":         "reports/",
	"aws.region":             "us-east-1",
	"telemetry.enabled":      false,
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configuration from the YAML file named by RELAY_CONFIG (or
// config.yaml when unset), then environment variables, then defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	path := os.Getenv(EnvPrefix + "CONFIG")
	if path == "" {
		path = "config.yaml"
	}

	// Try to load from the config file first
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute environment variables in deployment identifiers
	for _, s := range []*string{&cfg.Agent.ID, &cfg.Agent.AliasID, &cfg.Reports.Bucket, &cfg.Sessions.Table} {
		*s = substituteEnvVars(*s)
	}

	return &cfg, nil
}

// Validate reports missing deployment parameters.
func (c *Config) Validate() error {
	var errs []error
	if c.Agent.ID == "" {
		errs = append(errs, errors.New("agent.id is required"))
	}
	if c.Agent.AliasID == "" {
		errs = append(errs, errors.New("agent.alias_id is required"))
	}
	if c.Reports.Bucket == "" {
		errs = append(errs, errors.New("reports.bucket is required"))
	}
	switch c.Sessions.Backend {
	case "dynamodb":
		if c.Sessions.Table == "" {
			errs = append(errs, errors.New("sessions.table is required for the dynamodb backend"))
		}
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown sessions.backend %q", c.Sessions.Backend))
	}
	if c.Relay.MaxRetries < 1 {
		errs = append(errs, errors.New("relay.max_retries must be at least 1"))
	}
	return errors.Join(errs...)
}

// Origins returns the allowed CORS origins.
func (c ServerConfig) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// AgentRegion is the region of the agent runtime endpoint.
func (c *Config) AgentRegion() string {
	if c.Agent.Region != "" {
		return c.Agent.Region
	}
	return c.AWS.Region
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
