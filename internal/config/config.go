// Package config holds service configuration loaded from environment
// variables with an optional YAML file override.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sab-lab/convergence/internal/types"
)

// Backend names accepted by CONVERGENCE_DB_BACKEND
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// PostgresConfig holds connection settings for the postgres backend
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// Config holds all convergence service configuration
type Config struct {
	// Environment is "production" or "development". Production refuses to
	// serve signal ingestion without a configured shared secret.
	// Default: development
	Environment string `yaml:"environment"`

	// DBBackend selects the storage backend: sqlite or postgres
	// Default: sqlite
	DBBackend string `yaml:"db_backend"`

	// DBPath is the sqlite database file path
	// Default: .convergence/convergence.db
	DBPath string `yaml:"db_path"`

	// Postgres settings, used when DBBackend is postgres
	Postgres PostgresConfig `yaml:"postgres"`

	// DGCSharedSecret gates signal ingestion. Empty in production means the
	// ingest endpoint fails closed with a ConfigurationError.
	DGCSharedSecret string `yaml:"dgc_shared_secret"`

	// AllowDevSecret permits ingestion without a configured secret outside
	// production. Default: false
	AllowDevSecret bool `yaml:"allow_dev_secret"`

	// DarwinValidationCmds are shell commands run during a darwin cycle when
	// validation is requested. Every command must exit zero for validation to
	// pass; an empty list with validation requested is a validation failure.
	DarwinValidationCmds []string `yaml:"darwin_validation_cmds"`

	// DarwinValidationTimeout bounds each validation command.
	// Default: 300s, Range: 1s-3600s
	DarwinValidationTimeout time.Duration `yaml:"darwin_validation_timeout"`

	// IngestRate is the per-agent sustained signal ingestion rate in events
	// per second. Zero or negative disables rate limiting. Default: 5
	IngestRate float64 `yaml:"ingest_rate"`

	// IngestBurst is the per-agent burst allowance. Default: 10
	IngestBurst int `yaml:"ingest_burst"`

	// AntiGamingWindow is how many recent signals the detector scans.
	// Default: 200, Range: 50-2000
	AntiGamingWindow int `yaml:"anti_gaming_window"`

	// LogLevel for the zap logger: debug, info, warn, error. Default: info
	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Environment:             "development",
		DBBackend:               BackendSQLite,
		DBPath:                  ".convergence/convergence.db",
		Postgres:                PostgresConfig{Host: "localhost", Port: 5432, Database: "convergence", User: "convergence", SSLMode: "prefer", MaxConns: 25, MinConns: 2},
		DarwinValidationTimeout: 300 * time.Second,
		IngestRate:              5,
		IngestBurst:             10,
		AntiGamingWindow:        200,
		LogLevel:                "info",
	}
}

// LoadFromEnv builds a Config from defaults overridden by environment
// variables. Invalid numeric values are an error, not silently ignored.
func LoadFromEnv() (*Config, error) {
	cfg := Default()

	if v := os.Getenv("CONVERGENCE_ENV"); v != "" {
		cfg.Environment = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("CONVERGENCE_DB_BACKEND"); v != "" {
		cfg.DBBackend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("CONVERGENCE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CONVERGENCE_PG_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("CONVERGENCE_PG_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CONVERGENCE_PG_PORT %q: %w", v, err)
		}
		cfg.Postgres.Port = port
	}
	if v := os.Getenv("CONVERGENCE_PG_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("CONVERGENCE_PG_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("CONVERGENCE_PG_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CONVERGENCE_PG_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	cfg.DGCSharedSecret = strings.TrimSpace(os.Getenv("CONVERGENCE_DGC_SHARED_SECRET"))
	if v := os.Getenv("CONVERGENCE_ALLOW_DEV_SECRET"); v != "" {
		allow, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CONVERGENCE_ALLOW_DEV_SECRET %q: %w", v, err)
		}
		cfg.AllowDevSecret = allow
	}
	if v := os.Getenv("CONVERGENCE_DARWIN_VALIDATION_CMDS"); v != "" {
		cfg.DarwinValidationCmds = splitCommands(v)
	}
	if v := os.Getenv("CONVERGENCE_DARWIN_TIMEOUT_SECS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CONVERGENCE_DARWIN_TIMEOUT_SECS %q: %w", v, err)
		}
		cfg.DarwinValidationTimeout = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("CONVERGENCE_INGEST_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid CONVERGENCE_INGEST_RATE %q: %w", v, err)
		}
		cfg.IngestRate = r
	}
	if v := os.Getenv("CONVERGENCE_INGEST_BURST"); v != "" {
		b, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CONVERGENCE_INGEST_BURST %q: %w", v, err)
		}
		cfg.IngestBurst = b
	}
	if v := os.Getenv("CONVERGENCE_ANTI_GAMING_WINDOW"); v != "" {
		w, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CONVERGENCE_ANTI_GAMING_WINDOW %q: %w", v, err)
		}
		cfg.AntiGamingWindow = w
	}
	if v := os.Getenv("CONVERGENCE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}

	return cfg, nil
}

// LoadFile overlays YAML settings from path onto cfg
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks configuration consistency. A missing production secret is
// reported here as a ConfigurationError so callers can fail closed at startup
// rather than at the first ingest call.
func (c *Config) Validate() error {
	switch c.DBBackend {
	case BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("invalid db_backend %q (expected sqlite or postgres)", c.DBBackend)
	}
	if c.DBBackend == BackendSQLite && c.DBPath == "" {
		return fmt.Errorf("db_path is required for the sqlite backend")
	}
	if c.DarwinValidationTimeout < time.Second || c.DarwinValidationTimeout > time.Hour {
		return fmt.Errorf("darwin_validation_timeout %s out of range [1s, 1h]", c.DarwinValidationTimeout)
	}
	if c.AntiGamingWindow < 50 || c.AntiGamingWindow > 2000 {
		return fmt.Errorf("anti_gaming_window %d out of range [50, 2000]", c.AntiGamingWindow)
	}
	if c.Environment == "production" && c.DGCSharedSecret == "" && !c.AllowDevSecret {
		return &types.ConfigurationError{
			Setting: "CONVERGENCE_DGC_SHARED_SECRET",
			Reason:  "required in production unless CONVERGENCE_ALLOW_DEV_SECRET is set",
		}
	}
	return nil
}

// splitCommands splits a ";"-separated command list, dropping empty entries
func splitCommands(raw string) []string {
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
