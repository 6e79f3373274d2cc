package config

import "context"

// Package config provides configuration management for sentinel.
//
// Configuration Sources (priority order, high to low):
//   1. CLI flags (highest priority, applied by cmd/server)
//   2. Environment variables (SENTINEL_* prefix)
//   3. YAML config file (default: /etc/sentinel/config.yaml)
//   4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server       - HTTP/gRPC listeners, CORS origins, rate limit
//   2. Database     - "sqlite" | "postgres" and their connection settings
//   3. Logging      - level, format, rotated application and audit log files
//   4. Moderation   - content heuristics thresholds and the denylist
//   5. Security     - login history lookback and anomaly guards
//   6. Risk         - severity weights and the rule-set version
//   7. Notifications - audiences for content and security alerts
//   8. Cache        - role recipient cache lifetime
//   9. Tracing      - OTLP exporter endpoint and sampling
//
// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Host     string
		Port     int
		GRPCPort int // 0 disables the gRPC health listener
		// AllowedOrigins is the CORS allow-list. ["*"] allows any origin.
		AllowedOrigins      []string
		RateLimitPerMinute  int // 0 disables rate limiting
		ReadTimeoutSeconds  int
		WriteTimeoutSeconds int
	}

	// Database configuration
	Database struct {
		Type        string
		SQLitePath  string
		PostgresURL string
	}

	// Logging configuration
	Logging struct {
		Level        string
		Format       string
		AppLogPath   string // empty logs to stdout
		AuditLogPath string
		MaxSizeMB    int
		MaxBackups   int
		MaxAgeDays   int
		Compress     bool
	}

	// Moderation configuration
	Moderation struct {
		ForbiddenTerms       []string
		CapsRatioThreshold   float64
		CapsMinLength        int
		RepetitionMinWords   int
		UniqueRatioThreshold float64
	}

	// Security configuration
	Security struct {
		LookbackDays        int
		MinHourHistory      int
		TravelWindowMinutes int
	}

	// Risk configuration
	Risk struct {
		RuleSetVersion string
		Weights        map[string]int
	}

	// Notifications configuration
	Notifications struct {
		ContentRoles  []string
		SecurityRoles []string
		NotifyUser    bool // also notify the account owner on security alerts
		BaseURL       string
	}

	// Cache configuration
	Cache struct {
		TTLSeconds int
	}

	// Tracing configuration
	Tracing struct {
		Endpoint     string
		Protocol     string
		ServiceName  string
		SamplingRate float64
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/sentinel/config.yaml")
}

// DatabaseDSN returns the connection string for the configured database type.
func (c *Config) DatabaseDSN() string {
	if c.Database.Type == "postgres" {
		return c.Database.PostgresURL
	}
	return c.Database.SQLitePath
}
