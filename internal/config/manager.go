package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	mu         sync.RWMutex
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("SENTINEL")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// A missing config file is fine: defaults + env vars apply.
	if err := m.viper.ReadInConfig(); err != nil && !isNotFound(err) {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches the config file and publishes every valid reload.
// Invalid edits are dropped and the previous configuration stays active.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		prev := m.Get(ctx)
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		m.applyEnvOverrides()
		next := m.Get(ctx)
		if errs := next.Validate(); len(errs) > 0 {
			m.mu.Lock()
			m.config = prev
			m.mu.Unlock()
			return
		}
		select {
		case m.watchChan <- *next:
		default:
			// Channel full, skip this update
		}
	})
	m.viper.WatchConfig()

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil && !isNotFound(err) {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || os.IsNotExist(err)
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.grpc_port", defaults.Server.GRPCPort)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.rate_limit_per_minute", defaults.Server.RateLimitPerMinute)
	m.viper.SetDefault("server.read_timeout_seconds", defaults.Server.ReadTimeoutSeconds)
	m.viper.SetDefault("server.write_timeout_seconds", defaults.Server.WriteTimeoutSeconds)

	// Database defaults
	m.viper.SetDefault("database.type", defaults.Database.Type)
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)
	m.viper.SetDefault("database.postgres_url", defaults.Database.PostgresURL)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.app_log_path", defaults.Logging.AppLogPath)
	m.viper.SetDefault("logging.audit_log_path", defaults.Logging.AuditLogPath)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Moderation defaults
	m.viper.SetDefault("moderation.forbidden_terms", defaults.Moderation.ForbiddenTerms)
	m.viper.SetDefault("moderation.caps_ratio_threshold", defaults.Moderation.CapsRatioThreshold)
	m.viper.SetDefault("moderation.caps_min_length", defaults.Moderation.CapsMinLength)
	m.viper.SetDefault("moderation.repetition_min_words", defaults.Moderation.RepetitionMinWords)
	m.viper.SetDefault("moderation.unique_ratio_threshold", defaults.Moderation.UniqueRatioThreshold)

	// Security defaults
	m.viper.SetDefault("security.lookback_days", defaults.Security.LookbackDays)
	m.viper.SetDefault("security.min_hour_history", defaults.Security.MinHourHistory)
	m.viper.SetDefault("security.travel_window_minutes", defaults.Security.TravelWindowMinutes)

	// Risk defaults
	m.viper.SetDefault("risk.rule_set_version", defaults.Risk.RuleSetVersion)
	weights := make(map[string]interface{}, len(defaults.Risk.Weights))
	for k, v := range defaults.Risk.Weights {
		weights[k] = v
	}
	m.viper.SetDefault("risk.weights", weights)

	// Notification defaults
	m.viper.SetDefault("notifications.content_roles", defaults.Notifications.ContentRoles)
	m.viper.SetDefault("notifications.security_roles", defaults.Notifications.SecurityRoles)
	m.viper.SetDefault("notifications.notify_user", defaults.Notifications.NotifyUser)
	m.viper.SetDefault("notifications.base_url", defaults.Notifications.BaseURL)

	// Cache defaults
	m.viper.SetDefault("cache.ttl_seconds", defaults.Cache.TTLSeconds)

	// Tracing defaults
	m.viper.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	m.viper.SetDefault("tracing.protocol", defaults.Tracing.Protocol)
	m.viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	m.viper.SetDefault("tracing.sampling_rate", defaults.Tracing.SamplingRate)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.GRPCPort = m.viper.GetInt("server.grpc_port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.RateLimitPerMinute = m.viper.GetInt("server.rate_limit_per_minute")
	cfg.Server.ReadTimeoutSeconds = m.viper.GetInt("server.read_timeout_seconds")
	cfg.Server.WriteTimeoutSeconds = m.viper.GetInt("server.write_timeout_seconds")

	// Database
	cfg.Database.Type = m.viper.GetString("database.type")
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")
	cfg.Database.PostgresURL = m.viper.GetString("database.postgres_url")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.AppLogPath = m.viper.GetString("logging.app_log_path")
	cfg.Logging.AuditLogPath = m.viper.GetString("logging.audit_log_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	// Moderation
	cfg.Moderation.ForbiddenTerms = m.viper.GetStringSlice("moderation.forbidden_terms")
	cfg.Moderation.CapsRatioThreshold = m.viper.GetFloat64("moderation.caps_ratio_threshold")
	cfg.Moderation.CapsMinLength = m.viper.GetInt("moderation.caps_min_length")
	cfg.Moderation.RepetitionMinWords = m.viper.GetInt("moderation.repetition_min_words")
	cfg.Moderation.UniqueRatioThreshold = m.viper.GetFloat64("moderation.unique_ratio_threshold")

	// Security
	cfg.Security.LookbackDays = m.viper.GetInt("security.lookback_days")
	cfg.Security.MinHourHistory = m.viper.GetInt("security.min_hour_history")
	cfg.Security.TravelWindowMinutes = m.viper.GetInt("security.travel_window_minutes")

	// Risk
	cfg.Risk.RuleSetVersion = m.viper.GetString("risk.rule_set_version")
	cfg.Risk.Weights = make(map[string]int)
	for k, v := range m.viper.GetStringMap("risk.weights") {
		w, err := toInt(v)
		if err != nil {
			return fmt.Errorf("risk.weights.%s: %w", k, err)
		}
		cfg.Risk.Weights[strings.ToLower(k)] = w
	}

	// Notifications
	cfg.Notifications.ContentRoles = m.viper.GetStringSlice("notifications.content_roles")
	cfg.Notifications.SecurityRoles = m.viper.GetStringSlice("notifications.security_roles")
	cfg.Notifications.NotifyUser = m.viper.GetBool("notifications.notify_user")
	cfg.Notifications.BaseURL = m.viper.GetString("notifications.base_url")

	// Cache
	cfg.Cache.TTLSeconds = m.viper.GetInt("cache.ttl_seconds")

	// Tracing
	cfg.Tracing.Endpoint = m.viper.GetString("tracing.endpoint")
	cfg.Tracing.Protocol = m.viper.GetString("tracing.protocol")
	cfg.Tracing.ServiceName = m.viper.GetString("tracing.service_name")
	cfg.Tracing.SamplingRate = m.viper.GetFloat64("tracing.sampling_rate")

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case uint64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// applyEnvOverrides applies overrides from conventional env vars that do
// not follow the SENTINEL_* naming.
func (m *viperConfigManager) applyEnvOverrides() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		m.config.Database.Type = "postgres"
		m.config.Database.PostgresURL = dsn
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" && m.config.Tracing.Endpoint == "" {
		m.config.Tracing.Endpoint = endpoint
	}
}
