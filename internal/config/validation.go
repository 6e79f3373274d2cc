package config

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Severities every risk weight table must cover.
var requiredSeverities = []string{"low", "medium", "high", "critical"}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.grpc_port",
			Message: fmt.Sprintf("grpc_port must be between 0 and 65535, got %d", c.Server.GRPCPort),
		})
	} else if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		errs = append(errs, &ValidationError{
			Field:   "server.grpc_port",
			Message: "grpc_port must differ from port",
		})
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_per_minute",
			Message: "rate limit cannot be negative",
		})
	}
	if c.Server.ReadTimeoutSeconds < 1 || c.Server.WriteTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.timeouts",
			Message: "read and write timeouts must be at least 1 second",
		})
	}

	// Validate database configuration
	switch c.Database.Type {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, &ValidationError{
				Field:   "database.sqlite_path",
				Message: "sqlite_path is required when type is sqlite",
			})
		}
	case "postgres":
		if c.Database.PostgresURL == "" {
			errs = append(errs, &ValidationError{
				Field:   "database.postgres_url",
				Message: "postgres_url is required when type is postgres",
			})
		} else if _, err := url.Parse(c.Database.PostgresURL); err != nil {
			errs = append(errs, &ValidationError{
				Field:   "database.postgres_url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		}
	default:
		errs = append(errs, &ValidationError{
			Field:   "database.type",
			Message: fmt.Sprintf("invalid database type '%s', must be one of: sqlite, postgres", c.Database.Type),
		})
	}

	// Validate logging configuration
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, console", c.Logging.Format),
		})
	}
	if c.Logging.MaxSizeMB < 1 {
		errs = append(errs, &ValidationError{
			Field:   "logging.max_size_mb",
			Message: fmt.Sprintf("max_size_mb must be at least 1, got %d", c.Logging.MaxSizeMB),
		})
	}

	// Validate moderation configuration
	if c.Moderation.CapsRatioThreshold <= 0 || c.Moderation.CapsRatioThreshold > 1 {
		errs = append(errs, &ValidationError{
			Field:   "moderation.caps_ratio_threshold",
			Message: fmt.Sprintf("caps_ratio_threshold must be in (0, 1], got %.2f", c.Moderation.CapsRatioThreshold),
		})
	}
	if c.Moderation.UniqueRatioThreshold <= 0 || c.Moderation.UniqueRatioThreshold > 1 {
		errs = append(errs, &ValidationError{
			Field:   "moderation.unique_ratio_threshold",
			Message: fmt.Sprintf("unique_ratio_threshold must be in (0, 1], got %.2f", c.Moderation.UniqueRatioThreshold),
		})
	}
	if c.Moderation.CapsMinLength < 0 || c.Moderation.RepetitionMinWords < 0 {
		errs = append(errs, &ValidationError{
			Field:   "moderation",
			Message: "caps_min_length and repetition_min_words cannot be negative",
		})
	}
	for _, term := range c.Moderation.ForbiddenTerms {
		if strings.TrimSpace(term) == "" {
			errs = append(errs, &ValidationError{
				Field:   "moderation.forbidden_terms",
				Message: "forbidden terms cannot be blank",
			})
			break
		}
	}

	// Validate security configuration
	if c.Security.LookbackDays < 1 {
		errs = append(errs, &ValidationError{
			Field:   "security.lookback_days",
			Message: fmt.Sprintf("lookback_days must be at least 1, got %d", c.Security.LookbackDays),
		})
	}
	if c.Security.MinHourHistory < 0 {
		errs = append(errs, &ValidationError{
			Field:   "security.min_hour_history",
			Message: "min_hour_history cannot be negative",
		})
	}
	if c.Security.TravelWindowMinutes < 1 {
		errs = append(errs, &ValidationError{
			Field:   "security.travel_window_minutes",
			Message: fmt.Sprintf("travel_window_minutes must be at least 1, got %d", c.Security.TravelWindowMinutes),
		})
	}

	// Validate risk configuration
	if c.Risk.RuleSetVersion == "" {
		errs = append(errs, &ValidationError{
			Field:   "risk.rule_set_version",
			Message: "rule_set_version is required",
		})
	}
	for _, sev := range requiredSeverities {
		w, ok := c.Risk.Weights[sev]
		if !ok {
			errs = append(errs, &ValidationError{
				Field:   "risk.weights." + sev,
				Message: "weight is required",
			})
		} else if w < 0 {
			errs = append(errs, &ValidationError{
				Field:   "risk.weights." + sev,
				Message: fmt.Sprintf("weight cannot be negative, got %d", w),
			})
		}
	}

	// Validate cache configuration
	if c.Cache.TTLSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "cache.ttl_seconds",
			Message: "ttl_seconds cannot be negative",
		})
	}

	// Validate tracing configuration
	if c.Tracing.Endpoint != "" {
		if c.Tracing.Protocol != "http" && c.Tracing.Protocol != "grpc" {
			errs = append(errs, &ValidationError{
				Field:   "tracing.protocol",
				Message: fmt.Sprintf("invalid protocol '%s', must be one of: http, grpc", c.Tracing.Protocol),
			})
		}
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			errs = append(errs, &ValidationError{
				Field:   "tracing.sampling_rate",
				Message: fmt.Sprintf("sampling_rate must be in [0, 1], got %.2f", c.Tracing.SamplingRate),
			})
		}
	}

	return errs
}
