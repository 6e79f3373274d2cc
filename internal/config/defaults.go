package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8090
	cfg.Server.GRPCPort = 0
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.RateLimitPerMinute = 120
	cfg.Server.ReadTimeoutSeconds = 15
	cfg.Server.WriteTimeoutSeconds = 15

	// Database defaults
	cfg.Database.Type = "sqlite"
	cfg.Database.SQLitePath = "/var/lib/sentinel/sentinel.db"
	cfg.Database.PostgresURL = ""

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.AppLogPath = ""
	cfg.Logging.AuditLogPath = "/var/log/sentinel/audit.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	// Moderation defaults
	cfg.Moderation.ForbiddenTerms = []string{"spam", "scam", "fraud", "phishing", "malware"}
	cfg.Moderation.CapsRatioThreshold = 0.7
	cfg.Moderation.CapsMinLength = 20
	cfg.Moderation.RepetitionMinWords = 10
	cfg.Moderation.UniqueRatioThreshold = 0.3

	// Security defaults
	cfg.Security.LookbackDays = 30
	cfg.Security.MinHourHistory = 5
	cfg.Security.TravelWindowMinutes = 60

	// Risk defaults
	cfg.Risk.RuleSetVersion = "2024.1"
	cfg.Risk.Weights = map[string]int{
		"low":      1,
		"medium":   3,
		"high":     5,
		"critical": 10,
	}

	// Notification defaults: moderators see flagged content, security
	// alerts are persisted without notifying anyone.
	cfg.Notifications.ContentRoles = []string{"moderator"}
	cfg.Notifications.SecurityRoles = []string{}
	cfg.Notifications.NotifyUser = false
	cfg.Notifications.BaseURL = ""

	// Cache defaults
	cfg.Cache.TTLSeconds = 60

	// Tracing defaults (disabled)
	cfg.Tracing.Endpoint = ""
	cfg.Tracing.Protocol = "http"
	cfg.Tracing.ServiceName = "sentinel"
	cfg.Tracing.SamplingRate = 1.0

	return cfg
}
