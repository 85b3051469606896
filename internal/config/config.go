package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Env  string
	Port int

	DBDSN         string
	MigrateOnBoot bool

	JWTSecret     string
	TokenTTLHours int

	EmailAPIKey    string
	EmailAPIURL    string
	EmailFrom      string
	EmailTimeoutMS int

	FrontendURL string

	IPFilterFile string
	// TrustedProxies are IPs or CIDRs whose X-Forwarded-For and X-Real-IP
	// headers name the client. Empty means RemoteAddr is always used.
	TrustedProxies []string

	VerificationTTLHours      int
	VerificationSweepSchedule string

	// Zero keeps rows forever.
	VerificationRetentionDays int
	AuditRetentionDays        int

	LogLevel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Env = getEnvOrDefault("TS_ENV", "dev")
	if cfg.Env != "dev" && cfg.Env != "prod" {
		return nil, fmt.Errorf("TS_ENV must be one of: dev, prod (got: %s)", cfg.Env)
	}

	var err error
	cfg.Port, err = getEnvIntOrDefault("TS_PORT", 0)
	if err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port, err = getEnvIntOrDefault("PORT", 8080)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("TS_PORT must be between 1 and 65535 (got: %d)", cfg.Port)
	}

	cfg.DBDSN = strings.TrimSpace(os.Getenv("TS_DB_DSN"))
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("TS_DB_DSN is required")
	}

	cfg.MigrateOnBoot, err = getEnvBoolOrDefault("TS_MIGRATE_ON_START", cfg.Env == "dev")
	if err != nil {
		return nil, err
	}

	cfg.JWTSecret = os.Getenv("TS_JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("TS_JWT_SECRET is required")
	}
	if cfg.Env == "prod" && len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("TS_JWT_SECRET must be at least 32 characters (currently %d)", len(cfg.JWTSecret))
	}

	cfg.TokenTTLHours, err = getEnvIntOrDefault("TS_TOKEN_TTL_HOURS", 24)
	if err != nil {
		return nil, err
	}
	if cfg.TokenTTLHours <= 0 {
		return nil, fmt.Errorf("TS_TOKEN_TTL_HOURS must be positive (got: %d)", cfg.TokenTTLHours)
	}

	cfg.EmailAPIKey = strings.TrimSpace(os.Getenv("TS_EMAIL_API_KEY"))
	cfg.EmailAPIURL = getEnvOrDefault("TS_EMAIL_API_URL", "https://api.resend.com/emails")
	cfg.EmailFrom = getEnvOrDefault("TS_EMAIL_FROM", "TaskShift <noreply@taskshift.xyz>")
	cfg.EmailTimeoutMS, err = getEnvIntOrDefault("TS_EMAIL_TIMEOUT_MS", 5000)
	if err != nil {
		return nil, err
	}
	if cfg.EmailTimeoutMS <= 0 || cfg.EmailTimeoutMS > 30000 {
		return nil, fmt.Errorf("TS_EMAIL_TIMEOUT_MS must be between 1 and 30000 (got: %d)", cfg.EmailTimeoutMS)
	}

	cfg.FrontendURL = strings.TrimRight(getEnvOrDefault("TS_FRONTEND_URL", "http://localhost:3000"), "/")
	if u, err := url.Parse(cfg.FrontendURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("TS_FRONTEND_URL must be an absolute URL (got: %q)", cfg.FrontendURL)
	}

	cfg.IPFilterFile = strings.TrimSpace(os.Getenv("TS_IP_FILTER_FILE"))
	cfg.TrustedProxies = getEnvList("TS_TRUSTED_PROXIES")

	cfg.VerificationTTLHours, err = getEnvIntOrDefault("TS_VERIFICATION_TTL_HOURS", 24)
	if err != nil {
		return nil, err
	}
	if cfg.VerificationTTLHours <= 0 {
		return nil, fmt.Errorf("TS_VERIFICATION_TTL_HOURS must be positive (got: %d)", cfg.VerificationTTLHours)
	}
	cfg.VerificationSweepSchedule = getEnvOrDefault("TS_VERIFICATION_SWEEP_SCHEDULE", "@hourly")

	cfg.VerificationRetentionDays, err = getEnvIntOrDefault("TS_VERIFICATION_RETENTION_DAYS", 30)
	if err != nil {
		return nil, err
	}
	if cfg.VerificationRetentionDays < 0 {
		return nil, fmt.Errorf("TS_VERIFICATION_RETENTION_DAYS must not be negative (got: %d)", cfg.VerificationRetentionDays)
	}

	cfg.AuditRetentionDays, err = getEnvIntOrDefault("TS_AUDIT_RETENTION_DAYS", 365)
	if err != nil {
		return nil, err
	}
	if cfg.AuditRetentionDays < 0 {
		return nil, fmt.Errorf("TS_AUDIT_RETENTION_DAYS must not be negative (got: %d)", cfg.AuditRetentionDays)
	}

	cfg.LogLevel = getEnvOrDefault("TS_LOG_LEVEL", "info")
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("TS_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", cfg.LogLevel)
	}

	return cfg, nil
}

// IsDev returns true if running in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

// HTTPAddr is the listen address derived from Port.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// DatabaseURLForMigrate returns the DSN with an explicit sslmode, which the
// migrate postgres driver requires.
func (c *Config) DatabaseURLForMigrate() string {
	dsn := c.DBDSN
	if strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&sslmode=disable"
	}
	return dsn + "?sslmode=disable"
}

// RedactedValues returns a map of config values with secrets redacted.
func (c *Config) RedactedValues() map[string]string {
	emailKey := ""
	if c.EmailAPIKey != "" {
		emailKey = "[REDACTED]"
	}
	return map[string]string{
		"TS_ENV":                         c.Env,
		"TS_PORT":                        strconv.Itoa(c.Port),
		"TS_DB_DSN":                      redactDSN(c.DBDSN),
		"TS_MIGRATE_ON_START":            strconv.FormatBool(c.MigrateOnBoot),
		"TS_JWT_SECRET":                  "[REDACTED]",
		"TS_TOKEN_TTL_HOURS":             strconv.Itoa(c.TokenTTLHours),
		"TS_EMAIL_API_KEY":               emailKey,
		"TS_EMAIL_API_URL":               c.EmailAPIURL,
		"TS_EMAIL_FROM":                  c.EmailFrom,
		"TS_EMAIL_TIMEOUT_MS":            strconv.Itoa(c.EmailTimeoutMS),
		"TS_FRONTEND_URL":                c.FrontendURL,
		"TS_IP_FILTER_FILE":              c.IPFilterFile,
		"TS_TRUSTED_PROXIES":             strings.Join(c.TrustedProxies, ","),
		"TS_VERIFICATION_TTL_HOURS":      strconv.Itoa(c.VerificationTTLHours),
		"TS_VERIFICATION_SWEEP_SCHEDULE": c.VerificationSweepSchedule,
		"TS_VERIFICATION_RETENTION_DAYS": strconv.Itoa(c.VerificationRetentionDays),
		"TS_AUDIT_RETENTION_DAYS":        strconv.Itoa(c.AuditRetentionDays),
		"TS_LOG_LEVEL":                   c.LogLevel,
	}
}

func redactDSN(dsn string) string {
	if start := strings.Index(dsn, "://"); start != -1 {
		if end := strings.Index(dsn[start+3:], "@"); end != -1 {
			return dsn[:start+3] + "[REDACTED]" + dsn[start+3+end:]
		}
	}
	return dsn
}

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got: %q)", key, value)
	}
	return parsed, nil
}

func getEnvBoolOrDefault(key string, defaultValue bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean (got: %q)", key, value)
	}
	return parsed, nil
}
