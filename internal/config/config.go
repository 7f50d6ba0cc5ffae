package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type Config struct {
	Profile     string
	HTTPAddr    string
	CORSOrigins []string

	SessionSecret   string
	SessionIssuer   string
	SessionAudience string
	SessionTTL      time.Duration
	RefreshGuard    time.Duration
	SecureCookies   bool

	LoginRateLimit   int
	LoginRateWindow  time.Duration
	LoginLockout     time.Duration
	APIRateLimitRPM  int
	AuthRateLimitRPM int

	ShutdownTimeout time.Duration

	DBDriver string
	DBDSN    string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OAuthEnabled         bool
	OAuthStateTTL        time.Duration
	OAuthExchangeTimeout time.Duration
	OAuthProviders       map[string]OAuthProviderConfig

	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELServiceName           string
	OTELEnvironment           string
	OTELMetricsExportInterval time.Duration
}

// Load builds configuration from the environment. Validation failures are
// prefixed "validate config:" and duration failures "parse <KEY>:", which
// the config metrics classifier keys on.
func Load(ctx context.Context) (*Config, error) {
	cfg, err := load()
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	profile := ""
	if cfg != nil {
		profile = cfg.Profile
	}
	recordConfigValidationEvent(ctx, profile, outcome, classifyConfigLoadError(err))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func load() (*Config, error) {
	cfg := &Config{
		Profile:          normalizeConfigProfile(envOr("APP_PROFILE", "dev")),
		HTTPAddr:         envOr("HTTP_ADDR", ":8080"),
		CORSOrigins:      splitCSV(envOr("CORS_ORIGINS", "http://localhost:3000")),
		SessionSecret:    os.Getenv("SESSION_SECRET"),
		SessionIssuer:    envOr("SESSION_ISSUER", "brewlog-auth"),
		SessionAudience:  envOr("SESSION_AUDIENCE", "brewlog"),
		SecureCookies:    envBool("SECURE_COOKIES", false),
		LoginRateLimit:   envInt("LOGIN_RATE_LIMIT", 10),
		APIRateLimitRPM:  envInt("API_RATE_LIMIT_RPM", 300),
		AuthRateLimitRPM: envInt("AUTH_RATE_LIMIT_RPM", 60),
		DBDriver:         envOr("DB_DRIVER", "sqlite"),
		DBDSN:            envOr("DB_DSN", "file:auth.db?_pragma=foreign_keys(1)"),
		RedisEnabled:     envBool("REDIS_ENABLED", false),
		RedisAddr:        envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          envInt("REDIS_DB", 0),
		OAuthEnabled:     envBool("OAUTH_ENABLED", true),

		OTELMetricsEnabled:       envBool("OTEL_METRICS_ENABLED", false),
		OTELTracesEnabled:        envBool("OTEL_TRACES_ENABLED", false),
		OTELLogsEnabled:          envBool("OTEL_LOGS_ENABLED", false),
		OTELExporterOTLPEndpoint: envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELServiceName:          envOr("OTEL_SERVICE_NAME", "auth-service"),
		OTELEnvironment:          envOr("OTEL_ENVIRONMENT", "dev"),
	}

	var err error
	if cfg.SessionTTL, err = envDuration("SESSION_TTL", 7*24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.RefreshGuard, err = envDuration("SESSION_REFRESH_GUARD", 15*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.LoginRateWindow, err = envDuration("LOGIN_RATE_WINDOW", 15*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.LoginLockout, err = envDuration("LOGIN_LOCKOUT", 30*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.OAuthStateTTL, err = envDuration("OAUTH_STATE_TTL", 10*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.OAuthExchangeTimeout, err = envDuration("OAUTH_EXCHANGE_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.OTELMetricsExportInterval, err = envDuration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return cfg, err
	}

	cfg.OAuthProviders = loadProviders()

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("validate config: SESSION_SECRET must be at least 32 characters")
	}
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return fmt.Errorf("validate config: DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.LoginRateLimit <= 0 {
		return fmt.Errorf("validate config: LOGIN_RATE_LIMIT must be positive")
	}
	if c.SessionTTL <= 0 || c.SessionTTL > 7*24*time.Hour {
		return fmt.Errorf("validate config: SESSION_TTL must be positive and at most 168h")
	}
	if c.OAuthEnabled && len(c.OAuthProviders) == 0 && c.Profile == "prod" {
		return fmt.Errorf("validate config: OAUTH_ENABLED requires at least one configured provider in prod")
	}
	return nil
}

func loadProviders() map[string]OAuthProviderConfig {
	providers := make(map[string]OAuthProviderConfig)
	for _, name := range []string{"google", "github", "apple", "microsoft"} {
		prefix := "OAUTH_" + strings.ToUpper(name) + "_"
		id := os.Getenv(prefix + "CLIENT_ID")
		if id == "" {
			continue
		}
		providers[name] = OAuthProviderConfig{
			ClientID:     id,
			ClientSecret: os.Getenv(prefix + "CLIENT_SECRET"),
			RedirectURL:  os.Getenv(prefix + "REDIRECT_URL"),
		}
	}
	return providers
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
