package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is loaded from the environment, with an optional .env file for local
// development. All secrets are required outside the test profile.
type Config struct {
	Profile  string
	HTTPAddr string

	DBDriver string
	DBDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTIssuer       string
	JWTAudience     string
	JWTAccessSecret string

	RefreshTokenPepper string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	SessionTTL      time.Duration

	SingleSessionPerAccount bool

	SessionReaperInterval time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
}

func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Profile:  getEnv("APP_PROFILE", "dev"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DBDriver: getEnv("DB_DRIVER", "sqlite"),
		DBDSN:    getEnv("DB_DSN", "file:rfq-auth.db?cache=shared"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		JWTIssuer:       getEnv("JWT_ISSUER", "rfq-auth"),
		JWTAudience:     getEnv("JWT_AUDIENCE", "rfq-platform"),
		JWTAccessSecret: getEnv("JWT_ACCESS_SECRET", ""),

		RefreshTokenPepper: getEnv("REFRESH_TOKEN_PEPPER", ""),

		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "rfq-auth"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", "dev"),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, loadFail(ctx, cfg.Profile, err)
	}
	if cfg.AccessTokenTTL, err = getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute); err != nil {
		return nil, loadFail(ctx, cfg.Profile, err)
	}
	if cfg.RefreshTokenTTL, err = getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour); err != nil {
		return nil, loadFail(ctx, cfg.Profile, err)
	}
	if cfg.SessionTTL, err = getEnvDuration("SESSION_TTL", 30*24*time.Hour); err != nil {
		return nil, loadFail(ctx, cfg.Profile, err)
	}
	if cfg.SessionReaperInterval, err = getEnvDuration("SESSION_REAPER_INTERVAL", time.Hour); err != nil {
		return nil, loadFail(ctx, cfg.Profile, err)
	}
	if cfg.OTELMetricsExportInterval, err = getEnvDuration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second); err != nil {
		return nil, loadFail(ctx, cfg.Profile, err)
	}
	if cfg.SingleSessionPerAccount, err = getEnvBool("SINGLE_SESSION_PER_ACCOUNT", false); err != nil {
		return nil, loadFail(ctx, cfg.Profile, err)
	}
	if cfg.OTELMetricsEnabled, err = getEnvBool("OTEL_METRICS_ENABLED", false); err != nil {
		return nil, loadFail(ctx, cfg.Profile, err)
	}
	if cfg.OTELTracesEnabled, err = getEnvBool("OTEL_TRACES_ENABLED", false); err != nil {
		return nil, loadFail(ctx, cfg.Profile, err)
	}
	if cfg.OTELLogsEnabled, err = getEnvBool("OTEL_LOGS_ENABLED", false); err != nil {
		return nil, loadFail(ctx, cfg.Profile, err)
	}
	if cfg.OTELExporterOTLPInsecure, err = getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true); err != nil {
		return nil, loadFail(ctx, cfg.Profile, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, loadFail(ctx, cfg.Profile, err)
	}
	recordConfigLoad(ctx, cfg.Profile, nil)
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTAccessSecret == "" {
		return fmt.Errorf("validate config: JWT_ACCESS_SECRET is required")
	}
	if c.RefreshTokenPepper == "" {
		return fmt.Errorf("validate config: REFRESH_TOKEN_PEPPER is required")
	}
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return fmt.Errorf("validate config: unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.SessionTTL <= 0 {
		return fmt.Errorf("validate config: token and session TTLs must be positive")
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		return fmt.Errorf("validate config: ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}
	return nil
}

func loadFail(ctx context.Context, profile string, err error) error {
	recordConfigLoad(ctx, profile, err)
	return err
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
