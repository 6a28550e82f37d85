// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mindburn-Labs/roseglass/pkg/artifacts"
	"github.com/Mindburn-Labs/roseglass/pkg/finance"
	"github.com/Mindburn-Labs/roseglass/pkg/observability"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	Environment string
	DatabaseURL string // empty selects the in-memory store

	AnthropicAPIKey  string
	AnthropicBaseURL string
	DefaultModel     string
	PremiumModel     string

	JWTSecret       string
	JWTPublicKeyPEM string
	CORSOrigins     []string

	PricingFile    string
	Markup         decimal.Decimal
	MinCredits     decimal.Decimal
	SignupCredits  decimal.Decimal
	DevUserCredits decimal.Decimal

	RedisURL     string
	RateLimitRPM int
	IPRateLimit  float64 // requests per second
	IPRateBurst  int

	NATSURL             string
	StripeWebhookSecret string
	AdmissionPolicy     string // extra CEL rule ANDed with the defaults

	MaxUploadBytes  int64
	ShutdownTimeout time.Duration

	Artifacts artifacts.Config
	Telemetry observability.Config
}

// Load reads the environment, applying defaults. Malformed numeric values
// are reported as errors.
func Load() (*Config, error) {
	var errs []error
	cfg := &Config{
		Port:                getEnv("PORT", "8000"),
		LogLevel:            strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
		Environment:         strings.ToLower(getEnv("ENVIRONMENT", EnvDevelopment)),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL:    os.Getenv("ANTHROPIC_BASE_URL"),
		DefaultModel:        getEnv("DEFAULT_MODEL", finance.ModelSonnet),
		PremiumModel:        getEnv("PREMIUM_MODEL", finance.ModelOpus),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTPublicKeyPEM:     os.Getenv("JWT_PUBLIC_KEY_PEM"),
		CORSOrigins:         splitList(getEnv("CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")),
		PricingFile:         os.Getenv("PRICING_FILE"),
		RedisURL:            os.Getenv("REDIS_URL"),
		NATSURL:             os.Getenv("NATS_URL"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		AdmissionPolicy:     os.Getenv("ADMISSION_POLICY"),
		Artifacts: artifacts.Config{
			Backend:  artifacts.Backend(getEnv("ARTIFACT_STORAGE_TYPE", string(artifacts.BackendNone))),
			DataDir:  getEnv("DATA_DIR", "data"),
			Bucket:   os.Getenv("ARTIFACT_BUCKET"),
			Region:   getEnv("ARTIFACT_S3_REGION", os.Getenv("AWS_REGION")),
			Endpoint: os.Getenv("ARTIFACT_S3_ENDPOINT"),
			Prefix:   os.Getenv("ARTIFACT_PREFIX"),
		},
	}

	cfg.Markup = getDecimal("MARKUP", finance.DefaultMarkup.String(), &errs)
	cfg.MinCredits = getDecimal("MIN_CREDITS", "0.02", &errs)
	cfg.SignupCredits = getDecimal("SIGNUP_CREDITS", "0", &errs)
	cfg.DevUserCredits = getDecimal("DEV_USER_CREDITS", "10", &errs)
	cfg.RateLimitRPM = getInt("RATE_LIMIT_RPM", 30, &errs)
	cfg.IPRateLimit = getFloat("IP_RATE_LIMIT", 5, &errs)
	cfg.IPRateBurst = getInt("IP_RATE_BURST", 20, &errs)
	cfg.MaxUploadBytes = int64(getInt("MAX_UPLOAD_BYTES", 32<<20, &errs))
	cfg.ShutdownTimeout = getDuration("SHUTDOWN_TIMEOUT", 15*time.Second, &errs)

	tel := observability.DefaultConfig()
	tel.Environment = cfg.Environment
	tel.Enabled = getBool("OTEL_ENABLED", false, &errs)
	tel.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", tel.OTLPEndpoint)
	tel.Insecure = getBool("OTEL_EXPORTER_OTLP_INSECURE", cfg.Environment != EnvProduction, &errs)
	tel.SampleRate = getFloat("OTEL_SAMPLE_RATE", tel.SampleRate, &errs)
	cfg.Telemetry = *tel

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment enables the development bearer token.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("PORT %q is not a valid port", c.Port))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction && c.Environment != "staging" {
		errs = append(errs, fmt.Errorf("ENVIRONMENT %q must be development, staging or production", c.Environment))
	}
	if c.Markup.LessThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("MARKUP %s must be at least 1", c.Markup))
	}
	if c.MinCredits.IsNegative() || c.SignupCredits.IsNegative() || c.DevUserCredits.IsNegative() {
		errs = append(errs, errors.New("credit amounts must not be negative"))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if c.RateLimitRPM < 0 || c.IPRateLimit < 0 || c.IPRateBurst < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, errors.New("OTEL_SAMPLE_RATE must be between 0 and 1"))
	}
	if c.Environment == EnvProduction {
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required in production"))
		}
		if c.JWTSecret == "" && c.JWTPublicKeyPEM == "" {
			errs = append(errs, errors.New("JWT_SECRET or JWT_PUBLIC_KEY_PEM is required in production"))
		}
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required in production"))
		}
	}
	return errors.Join(errs...)
}

// ParseLogLevel maps LOG_LEVEL names to slog levels.
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q: %w", level, err)
	}
	return l, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getDecimal(key, fallback string, errs *[]error) decimal.Decimal {
	d, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
	}
	return d
}

func getInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return f
}

func getBool(key string, fallback bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}
