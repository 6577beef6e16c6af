package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	APIBaseURL      string
	APIToken        string
	APITimeout      time.Duration
	APIMaxAttempts  int
	APIRetryBase    time.Duration
	APIRetryJitter  float64
	BreakerMinReq   int
	BreakerFailRate float64
	BreakerOpenFor  time.Duration

	SessionTTL      time.Duration
	OptionsCacheTTL time.Duration
	IdempotencyTTL  time.Duration
	LockTTL         time.Duration

	QueuePrefix        string
	QueueMaxAttempts   int
	QueueVisibility    time.Duration
	QueueRetryBase     time.Duration
	QueueRetryJitter   float64
	WorkerConcurrency  int
	WorkerSoftDeadline time.Duration
	WorkerMetricsAddr  string

	InvoiceNumberTemplate string
	CurrencyCode          string
	RecentOrdersLimit     int

	OrgName    string
	OrgGSTIN   string
	OrgAddress string
	OrgPhone   string
	OrgEmail   string
	OrgLogoURL string
	BankName   string
	BankAcct   string
	BankIFSC   string
	BankBranch string

	LogFormat         string
	LogLevel          string
	MetricsEnabled    bool
	MetricsNamespace  string
	MetricsBucketsMS  string
	OTelEnabled       bool
	OTelServiceName   string
	OTelExporter      string
	OTelEndpoint      string
	OTelSamplingRatio float64

	PprofEnabled bool
	PprofUser    string
	PprofPass    string

	RateLimit        string
	MaxBodyBytes     int64
	SecurityHeaders  bool
	RunMigrations    bool
	ShutdownDeadline time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		APIBaseURL:      strings.TrimRight(strings.TrimSpace(k.String("API_BASE_URL")), "/"),
		APIToken:        strings.TrimSpace(k.String("API_TOKEN")),
		APITimeout:      parseDuration(k.String("API_TIMEOUT"), "10s"),
		APIMaxAttempts:  parseInt(k.String("API_MAX_ATTEMPTS"), 3),
		APIRetryBase:    parseDuration(k.String("API_RETRY_BASE"), "200ms"),
		APIRetryJitter:  parseFloat(k.String("API_RETRY_JITTER"), 0.2),
		BreakerMinReq:   parseInt(k.String("API_BREAKER_MIN_REQUESTS"), 10),
		BreakerFailRate: parseFloat(k.String("API_BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:  parseDuration(k.String("API_BREAKER_OPEN_FOR"), "30s"),

		SessionTTL:      parseDuration(k.String("CHECKOUT_SESSION_TTL"), "12h"),
		OptionsCacheTTL: parseDuration(k.String("OPTIONS_CACHE_TTL"), "5m"),
		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockTTL:         parseDuration(k.String("CHECKOUT_LOCK_TTL"), "30s"),

		QueuePrefix:        valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "bizops"),
		QueueMaxAttempts:   parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 8),
		QueueVisibility:    parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "30s"),
		QueueRetryBase:     parseDuration(k.String("QUEUE_BACKOFF_BASE"), "1s"),
		QueueRetryJitter:   parseFloat(k.String("QUEUE_BACKOFF_JITTER"), 0.2),
		WorkerConcurrency:  parseInt(k.String("WORKER_CONCURRENCY"), 2),
		WorkerSoftDeadline: parseDuration(k.String("WORKER_JOB_SOFT_DEADLINE"), "10s"),
		WorkerMetricsAddr:  valueOrDefault(k.String("WORKER_METRICS_ADDR"), ":9091"),

		InvoiceNumberTemplate: valueOrDefault(k.String("INVOICE_NUMBER_TEMPLATE"), "INV-{YYYY}{MM}-{SEQ5}"),
		CurrencyCode:          strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "INR")),
		RecentOrdersLimit:     parseInt(k.String("RECENT_ORDERS_LIMIT"), 50),

		OrgName:    strings.TrimSpace(k.String("ORG_NAME")),
		OrgGSTIN:   strings.TrimSpace(k.String("ORG_GSTIN")),
		OrgAddress: strings.TrimSpace(k.String("ORG_ADDRESS")),
		OrgPhone:   strings.TrimSpace(k.String("ORG_PHONE")),
		OrgEmail:   strings.TrimSpace(k.String("ORG_EMAIL")),
		OrgLogoURL: strings.TrimSpace(k.String("ORG_LOGO_URL")),
		BankName:   strings.TrimSpace(k.String("ORG_BANK_NAME")),
		BankAcct:   strings.TrimSpace(k.String("ORG_BANK_ACCOUNT")),
		BankIFSC:   strings.TrimSpace(k.String("ORG_BANK_IFSC")),
		BankBranch: strings.TrimSpace(k.String("ORG_BANK_BRANCH")),

		LogFormat:         valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:          valueOrDefault(k.String("LOG_LEVEL"), "info"),
		MetricsEnabled:    parseBoolDefault(k.String("METRICS_ENABLED"), true),
		MetricsNamespace:  valueOrDefault(k.String("METRICS_NAMESPACE"), "bizops"),
		MetricsBucketsMS:  k.String("METRICS_BUCKETS_MS"),
		OTelEnabled:       parseBoolDefault(k.String("OTEL_ENABLED"), false),
		OTelServiceName:   valueOrDefault(k.String("OTEL_SERVICE_NAME"), "bizops-api"),
		OTelExporter:      valueOrDefault(k.String("OTEL_EXPORTER"), "otlp"),
		OTelEndpoint:      k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelSamplingRatio: parseFloat(k.String("OTEL_SAMPLING_RATIO"), 1),

		PprofEnabled: parseBoolDefault(k.String("PPROF_ENABLED"), false),
		PprofUser:    strings.TrimSpace(k.String("PPROF_BASIC_AUTH_USER")),
		PprofPass:    strings.TrimSpace(k.String("PPROF_BASIC_AUTH_PASS")),

		RateLimit:        valueOrDefault(k.String("RATE_LIMIT"), "300-M"),
		MaxBodyBytes:     int64(parseInt(k.String("MAX_BODY_BYTES"), 1<<20)),
		SecurityHeaders:  parseBoolDefault(k.String("SECURITY_HEADERS"), true),
		RunMigrations:    parseBoolDefault(k.String("RUN_MIGRATIONS"), true),
		ShutdownDeadline: parseDuration(k.String("SHUTDOWN_DEADLINE"), "15s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.APIBaseURL == "" {
		return nil, errors.New("API_BASE_URL is required")
	}
	if cfg.RecentOrdersLimit <= 0 {
		cfg.RecentOrdersLimit = 50
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
