package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewWebhookPolicyHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// TrustedProxies lists proxy CIDRs whose forwarding headers are honored
	// when resolving the client IP. Empty trusts none.
	TrustedProxies []string

	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	ENS    ENSConfig
	Worker WorkerConfig
	Lock   LockConfig
	Redis  RedisConfig
	Chain  ChainConfig
}

// ENSConfig configures the purchase intent engine and its webhook ingress.
type ENSConfig struct {
	WebhookSecret            string
	WebhookTTL               time.Duration
	WebhookIPAllowlist       []string
	InternalSecret           string
	CommitConfirmationWindow time.Duration
	CommitDeadline           time.Duration
	RegisterDeadline         time.Duration
	WebhookMaxAttempts       int
	WebhookRetryBase         time.Duration
	WebhookRetryMax          time.Duration
	WebhookProcessingTimeout time.Duration
	StuckAfter               time.Duration
	WebhookRateLimit         float64
	WebhookRateBurst         int
}

// WorkerConfig controls scheduled job intervals. A zero interval disables the job.
type WorkerConfig struct {
	Enabled               bool
	ReconcileInterval     time.Duration
	ReconcileLimit        int
	ReconcileStaleMinutes int
	WatchInterval         time.Duration
	WatchLimit            int
	RetryInterval         time.Duration
	RetryLimit            int
	JobTimeout            time.Duration
}

// TelemetryConfig follows the standard OTEL_* variables where one exists.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
}

type LockConfig struct {
	Backend string
	TTL     time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ChainConfig struct {
	RPCURL           string
	MinConfirmations uint64
	RequestTimeout   time.Duration
}

const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
	LockBackendMemory   = "memory"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	dbType := strings.ToLower(getenv("DATABASE_TYPE", "postgres"))

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "ensmarket"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		TrustedProxies:    getenvList("HTTP_TRUSTED_PROXIES"),
		DBType:            dbType,
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "ensmarket"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "ensmarket.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:   getenvBool("OTEL_ENABLED", false),
			OTLPEndpoint:  strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OTLPProtocol:  otlpProtocol(),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		ENS: ENSConfig{
			WebhookSecret:            strings.TrimSpace(getenv("ENS_WEBHOOK_SECRET", "")),
			WebhookTTL:               getenvDuration("ENS_WEBHOOK_TTL", 5*time.Minute),
			WebhookIPAllowlist:       getenvList("ENS_WEBHOOK_IP_ALLOWLIST"),
			InternalSecret:           strings.TrimSpace(getenv("ENS_INTERNAL_SECRET", "")),
			CommitConfirmationWindow: getenvDuration("ENS_COMMIT_CONFIRMATION_WINDOW", time.Minute),
			CommitDeadline:           getenvDuration("ENS_COMMIT_DEADLINE", 10*time.Minute),
			RegisterDeadline:         getenvDuration("ENS_REGISTER_DEADLINE", 24*time.Hour),
			WebhookMaxAttempts:       getenvInt("ENS_WEBHOOK_MAX_ATTEMPTS", 8),
			WebhookRetryBase:         getenvDuration("ENS_WEBHOOK_RETRY_BASE", 30*time.Second),
			WebhookRetryMax:          getenvDuration("ENS_WEBHOOK_RETRY_MAX", time.Hour),
			WebhookProcessingTimeout: getenvDuration("ENS_WEBHOOK_PROCESSING_TIMEOUT", 5*time.Minute),
			StuckAfter:               getenvDuration("ENS_STUCK_AFTER", time.Hour),
			WebhookRateLimit:         getenvFloat("ENS_WEBHOOK_RATE_LIMIT", 0),
			WebhookRateBurst:         getenvInt("ENS_WEBHOOK_RATE_BURST", 0),
		},
		Worker: WorkerConfig{
			Enabled:               getenvBool("ENS_WORKER_ENABLED", true),
			ReconcileInterval:     getenvDuration("ENS_RECONCILE_INTERVAL", time.Minute),
			ReconcileLimit:        getenvInt("ENS_RECONCILE_LIMIT", 100),
			ReconcileStaleMinutes: getenvInt("ENS_RECONCILE_STALE_MINUTES", 15),
			WatchInterval:         getenvDuration("ENS_WATCH_INTERVAL", 30*time.Second),
			WatchLimit:            getenvInt("ENS_WATCH_LIMIT", 50),
			RetryInterval:         getenvDuration("ENS_WEBHOOK_RETRY_INTERVAL", time.Minute),
			RetryLimit:            getenvInt("ENS_WEBHOOK_RETRY_LIMIT", 50),
			JobTimeout:            getenvDuration("ENS_JOB_TIMEOUT", 2*time.Minute),
		},
		Lock: LockConfig{
			Backend: normalizeLockBackend(getenv("LOCK_BACKEND", ""), dbType),
			TTL:     getenvDuration("LOCK_TTL", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Chain: ChainConfig{
			RPCURL:           strings.TrimSpace(getenv("ENS_CHAIN_RPC_URL", "")),
			MinConfirmations: uint64(getenvInt("ENS_MIN_CONFIRMATIONS", 1)),
			RequestTimeout:   getenvDuration("ENS_CHAIN_REQUEST_TIMEOUT", 10*time.Second),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// otlpProtocol lets the traces-specific variable override the shared one.
func otlpProtocol() string {
	protocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}
	return strings.ToLower(strings.TrimSpace(protocol))
}

func normalizeLockBackend(raw, dbType string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case LockBackendRedis:
		return LockBackendRedis
	case LockBackendMemory:
		return LockBackendMemory
	case LockBackendPostgres:
		return LockBackendPostgres
	}
	if dbType == "postgres" {
		return LockBackendPostgres
	}
	return LockBackendMemory
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("90s") or a bare number of milliseconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		if ms < 0 {
			return def
		}
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func getenvList(key string) []string {
	return splitList(os.Getenv(key))
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
