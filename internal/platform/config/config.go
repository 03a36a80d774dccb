package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backends selectable at startup.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	Environment   string
	LogLevel      string
	JWTSigningKey string
	JWTIssuer     string
	SessionTTL    time.Duration
	AdminToken    string

	StoreBackend string
	DatabaseURL  string

	LedgerBackend             string
	FinalityTimeout           time.Duration
	MemoryLedgerFinalityDelay time.Duration
	LedgerBreaker             BreakerConfig

	RecoveryConcurrency int

	Redis     RedisConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
}

// RedisConfig configures the shared ledger backend.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig routes audit events through a topic when Brokers is set.
type KafkaConfig struct {
	Brokers       []string
	AuditTopic    string
	ConsumerGroup string
}

// RateLimitConfig sets per-IP request budgets per minute and the login
// lockout policy. Windows are shared through Redis when REDIS_URL is set.
type RateLimitConfig struct {
	Disabled        bool
	AuthPerMinute   int
	PublicPerMinute int
	WritePerMinute  int
	LockoutAttempts int
	LockoutWindow   time.Duration
	LockoutDuration time.Duration
}

type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

const devSigningKey = "dev-secret-key-change-in-production"

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:          getenv("CERTLEDGER_ADDR", ":8080"),
		Environment:   getenv("ENVIRONMENT", "development"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		JWTSigningKey: getenv("JWT_SIGNING_KEY", devSigningKey),
		JWTIssuer:     getenv("JWT_ISSUER", "certledger"),
		AdminToken:    os.Getenv("ADMIN_API_TOKEN"),
		StoreBackend:  getenv("STORE_BACKEND", BackendMemory),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		LedgerBackend: getenv("LEDGER_BACKEND", BackendMemory),
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic:    getenv("KAFKA_AUDIT_TOPIC", "certledger.audit"),
			ConsumerGroup: getenv("KAFKA_AUDIT_GROUP", "certledger-audit-materializer"),
		},
	}

	var err error
	if cfg.SessionTTL, err = durationEnv("SESSION_TTL", 24*time.Hour); err != nil {
		return Server{}, err
	}
	if cfg.FinalityTimeout, err = durationEnv("LEDGER_FINALITY_TIMEOUT", 2*time.Minute); err != nil {
		return Server{}, err
	}
	if cfg.MemoryLedgerFinalityDelay, err = durationEnv("MEMORY_LEDGER_FINALITY_DELAY", 0); err != nil {
		return Server{}, err
	}
	if cfg.LedgerBreaker.FailureThreshold, err = intEnv("LEDGER_BREAKER_FAILURES", 5); err != nil {
		return Server{}, err
	}
	if cfg.LedgerBreaker.SuccessThreshold, err = intEnv("LEDGER_BREAKER_SUCCESSES", 2); err != nil {
		return Server{}, err
	}
	if cfg.LedgerBreaker.Cooldown, err = durationEnv("LEDGER_BREAKER_COOLDOWN", 30*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.RecoveryConcurrency, err = intEnv("RECOVERY_CONCURRENCY", 4); err != nil {
		return Server{}, err
	}
	if cfg.Redis.PoolSize, err = intEnv("REDIS_POOL_SIZE", 10); err != nil {
		return Server{}, err
	}
	if cfg.Redis.MinIdleConns, err = intEnv("REDIS_MIN_IDLE_CONNS", 2); err != nil {
		return Server{}, err
	}
	if cfg.Redis.DialTimeout, err = durationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Redis.ReadTimeout, err = durationEnv("REDIS_READ_TIMEOUT", 3*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Redis.WriteTimeout, err = durationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second); err != nil {
		return Server{}, err
	}

	cfg.RateLimit.Disabled = os.Getenv("RATELIMIT_DISABLED") == "true"
	if cfg.RateLimit.AuthPerMinute, err = intEnv("RATELIMIT_AUTH_PER_MINUTE", 10); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.PublicPerMinute, err = intEnv("RATELIMIT_PUBLIC_PER_MINUTE", 120); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.WritePerMinute, err = intEnv("RATELIMIT_WRITE_PER_MINUTE", 30); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.LockoutAttempts, err = intEnv("AUTH_LOCKOUT_ATTEMPTS", 5); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.LockoutWindow, err = durationEnv("AUTH_LOCKOUT_WINDOW", 15*time.Minute); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.LockoutDuration, err = durationEnv("AUTH_LOCKOUT_DURATION", 15*time.Minute); err != nil {
		return Server{}, err
	}

	return cfg, cfg.Validate()
}

// Validate rejects combinations that cannot start.
func (c Server) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.LedgerBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("LEDGER_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}
	if c.Environment == "production" && c.JWTSigningKey == devSigningKey {
		return fmt.Errorf("JWT_SIGNING_KEY must be set in production")
	}
	if c.FinalityTimeout <= 0 {
		return fmt.Errorf("LEDGER_FINALITY_TIMEOUT must be positive")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
