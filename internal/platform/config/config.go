package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures receipt-endpoint process configuration.
type Server struct {
	Addr            string
	Environment     string
	DatabaseURL     string
	Redis           RedisConfig
	RateLimit       RateLimitConfig
	KafkaBrokers    string
	NonceSecret     string
	NonceTTL        time.Duration
	ReceiptAction   string
	ShutdownTimeout time.Duration
}

// RateLimitConfig throttles receipt submissions per client address. A zero
// limit disables throttling.
type RateLimitConfig struct {
	Limit          int
	Window         time.Duration
	TrustedProxies string
}

// RedisConfig configures the optional Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultReceiptAction is the form action receipts are submitted under.
const DefaultReceiptAction = "klaro_geo_log_consent"

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	nonceSecret := os.Getenv("KLARO_GEO_NONCE_SECRET")
	if nonceSecret == "" {
		// development default; production deployments set the variable
		nonceSecret = "dev-nonce-secret-change-in-production"
	}

	return Server{
		Addr:            getEnv("KLARO_GEO_ADDR", ":8080"),
		Environment:     getEnv("KLARO_GEO_ENV", "development"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		KafkaBrokers:    strings.TrimSpace(os.Getenv("KAFKA_BROKERS")),
		NonceSecret:     nonceSecret,
		NonceTTL:        getDuration("KLARO_GEO_NONCE_TTL", 12*time.Hour),
		ReceiptAction:   getEnv("KLARO_GEO_RECEIPT_ACTION", DefaultReceiptAction),
		ShutdownTimeout: getDuration("KLARO_GEO_SHUTDOWN_TIMEOUT", 10*time.Second),
		RateLimit: RateLimitConfig{
			Limit:          getInt("KLARO_GEO_RATE_LIMIT", 30),
			Window:         getDuration("KLARO_GEO_RATE_LIMIT_WINDOW", time.Minute),
			TrustedProxies: os.Getenv("KLARO_GEO_TRUSTED_PROXIES"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
