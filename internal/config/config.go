package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	Store       string
	DatabaseURL string

	Redis RedisConfig
	Kafka KafkaConfig

	JWTSecret string

	SweepInterval  time.Duration
	SweepBatchSize int
	OfferTTL       time.Duration
	CounterTTL     time.Duration
	TxMaxRetries   int

	RateLimitRPS   float64
	RateLimitBurst int

	OTLPEndpoint string
	LogLevel     string
	LogFormat    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// Load reads .env if present, then the environment. Missing keys fall back
// to defaults suitable for a single local instance.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug(".env not found, using environment only")
	}

	var errs []string
	dur := func(key string, def time.Duration) time.Duration {
		d, err := time.ParseDuration(getEnv(key, def.String()))
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("%s: want a positive duration", key))
			return def
		}
		return d
	}
	num := func(key string, def int) int {
		n, err := strconv.Atoi(getEnv(key, strconv.Itoa(def)))
		if err != nil || n < 0 {
			errs = append(errs, fmt.Sprintf("%s: want a non-negative integer", key))
			return def
		}
		return n
	}

	cfg := &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:    getEnv("GRPC_ADDR", ":9090"),
		Store:       strings.ToLower(getEnv("STORE", StoreMemory)),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       num("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_TOPIC", "market.events"),
		},
		JWTSecret:      getEnv("JWT_SECRET", ""),
		SweepInterval:  dur("SWEEP_INTERVAL", 15*time.Second),
		SweepBatchSize: num("SWEEP_BATCH_SIZE", 100),
		OfferTTL:       dur("OFFER_TTL", 48*time.Hour),
		CounterTTL:     dur("OFFER_COUNTER_TTL", 24*time.Hour),
		TxMaxRetries:   num("TX_MAX_RETRIES", 3),
		RateLimitBurst: num("RATE_LIMIT_BURST", 20),
		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
	}
	rps, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "10"), 64)
	if err != nil || rps <= 0 {
		errs = append(errs, "RATE_LIMIT_RPS: want a positive number")
		rps = 10
	}
	cfg.RateLimitRPS = rps

	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when STORE=postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE: unknown store %q", cfg.Store))
	}
	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			res = append(res, p)
		}
	}
	return res
}
