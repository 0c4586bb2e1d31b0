package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

type Config struct {
	Port                      string
	AllowedOrigin             string
	DatabaseURL               string
	RedisAddr                 string
	RedisPassword             string
	RedisDB                   int
	RedisKeyPrefix            string
	KafkaBrokers              string
	KafkaTopic                string
	AuthSecret                string
	AccessTokenTTLMinutes     int
	QuoteRetentionDays        int
	QuoteSweepIntervalMinutes int
	CartIdleMinutes           int
	LogLevel                  string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                      getEnv("PORT", "8080"),
		AllowedOrigin:             getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   redisDB,
		RedisKeyPrefix:            getEnv("REDIS_KEY_PREFIX", "assistec"),
		KafkaBrokers:              strings.TrimSpace(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:                getEnv("KAFKA_TOPIC", "assistec.sale-events"),
		AuthSecret:                strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:     positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		QuoteRetentionDays:        positiveInt("QUOTE_RETENTION_DAYS", 8),
		QuoteSweepIntervalMinutes: positiveInt("QUOTE_SWEEP_INTERVAL_MINUTES", 60),
		CartIdleMinutes:           positiveInt("CART_IDLE_MINUTES", 240),
		LogLevel:                  strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// KafkaBrokerList splits KAFKA_BROKERS on commas. Empty means no publisher.
func (c Config) KafkaBrokerList() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func (c Config) QuoteRetention() time.Duration {
	return time.Duration(c.QuoteRetentionDays) * 24 * time.Hour
}

func (c Config) QuoteSweepInterval() time.Duration {
	return time.Duration(c.QuoteSweepIntervalMinutes) * time.Minute
}

// CartIdleTimeout is how long an untouched checkout cart is kept in memory.
func (c Config) CartIdleTimeout() time.Duration {
	return time.Duration(c.CartIdleMinutes) * time.Minute
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// Level falls back to info for anything logrus does not recognise.
func (c Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
