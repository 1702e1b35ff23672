package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/macstore/internal/gateway/webpay"
	"github.com/fjod/macstore/internal/repository"
)

type Config struct {
	HTTPPort      string
	GRPCPort      string
	PublicBaseURL string

	MongoURI    string
	MongoDBName string

	RedisAddr     string
	RedisPassword string

	DB repository.Credentials

	KafkaBrokers []string
	KafkaTopic   string

	Webpay webpay.Config

	AuthJWTSecret string

	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	CheckoutSessionTTL time.Duration
	MaxRequestBodySize int64

	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel string
}

// Load reads the environment. Defaults target a local stack and the
// Transbank integration environment.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		GRPCPort:      getEnv("GRPC_PORT", "50060"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName: getEnv("MONGO_DB_NAME", "storefront"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		DB: repository.Credentials{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "storefront"),
		},

		KafkaBrokers: splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "storefront-outbox"),

		Webpay: webpay.Config{
			BaseURL:      getEnv("WEBPAY_BASE_URL", webpay.IntegrationBaseURL),
			CommerceCode: getEnv("WEBPAY_COMMERCE_CODE", webpay.IntegrationCommerceCode),
			APIKey:       getEnv("WEBPAY_API_KEY", webpay.IntegrationAPIKey),
			Timeout:      getEnvAsDuration("WEBPAY_TIMEOUT", 10*time.Second),
		},

		AuthJWTSecret: getEnv("AUTH_JWT_SECRET", ""),

		RequestTimeout:     getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		CheckoutSessionTTL: getEnvAsDuration("CHECKOUT_SESSION_TTL", 30*time.Minute),
		MaxRequestBodySize: 1 << 20, // 1MB

		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 1),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 5),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.AuthJWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	if c.DB.Port <= 0 {
		errs = append(errs, fmt.Errorf("invalid DB_PORT %d", c.DB.Port))
	}
	if len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is empty"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	return errors.Join(errs...)
}

// ReturnURL is where the gateway sends the shopper back after paying.
func (c *Config) ReturnURL() string {
	return c.PublicBaseURL + "/checkout/webpay/result"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); strings.TrimSpace(value) != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return d
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
