package config

import (
	"testing"
	"time"

	"github.com/fjod/macstore/internal/gateway/webpay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, webpay.IntegrationBaseURL, cfg.Webpay.BaseURL)
	assert.Equal(t, webpay.IntegrationCommerceCode, cfg.Webpay.CommerceCode)
	assert.Equal(t, 30*time.Minute, cfg.CheckoutSessionTTL)
	assert.Equal(t, "http://localhost:8080/checkout/webpay/result", cfg.ReturnURL())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("PUBLIC_BASE_URL", "https://shop.example/")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("WEBPAY_TIMEOUT", "3s")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("REQUEST_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6543, cfg.DB.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.Webpay.Timeout)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "https://shop.example/checkout/webpay/result", cfg.ReturnURL())
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("KAFKA_BROKERS", " , ")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_JWT_SECRET")
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}
