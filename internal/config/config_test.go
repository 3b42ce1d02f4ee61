package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReadsProviderBlocksFromEnv(t *testing.T) {
	t.Setenv("PAYGATE_DB_TYPE", "sqlite")
	t.Setenv("PAYGATE_DB_DSN", "file::memory:")
	t.Setenv("PAYGATE_IDEMPOTENCY_BACKEND", "memory")
	t.Setenv("PAYGATE_ENCRYPTION_KEY", "test-key")
	t.Setenv("PAYGATE_PROVIDERS_STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("PAYGATE_PROVIDERS_STRIPE_WEBHOOK_SECRET", "whsec_abc")
	t.Setenv("PAYGATE_PROVIDERS_MERCADOPAGO_ACCESS_TOKEN", "TEST-token")
	t.Setenv("PAYGATE_PROVIDERS_MERCADOPAGO_COUNTRIES", "mx, br")
	t.Setenv("PAYGATE_PROVIDERS_POLAR_SANDBOX", "true")
	t.Setenv("PAYGATE_BREAKER_COOLDOWN", "45s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, "sk_test_123", cfg.Providers.Stripe.SecretKey)
	assert.True(t, cfg.Providers.Stripe.HasCredentials())
	assert.Equal(t, "whsec_abc", cfg.Providers.Stripe.WebhookSecret)
	assert.Equal(t, []string{"MX", "BR"}, cfg.Providers.MercadoPago.Countries)
	assert.True(t, cfg.Providers.Polar.Sandbox)
	assert.False(t, cfg.Providers.Polar.HasCredentials())
	assert.Equal(t, 45*time.Second, cfg.Breaker.Cooldown)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Webhook.Tolerance)
	assert.True(t, cfg.Routing.RegionalFallthrough)
}

func TestLoadDefaultsRegionalCountries(t *testing.T) {
	t.Setenv("PAYGATE_DB_TYPE", "sqlite")
	t.Setenv("PAYGATE_DB_DSN", "file::memory:")
	t.Setenv("PAYGATE_IDEMPOTENCY_BACKEND", "memory")
	t.Setenv("PAYGATE_ENCRYPTION_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Contains(t, cfg.Providers.MercadoPago.Countries, "MX")
	assert.Equal(t, 24*time.Hour, cfg.Usage.RetentionWindow)
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Config{
		DBType:             "mysql",
		IdempotencyBackend: "disk",
		NodeID:             2048,
	}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "db_type must be postgres or sqlite")
	assert.Contains(t, msg, "db_dsn is required")
	assert.Contains(t, msg, "idempotency_backend must be redis or memory")
	assert.Contains(t, msg, "node_id must be within")
	assert.Contains(t, msg, "provider_timeout must be positive")
	assert.Contains(t, msg, "encryption_key is required")
}
