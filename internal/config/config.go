package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

const envPrefix = "PAYGATE"

type Config struct {
	AppName     string `mapstructure:"app_name"`
	AppVersion  string `mapstructure:"app_version"`
	Environment string `mapstructure:"environment"`
	HTTPAddr    string `mapstructure:"http_addr"`
	LogLevel    string `mapstructure:"log_level"`
	NodeID      int64  `mapstructure:"node_id"`

	DBType string `mapstructure:"db_type"`
	DBDSN  string `mapstructure:"db_dsn"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// IdempotencyBackend is "redis" or "memory".
	IdempotencyBackend string        `mapstructure:"idempotency_backend"`
	EncryptionKey      string        `mapstructure:"encryption_key"`
	ProviderTimeout    time.Duration `mapstructure:"provider_timeout"`

	Providers ProvidersConfig `mapstructure:"providers"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Usage     UsageConfig     `mapstructure:"usage"`
}

type ProvidersConfig struct {
	Stripe      ProviderConfig `mapstructure:"stripe"`
	MercadoPago ProviderConfig `mapstructure:"mercadopago"`
	Polar       ProviderConfig `mapstructure:"polar"`
}

type ProviderConfig struct {
	AccessToken     string   `mapstructure:"access_token"`
	SecretKey       string   `mapstructure:"secret_key"`
	WebhookSecret   string   `mapstructure:"webhook_secret"`
	Sandbox         bool     `mapstructure:"sandbox"`
	DefaultCurrency string   `mapstructure:"default_currency"`
	BaseURL         string   `mapstructure:"base_url"`
	Countries       []string `mapstructure:"countries"`
}

// HasCredentials reports whether any API credential was supplied. Adapters
// decide which of the two they actually require.
func (p ProviderConfig) HasCredentials() bool {
	return strings.TrimSpace(p.AccessToken) != "" || strings.TrimSpace(p.SecretKey) != ""
}

type RoutingConfig struct {
	// RegionalFallthrough lets a country-matched request fall through to the
	// next rule when the regional adapter is circuit-broken.
	RegionalFallthrough bool `mapstructure:"regional_fallthrough"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

type WebhookConfig struct {
	Tolerance     time.Duration `mapstructure:"tolerance"`
	DedupeTTL     time.Duration `mapstructure:"dedupe_ttl"`
	ProcessingTTL time.Duration `mapstructure:"processing_ttl"`
	RetentionDays int           `mapstructure:"retention_days"`
}

type UsageConfig struct {
	RetentionWindow time.Duration `mapstructure:"retention_window"`
	InFlightTTL     time.Duration `mapstructure:"in_flight_ttl"`
	LedgerDays      int           `mapstructure:"ledger_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "paygate")
	v.SetDefault("app_version", "dev")
	v.SetDefault("environment", "development")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("node_id", 1)

	v.SetDefault("db_type", "postgres")
	v.SetDefault("db_dsn", "")

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("idempotency_backend", "redis")
	v.SetDefault("encryption_key", "")
	v.SetDefault("provider_timeout", 15*time.Second)

	for _, name := range []string{"stripe", "mercadopago", "polar"} {
		prefix := "providers." + name + "."
		v.SetDefault(prefix+"access_token", "")
		v.SetDefault(prefix+"secret_key", "")
		v.SetDefault(prefix+"webhook_secret", "")
		v.SetDefault(prefix+"sandbox", false)
		v.SetDefault(prefix+"default_currency", "USD")
		v.SetDefault(prefix+"base_url", "")
		v.SetDefault(prefix+"countries", []string{})
	}
	v.SetDefault("providers.mercadopago.countries", []string{"AR", "BR", "CL", "CO", "MX", "PE", "UY"})
	v.SetDefault("providers.mercadopago.default_currency", "BRL")

	v.SetDefault("routing.regional_fallthrough", true)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.window", time.Minute)
	v.SetDefault("breaker.cooldown", 30*time.Second)

	v.SetDefault("webhook.tolerance", 5*time.Minute)
	v.SetDefault("webhook.dedupe_ttl", 30*24*time.Hour)
	v.SetDefault("webhook.processing_ttl", 2*time.Minute)
	v.SetDefault("webhook.retention_days", 30)

	v.SetDefault("usage.retention_window", 24*time.Hour)
	v.SetDefault("usage.in_flight_ttl", time.Minute)
	v.SetDefault("usage.ledger_days", 90)
}

// Load reads configuration from the environment (and a local .env file when
// present). Every key is addressable as PAYGATE_<PATH>, e.g.
// PAYGATE_PROVIDERS_STRIPE_SECRET_KEY.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.DBType = strings.ToLower(strings.TrimSpace(c.DBType))
	c.IdempotencyBackend = strings.ToLower(strings.TrimSpace(c.IdempotencyBackend))
	for _, p := range []*ProviderConfig{&c.Providers.Stripe, &c.Providers.MercadoPago, &c.Providers.Polar} {
		p.DefaultCurrency = strings.ToUpper(strings.TrimSpace(p.DefaultCurrency))
		countries := make([]string, 0, len(p.Countries))
		for _, country := range p.Countries {
			for _, part := range strings.Split(country, ",") {
				if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
					countries = append(countries, part)
				}
			}
		}
		p.Countries = countries
	}
}

func (c Config) Validate() error {
	var result *multierror.Error

	switch c.DBType {
	case "postgres", "sqlite":
	default:
		result = multierror.Append(result, fmt.Errorf("db_type must be postgres or sqlite, got %q", c.DBType))
	}
	if strings.TrimSpace(c.DBDSN) == "" {
		result = multierror.Append(result, errors.New("db_dsn is required"))
	}
	switch c.IdempotencyBackend {
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			result = multierror.Append(result, errors.New("redis_addr is required for the redis idempotency backend"))
		}
	case "memory":
	default:
		result = multierror.Append(result, fmt.Errorf("idempotency_backend must be redis or memory, got %q", c.IdempotencyBackend))
	}
	if strings.TrimSpace(c.EncryptionKey) == "" {
		result = multierror.Append(result, errors.New("encryption_key is required"))
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		result = multierror.Append(result, fmt.Errorf("node_id must be within 0..1023, got %d", c.NodeID))
	}
	if c.ProviderTimeout <= 0 {
		result = multierror.Append(result, errors.New("provider_timeout must be positive"))
	}
	if c.Breaker.FailureThreshold <= 0 {
		result = multierror.Append(result, errors.New("breaker.failure_threshold must be positive"))
	}
	if c.Breaker.Window <= 0 || c.Breaker.Cooldown <= 0 {
		result = multierror.Append(result, errors.New("breaker.window and breaker.cooldown must be positive"))
	}
	if c.Webhook.Tolerance <= 0 {
		result = multierror.Append(result, errors.New("webhook.tolerance must be positive"))
	}
	if c.Webhook.DedupeTTL < 7*24*time.Hour {
		result = multierror.Append(result, errors.New("webhook.dedupe_ttl must cover at least 7 days of provider redelivery"))
	}
	if c.Usage.RetentionWindow <= 0 {
		result = multierror.Append(result, errors.New("usage.retention_window must be positive"))
	}

	return result.ErrorOrNil()
}
