package adapters

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"go.uber.org/zap"
)

type Registry struct {
	factories map[domain.ProviderName]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{factories: make(map[domain.ProviderName]domain.AdapterFactory, len(factories))}
	for _, f := range factories {
		if f == nil {
			continue
		}
		r.factories[f.Provider()] = f
	}
	return r
}

func (r *Registry) ProviderExists(name domain.ProviderName) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[name]
	return ok
}

func (r *Registry) NewAdapter(cfg domain.AdapterConfig) (domain.ProviderAdapter, error) {
	if _, err := cfg.Provider.Kind(); err != nil {
		return nil, err
	}
	factory, ok := r.factories[cfg.Provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewAdapter(cfg)
}

// Configured is the set of adapters whose credentials are present. Providers
// missing from it are never routed to and GetProvider reports them absent.
type Configured struct {
	adapters  map[domain.ProviderName]domain.ProviderAdapter
	countries map[domain.ProviderName][]string
}

func NewConfigured(registry *Registry, cfg config.Config, log *zap.Logger) (*Configured, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("payment.adapters")

	blocks := map[domain.ProviderName]config.ProviderConfig{
		domain.ProviderStripe:      cfg.Providers.Stripe,
		domain.ProviderMercadoPago: cfg.Providers.MercadoPago,
		domain.ProviderPolar:       cfg.Providers.Polar,
	}

	out := &Configured{
		adapters:  make(map[domain.ProviderName]domain.ProviderAdapter),
		countries: make(map[domain.ProviderName][]string),
	}
	var result *multierror.Error
	for _, name := range domain.KnownProviders {
		block := blocks[name]
		if !block.HasCredentials() {
			log.Info("provider not configured", zap.String("provider", name.String()))
			continue
		}
		adapter, err := registry.NewAdapter(domain.AdapterConfig{
			Provider:        name,
			AccessToken:     block.AccessToken,
			SecretKey:       block.SecretKey,
			WebhookSecret:   block.WebhookSecret,
			Sandbox:         block.Sandbox,
			DefaultCurrency: block.DefaultCurrency,
			BaseURL:         block.BaseURL,
			Timeout:         cfg.ProviderTimeout,
			Countries:       block.Countries,
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("provider %s: %w", name, err))
			continue
		}
		out.adapters[name] = adapter
		out.countries[name] = block.Countries
		log.Info("provider configured",
			zap.String("provider", name.String()),
			zap.Bool("sandbox", block.Sandbox))
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// NewConfiguredFrom wraps already-built adapters.
func NewConfiguredFrom(adapters ...domain.ProviderAdapter) *Configured {
	out := &Configured{
		adapters:  make(map[domain.ProviderName]domain.ProviderAdapter, len(adapters)),
		countries: make(map[domain.ProviderName][]string),
	}
	for _, a := range adapters {
		out.adapters[a.Name()] = a
	}
	return out
}

func (c *Configured) WithCountries(name domain.ProviderName, countries ...string) *Configured {
	c.countries[name] = countries
	return c
}

func (c *Configured) Get(name domain.ProviderName) (domain.ProviderAdapter, bool) {
	if c == nil {
		return nil, false
	}
	a, ok := c.adapters[name]
	return a, ok
}

// Names returns configured providers in a stable order.
func (c *Configured) Names() []domain.ProviderName {
	if c == nil {
		return nil
	}
	names := make([]domain.ProviderName, 0, len(c.adapters))
	for name := range c.adapters {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func (c *Configured) Countries(name domain.ProviderName) []string {
	if c == nil {
		return nil
	}
	return c.countries[name]
}

// UsageReporter returns the adapter that bills on metered usage.
func (c *Configured) UsageReporter() (domain.UsageReporter, domain.ProviderName, bool) {
	for _, name := range c.Names() {
		if reporter, ok := c.adapters[name].(domain.UsageReporter); ok {
			return reporter, name, true
		}
	}
	return nil, "", false
}
