package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/go-multierror"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/router"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const auditActionCustomerDeleted = "customer.deleted"

// CreateCustomer registers the customer locally and with one provider: the
// requested one, or whichever the routing table picks for the country.
func (g *Gateway) CreateCustomer(ctx context.Context, req domain.CreateCustomerRequest) (*domain.Customer, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	explicit, err := explicitProvider(req.Provider)
	if err != nil {
		return nil, err
	}

	now := g.clock.Now(ctx)
	customer := &domain.Customer{
		ID:        g.genID.Generate(),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Name:      strings.TrimSpace(req.Name),
		Country:   strings.ToUpper(req.Country),
		Metadata:  toJSONMap(req.Metadata),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	rc := router.RoutingContext{ExplicitProvider: explicit, CustomerCountry: customer.Country}
	var providerCustomerID string
	provider, err := g.route(ctx, rc, nil, func(ctx context.Context, adapter domain.ProviderAdapter) error {
		return g.call(ctx, adapter.Name(), "create_customer", func(ctx context.Context) error {
			id, err := adapter.CreateCustomer(ctx, domain.CustomerInput{
				CustomerID: customer.ID,
				Email:      customer.Email,
				Name:       customer.Name,
				Country:    customer.Country,
				Metadata:   req.Metadata,
			})
			providerCustomerID = id
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	customer.Provider = provider
	customer.ProviderCustomerID = providerCustomerID
	link := domain.CustomerProviderLink{
		ID:                 g.genID.Generate(),
		CustomerID:         customer.ID,
		Provider:           provider,
		ProviderCustomerID: providerCustomerID,
		CreatedAt:          now,
	}
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := g.customers.Insert(ctx, tx, customer); err != nil {
			return err
		}
		return g.customers.InsertLink(ctx, tx, &link)
	})
	if err != nil {
		return nil, err
	}
	customer.Links = []domain.CustomerProviderLink{link}

	g.log.Info("customer created",
		zap.String("customer_id", customer.ID.String()),
		zap.String("provider", provider.String()))
	return customer, nil
}

// DeleteCustomer removes the customer from every provider it was linked to,
// then soft deletes it locally and records who asked for it. Nothing is
// deleted locally while any provider delete fails.
func (g *Gateway) DeleteCustomer(ctx context.Context, id snowflake.ID, actor string) error {
	customer, err := g.loadCustomer(ctx, id)
	if err != nil {
		return err
	}
	links, err := g.customers.ListLinks(ctx, nil, customer.ID)
	if err != nil {
		return err
	}

	var (
		result  *multierror.Error
		removed []string
		skipped []string
	)
	for _, link := range links {
		adapter, ok := g.adapters.Get(link.Provider)
		if !ok {
			g.log.Warn("provider no longer configured, skipping remote delete",
				zap.String("customer_id", customer.ID.String()),
				zap.String("provider", link.Provider.String()))
			skipped = append(skipped, link.Provider.String())
			continue
		}
		err := g.call(ctx, link.Provider, "delete_customer", func(ctx context.Context) error {
			return adapter.DeleteCustomer(ctx, link.ProviderCustomerID)
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("delete customer at %s: %w", link.Provider, err))
			continue
		}
		removed = append(removed, link.Provider.String())
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	now := g.clock.Now(ctx)
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := g.customers.SoftDelete(ctx, tx, customer.ID, now); err != nil {
			return err
		}
		return g.audit.Insert(ctx, tx, &domain.AuditLog{
			ID:           g.genID.Generate(),
			Action:       auditActionCustomerDeleted,
			ResourceType: "customer",
			ResourceID:   customer.ID.String(),
			Actor:        actor,
			Metadata: datatypes.JSONMap{
				"email":             customer.Email,
				"providers_deleted": removed,
				"providers_skipped": skipped,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	g.log.Info("customer deleted",
		zap.String("customer_id", customer.ID.String()),
		zap.String("actor", actor))
	return nil
}

// ensureProviderCustomer returns the customer's id at provider, creating it
// there on first use.
func (g *Gateway) ensureProviderCustomer(ctx context.Context, customer *domain.Customer, adapter domain.ProviderAdapter) (string, error) {
	provider := adapter.Name()
	link, err := g.customers.FindLink(ctx, nil, customer.ID, provider)
	if err != nil {
		return "", err
	}
	if link != nil {
		return link.ProviderCustomerID, nil
	}

	var providerCustomerID string
	err = g.call(ctx, provider, "create_customer", func(ctx context.Context) error {
		id, err := adapter.CreateCustomer(ctx, domain.CustomerInput{
			CustomerID: customer.ID,
			Email:      customer.Email,
			Name:       customer.Name,
			Country:    customer.Country,
		})
		providerCustomerID = id
		return err
	})
	if err != nil {
		return "", err
	}

	err = g.customers.InsertLink(ctx, nil, &domain.CustomerProviderLink{
		ID:                 g.genID.Generate(),
		CustomerID:         customer.ID,
		Provider:           provider,
		ProviderCustomerID: providerCustomerID,
		CreatedAt:          g.clock.Now(ctx),
	})
	if err != nil {
		// a concurrent request linked the customer first
		existing, findErr := g.customers.FindLink(ctx, nil, customer.ID, provider)
		if findErr == nil && existing != nil {
			return existing.ProviderCustomerID, nil
		}
		return "", err
	}
	return providerCustomerID, nil
}

func toJSONMap(in map[string]string) datatypes.JSONMap {
	if len(in) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
