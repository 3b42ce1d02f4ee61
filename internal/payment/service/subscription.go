package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/router"
	"go.uber.org/zap"
)

var errCancelNotConfirmed = errors.New("provider did not confirm cancellation")

func (g *Gateway) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	explicit, err := explicitProvider(req.Provider)
	if err != nil {
		return nil, err
	}
	customer, err := g.loadCustomer(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	subscriptionID := g.genID.Generate()

	rc := router.RoutingContext{
		ExplicitProvider: explicit,
		CustomerCountry:  customer.Country,
		Currency:         req.Currency,
	}
	var created *domain.ProviderSubscription
	provider, err := g.route(ctx, rc, supports(func(c domain.Capabilities) bool { return c.SubscriptionCreate }),
		func(ctx context.Context, adapter domain.ProviderAdapter) error {
			providerCustomerID, err := g.ensureProviderCustomer(ctx, customer, adapter)
			if err != nil {
				return err
			}
			return g.call(ctx, adapter.Name(), "create_subscription", func(ctx context.Context) error {
				var err error
				created, err = adapter.CreateSubscription(ctx, domain.SubscriptionInput{
					SubscriptionID:     subscriptionID,
					ProviderCustomerID: providerCustomerID,
					Email:              customer.Email,
					PlanID:             req.PlanID,
					TrialDays:          req.TrialDays,
					Metadata:           req.Metadata,
					IdempotencyKey:     idempotencyKey,
				})
				return err
			})
		})
	if err != nil {
		return nil, err
	}

	now := g.clock.Now(ctx)
	sub := &domain.Subscription{
		ID:                     subscriptionID,
		OrganizationID:         req.OrganizationID,
		CustomerID:             customer.ID,
		Provider:               provider,
		ProviderSubscriptionID: created.ID,
		PlanID:                 req.PlanID,
		Status:                 created.Status,
		CurrentPeriodStart:     created.CurrentPeriodStart,
		CurrentPeriodEnd:       created.CurrentPeriodEnd,
		TrialEnd:               created.TrialEnd,
		CancelAt:               created.CancelAt,
		CancelAtPeriodEnd:      created.CancelAtPeriodEnd,
		Source:                 domain.WriteSourceLocal,
		Version:                1,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if created.PlanID != "" {
		sub.PlanID = created.PlanID
	}
	if sub.Status == "" {
		sub.Status = domain.SubscriptionStatusIncomplete
	}
	if err := g.subscriptions.Insert(ctx, nil, sub); err != nil {
		return nil, err
	}

	g.log.Info("subscription created",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("provider", provider.String()),
		zap.String("status", string(sub.Status)))
	return sub, nil
}

// UpdateSubscription changes the plan at the provider. A plan change is the
// only local write allowed to move current_period_end backwards.
func (g *Gateway) UpdateSubscription(ctx context.Context, id snowflake.ID, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	sub, err := g.loadSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.SubscriptionStatusCanceled {
		return nil, domain.ErrInvalidTransition
	}
	adapter, err := g.adapterFor(sub.Provider)
	if err != nil {
		return nil, err
	}

	var updated *domain.ProviderSubscription
	err = g.call(ctx, sub.Provider, "update_subscription", func(ctx context.Context) error {
		var err error
		updated, err = adapter.UpdateSubscription(ctx, sub.ProviderSubscriptionID, domain.SubscriptionUpdate{
			PlanID:   req.PlanID,
			Prorate:  req.Prorate,
			Metadata: req.Metadata,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return g.updateSubscription(ctx, sub.ID, func(current *domain.Subscription) (bool, error) {
		planChanged := req.PlanID != "" && req.PlanID != current.PlanID
		if planChanged {
			current.PlanID = req.PlanID
		}
		if updated.PlanID != "" {
			current.PlanID = updated.PlanID
		}
		applyPeriod(current, updated.CurrentPeriodStart, updated.CurrentPeriodEnd, planChanged)
		if updated.Status != "" && transitionSubscription(current.Status, updated.Status) == nil {
			current.Status = updated.Status
		}
		if updated.TrialEnd != nil {
			current.TrialEnd = updated.TrialEnd
		}
		return true, nil
	})
}

// CancelSubscription ends the subscription now, or flags it to end with the
// current period. An immediate cancel is recorded only once the provider
// reports the subscription canceled.
func (g *Gateway) CancelSubscription(ctx context.Context, id snowflake.ID, req domain.CancelSubscriptionRequest) (*domain.Subscription, error) {
	sub, err := g.loadSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.SubscriptionStatusCanceled {
		return sub, nil
	}
	if !req.Immediate && sub.CancelAtPeriodEnd {
		return sub, nil
	}
	adapter, err := g.adapterFor(sub.Provider)
	if err != nil {
		return nil, err
	}
	if !req.Immediate && !adapter.Capabilities().GracefulCancel {
		return nil, domain.ErrUnsupportedOperation
	}

	var result *domain.ProviderSubscription
	err = g.call(ctx, sub.Provider, "cancel_subscription", func(ctx context.Context) error {
		var err error
		result, err = adapter.CancelSubscription(ctx, sub.ProviderSubscriptionID, domain.CancelOptions{
			Immediate: req.Immediate,
			PeriodEnd: sub.CurrentPeriodEnd,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if req.Immediate && result.Status != domain.SubscriptionStatusCanceled {
		return nil, domain.NewRetryableError(sub.Provider, "cancel_subscription", 0, errCancelNotConfirmed)
	}

	now := g.clock.Now(ctx)
	return g.updateSubscription(ctx, sub.ID, func(current *domain.Subscription) (bool, error) {
		if req.Immediate {
			if err := transitionSubscription(current.Status, domain.SubscriptionStatusCanceled); err != nil {
				return false, err
			}
			current.Status = domain.SubscriptionStatusCanceled
			current.CancelAtPeriodEnd = false
			if current.CanceledAt == nil {
				current.CanceledAt = &now
			}
			return true, nil
		}
		if current.Status == domain.SubscriptionStatusCanceled {
			return false, nil
		}
		current.CancelAtPeriodEnd = true
		current.CancelAt = result.CancelAt
		if current.CancelAt == nil && !current.CurrentPeriodEnd.IsZero() {
			end := current.CurrentPeriodEnd
			current.CancelAt = &end
		}
		return true, nil
	})
}

func (g *Gateway) loadSubscription(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	sub, err := g.subscriptions.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (g *Gateway) updateSubscription(ctx context.Context, id snowflake.ID, mutate func(*domain.Subscription) (bool, error)) (*domain.Subscription, error) {
	return updateSubscription(ctx, g.subscriptions, id, domain.WriteSourceLocal, mutate)
}

func updateSubscription(ctx context.Context, repo domain.SubscriptionRepository, id snowflake.ID, source domain.WriteSource, mutate func(*domain.Subscription) (bool, error)) (*domain.Subscription, error) {
	for attempt := 0; ; attempt++ {
		current, err := repo.FindByID(ctx, nil, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, domain.ErrSubscriptionNotFound
		}
		changed, err := mutate(current)
		if err != nil || !changed {
			return current, err
		}
		current.Source = source
		err = repo.UpdateVersioned(ctx, nil, current)
		if err == nil {
			return current, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt+1 >= maxVersionRetries {
			return nil, err
		}
	}
}
