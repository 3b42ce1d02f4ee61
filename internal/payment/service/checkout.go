package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/router"
	"go.uber.org/zap"
)

const maxVersionRetries = 3

// CreateCheckoutSession routes the payment, records a pending intent and
// opens a hosted checkout for it. The intent exists before the provider is
// called so a webhook for a timed-out attempt can still be matched to it.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, req domain.CreateCheckoutRequest) (*domain.CheckoutSession, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.Amount <= 0 && strings.TrimSpace(req.PriceID) == "" {
		return nil, domain.NewValidationError("amount", "amount or price_id is required")
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
	currency := strings.ToUpper(req.Currency)

	rc := router.RoutingContext{
		ExplicitProvider: explicit,
		CustomerCountry:  customer.Country,
		Currency:         currency,
	}
	var (
		intent  *domain.PaymentIntent
		session *domain.ProviderCheckoutSession
	)
	provider, err := g.route(ctx, rc, supports(func(c domain.Capabilities) bool { return c.HostedCheckout }),
		func(ctx context.Context, adapter domain.ProviderAdapter) error {
			providerCustomerID, err := g.ensureProviderCustomer(ctx, customer, adapter)
			if err != nil {
				return err
			}

			now := g.clock.Now(ctx)
			intent = &domain.PaymentIntent{
				ID:             g.genID.Generate(),
				Provider:       adapter.Name(),
				Amount:         req.Amount,
				Currency:       currency,
				Status:         domain.PaymentIntentStatusPending,
				CustomerID:     customer.ID,
				OrganizationID: req.OrganizationID,
				Source:         domain.WriteSourceLocal,
				Version:        1,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := g.intents.Insert(ctx, nil, intent); err != nil {
				return err
			}

			err = g.call(ctx, adapter.Name(), "create_checkout_session", func(ctx context.Context) error {
				var err error
				session, err = adapter.CreateCheckoutSession(ctx, domain.CheckoutSessionInput{
					PaymentIntentID:    intent.ID,
					CustomerID:         customer.ID,
					ProviderCustomerID: providerCustomerID,
					Email:              customer.Email,
					Amount:             req.Amount,
					Currency:           currency,
					PriceID:            req.PriceID,
					SuccessURL:         req.SuccessURL,
					CancelURL:          req.CancelURL,
					Metadata:           req.Metadata,
					IdempotencyKey:     idempotencyKey,
				})
				return err
			})
			if err != nil {
				g.failIntent(ctx, intent.ID, err)
			}
			return err
		})
	if err != nil {
		return nil, err
	}

	_, err = g.updateIntent(ctx, intent.ID, domain.WriteSourceLocal, func(current *domain.PaymentIntent) (bool, error) {
		changed := false
		if current.ProviderSessionID == "" && session.ID != "" {
			current.ProviderSessionID = session.ID
			changed = true
		}
		if current.ProviderIntentID == "" && session.PaymentIntentID != "" {
			current.ProviderIntentID = session.PaymentIntentID
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	out := &domain.CheckoutSession{
		ID:              session.ID,
		URL:             session.URL,
		Provider:        provider,
		PaymentIntentID: intent.ID,
	}
	if !session.ExpiresAt.IsZero() {
		expires := session.ExpiresAt
		out.ExpiresAt = &expires
	}
	g.log.Info("checkout session created",
		zap.String("payment_intent_id", intent.ID.String()),
		zap.String("provider", provider.String()))
	return out, nil
}

// CancelPaymentIntent abandons an intent the customer never paid.
func (g *Gateway) CancelPaymentIntent(ctx context.Context, id snowflake.ID) (*domain.PaymentIntent, error) {
	return g.updateIntent(ctx, id, domain.WriteSourceLocal, func(current *domain.PaymentIntent) (bool, error) {
		if current.Status == domain.PaymentIntentStatusCanceled {
			return false, nil
		}
		if current.Status != domain.PaymentIntentStatusPending {
			return false, domain.ErrInvalidTransition
		}
		if err := transitionPayment(current.Status, domain.PaymentIntentStatusCanceled); err != nil {
			return false, err
		}
		current.Status = domain.PaymentIntentStatusCanceled
		return true, nil
	})
}

// failIntent marks the intent failed when the provider refused outright. A
// retryable failure leaves it pending because the provider may still have
// opened the session.
func (g *Gateway) failIntent(ctx context.Context, id snowflake.ID, cause error) {
	var pe *domain.ProviderError
	if domain.IsRetryable(cause) || !errors.As(cause, &pe) {
		return
	}
	_, err := g.updateIntent(ctx, id, domain.WriteSourceLocal, func(current *domain.PaymentIntent) (bool, error) {
		if transitionPayment(current.Status, domain.PaymentIntentStatusFailed) != nil {
			return false, nil
		}
		msg := pe.UserMessage()
		current.Status = domain.PaymentIntentStatusFailed
		current.Error = &msg
		current.DeclineReason = pe.Reason
		return true, nil
	})
	if err != nil {
		g.log.Warn("failed to mark payment intent failed",
			zap.String("payment_intent_id", id.String()),
			zap.Error(err))
	}
}

// updateIntent re-reads and re-applies mutate on version conflicts. mutate
// returns false when there is nothing to write.
func (g *Gateway) updateIntent(ctx context.Context, id snowflake.ID, source domain.WriteSource, mutate func(*domain.PaymentIntent) (bool, error)) (*domain.PaymentIntent, error) {
	return updateIntent(ctx, g.intents, id, source, mutate)
}

func updateIntent(ctx context.Context, repo domain.PaymentIntentRepository, id snowflake.ID, source domain.WriteSource, mutate func(*domain.PaymentIntent) (bool, error)) (*domain.PaymentIntent, error) {
	for attempt := 0; ; attempt++ {
		current, err := repo.FindByID(ctx, nil, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, domain.ErrPaymentIntentNotFound
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

func supports(check func(domain.Capabilities) bool) func(domain.ProviderAdapter) bool {
	return func(adapter domain.ProviderAdapter) bool {
		return check(adapter.Capabilities())
	}
}
