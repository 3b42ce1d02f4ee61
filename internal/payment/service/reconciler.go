package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ReconcilerParams struct {
	fx.In

	Log           *zap.Logger
	Intents       domain.PaymentIntentRepository
	Subscriptions domain.SubscriptionRepository
}

// Reconciler folds normalized webhook events into local payment intents and
// subscriptions. Webhook writes are authoritative: they retry through
// version conflicts instead of yielding to local writes.
type Reconciler struct {
	log           *zap.Logger
	intents       domain.PaymentIntentRepository
	subscriptions domain.SubscriptionRepository
}

func NewReconciler(p ReconcilerParams) *Reconciler {
	return &Reconciler{
		log:           p.Log.Named("payment.reconciler"),
		intents:       p.Intents,
		subscriptions: p.Subscriptions,
	}
}

func (r *Reconciler) Apply(ctx context.Context, event *domain.WebhookEvent) error {
	switch {
	case event.Payment != nil:
		return r.applyPayment(ctx, event)
	case event.Subscription != nil:
		return r.applySubscription(ctx, event)
	}
	r.log.Debug("event carries no record data", zap.String("event_id", event.ID))
	return nil
}

func paymentTarget(t domain.EventType) (domain.PaymentIntentStatus, bool) {
	switch t {
	case domain.EventTypeCheckoutCompleted:
		return domain.PaymentIntentStatusProcessing, true
	case domain.EventTypePaymentSucceeded:
		return domain.PaymentIntentStatusSucceeded, true
	case domain.EventTypePaymentFailed:
		return domain.PaymentIntentStatusFailed, true
	case domain.EventTypePaymentRefunded:
		return domain.PaymentIntentStatusRefunded, true
	}
	return "", false
}

func (r *Reconciler) applyPayment(ctx context.Context, event *domain.WebhookEvent) error {
	data := event.Payment
	target, ok := paymentTarget(event.Type)
	if !ok {
		return nil
	}
	intent, err := r.findIntent(ctx, event.Provider, data)
	if err != nil {
		return err
	}
	if intent == nil {
		r.log.Info("no payment intent for event",
			zap.String("event_id", event.ID),
			zap.String("provider_intent_id", data.ProviderIntentID),
			zap.String("provider_session_id", data.ProviderSessionID))
		return nil
	}

	updated, err := updateIntent(ctx, r.intents, intent.ID, domain.WriteSourceWebhook, func(current *domain.PaymentIntent) (bool, error) {
		if isStale(current.LastEventAt, event.OccurredAt) {
			r.log.Info("stale payment event skipped",
				zap.String("event_id", event.ID),
				zap.String("payment_intent_id", current.ID.String()))
			return false, nil
		}
		if current.ProviderIntentID == "" && data.ProviderIntentID != "" {
			current.ProviderIntentID = data.ProviderIntentID
		}
		if current.ProviderSessionID == "" && data.ProviderSessionID != "" {
			current.ProviderSessionID = data.ProviderSessionID
		}
		if current.Amount == 0 && data.Amount > 0 {
			current.Amount = data.Amount
		}
		if current.Currency == "" && data.Currency != "" {
			current.Currency = data.Currency
		}
		if data.PaymentMethod != "" {
			method := data.PaymentMethod
			current.PaymentMethod = &method
		}

		if err := transitionPayment(current.Status, target); err != nil {
			r.log.Warn("payment event does not fit current status",
				zap.String("event_id", event.ID),
				zap.String("status", string(current.Status)),
				zap.String("target", string(target)))
		} else {
			current.Status = target
			if target == domain.PaymentIntentStatusFailed {
				current.DeclineReason = data.FailureReason
				msg := failureMessage(data)
				current.Error = &msg
			}
			if target == domain.PaymentIntentStatusSucceeded {
				current.Error = nil
				current.DeclineReason = ""
			}
		}
		occurred := event.OccurredAt
		current.LastEventAt = &occurred
		return true, nil
	})
	if err != nil {
		return err
	}

	if event.Type == domain.EventTypePaymentRefunded && data.RefundedAmount > 0 {
		if err := r.intents.RaiseRefundedAmount(ctx, nil, updated.ID, data.RefundedAmount); err != nil {
			return err
		}
	}
	r.log.Info("payment intent reconciled",
		zap.String("event_id", event.ID),
		zap.String("payment_intent_id", updated.ID.String()),
		zap.String("status", string(updated.Status)))
	return nil
}

func (r *Reconciler) findIntent(ctx context.Context, provider domain.ProviderName, data *domain.PaymentEventData) (*domain.PaymentIntent, error) {
	if id, err := snowflake.ParseString(data.Reference); err == nil && data.Reference != "" {
		intent, err := r.intents.FindByID(ctx, nil, id)
		if err != nil {
			return nil, err
		}
		if intent != nil && intent.Provider == provider {
			return intent, nil
		}
	}
	return r.intents.FindByProviderRef(ctx, nil, provider, data.ProviderIntentID, data.ProviderSessionID)
}

func (r *Reconciler) applySubscription(ctx context.Context, event *domain.WebhookEvent) error {
	data := event.Subscription
	sub, err := r.findSubscription(ctx, event.Provider, data)
	if err != nil {
		return err
	}
	if sub == nil {
		r.log.Info("no subscription for event",
			zap.String("event_id", event.ID),
			zap.String("provider_subscription_id", data.ProviderSubscriptionID))
		return nil
	}

	target := data.Status
	if event.Type == domain.EventTypeSubscriptionRevoked {
		target = domain.SubscriptionStatusCanceled
	}

	updated, err := updateSubscription(ctx, r.subscriptions, sub.ID, domain.WriteSourceWebhook, func(current *domain.Subscription) (bool, error) {
		if isStale(current.LastEventAt, event.OccurredAt) {
			r.log.Info("stale subscription event skipped",
				zap.String("event_id", event.ID),
				zap.String("subscription_id", current.ID.String()))
			return false, nil
		}
		if current.ProviderSubscriptionID == "" {
			current.ProviderSubscriptionID = data.ProviderSubscriptionID
		}

		planChanged := data.PlanID != "" && data.PlanID != current.PlanID
		if planChanged {
			current.PlanID = data.PlanID
		}
		applyPeriod(current, data.CurrentPeriodStart, data.CurrentPeriodEnd, planChanged)
		if data.TrialEnd != nil {
			current.TrialEnd = data.TrialEnd
		}

		// a canceled notice for a subscription still running out its period
		// keeps it active with the flag set
		current.CancelAtPeriodEnd = data.CancelAtPeriodEnd
		current.CancelAt = data.CancelAt

		if target != "" {
			if err := transitionSubscription(current.Status, target); err != nil {
				r.log.Warn("subscription event does not fit current status",
					zap.String("event_id", event.ID),
					zap.String("status", string(current.Status)),
					zap.String("target", string(target)))
			} else {
				current.Status = target
			}
		}
		if current.Status == domain.SubscriptionStatusCanceled {
			current.CancelAtPeriodEnd = false
			if current.CanceledAt == nil {
				at := event.OccurredAt
				current.CanceledAt = &at
			}
		}

		occurred := event.OccurredAt
		current.LastEventAt = &occurred
		return true, nil
	})
	if err != nil {
		return err
	}

	r.log.Info("subscription reconciled",
		zap.String("event_id", event.ID),
		zap.String("subscription_id", updated.ID.String()),
		zap.String("status", string(updated.Status)),
		zap.Bool("cancel_at_period_end", updated.CancelAtPeriodEnd))
	return nil
}

func (r *Reconciler) findSubscription(ctx context.Context, provider domain.ProviderName, data *domain.SubscriptionEventData) (*domain.Subscription, error) {
	if data.ProviderSubscriptionID != "" {
		sub, err := r.subscriptions.FindByProviderSubscriptionID(ctx, nil, provider, data.ProviderSubscriptionID)
		if err != nil || sub != nil {
			return sub, err
		}
	}
	if data.Reference == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(data.Reference)
	if err != nil {
		return nil, nil
	}
	sub, err := r.subscriptions.FindByID(ctx, nil, id)
	if err != nil || sub == nil || sub.Provider != provider {
		return nil, err
	}
	return sub, nil
}

// applyPeriod moves the billing period forward. current_period_end only
// moves backwards when the plan changed.
func applyPeriod(sub *domain.Subscription, start, end time.Time, planChanged bool) {
	if end.IsZero() {
		return
	}
	if !planChanged && end.Before(sub.CurrentPeriodEnd) {
		return
	}
	sub.CurrentPeriodEnd = end
	if !start.IsZero() {
		sub.CurrentPeriodStart = start
	}
}

// isStale reports whether an event predates the last one applied.
func isStale(last *time.Time, occurred time.Time) bool {
	return last != nil && !occurred.IsZero() && occurred.Before(*last)
}

func failureMessage(data *domain.PaymentEventData) string {
	if data.FailureMessage != "" {
		return data.FailureMessage
	}
	pe := &domain.ProviderError{Reason: data.FailureReason}
	return pe.UserMessage()
}
