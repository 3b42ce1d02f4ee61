package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"go.uber.org/zap"
)

// CreateRefund refunds part or all of a captured payment. The amount is
// reserved against the intent before the provider is called, so concurrent
// refunds can never add up to more than was captured. A retryable failure
// leaves the refund pending with its reservation held, and a retry with the
// same idempotency key re-issues the provider call under the same key.
func (g *Gateway) CreateRefund(ctx context.Context, req domain.CreateRefundRequest) (*domain.Refund, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	var refund *domain.Refund
	if req.IdempotencyKey != "" {
		existing, err := g.refunds.FindByIdempotencyKey(ctx, nil, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.PaymentIntentID != req.PaymentIntentID {
				return nil, domain.NewValidationError("idempotency_key", "already used for another payment")
			}
			if req.Amount != nil && *req.Amount != existing.Amount {
				return nil, domain.NewValidationError("idempotency_key", "already used with a different amount")
			}
			if existing.Status == domain.RefundStatusSucceeded {
				return existing, nil
			}
			refund = existing
		}
	}

	intent, err := g.intents.FindByID(ctx, nil, req.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domain.ErrPaymentIntentNotFound
	}
	if intent.ProviderIntentID == "" {
		return nil, domain.ErrPaymentNotCaptured
	}
	adapter, err := g.adapterFor(intent.Provider)
	if err != nil {
		return nil, err
	}
	if !adapter.Capabilities().Refunds {
		return nil, domain.ErrUnsupportedOperation
	}

	switch {
	case refund == nil:
		refund, err = g.openRefund(ctx, intent, req)
		if err != nil {
			return nil, err
		}
		if refund.Status == domain.RefundStatusSucceeded {
			return refund, nil
		}
	case refund.Status == domain.RefundStatusFailed:
		// a terminal failure released its reservation; a same-key retry takes it again
		if err := g.intents.ReserveRefund(ctx, nil, intent.ID, refund.Amount); err != nil {
			return nil, err
		}
		refund.Status = domain.RefundStatusPending
		refund.UpdatedAt = g.clock.Now(ctx)
		if err := g.refunds.Update(ctx, nil, refund); err != nil {
			g.releaseRefund(ctx, intent, refund.Amount)
			return nil, err
		}
	}

	var result *domain.ProviderRefund
	err = g.call(ctx, intent.Provider, "create_refund", func(ctx context.Context) error {
		var err error
		result, err = adapter.CreateRefund(ctx, domain.RefundInput{
			ProviderIntentID: intent.ProviderIntentID,
			Amount:           refund.Amount,
			Currency:         intent.Currency,
			Reason:           refund.Reason,
			IdempotencyKey:   refund.IdempotencyKey,
		})
		return err
	})
	if err != nil {
		if domain.IsRetryable(err) {
			// the provider may still have executed it; keep the amount reserved
			g.log.Warn("refund outcome unknown, left pending",
				zap.String("refund_id", refund.ID.String()),
				zap.String("idempotency_key", refund.IdempotencyKey),
				zap.Error(err))
			return nil, err
		}
		g.releaseRefund(ctx, intent, refund.Amount)
		refund.Status = domain.RefundStatusFailed
		refund.UpdatedAt = g.clock.Now(ctx)
		if updErr := g.refunds.Update(context.WithoutCancel(ctx), nil, refund); updErr != nil {
			g.log.Warn("failed to mark refund failed", zap.String("refund_id", refund.ID.String()), zap.Error(updErr))
		}
		return nil, err
	}

	refund.ProviderRefundID = result.ID
	refund.Status = domain.RefundStatusSucceeded
	refund.UpdatedAt = g.clock.Now(ctx)
	if err := g.refunds.Update(ctx, nil, refund); err != nil {
		return nil, err
	}

	_, err = g.updateIntent(ctx, intent.ID, domain.WriteSourceLocal, func(current *domain.PaymentIntent) (bool, error) {
		if transitionPayment(current.Status, domain.PaymentIntentStatusRefunded) != nil || current.Status == domain.PaymentIntentStatusRefunded {
			return false, nil
		}
		current.Status = domain.PaymentIntentStatusRefunded
		return true, nil
	})
	if err != nil && !errors.Is(err, domain.ErrVersionConflict) {
		return nil, err
	}

	g.log.Info("refund created",
		zap.String("refund_id", refund.ID.String()),
		zap.String("payment_intent_id", intent.ID.String()),
		zap.Int64("amount", refund.Amount))
	return refund, nil
}

// openRefund reserves the amount and inserts a pending refund. Losing an
// insert race to the same key yields the winner's row when it already
// succeeded.
func (g *Gateway) openRefund(ctx context.Context, intent *domain.PaymentIntent, req domain.CreateRefundRequest) (*domain.Refund, error) {
	amount := intent.Amount - intent.RefundedAmount
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 {
		return nil, domain.ErrRefundExceedsCapturedAmount
	}
	if err := g.intents.ReserveRefund(ctx, nil, intent.ID, amount); err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	now := g.clock.Now(ctx)
	refund := &domain.Refund{
		ID:              g.genID.Generate(),
		PaymentIntentID: intent.ID,
		Provider:        intent.Provider,
		Amount:          amount,
		Currency:        intent.Currency,
		Status:          domain.RefundStatusPending,
		Reason:          req.Reason,
		IdempotencyKey:  key,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := g.refunds.Insert(ctx, nil, refund); err != nil {
		g.releaseRefund(ctx, intent, amount)
		existing, findErr := g.refunds.FindByIdempotencyKey(ctx, nil, key)
		if findErr == nil && existing != nil && existing.PaymentIntentID == intent.ID {
			if existing.Status == domain.RefundStatusSucceeded {
				return existing, nil
			}
			return nil, domain.ErrVersionConflict
		}
		return nil, err
	}
	return refund, nil
}

func (g *Gateway) releaseRefund(ctx context.Context, intent *domain.PaymentIntent, amount int64) {
	if err := g.intents.ReleaseRefund(context.WithoutCancel(ctx), nil, intent.ID, amount); err != nil {
		g.log.Error("failed to release refund reservation",
			zap.String("payment_intent_id", intent.ID.String()),
			zap.Int64("amount", amount),
			zap.Error(err))
	}
}
