package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"gorm.io/gorm"
)

var refundableStatuses = []domain.PaymentIntentStatus{
	domain.PaymentIntentStatusSucceeded,
	domain.PaymentIntentStatusRefunded,
}

type paymentIntentRepo struct {
	db *gorm.DB
}

func NewPaymentIntentRepository(db *gorm.DB) domain.PaymentIntentRepository {
	return &paymentIntentRepo{db: db}
}

func (r *paymentIntentRepo) Insert(ctx context.Context, db *gorm.DB, intent *domain.PaymentIntent) error {
	if db == nil {
		db = r.db
	}
	if intent.Version == 0 {
		intent.Version = 1
	}
	return db.WithContext(ctx).Create(intent).Error
}

func (r *paymentIntentRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentIntent, error) {
	if db == nil {
		db = r.db
	}
	var intent domain.PaymentIntent
	if err := db.WithContext(ctx).First(&intent, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}

func (r *paymentIntentRepo) FindByProviderRef(ctx context.Context, db *gorm.DB, provider domain.ProviderName, providerIntentID, providerSessionID string) (*domain.PaymentIntent, error) {
	if db == nil {
		db = r.db
	}
	if providerIntentID == "" && providerSessionID == "" {
		return nil, nil
	}
	query := db.WithContext(ctx).Where("provider = ?", provider)
	switch {
	case providerIntentID != "" && providerSessionID != "":
		query = query.Where("provider_intent_id = ? OR provider_session_id = ?", providerIntentID, providerSessionID)
	case providerIntentID != "":
		query = query.Where("provider_intent_id = ?", providerIntentID)
	default:
		query = query.Where("provider_session_id = ?", providerSessionID)
	}
	var intent domain.PaymentIntent
	if err := query.Order("created_at DESC").First(&intent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}

// refunded_amount is owned by ReserveRefund and ReleaseRefund.
func (r *paymentIntentRepo) UpdateVersioned(ctx context.Context, db *gorm.DB, intent *domain.PaymentIntent) error {
	if db == nil {
		db = r.db
	}
	now := time.Now().UTC()
	expected := intent.Version
	res := db.WithContext(ctx).
		Model(&domain.PaymentIntent{}).
		Where("id = ? AND version = ?", intent.ID, expected).
		Updates(map[string]any{
			"provider_intent_id":  intent.ProviderIntentID,
			"provider_session_id": intent.ProviderSessionID,
			"amount":              intent.Amount,
			"currency":            intent.Currency,
			"status":              intent.Status,
			"payment_method":      intent.PaymentMethod,
			"error":               intent.Error,
			"decline_reason":      intent.DeclineReason,
			"source":              intent.Source,
			"last_event_at":       intent.LastEventAt,
			"version":             expected + 1,
			"updated_at":          now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	intent.Version = expected + 1
	intent.UpdatedAt = now
	return nil
}

func (r *paymentIntentRepo) ReserveRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64) error {
	if db == nil {
		db = r.db
	}
	if amount <= 0 {
		return domain.NewValidationError("amount", "must be positive")
	}
	res := db.WithContext(ctx).
		Model(&domain.PaymentIntent{}).
		Where("id = ? AND status IN ? AND refunded_amount + ? <= amount", id, refundableStatuses, amount).
		Updates(map[string]any{
			"refunded_amount": gorm.Expr("refunded_amount + ?", amount),
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	intent, err := r.FindByID(ctx, db, id)
	if err != nil {
		return err
	}
	if intent == nil {
		return domain.ErrPaymentIntentNotFound
	}
	if intent.Status != domain.PaymentIntentStatusSucceeded && intent.Status != domain.PaymentIntentStatusRefunded {
		return domain.ErrPaymentNotCaptured
	}
	return domain.ErrRefundExceedsCapturedAmount
}

func (r *paymentIntentRepo) ReleaseRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).
		Model(&domain.PaymentIntent{}).
		Where("id = ? AND refunded_amount >= ?", id, amount).
		Updates(map[string]any{
			"refunded_amount": gorm.Expr("refunded_amount - ?", amount),
			"updated_at":      time.Now().UTC(),
		}).Error
}

// RaiseRefundedAmount records refunds issued outside the gateway, such as
// from a provider dashboard. It only ever increases refunded_amount and never
// past the captured amount.
func (r *paymentIntentRepo) RaiseRefundedAmount(ctx context.Context, db *gorm.DB, id snowflake.ID, refunded int64) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).
		Model(&domain.PaymentIntent{}).
		Where("id = ? AND refunded_amount < ? AND amount >= ?", id, refunded, refunded).
		Updates(map[string]any{
			"refunded_amount": refunded,
			"updated_at":      time.Now().UTC(),
		}).Error
}
