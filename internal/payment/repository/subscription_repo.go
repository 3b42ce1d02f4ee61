package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"gorm.io/gorm"
)

type subscriptionRepo struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) domain.SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

func (r *subscriptionRepo) Insert(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	if db == nil {
		db = r.db
	}
	if sub.Version == 0 {
		sub.Version = 1
	}
	return db.WithContext(ctx).Create(sub).Error
}

func (r *subscriptionRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	if db == nil {
		db = r.db
	}
	var sub domain.Subscription
	if err := db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepo) FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, provider domain.ProviderName, providerSubscriptionID string) (*domain.Subscription, error) {
	if db == nil {
		db = r.db
	}
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepo) UpdateVersioned(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	if db == nil {
		db = r.db
	}
	now := time.Now().UTC()
	expected := sub.Version
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, expected).
		Updates(map[string]any{
			"provider_subscription_id": sub.ProviderSubscriptionID,
			"plan_id":                  sub.PlanID,
			"status":                   sub.Status,
			"current_period_start":     sub.CurrentPeriodStart,
			"current_period_end":       sub.CurrentPeriodEnd,
			"trial_end":                sub.TrialEnd,
			"cancel_at":                sub.CancelAt,
			"cancel_at_period_end":     sub.CancelAtPeriodEnd,
			"canceled_at":              sub.CanceledAt,
			"source":                   sub.Source,
			"last_event_at":            sub.LastEventAt,
			"version":                  expected + 1,
			"updated_at":               now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	sub.Version = expected + 1
	sub.UpdatedAt = now
	return nil
}
