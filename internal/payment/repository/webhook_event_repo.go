package repository

import (
	"context"
	"errors"
	"time"

	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"gorm.io/gorm"
)

type webhookEventRepo struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) domain.WebhookEventRepository {
	return &webhookEventRepo{db: db}
}

func (r *webhookEventRepo) Insert(ctx context.Context, db *gorm.DB, record *domain.WebhookEventRecord) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Create(record).Error
}

func (r *webhookEventRepo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.WebhookEventRecord, error) {
	if db == nil {
		db = r.db
	}
	var record domain.WebhookEventRecord
	if err := db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *webhookEventRepo) MarkProcessed(ctx context.Context, db *gorm.DB, id string, at time.Time, lastError string) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).
		Model(&domain.WebhookEventRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_at": at,
			"last_error":   lastError,
		}).Error
}

func (r *webhookEventRepo) SetLastError(ctx context.Context, db *gorm.DB, id string, lastError string) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).
		Model(&domain.WebhookEventRecord{}).
		Where("id = ?", id).
		Update("last_error", lastError).Error
}

func (r *webhookEventRepo) IncrementDuplicate(ctx context.Context, db *gorm.DB, id string) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).
		Model(&domain.WebhookEventRecord{}).
		Where("id = ?", id).
		Update("duplicate_count", gorm.Expr("duplicate_count + 1")).Error
}

func (r *webhookEventRepo) DeleteReceivedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		db = r.db
	}
	res := db.WithContext(ctx).
		Where("received_at < ?", cutoff).
		Delete(&domain.WebhookEventRecord{})
	return res.RowsAffected, res.Error
}
