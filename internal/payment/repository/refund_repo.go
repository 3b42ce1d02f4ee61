package repository

import (
	"context"
	"errors"

	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"gorm.io/gorm"
)

type refundRepo struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) domain.RefundRepository {
	return &refundRepo{db: db}
}

func (r *refundRepo) Insert(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Create(refund).Error
}

func (r *refundRepo) Update(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Save(refund).Error
}

func (r *refundRepo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.Refund, error) {
	if db == nil {
		db = r.db
	}
	var refund domain.Refund
	if err := db.WithContext(ctx).Where("idempotency_key = ?", key).First(&refund).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &refund, nil
}
