package repository

import (
	"context"
	"time"

	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"gorm.io/gorm"
)

type usageEventRepo struct {
	db *gorm.DB
}

func NewUsageEventRepository(db *gorm.DB) domain.UsageEventRepository {
	return &usageEventRepo{db: db}
}

func (r *usageEventRepo) Insert(ctx context.Context, db *gorm.DB, record *domain.UsageEventRecord) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Create(record).Error
}

func (r *usageEventRepo) DeleteForwardedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		db = r.db
	}
	res := db.WithContext(ctx).
		Where("forwarded_at < ?", cutoff).
		Delete(&domain.UsageEventRecord{})
	return res.RowsAffected, res.Error
}
