package repository

import (
	"context"

	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"gorm.io/gorm"
)

type auditRepo struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) domain.AuditRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepo) ListByResource(ctx context.Context, db *gorm.DB, resourceType, resourceID string) ([]domain.AuditLog, error) {
	if db == nil {
		db = r.db
	}
	var entries []domain.AuditLog
	err := db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}
