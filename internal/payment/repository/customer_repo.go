package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"gorm.io/gorm"
)

type customerRepo struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) domain.CustomerRepository {
	return &customerRepo{db: db}
}

func (r *customerRepo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Omit("Links").Create(customer).Error
}

func (r *customerRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Customer, error) {
	if db == nil {
		db = r.db
	}
	var customer domain.Customer
	err := db.WithContext(ctx).
		Preload("Links").
		Where("id = ? AND deleted_at IS NULL", id).
		First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *customerRepo) SoftDelete(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	if db == nil {
		db = r.db
	}
	res := db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]any{
			"deleted_at": at,
			"updated_at": at,
			"version":    gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrCustomerNotFound
	}
	return nil
}

func (r *customerRepo) InsertLink(ctx context.Context, db *gorm.DB, link *domain.CustomerProviderLink) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Create(link).Error
}

func (r *customerRepo) FindLink(ctx context.Context, db *gorm.DB, customerID snowflake.ID, provider domain.ProviderName) (*domain.CustomerProviderLink, error) {
	if db == nil {
		db = r.db
	}
	var link domain.CustomerProviderLink
	err := db.WithContext(ctx).
		Where("customer_id = ? AND provider = ?", customerID, provider).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}

func (r *customerRepo) FindLinkByProviderCustomerID(ctx context.Context, db *gorm.DB, provider domain.ProviderName, providerCustomerID string) (*domain.CustomerProviderLink, error) {
	if db == nil {
		db = r.db
	}
	var link domain.CustomerProviderLink
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_customer_id = ?", provider, providerCustomerID).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}

func (r *customerRepo) ListLinks(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]domain.CustomerProviderLink, error) {
	if db == nil {
		db = r.db
	}
	var links []domain.CustomerProviderLink
	err := db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at ASC").
		Find(&links).Error
	return links, err
}
