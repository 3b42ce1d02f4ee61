package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))
	return db
}

func seedIntent(t *testing.T, db *gorm.DB, node *snowflake.Node, amount int64, status domain.PaymentIntentStatus) *domain.PaymentIntent {
	t.Helper()
	now := time.Now().UTC()
	intent := &domain.PaymentIntent{
		ID:         node.Generate(),
		Provider:   domain.ProviderStripe,
		Amount:     amount,
		Currency:   "USD",
		Status:     status,
		CustomerID: node.Generate(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, NewPaymentIntentRepository(db).Insert(context.Background(), nil, intent))
	return intent
}

func TestReserveRefundNeverExceedsCapturedAmount(t *testing.T) {
	db := newTestDB(t)
	node, _ := snowflake.NewNode(1)
	repo := NewPaymentIntentRepository(db)
	ctx := context.Background()

	intent := seedIntent(t, db, node, 1000, domain.PaymentIntentStatusSucceeded)

	require.NoError(t, repo.ReserveRefund(ctx, nil, intent.ID, 400))
	require.NoError(t, repo.ReserveRefund(ctx, nil, intent.ID, 600))
	err := repo.ReserveRefund(ctx, nil, intent.ID, 1)
	require.ErrorIs(t, err, domain.ErrRefundExceedsCapturedAmount)

	stored, err := repo.FindByID(ctx, nil, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored.RefundedAmount)
}

func TestReserveRefundConcurrentCallsRespectBound(t *testing.T) {
	db := newTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// shared-cache sqlite reports table locks under concurrent writers
	sqlDB.SetMaxOpenConns(1)
	node, _ := snowflake.NewNode(1)
	repo := NewPaymentIntentRepository(db)
	ctx := context.Background()

	intent := seedIntent(t, db, node, 1000, domain.PaymentIntentStatusSucceeded)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.ReserveRefund(ctx, nil, intent.ID, 300); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, granted)
	stored, err := repo.FindByID(ctx, nil, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(900), stored.RefundedAmount)
}

func TestReserveRefundRequiresCapturedPayment(t *testing.T) {
	db := newTestDB(t)
	node, _ := snowflake.NewNode(1)
	repo := NewPaymentIntentRepository(db)
	ctx := context.Background()

	intent := seedIntent(t, db, node, 1000, domain.PaymentIntentStatusPending)
	require.ErrorIs(t, repo.ReserveRefund(ctx, nil, intent.ID, 100), domain.ErrPaymentNotCaptured)
	require.ErrorIs(t, repo.ReserveRefund(ctx, nil, node.Generate(), 100), domain.ErrPaymentIntentNotFound)
}

func TestReleaseRefundReturnsReservation(t *testing.T) {
	db := newTestDB(t)
	node, _ := snowflake.NewNode(1)
	repo := NewPaymentIntentRepository(db)
	ctx := context.Background()

	intent := seedIntent(t, db, node, 500, domain.PaymentIntentStatusSucceeded)
	require.NoError(t, repo.ReserveRefund(ctx, nil, intent.ID, 500))
	require.NoError(t, repo.ReleaseRefund(ctx, nil, intent.ID, 500))
	require.NoError(t, repo.ReserveRefund(ctx, nil, intent.ID, 200))

	stored, err := repo.FindByID(ctx, nil, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), stored.RefundedAmount)
}

func TestSubscriptionUpdateVersionedDetectsConflict(t *testing.T) {
	db := newTestDB(t)
	node, _ := snowflake.NewNode(1)
	repo := NewSubscriptionRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	sub := &domain.Subscription{
		ID:                     node.Generate(),
		CustomerID:             node.Generate(),
		Provider:               domain.ProviderStripe,
		ProviderSubscriptionID: "sub_123",
		PlanID:                 "price_basic",
		Status:                 domain.SubscriptionStatusActive,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.Add(30 * 24 * time.Hour),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	require.NoError(t, repo.Insert(ctx, nil, sub))

	first, err := repo.FindByID(ctx, nil, sub.ID)
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, nil, sub.ID)
	require.NoError(t, err)

	first.Status = domain.SubscriptionStatusPastDue
	first.Source = domain.WriteSourceWebhook
	require.NoError(t, repo.UpdateVersioned(ctx, nil, first))
	assert.Equal(t, int64(2), first.Version)

	second.CancelAtPeriodEnd = true
	require.ErrorIs(t, repo.UpdateVersioned(ctx, nil, second), domain.ErrVersionConflict)

	stored, err := repo.FindByProviderSubscriptionID(ctx, nil, domain.ProviderStripe, "sub_123")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, stored.Status)
	assert.False(t, stored.CancelAtPeriodEnd)
}

func TestCustomerLinksAreUniquePerProvider(t *testing.T) {
	db := newTestDB(t)
	node, _ := snowflake.NewNode(1)
	repo := NewCustomerRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	customer := &domain.Customer{ID: node.Generate(), Email: "ana@example.com", Country: "MX", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.Insert(ctx, nil, customer))

	require.NoError(t, repo.InsertLink(ctx, nil, &domain.CustomerProviderLink{
		ID: node.Generate(), CustomerID: customer.ID, Provider: domain.ProviderMercadoPago, ProviderCustomerID: "mp_1", CreatedAt: now,
	}))
	require.NoError(t, repo.InsertLink(ctx, nil, &domain.CustomerProviderLink{
		ID: node.Generate(), CustomerID: customer.ID, Provider: domain.ProviderStripe, ProviderCustomerID: "cus_1", CreatedAt: now,
	}))
	err := repo.InsertLink(ctx, nil, &domain.CustomerProviderLink{
		ID: node.Generate(), CustomerID: customer.ID, Provider: domain.ProviderStripe, ProviderCustomerID: "cus_2", CreatedAt: now,
	})
	require.Error(t, err)

	found, err := repo.FindByID(ctx, nil, customer.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Len(t, found.Links, 2)

	link, err := repo.FindLinkByProviderCustomerID(ctx, nil, domain.ProviderMercadoPago, "mp_1")
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, customer.ID, link.CustomerID)

	require.NoError(t, repo.SoftDelete(ctx, nil, customer.ID, now))
	found, err = repo.FindByID(ctx, nil, customer.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
	require.ErrorIs(t, repo.SoftDelete(ctx, nil, customer.ID, now), domain.ErrCustomerNotFound)
}

func TestWebhookEventDuplicateAndRetention(t *testing.T) {
	db := newTestDB(t)
	repo := NewWebhookEventRepository(db)
	ctx := context.Background()

	old := time.Now().UTC().Add(-40 * 24 * time.Hour)
	recent := time.Now().UTC()
	require.NoError(t, repo.Insert(ctx, nil, &domain.WebhookEventRecord{
		ID: "stripe:evt_old", Provider: domain.ProviderStripe, ProviderEventID: "evt_old",
		Type: domain.EventTypePaymentSucceeded, OccurredAt: old, ReceivedAt: old,
	}))
	require.NoError(t, repo.Insert(ctx, nil, &domain.WebhookEventRecord{
		ID: "stripe:evt_new", Provider: domain.ProviderStripe, ProviderEventID: "evt_new",
		Type: domain.EventTypePaymentSucceeded, OccurredAt: recent, ReceivedAt: recent,
	}))

	require.NoError(t, repo.IncrementDuplicate(ctx, nil, "stripe:evt_new"))
	require.NoError(t, repo.MarkProcessed(ctx, nil, "stripe:evt_new", recent, ""))

	record, err := repo.FindByID(ctx, nil, "stripe:evt_new")
	require.NoError(t, err)
	assert.Equal(t, 1, record.DuplicateCount)
	assert.NotNil(t, record.ProcessedAt)

	deleted, err := repo.DeleteReceivedBefore(ctx, nil, recent.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	missing, err := repo.FindByID(ctx, nil, "stripe:evt_old")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRaiseRefundedAmountOnlyIncreases(t *testing.T) {
	db := newTestDB(t)
	node, _ := snowflake.NewNode(1)
	repo := NewPaymentIntentRepository(db)
	ctx := context.Background()

	intent := seedIntent(t, db, node, 1000, domain.PaymentIntentStatusSucceeded)
	require.NoError(t, repo.ReserveRefund(ctx, nil, intent.ID, 400))

	require.NoError(t, repo.RaiseRefundedAmount(ctx, nil, intent.ID, 300))
	require.NoError(t, repo.RaiseRefundedAmount(ctx, nil, intent.ID, 5000))
	stored, err := repo.FindByID(ctx, nil, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), stored.RefundedAmount)

	require.NoError(t, repo.RaiseRefundedAmount(ctx, nil, intent.ID, 700))
	stored, err = repo.FindByID(ctx, nil, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), stored.RefundedAmount)
}
