package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/observability"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestRetentionJobPurgesOldRows(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	repos := repository.Provide(db)

	for i, age := range []int{1, 29, 31, 90} {
		require.NoError(t, repos.WebhookEvents.Insert(ctx, nil, &domain.WebhookEventRecord{
			ID:              "stripe:evt_" + string(rune('a'+i)),
			Provider:        domain.ProviderStripe,
			ProviderEventID: "evt",
			Type:            domain.EventTypePaymentSucceeded,
			OccurredAt:      now.AddDate(0, 0, -age),
			ReceivedAt:      now.AddDate(0, 0, -age),
		}))
	}
	for i, age := range []int{10, 100} {
		require.NoError(t, repos.UsageEvents.Insert(ctx, nil, &domain.UsageEventRecord{
			ID:             snowflake.ID(i + 1),
			Provider:       domain.ProviderPolar,
			CustomerID:     "cus_1",
			EventName:      "api_call",
			Value:          1,
			Timestamp:      now.AddDate(0, 0, -age),
			IdempotencyKey: "k",
			ForwardedAt:    now.AddDate(0, 0, -age),
		}))
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	var cfg config.Config
	cfg.Webhook.RetentionDays = 30
	cfg.Usage.LedgerDays = 90

	s := NewScheduler(Params{
		Cfg:           cfg,
		Log:           zap.NewNop(),
		Clock:         clock.NewManual(now),
		WebhookEvents: repos.WebhookEvents,
		UsageEvents:   repos.UsageEvents,
		Metrics:       metrics,
	})
	require.NoError(t, s.RetentionJob(ctx))

	var webhooks, usage int64
	require.NoError(t, db.Model(&domain.WebhookEventRecord{}).Count(&webhooks).Error)
	require.NoError(t, db.Model(&domain.UsageEventRecord{}).Count(&usage).Error)
	assert.Equal(t, int64(2), webhooks)
	assert.Equal(t, int64(1), usage)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.RetentionPurged.WithLabelValues("webhook_events")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RetentionPurged.WithLabelValues("usage_events")))
}

func TestRetentionJobDisabled(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))
	repos := repository.Provide(db)

	s := NewScheduler(Params{
		Log:           zap.NewNop(),
		Clock:         clock.SystemClock{},
		WebhookEvents: repos.WebhookEvents,
		UsageEvents:   repos.UsageEvents,
	})
	assert.NoError(t, s.RetentionJob(context.Background()))
}
