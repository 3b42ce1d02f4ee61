package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	"github.com/railzwaylabs/paygate/internal/payment/breaker"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/idempotency"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockReporter struct {
	domain.ProviderAdapter
	mock.Mock
}

func (m *mockReporter) Name() domain.ProviderName { return domain.ProviderPolar }

func (m *mockReporter) ReportUsage(ctx context.Context, event domain.UsageEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func newIngestor(t *testing.T, reporter *mockReporter, store idempotency.Store, clk clock.Clock) *Ingestor {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewIngestor(Params{
		Log: zap.NewNop(),
		Cfg: config.Config{
			ProviderTimeout: time.Second,
			Usage: config.UsageConfig{
				RetentionWindow: 24 * time.Hour,
				InFlightTTL:     time.Minute,
			},
		},
		Clock:    clk,
		Node:     node,
		Adapters: adapters.NewConfiguredFrom(reporter),
		Store:    store,
		Breakers: breaker.NewSet(breaker.DefaultSettings(), clk, nil, zap.NewNop()),
	})
}

func usageEvent(key string) domain.UsageEvent {
	return domain.UsageEvent{CustomerID: "cust_1", EventName: "api_call", Value: 1, IdempotencyKey: key}
}

func TestIngestForwardsOncePerKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	reporter := &mockReporter{}
	reporter.On("ReportUsage", mock.Anything, mock.Anything).Return(nil).Once()
	ingestor := newIngestor(t, reporter, idempotency.NewRedisStore(client), clock.SystemClock{})
	ctx := context.Background()

	require.NoError(t, ingestor.Ingest(ctx, usageEvent("k1")))
	require.NoError(t, ingestor.Ingest(ctx, usageEvent("k1")))

	reporter.AssertNumberOfCalls(t, "ReportUsage", 1)
	assert.True(t, mr.Exists("paygate:idem:usage:done:k1"))
	assert.False(t, mr.Exists("paygate:idem:usage:lock:k1"))

	mr.FastForward(25 * time.Hour)
	reporter.On("ReportUsage", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, ingestor.Ingest(ctx, usageEvent("k1")))
	reporter.AssertNumberOfCalls(t, "ReportUsage", 2)
}

func TestIngestConcurrentSameKeyForwardsOnce(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	reporter := &mockReporter{}
	started := make(chan struct{})
	release := make(chan struct{})
	reporter.On("ReportUsage", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(nil).Once()
	ingestor := newIngestor(t, reporter, idempotency.NewMemoryStore(clk), clk)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- ingestor.Ingest(ctx, usageEvent("k1")) }()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("forward never started")
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for n := range errs {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs[n] = ingestor.Ingest(ctx, usageEvent("k1"))
		}(n)
	}
	wg.Wait()
	for _, err := range errs {
		assert.ErrorIs(t, err, domain.ErrUsageIngestInFlight)
	}

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, ingestor.Ingest(ctx, usageEvent("k1")))
	reporter.AssertNumberOfCalls(t, "ReportUsage", 1)
}

func TestIngestFailureReleasesLock(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	reporter := &mockReporter{}
	reporter.On("ReportUsage", mock.Anything, mock.Anything).
		Return(domain.NewRetryableError(domain.ProviderPolar, "report_usage", 503, assert.AnError)).Once()
	reporter.On("ReportUsage", mock.Anything, mock.Anything).Return(nil).Once()
	ingestor := newIngestor(t, reporter, idempotency.NewMemoryStore(clk), clk)
	ctx := context.Background()

	err := ingestor.Ingest(ctx, usageEvent("k2"))
	require.ErrorIs(t, err, domain.ErrRetryableProvider)

	require.NoError(t, ingestor.Ingest(ctx, usageEvent("k2")))
	reporter.AssertNumberOfCalls(t, "ReportUsage", 2)
}

func TestIngestWithoutUsageProvider(t *testing.T) {
	clk := clock.NewManual(time.Now())
	ingestor := NewIngestor(Params{
		Log:      zap.NewNop(),
		Clock:    clk,
		Adapters: adapters.NewConfiguredFrom(),
		Store:    idempotency.NewMemoryStore(clk),
	})
	err := ingestor.Ingest(context.Background(), usageEvent("k3"))
	require.ErrorIs(t, err, domain.ErrUnsupportedOperation)
}
