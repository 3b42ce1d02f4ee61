package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/observability"
	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	"github.com/railzwaylabs/paygate/internal/payment/breaker"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/idempotency"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	doneKeyPrefix = "usage:done:"
	lockKeyPrefix = "usage:lock:"
)

var Module = fx.Module("payment.usage",
	fx.Provide(
		NewIngestor,
		func(i *Ingestor) domain.UsageIngestor { return i },
	),
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Clock    clock.Clock
	Node     *snowflake.Node
	Adapters *adapters.Configured
	Store    idempotency.Store
	Ledger   domain.UsageEventRepository
	Breakers *breaker.Set
	Metrics  *observability.Metrics `optional:"true"`
}

// Ingestor forwards usage events to the usage-billing provider at most once
// per idempotency key within the retention window.
type Ingestor struct {
	log      *zap.Logger
	cfg      config.UsageConfig
	timeout  time.Duration
	clock    clock.Clock
	node     *snowflake.Node
	adapters *adapters.Configured
	store    idempotency.Store
	ledger   domain.UsageEventRepository
	breakers *breaker.Set
	metrics  *observability.Metrics
}

func NewIngestor(p Params) *Ingestor {
	return &Ingestor{
		log:      p.Log.Named("payment.usage"),
		cfg:      p.Cfg.Usage,
		timeout:  p.Cfg.ProviderTimeout,
		clock:    p.Clock,
		node:     p.Node,
		adapters: p.Adapters,
		store:    p.Store,
		ledger:   p.Ledger,
		breakers: p.Breakers,
		metrics:  p.Metrics,
	}
}

// Ingest is safe to call repeatedly with the same key. A concurrent call for
// a key that is still being forwarded gets ErrUsageIngestInFlight and should
// retry; the forward is never issued twice.
func (i *Ingestor) Ingest(ctx context.Context, event domain.UsageEvent) error {
	reporter, provider, ok := i.adapters.UsageReporter()
	if !ok {
		return fmt.Errorf("%w: no usage billing provider configured", domain.ErrUnsupportedOperation)
	}

	doneKey := doneKeyPrefix + event.IdempotencyKey
	lockKey := lockKeyPrefix + event.IdempotencyKey

	done, err := i.store.Exists(ctx, doneKey)
	if err != nil {
		return err
	}
	if done {
		i.metrics.ObserveUsage("duplicate")
		return nil
	}

	claimed, err := i.store.Claim(ctx, lockKey, i.cfg.InFlightTTL)
	if err != nil {
		return err
	}
	if !claimed {
		i.metrics.ObserveUsage("in_flight")
		return domain.ErrUsageIngestInFlight
	}
	defer i.release(ctx, lockKey)

	// another caller may have finished between the check and the claim
	done, err = i.store.Exists(ctx, doneKey)
	if err != nil {
		return err
	}
	if done {
		i.metrics.ObserveUsage("duplicate")
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = i.clock.Now(ctx)
	}
	if err := i.forward(ctx, provider, reporter, event); err != nil {
		i.metrics.ObserveUsage("failed")
		i.log.Warn("usage forward failed",
			zap.String("provider", provider.String()),
			zap.String("idempotency_key", event.IdempotencyKey),
			zap.Error(err))
		return err
	}

	if err := i.store.Mark(ctx, doneKey, i.cfg.RetentionWindow); err != nil {
		// provider already accepted the event, so the call still succeeds
		i.log.Error("failed to mark usage event forwarded",
			zap.String("idempotency_key", event.IdempotencyKey),
			zap.Error(err))
	}
	i.record(ctx, provider, event)
	i.metrics.ObserveUsage("forwarded")
	return nil
}

func (i *Ingestor) forward(ctx context.Context, provider domain.ProviderName, reporter domain.UsageReporter, event domain.UsageEvent) error {
	var b *breaker.Breaker
	if i.breakers != nil {
		b = i.breakers.For(provider)
		if !b.Allow(ctx) {
			return domain.NewRetryableError(provider, "report_usage", 0, domain.ErrNoProviderAvailable)
		}
	}

	callCtx := ctx
	if i.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}
	start := time.Now()
	err := reporter.ReportUsage(callCtx, event)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = domain.NewRetryableError(provider, "report_usage", 0, err)
	}
	if b != nil {
		b.Record(ctx, err)
	}
	i.metrics.ObserveProviderCall(provider.String(), "report_usage", outcome(err), time.Since(start))
	return err
}

func (i *Ingestor) record(ctx context.Context, provider domain.ProviderName, event domain.UsageEvent) {
	if i.ledger == nil || i.node == nil {
		return
	}
	entry := &domain.UsageEventRecord{
		ID:             i.node.Generate(),
		Provider:       provider,
		CustomerID:     event.CustomerID,
		EventName:      event.EventName,
		Value:          event.Value,
		Timestamp:      event.Timestamp,
		IdempotencyKey: event.IdempotencyKey,
		Metadata:       datatypes.JSONMap(event.Metadata),
		ForwardedAt:    i.clock.Now(ctx),
	}
	if err := i.ledger.Insert(ctx, nil, entry); err != nil {
		i.log.Warn("failed to write usage ledger row",
			zap.String("idempotency_key", event.IdempotencyKey),
			zap.Error(err))
	}
}

func (i *Ingestor) release(ctx context.Context, key string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := i.store.Release(releaseCtx, key); err != nil {
		i.log.Warn("failed to release usage lock", zap.String("key", key), zap.Error(err))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case domain.IsRetryable(err):
		return "retryable"
	default:
		return "terminal"
	}
}
