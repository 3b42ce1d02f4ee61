package webhook

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/observability"
	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/events"
	"github.com/railzwaylabs/paygate/internal/payment/idempotency"
	"github.com/railzwaylabs/paygate/internal/security/vault"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const dedupeKeyPrefix = "webhook:"

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Clock    clock.Clock
	Adapters *adapters.Configured
	Store    idempotency.Store
	Events   domain.WebhookEventRepository
	Applier  domain.EventApplier
	Bus      *events.Bus
	Vault    vault.Provider
	Metrics  *observability.Metrics `optional:"true"`
}

// Processor runs the inbound pipeline: verify, replay window, normalize,
// dedupe, persist, reconcile, dispatch.
type Processor struct {
	log      *zap.Logger
	cfg      config.WebhookConfig
	clock    clock.Clock
	adapters *adapters.Configured
	store    idempotency.Store
	events   domain.WebhookEventRepository
	applier  domain.EventApplier
	bus      *events.Bus
	vault    vault.Provider
	metrics  *observability.Metrics
}

func NewProcessor(p Params) *Processor {
	return &Processor{
		log:      p.Log.Named("payment.webhook"),
		cfg:      p.Cfg.Webhook,
		clock:    p.Clock,
		adapters: p.Adapters,
		store:    p.Store,
		events:   p.Events,
		applier:  p.Applier,
		bus:      p.Bus,
		vault:    p.Vault,
		metrics:  p.Metrics,
	}
}

func (p *Processor) Process(ctx context.Context, provider string, payload []byte, headers http.Header) (*domain.WebhookResult, error) {
	name, err := domain.ParseProviderName(provider)
	if err != nil {
		return nil, domain.ErrProviderNotFound
	}
	adapter, ok := p.adapters.Get(name)
	if !ok {
		return nil, domain.ErrProviderNotFound
	}

	if !adapter.ValidateWebhookSignature(payload, headers) {
		p.observe(name, "invalid_signature")
		p.log.Warn("webhook signature rejected", zap.String("provider", name.String()))
		return nil, domain.ErrSignatureInvalid
	}
	if !p.withinReplayWindow(ctx, adapter, headers) {
		p.observe(name, "replay_rejected")
		p.log.Warn("webhook outside replay window", zap.String("provider", name.String()))
		return nil, domain.ErrSignatureInvalid
	}

	event, err := adapter.NormalizeWebhookEvent(ctx, payload, headers)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			p.observe(name, "ignored")
			p.log.Debug("webhook event ignored", zap.String("provider", name.String()))
			return &domain.WebhookResult{Ignored: true}, nil
		}
		p.observe(name, "invalid_payload")
		return nil, err
	}

	key := dedupeKeyPrefix + event.ID
	claimed, err := p.store.Claim(ctx, key, p.cfg.ProcessingTTL)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return p.duplicate(ctx, name, event), nil
	}

	processed, err := p.persist(ctx, event, payload)
	if err != nil {
		p.release(ctx, key)
		return nil, err
	}
	if processed {
		// the dedupe key was lost (restart, eviction) but the row says done
		if err := p.store.Mark(ctx, key, p.cfg.DedupeTTL); err != nil {
			p.log.Warn("failed to restore webhook dedupe key", zap.String("event_id", event.ID), zap.Error(err))
		}
		return p.duplicate(ctx, name, event), nil
	}

	if err := p.applier.Apply(ctx, event); err != nil {
		p.release(ctx, key)
		if recErr := p.events.SetLastError(ctx, nil, event.ID, err.Error()); recErr != nil {
			p.log.Warn("failed to record webhook error", zap.String("event_id", event.ID), zap.Error(recErr))
		}
		p.observe(name, "failed")
		p.log.Error("webhook reconciliation failed",
			zap.String("provider", name.String()),
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
		return nil, err
	}

	if p.bus != nil {
		if err := p.bus.Publish(ctx, event); err != nil {
			p.log.Warn("webhook handlers reported errors", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	now := p.clock.Now(ctx)
	event.ProcessedAt = &now
	if err := p.events.MarkProcessed(ctx, nil, event.ID, now, ""); err != nil {
		p.log.Warn("failed to mark webhook processed", zap.String("event_id", event.ID), zap.Error(err))
	}
	if err := p.store.Mark(ctx, key, p.cfg.DedupeTTL); err != nil {
		p.log.Warn("failed to extend webhook dedupe key", zap.String("event_id", event.ID), zap.Error(err))
	}

	p.observe(name, "processed")
	p.log.Info("webhook processed",
		zap.String("provider", name.String()),
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)))
	return &domain.WebhookResult{EventID: event.ID, Type: event.Type}, nil
}

// GetWebhookEvent returns the stored record with its payload decrypted.
func (p *Processor) GetWebhookEvent(ctx context.Context, id string) (*domain.WebhookEventRecord, error) {
	record, err := p.events.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrWebhookEventNotFound
	}
	if len(record.RawPayload) > 0 {
		plain, err := p.vault.Open(record.ID, record.RawPayload)
		if err != nil {
			return nil, err
		}
		record.RawPayload = plain
	}
	return record, nil
}

func (p *Processor) withinReplayWindow(ctx context.Context, adapter domain.ProviderAdapter, headers http.Header) bool {
	sentAt, ok := adapter.WebhookTimestamp(headers)
	if !ok {
		return false
	}
	skew := p.clock.Now(ctx).Sub(sentAt)
	if skew < 0 {
		skew = -skew
	}
	return skew <= p.cfg.Tolerance
}

func (p *Processor) duplicate(ctx context.Context, name domain.ProviderName, event *domain.WebhookEvent) *domain.WebhookResult {
	if err := p.events.IncrementDuplicate(ctx, nil, event.ID); err != nil {
		p.log.Warn("failed to count duplicate delivery", zap.String("event_id", event.ID), zap.Error(err))
	}
	p.observe(name, "duplicate")
	p.log.Info("duplicate webhook delivery",
		zap.String("provider", name.String()),
		zap.String("event_id", event.ID))
	return &domain.WebhookResult{EventID: event.ID, Type: event.Type, Duplicate: true}
}

// persist stores the masked, encrypted payload once and reports whether the
// stored row was already processed. A redelivery after a failed
// reconciliation finds the row present but unprocessed.
func (p *Processor) persist(ctx context.Context, event *domain.WebhookEvent, payload []byte) (bool, error) {
	existing, err := p.events.FindByID(ctx, nil, event.ID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return existing.ProcessedAt != nil, nil
	}
	encrypted, err := p.vault.Seal(event.ID, maskPayload(payload))
	if err != nil {
		return false, err
	}
	return false, p.events.Insert(ctx, nil, &domain.WebhookEventRecord{
		ID:              event.ID,
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		Type:            event.Type,
		OccurredAt:      event.OccurredAt,
		RawPayload:      encrypted,
		ReceivedAt:      p.clock.Now(ctx),
	})
}

func (p *Processor) release(ctx context.Context, key string) {
	// the claim must not outlive a failed attempt or redelivery is blocked
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.store.Release(releaseCtx, key); err != nil {
		p.log.Warn("failed to release webhook claim", zap.String("key", key), zap.Error(err))
	}
}

func (p *Processor) observe(provider domain.ProviderName, outcome string) {
	p.metrics.ObserveWebhook(provider.String(), outcome)
}
