package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"go.uber.org/zap"
)

type subscription struct {
	name    string
	handler domain.EventHandler
}

// Bus delivers canonical events to registered handlers synchronously, in
// registration order. Handlers for the exact type run before wildcard ones.
type Bus struct {
	mu       sync.RWMutex
	log      *zap.Logger
	handlers map[domain.EventType][]subscription
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		log:      log.Named("payment.events"),
		handlers: make(map[domain.EventType][]subscription),
	}
}

func (b *Bus) Subscribe(eventType domain.EventType, name string, handler domain.EventHandler) {
	if handler == nil {
		return
	}
	if eventType != domain.EventTypeAll && !eventType.IsCanonical() {
		b.log.Warn("subscribing to a non-canonical event type", zap.String("type", string(eventType)), zap.String("handler", name))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], subscription{name: name, handler: handler})
}

func (b *Bus) snapshot(eventType domain.EventType) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	exact := b.handlers[eventType]
	wildcard := b.handlers[domain.EventTypeAll]
	out := make([]subscription, 0, len(exact)+len(wildcard))
	out = append(out, exact...)
	if eventType != domain.EventTypeAll {
		out = append(out, wildcard...)
	}
	return out
}

// Publish runs every handler even when earlier ones fail. The combined error
// is returned for logging; it never affects the webhook acknowledgement.
func (b *Bus) Publish(ctx context.Context, event *domain.WebhookEvent) error {
	if event == nil {
		return nil
	}
	var result *multierror.Error
	for _, sub := range b.snapshot(event.Type) {
		if err := b.invoke(ctx, sub, event); err != nil {
			b.log.Warn("event handler failed",
				zap.String("handler", sub.name),
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)),
				zap.Error(err))
			result = multierror.Append(result, fmt.Errorf("%s: %w", sub.name, err))
		}
	}
	return result.ErrorOrNil()
}

func (b *Bus) invoke(ctx context.Context, sub subscription, event *domain.WebhookEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return sub.handler(ctx, event)
}
