package scheduler

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// RetentionJob purges webhook events and usage ledger rows past their
// retention. A non-positive retention disables the purge for that table.
func (s *Scheduler) RetentionJob(ctx context.Context) error {
	now := s.clock.Now(ctx)
	var result *multierror.Error

	if days := s.cfg.Webhook.RetentionDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days)
		deleted, err := s.webhookEvents.DeleteReceivedBefore(ctx, nil, cutoff)
		if err != nil {
			result = multierror.Append(result, err)
		} else {
			s.metrics.ObservePurge("webhook_events", deleted)
			s.log.Info("webhook events purged", zap.Time("cutoff", cutoff), zap.Int64("deleted", deleted))
		}
	} else {
		s.log.Info("webhook retention disabled", zap.Int("days", days))
	}

	if days := s.cfg.Usage.LedgerDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days)
		deleted, err := s.usageEvents.DeleteForwardedBefore(ctx, nil, cutoff)
		if err != nil {
			result = multierror.Append(result, err)
		} else {
			s.metrics.ObservePurge("usage_events", deleted)
			s.log.Info("usage ledger purged", zap.Time("cutoff", cutoff), zap.Int64("deleted", deleted))
		}
	} else {
		s.log.Info("usage ledger retention disabled", zap.Int("days", days))
	}

	return result.ErrorOrNil()
}
