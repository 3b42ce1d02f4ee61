package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/observability"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const retentionInterval = time.Hour

var Module = fx.Module("scheduler",
	fx.Provide(NewScheduler),
)

type Params struct {
	fx.In

	Cfg           config.Config
	Log           *zap.Logger
	Clock         clock.Clock
	WebhookEvents domain.WebhookEventRepository
	UsageEvents   domain.UsageEventRepository
	Metrics       *observability.Metrics `optional:"true"`
}

type Scheduler struct {
	cfg           config.Config
	log           *zap.Logger
	clock         clock.Clock
	webhookEvents domain.WebhookEventRepository
	usageEvents   domain.UsageEventRepository
	metrics       *observability.Metrics

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(p Params) *Scheduler {
	return &Scheduler{
		cfg:           p.Cfg,
		log:           p.Log.Named("scheduler"),
		clock:         p.Clock,
		webhookEvents: p.WebhookEvents,
		usageEvents:   p.UsageEvents,
		metrics:       p.Metrics,
		stop:          make(chan struct{}),
	}
}

// Start runs the retention job once immediately and then every hour until
// Stop is called.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(retentionInterval)
		defer ticker.Stop()

		for {
			s.runRetention()
			select {
			case <-ticker.C:
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) runRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := s.RetentionJob(ctx); err != nil {
		s.log.Error("retention job failed", zap.Error(err))
	}
}
