package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

type Settings struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
}

func DefaultSettings() Settings {
	return Settings{FailureThreshold: 5, Window: time.Minute, Cooldown: 30 * time.Second}
}

type Snapshot struct {
	State    State
	Failures int
	OpenedAt *time.Time
}

// Breaker trips after FailureThreshold consecutive retryable failures that
// all fall within Window. After Cooldown exactly one probe is let through;
// its outcome closes or reopens the breaker.
type Breaker struct {
	mu       sync.Mutex
	settings Settings
	clock    clock.Clock
	onChange func(State)

	state        State
	failures     int
	firstFailure time.Time
	openedAt     time.Time
	probing      bool
}

func New(settings Settings, clk clock.Clock, onChange func(State)) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultSettings().FailureThreshold
	}
	if settings.Window <= 0 {
		settings.Window = DefaultSettings().Window
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = DefaultSettings().Cooldown
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Breaker{settings: settings, clock: clk, onChange: onChange}
}

// Available reports whether the router may pick this provider. It never
// changes state.
func (b *Breaker) Available(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		return b.cooledDown(ctx)
	case StateHalfOpen:
		return !b.probing
	default:
		return true
	}
}

// Allow admits a call. An open breaker whose cooldown elapsed moves to
// half-open and admits the caller as the single probe.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if !b.cooledDown(ctx) {
			return false
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// Record feeds the outcome of an admitted call. Only retryable provider
// failures count against the provider; a terminal decline proves it is up.
func (b *Breaker) Record(ctx context.Context, err error) {
	if err != nil && domain.IsRetryable(err) {
		b.recordFailure(ctx)
		return
	}
	b.recordSuccess()
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.firstFailure = time.Time{}
	b.probing = false
	if b.state != StateClosed {
		b.openedAt = time.Time{}
		b.setState(StateClosed)
	}
}

func (b *Breaker) recordFailure(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now(ctx)

	if b.state == StateHalfOpen {
		b.trip(now)
		return
	}
	if b.state == StateOpen {
		return
	}

	if b.failures == 0 || now.Sub(b.firstFailure) > b.settings.Window {
		b.failures = 1
		b.firstFailure = now
	} else {
		b.failures++
	}
	if b.failures >= b.settings.FailureThreshold {
		b.trip(now)
	}
}

func (b *Breaker) trip(now time.Time) {
	b.openedAt = now
	b.probing = false
	b.setState(StateOpen)
}

func (b *Breaker) cooledDown(ctx context.Context) bool {
	return !b.clock.Now(ctx).Before(b.openedAt.Add(b.settings.Cooldown))
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.state = s
	if b.onChange != nil {
		b.onChange(s)
	}
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := Snapshot{State: b.state, Failures: b.failures}
	if !b.openedAt.IsZero() {
		opened := b.openedAt
		snap.OpenedAt = &opened
	}
	return snap
}
