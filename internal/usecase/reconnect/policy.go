// Package reconnect re-establishes a session after its connection drops.
// The protocol client never reconnects by itself; a Policy is layered on
// top and driven by the connection's close events.
package reconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"graphlink/internal/domain"
)

// State is the policy's position in Idle → Backoff(n) → Connecting.
type State int

const (
	StateIdle State = iota
	StateBackoff
	StateConnecting
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBackoff:
		return "backoff"
	case StateConnecting:
		return "connecting"
	case StateExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session is the part of a connection the policy needs.
type Session interface {
	Endpoint() string
}

// DialFunc opens a fresh session.
type DialFunc[S Session] func(ctx context.Context) (S, error)

// Settings bound the retry curve.
type Settings struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	BreakerTimeout time.Duration
}

// Defaults for zero-valued Settings fields.
const (
	defaultMaxAttempts    = 5
	defaultBaseDelay      = 500 * time.Millisecond
	defaultMaxDelay       = 30 * time.Second
	defaultBreakerTimeout = time.Minute
)

// ErrInProgress is returned by Run while another Run is active.
var ErrInProgress = errors.New("reconnect already in progress")

// Policy retries a DialFunc with exponential backoff. Consecutive dial
// failures also feed a circuit breaker; while it is open, Run gives up at
// once instead of hammering an unreachable service.
type Policy[S Session] struct {
	dial     DialFunc[S]
	settings Settings
	breaker  *gobreaker.CircuitBreaker[S]
	bus      domain.EventBus
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	running     bool
	state       State
	attempt     int
	onReconnect []func(S)
}

// Option configures a Policy.
type Option func(*policyOptions)

type policyOptions struct {
	bus    domain.EventBus
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithBus publishes reconnect events to bus.
func WithBus(bus domain.EventBus) Option {
	return func(o *policyOptions) { o.bus = bus }
}

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *policyOptions) { o.logger = logger }
}

// WithSleep replaces the backoff wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *policyOptions) { o.sleep = fn }
}

// New creates a policy around dial.
func New[S Session](dial DialFunc[S], settings Settings, opts ...Option) *Policy[S] {
	o := policyOptions{logger: slog.Default(), sleep: sleepCtx}
	for _, opt := range opts {
		opt(&o)
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = defaultMaxAttempts
	}
	if settings.BaseDelay <= 0 {
		settings.BaseDelay = defaultBaseDelay
	}
	if settings.MaxDelay <= 0 {
		settings.MaxDelay = defaultMaxDelay
	}
	if settings.BreakerTimeout <= 0 {
		settings.BreakerTimeout = defaultBreakerTimeout
	}

	p := &Policy[S]{
		dial:     dial,
		settings: settings,
		bus:      o.bus,
		logger:   o.logger,
		sleep:    o.sleep,
	}
	maxFailures := uint32(settings.MaxAttempts)
	p.breaker = gobreaker.NewCircuitBreaker[S](gobreaker.Settings{
		Name:        "reconnect",
		MaxRequests: 1, // one probe while half-open
		Timeout:     settings.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return p
}

// State returns the current state and the attempt number within the
// current run.
func (p *Policy[S]) State() (State, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.attempt
}

// OnReconnect registers fn to receive each session Run establishes.
func (p *Policy[S]) OnReconnect(fn func(S)) {
	p.mu.Lock()
	p.onReconnect = append(p.onReconnect, fn)
	p.mu.Unlock()
}

// Run dials until a session opens, MaxAttempts dials have failed, the
// breaker is open, or ctx ends. Each attempt waits out its backoff first.
func (p *Policy[S]) Run(ctx context.Context) (S, error) {
	var zero S
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return zero, ErrInProgress
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	var lastErr error
	for attempt := range p.settings.MaxAttempts {
		delay := Backoff(attempt, p.settings.BaseDelay, p.settings.MaxDelay)
		p.transition(StateBackoff, attempt+1)
		p.publish(ctx, domain.EventReconnectScheduled, map[string]any{
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
		})
		p.logger.Info("reconnect scheduled", "attempt", attempt+1, "delay", delay)

		if err := p.sleep(ctx, delay); err != nil {
			p.transition(StateIdle, 0)
			return zero, err
		}

		p.transition(StateConnecting, attempt+1)
		s, err := p.breaker.Execute(func() (S, error) { return p.dial(ctx) })
		if err == nil {
			p.transition(StateIdle, 0)
			p.logger.Info("reconnected", "endpoint", s.Endpoint(), "attempts", attempt+1)
			p.publish(ctx, domain.EventReconnected, map[string]any{"attempts": attempt + 1})
			p.notify(s)
			return s, nil
		}
		if ctx.Err() != nil {
			p.transition(StateIdle, 0)
			return zero, ctx.Err()
		}
		lastErr = err
		p.logger.Warn("reconnect attempt failed", "attempt", attempt+1, "error", err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if Classify(err) == CategoryPermanent {
			p.logger.Warn("reconnect failure is permanent, giving up", "error", err)
			break
		}
	}

	p.transition(StateExhausted, 0)
	p.publish(ctx, domain.EventReconnectExhausted, nil)
	return zero, domain.NewSubSystemError("reconnect", "Policy.Run", domain.ErrReconnectLimit, lastErr.Error())
}

// Watch makes the policy react to connection-closed events for endpoint on
// bus. Closes requested by the caller are ignored. The returned function
// stops watching.
func (p *Policy[S]) Watch(ctx context.Context, bus domain.EventBus, endpoint string) func() {
	return bus.Subscribe(domain.EventConnClosed, func(_ context.Context, ev domain.Event) {
		if ev.Endpoint != endpoint || errors.Is(ev.Err, domain.ErrClosedByCaller) {
			return
		}
		p.logger.Info("connection lost, reconnecting", "endpoint", endpoint, "cause", ev.Err)
		if _, err := p.Run(ctx); err != nil && !errors.Is(err, ErrInProgress) {
			p.logger.Error("reconnect gave up", "endpoint", endpoint, "error", err)
		}
	})
}

func (p *Policy[S]) transition(s State, attempt int) {
	p.mu.Lock()
	p.state = s
	p.attempt = attempt
	p.mu.Unlock()
}

func (p *Policy[S]) notify(s S) {
	p.mu.Lock()
	hooks := append([]func(S){}, p.onReconnect...)
	p.mu.Unlock()
	for _, fn := range hooks {
		fn(s)
	}
}

func (p *Policy[S]) publish(ctx context.Context, typ domain.EventType, payload map[string]any) {
	if p.bus == nil {
		return
	}
	ev := domain.Event{Type: typ}
	if payload != nil {
		ev.Payload, _ = json.Marshal(payload)
	}
	p.bus.Publish(ctx, ev)
}

// Backoff returns the wait before attempt (0-based): base doubled per
// attempt, capped at maxDelay, plus 0-25% jitter.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	delay := maxDelay
	if attempt < 32 {
		if d := base * time.Duration(1<<uint(attempt)); d > 0 && d < maxDelay {
			delay = d
		}
	}
	jitter := time.Duration(rand.Int64N(int64(delay/4) + 1))
	return delay + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
