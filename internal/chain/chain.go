// Package chain runs an ordered list of interchangeable strategies until one
// succeeds, tracking per-strategy health across invocations.
//
// Strategies are tried strictly in the order they were added. A strategy is
// skipped only while its health is Disabled. Transient failures are retried
// with backoff up to the attempt budget and leave the strategy Degraded;
// permanent failures disable it after a single attempt; skip failures fall
// through for the current input without touching health.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Health is the rolling state of a strategy.
type Health int

const (
	Healthy Health = iota
	Degraded
	Disabled
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("health(%d)", int(h))
	}
}

// Outcome labels a single attempt for observers.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient"
	OutcomePermanent Outcome = "permanent"
	OutcomeSkip      Outcome = "skip"
	OutcomeFatal     Outcome = "fatal"
)

func outcomeOf(k Kind) Outcome {
	switch k {
	case KindPermanent:
		return OutcomePermanent
	case KindSkip:
		return OutcomeSkip
	case KindFatal:
		return OutcomeFatal
	default:
		return OutcomeTransient
	}
}

// Observer receives attempt outcomes and health changes. Implementations must
// be safe for concurrent use.
type Observer interface {
	ObserveAttempt(chain, strategy string, outcome Outcome)
	ObserveHealth(chain, strategy string, health Health)
}

// AttemptFunc performs one attempt of a strategy.
type AttemptFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

type config struct {
	maxAttempts    int
	backoff        Backoff
	attemptTimeout time.Duration
	logger         *slog.Logger
	observer       Observer
}

// Option configures a Chain.
type Option func(*config)

// WithMaxAttempts sets the default attempt budget per strategy (minimum 1).
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		if n < 1 {
			n = 1
		}
		c.maxAttempts = n
	}
}

// WithBackoff sets the delay policy between transient failures.
func WithBackoff(b Backoff) Option {
	return func(c *config) {
		if b != nil {
			c.backoff = b
		}
	}
}

// WithAttemptTimeout bounds every attempt. A timed out attempt is transient.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *config) { c.attemptTimeout = d }
}

// WithLogger sets the logger used for attempt and health messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver attaches an observer, typically metrics.
func WithObserver(o Observer) Option {
	return func(c *config) { c.observer = o }
}

type strategyConfig struct {
	maxAttempts    int
	attemptTimeout time.Duration
	disableAfter   int
}

// StrategyOption configures a single strategy.
type StrategyOption func(*strategyConfig)

// Attempts overrides the chain's attempt budget for one strategy.
func Attempts(n int) StrategyOption {
	return func(s *strategyConfig) {
		if n < 1 {
			n = 1
		}
		s.maxAttempts = n
	}
}

// Timeout overrides the chain's attempt timeout for one strategy.
func Timeout(d time.Duration) StrategyOption {
	return func(s *strategyConfig) { s.attemptTimeout = d }
}

// DisableAfter disables the strategy once it has failed n consecutive
// invocations, whatever the failure kind. Zero means never.
func DisableAfter(n int) StrategyOption {
	return func(s *strategyConfig) { s.disableAfter = n }
}

type strategy[In, Out any] struct {
	name string
	fn   AttemptFunc[In, Out]
	cfg  strategyConfig

	// guarded by Chain.mu
	health      Health
	attempts    int
	successes   int
	failures    int
	consecutive int
	lastErr     error
}

// Status is a point-in-time view of one strategy.
type Status struct {
	Name                string
	Health              Health
	Attempts            int
	Successes           int
	Failures            int
	ConsecutiveFailures int
	LastError           error
}

// Chain is an ordered set of strategies. Each component owns its own chain;
// Execute is safe for concurrent use.
type Chain[In, Out any] struct {
	name string
	cfg  config

	mu         sync.Mutex
	strategies []*strategy[In, Out]
}

// New creates an empty chain.
func New[In, Out any](name string, opts ...Option) *Chain[In, Out] {
	cfg := config{
		maxAttempts: 1,
		backoff:     None(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Chain[In, Out]{name: name, cfg: cfg}
}

// Name returns the chain name.
func (c *Chain[In, Out]) Name() string { return c.name }

// Add appends a strategy. Order of Add calls is the order of preference.
func (c *Chain[In, Out]) Add(name string, fn AttemptFunc[In, Out], opts ...StrategyOption) *Chain[In, Out] {
	sc := strategyConfig{
		maxAttempts:    c.cfg.maxAttempts,
		attemptTimeout: c.cfg.attemptTimeout,
	}
	for _, opt := range opts {
		opt(&sc)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategies = append(c.strategies, &strategy[In, Out]{name: name, fn: fn, cfg: sc})
	return c
}

// Len returns the number of registered strategies.
func (c *Chain[In, Out]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.strategies)
}

// Execute runs strategies in order and returns the first success. When every
// strategy fails it returns an *ExhaustedError. A fatal failure or a canceled
// ctx stops the chain at once.
func (c *Chain[In, Out]) Execute(ctx context.Context, in In) (Out, error) {
	var zero Out

	c.mu.Lock()
	strategies := append([]*strategy[In, Out](nil), c.strategies...)
	c.mu.Unlock()

	var failures []Failure
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if c.healthOf(s) == Disabled {
			continue
		}

		out, attempts, err := c.run(ctx, s, in)
		if err == nil {
			c.recordSuccess(s, attempts)
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		kind := KindOf(err)
		c.recordFailure(s, kind, attempts, err)
		if kind == KindFatal {
			return zero, err
		}
		failures = append(failures, Failure{Strategy: s.name, Kind: kind, Attempts: attempts, Err: err})
	}

	return zero, &ExhaustedError{Chain: c.name, Failures: failures}
}

func (c *Chain[In, Out]) run(ctx context.Context, s *strategy[In, Out], in In) (Out, int, error) {
	budget := retry.WithMaxRetries(uint64(s.cfg.maxAttempts-1), c.cfg.backoff())
	attempts := 0

	out, err := retry.DoValue(ctx, budget, func(ctx context.Context) (Out, error) {
		attempts++
		out, err := c.attempt(ctx, s, in)
		if err == nil {
			c.observeAttempt(s.name, OutcomeSuccess)
			return out, nil
		}

		kind := KindOf(err)
		c.observeAttempt(s.name, outcomeOf(kind))
		c.cfg.logger.Debug("strategy attempt failed",
			"chain", c.name, "strategy", s.name, "attempt", attempts,
			"max_attempts", s.cfg.maxAttempts, "kind", kind.String(), "error", err)

		if kind == KindTransient {
			return out, retry.RetryableError(err)
		}
		return out, err
	})
	return out, attempts, err
}

func (c *Chain[In, Out]) attempt(ctx context.Context, s *strategy[In, Out], in In) (Out, error) {
	if s.cfg.attemptTimeout <= 0 {
		return s.fn(ctx, in)
	}

	actx, cancel := context.WithTimeout(ctx, s.cfg.attemptTimeout)
	defer cancel()

	out, err := s.fn(actx, in)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		err = Transient(fmt.Errorf("attempt timed out after %s: %w", s.cfg.attemptTimeout, err))
	}
	return out, err
}

func (c *Chain[In, Out]) healthOf(s *strategy[In, Out]) Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.health
}

func (c *Chain[In, Out]) recordSuccess(s *strategy[In, Out], attempts int) {
	c.mu.Lock()
	s.attempts += attempts
	s.successes++
	s.consecutive = 0
	changed := s.health == Degraded
	if changed {
		s.health = Healthy
	}
	c.mu.Unlock()

	if changed {
		c.cfg.logger.Info("strategy recovered", "chain", c.name, "strategy", s.name)
		c.observeHealth(s.name, Healthy)
	}
}

func (c *Chain[In, Out]) recordFailure(s *strategy[In, Out], kind Kind, attempts int, err error) {
	c.mu.Lock()
	s.attempts += attempts
	s.failures++
	s.consecutive++
	s.lastErr = err

	prev := s.health
	next := prev
	switch kind {
	case KindPermanent:
		next = Disabled
	case KindTransient:
		if prev != Disabled {
			next = Degraded
		}
	}
	if s.cfg.disableAfter > 0 && s.consecutive >= s.cfg.disableAfter {
		next = Disabled
	}
	s.health = next
	consecutive := s.consecutive
	c.mu.Unlock()

	if next == prev {
		return
	}
	switch next {
	case Disabled:
		c.cfg.logger.Warn("strategy disabled",
			"chain", c.name, "strategy", s.name, "consecutive_failures", consecutive, "error", err)
	case Degraded:
		c.cfg.logger.Info("strategy degraded",
			"chain", c.name, "strategy", s.name, "attempts", attempts, "error", err)
	}
	c.observeHealth(s.name, next)
}

// Disable marks a strategy disabled with reason as its last error. It is a
// no-op for unknown names.
func (c *Chain[In, Out]) Disable(name string, reason error) {
	c.setHealth(name, Disabled, reason)
}

// Reset returns a strategy to Healthy and clears its consecutive failures.
func (c *Chain[In, Out]) Reset(name string) {
	c.setHealth(name, Healthy, nil)
}

func (c *Chain[In, Out]) setHealth(name string, h Health, reason error) {
	c.mu.Lock()
	var changed bool
	for _, s := range c.strategies {
		if s.name != name {
			continue
		}
		changed = s.health != h
		s.health = h
		if h == Healthy {
			s.consecutive = 0
		}
		if reason != nil {
			s.lastErr = reason
		}
	}
	c.mu.Unlock()

	if changed {
		c.observeHealth(name, h)
	}
}

// Health returns the current health of the named strategy.
func (c *Chain[In, Out]) Health(name string) (Health, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.strategies {
		if s.name == name {
			return s.health, true
		}
	}
	return Healthy, false
}

// Snapshot returns the status of every strategy in declaration order.
func (c *Chain[In, Out]) Snapshot() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Status, 0, len(c.strategies))
	for _, s := range c.strategies {
		out = append(out, Status{
			Name:                s.name,
			Health:              s.health,
			Attempts:            s.attempts,
			Successes:           s.successes,
			Failures:            s.failures,
			ConsecutiveFailures: s.consecutive,
			LastError:           s.lastErr,
		})
	}
	return out
}

func (c *Chain[In, Out]) observeAttempt(strategy string, o Outcome) {
	if c.cfg.observer != nil {
		c.cfg.observer.ObserveAttempt(c.name, strategy, o)
	}
}

func (c *Chain[In, Out]) observeHealth(strategy string, h Health) {
	if c.cfg.observer != nil {
		c.cfg.observer.ObserveHealth(c.name, strategy, h)
	}
}
