// Package connectivity holds the resilience primitives shared by the
// outbound clients (trust oracle, relevance judge, search): a circuit
// breaker, bounded retry with exponential backoff, a cancellable sleep,
// and typed errors for remote calls.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the position of a CircuitBreaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass through
	BreakerOpen                         // calls rejected without being attempted
	BreakerHalfOpen                     // probe calls decide whether to close
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Counts is a snapshot of a breaker, for logs and tests.
type Counts struct {
	State     BreakerState
	Failures  int // consecutive failures while closed
	Probes    int // successful probes while half-open
	OpenedAt  time.Time
	Rejected  int64 // calls refused since creation
	Succeeded int64
	Failed    int64
}

// CircuitBreaker stops calling a remote service after consecutive failures
// and lets probe calls through once the cooldown has passed. Safe for
// concurrent use.
type CircuitBreaker struct {
	name     string
	trip     int           // consecutive failures that open the breaker
	cooldown time.Duration // time spent open before probing
	probes   int           // probe successes needed to close
	tripOn   func(error) bool
	now      func() time.Time
	logger   *slog.Logger

	mu sync.Mutex
	c  Counts
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerThreshold sets the consecutive failures that open the breaker.
func WithBreakerThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.trip = n }
}

// WithBreakerResetTimeout sets how long the breaker stays open before it
// lets a probe through.
func WithBreakerResetTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) { cb.cooldown = d }
}

// WithBreakerHalfOpenMax sets the probe successes needed to close again.
func WithBreakerHalfOpenMax(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.probes = n }
}

// WithBreakerClock replaces time.Now.
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = fn }
}

// WithBreakerLogger sets the logger that receives state changes.
func WithBreakerLogger(l *slog.Logger) BreakerOption {
	return func(cb *CircuitBreaker) { cb.logger = l }
}

// WithBreakerTripOn restricts which errors from Do count as failures.
// Errors it rejects are returned to the caller but leave the breaker alone.
func WithBreakerTripOn(fn func(error) bool) BreakerOption {
	return func(cb *CircuitBreaker) { cb.tripOn = fn }
}

// BreakerConfig tunes a breaker from configuration. Zero fields keep the
// defaults of NewCircuitBreaker.
type BreakerConfig struct {
	Threshold    int
	ResetTimeout time.Duration
	HalfOpenMax  int
}

// Options converts c into breaker options.
func (c BreakerConfig) Options() []BreakerOption {
	var opts []BreakerOption
	if c.Threshold > 0 {
		opts = append(opts, WithBreakerThreshold(c.Threshold))
	}
	if c.ResetTimeout > 0 {
		opts = append(opts, WithBreakerResetTimeout(c.ResetTimeout))
	}
	if c.HalfOpenMax > 0 {
		opts = append(opts, WithBreakerHalfOpenMax(c.HalfOpenMax))
	}
	return opts
}

// NewCircuitBreaker returns a closed breaker for the named service. It
// opens after 5 consecutive failures, probes after 30s and closes after 2
// successful probes.
func NewCircuitBreaker(name string, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:     name,
		trip:     5,
		cooldown: 30 * time.Second,
		probes:   2,
		tripOn:   func(error) bool { return true },
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// State returns the current state, moving to half-open when the cooldown
// has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.current()
}

// Counts returns a snapshot of the breaker.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.current()
	return cb.c
}

// Allow reports whether a call may proceed and counts the refusal if not.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.current() == BreakerOpen {
		cb.c.Rejected++
		return false
	}
	return true
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.c.Succeeded++
	switch cb.current() {
	case BreakerClosed:
		cb.c.Failures = 0
	case BreakerHalfOpen:
		cb.c.Probes++
		if cb.c.Probes >= cb.probes {
			cb.move(BreakerClosed)
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.c.Failed++
	switch cb.current() {
	case BreakerClosed:
		cb.c.Failures++
		if cb.c.Failures >= cb.trip {
			cb.move(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.move(BreakerOpen)
	}
}

// Do runs fn unless the breaker is open, in which case it returns
// *ErrCircuitOpen without calling fn. Errors caused by ctx ending are not
// held against the service.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !cb.Allow() {
		return &ErrCircuitOpen{Service: cb.name}
	}
	err := fn(ctx)
	switch {
	case err == nil:
		cb.RecordSuccess()
	case ctx.Err() != nil, !cb.tripOn(err):
	default:
		cb.RecordFailure()
	}
	return err
}

// current applies the cooldown and returns the state. mu must be held.
func (cb *CircuitBreaker) current() BreakerState {
	if cb.c.State == BreakerOpen && cb.now().Sub(cb.c.OpenedAt) >= cb.cooldown {
		cb.move(BreakerHalfOpen)
	}
	return cb.c.State
}

// move switches state and resets the per-state counters. mu must be held.
func (cb *CircuitBreaker) move(to BreakerState) {
	from := cb.c.State
	cb.c.State = to
	cb.c.Failures = 0
	cb.c.Probes = 0
	if to == BreakerOpen {
		cb.c.OpenedAt = cb.now()
	}
	if from == to {
		return
	}
	level := slog.LevelInfo
	if to == BreakerOpen {
		level = slog.LevelWarn
	}
	cb.logger.Log(context.Background(), level, "connectivity: breaker state change",
		"service", cb.name, "from", from.String(), "to", to.String())
}
