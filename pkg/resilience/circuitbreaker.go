// Package resilience provides a circuit breaker for calls to flaky upstream
// services such as the translation endpoint.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Ankit-mirafra/prathambooks-app/pkg/fn"
)

// ErrCircuitOpen is returned without invoking the upstream while the breaker
// is tripped.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State of the breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerOpts tunes when the breaker trips and how it recovers.
type BreakerOpts struct {
	// FailThreshold is the run of consecutive failures that trips the breaker.
	FailThreshold int
	// Timeout is how long a tripped breaker rejects calls before probing.
	Timeout time.Duration
	// HalfOpenMax caps probe calls while half-open.
	HalfOpenMax int
}

// DefaultBreakerOpts trips after five straight failures and probes again
// after thirty seconds.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker is a mutex-guarded closed/open/half-open circuit breaker.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	failures int
	openedAt time.Time
	probes   int
	now      func() time.Time
}

// NewBreaker returns a closed breaker. Zero or negative options fall back to
// DefaultBreakerOpts.
func NewBreaker(opts BreakerOpts) *Breaker {
	def := DefaultBreakerOpts
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = def.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = def.HalfOpenMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State reports the breaker state, applying the open to half-open move when
// the timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transition()
}

// transition applies the time-based open to half-open move. Callers hold mu.
func (b *Breaker) transition() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		b.state = StateHalfOpen
		b.probes = 0
	}
	return b.state
}

// admit decides whether a call may proceed.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.transition() {
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.probes >= b.opts.HalfOpenMax {
			return false
		}
		b.probes++
	}
	return true
}

// record feeds a call outcome back into the state machine.
func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !failed {
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		b.failures = 0
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
		b.state = StateOpen
		b.openedAt = b.now()
		b.failures = 0
		b.probes = 0
	}
}

// Call runs f through the breaker. While the breaker is open the upstream is
// not invoked and ErrCircuitOpen is returned.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}
	err := f(ctx)
	b.record(err != nil)
	return err
}

// CallResult is Call for Result-returning functions.
func CallResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	if !b.admit() {
		return fn.Err[T](ErrCircuitOpen)
	}
	res := f(ctx)
	b.record(res.IsErr())
	return res
}
