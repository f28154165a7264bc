package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ankit-mirafra/prathambooks-app/pkg/fn"
)

var errUpstream = errors.New("upstream down")

func failing(context.Context) error { return errUpstream }

func TestBreakerStartsClosed(t *testing.T) {
	b := NewBreaker(BreakerOpts{})
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed, got %v", got)
	}
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 2, Timeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Call(ctx, failing); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open after 2 failures, got %v", got)
	}

	called := false
	err := b.Call(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatal("open breaker must not invoke the upstream")
	}
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 2, Timeout: time.Minute})
	ctx := context.Background()

	b.Call(ctx, failing)
	b.Call(ctx, func(context.Context) error { return nil })
	b.Call(ctx, failing)

	if got := b.State(); got != StateClosed {
		t.Fatalf("interleaved success should keep the breaker closed, got %v", got)
	}
}

func TestBreakerHalfOpensAfterTimeout(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: 30 * time.Second})
	ctx := context.Background()

	b.Call(ctx, failing)
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open, got %v", got)
	}

	later := time.Now().Add(31 * time.Second)
	b.now = func() time.Time { return later }

	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("expected half-open after timeout, got %v", got)
	}
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Second})
	ctx := context.Background()

	b.Call(ctx, failing)
	b.now = func() time.Time { return time.Now().Add(2 * time.Second) }

	if err := b.Call(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after successful probe, got %v", got)
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Second})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Call(ctx, failing)
	}
	base := time.Now()
	b.now = func() time.Time { return base.Add(2 * time.Second) }

	if err := b.Call(ctx, failing); !errors.Is(err, errUpstream) {
		t.Fatalf("probe should reach the upstream, got %v", err)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("failed probe should reopen, got %v", got)
	}
}

func TestCallResultShortCircuits(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()

	CallResult(b, ctx, func(context.Context) fn.Result[string] {
		return fn.Err[string](errUpstream)
	})

	called := false
	res := CallResult(b, ctx, func(context.Context) fn.Result[string] {
		called = true
		return fn.Ok("never")
	})
	if called {
		t.Fatal("open breaker must not invoke the function")
	}
	if _, err := res.Unwrap(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCallResultPassesValue(t *testing.T) {
	b := NewBreaker(BreakerOpts{})
	res := CallResult(b, context.Background(), func(context.Context) fn.Result[int] {
		return fn.Ok(7)
	})
	v, err := res.Unwrap()
	if err != nil || v != 7 {
		t.Fatalf("unexpected: %v, %v", v, err)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
