package connectivity

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	// WHAT: Breaker opens after N consecutive failures.
	// WHY: A dead oracle should fail fast instead of burning every lookup's timeout.
	cb := NewCircuitBreaker("oracle", WithBreakerThreshold(3))
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if cb.State() != BreakerOpen {
		t.Fatalf("state: got %v, want open", cb.State())
	}
	if cb.Allow() {
		t.Fatal("open breaker should reject calls")
	}
}

func TestBreaker_HalfOpenAndClose(t *testing.T) {
	// WHAT: After the reset timeout the breaker half-opens and closes on success.
	// WHY: Recovery must not need a restart.
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("judge",
		WithBreakerThreshold(1),
		WithBreakerResetTimeout(10*time.Second),
		WithBreakerHalfOpenMax(2),
		WithBreakerClock(func() time.Time { return now }),
	)
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("state: got %v, want open", cb.State())
	}
	now = now.Add(11 * time.Second)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state: got %v, want half-open", cb.State())
	}
	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Fatalf("state: got %v, want closed", cb.State())
	}
}

func TestBreaker_Do(t *testing.T) {
	// WHAT: Do records outcomes and rejects with ErrCircuitOpen when open.
	// WHY: Clients wrap every remote call in Do.
	cb := NewCircuitBreaker("svc", WithBreakerThreshold(2))
	boom := errors.New("boom")
	ctx := context.Background()
	calls := 0
	fail := func(context.Context) error { calls++; return boom }

	for i := 0; i < 2; i++ {
		if err := cb.Do(ctx, fail); !errors.Is(err, boom) {
			t.Fatalf("call %d: got %v", i, err)
		}
	}
	err := cb.Do(ctx, fail)
	var open *ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if open.Service != "svc" {
		t.Errorf("service: got %q", open.Service)
	}
	if calls != 2 {
		t.Errorf("calls: got %d, want 2", calls)
	}
}

func TestBreaker_DoIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker("svc", WithBreakerThreshold(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cb.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	if cb.State() != BreakerClosed {
		t.Fatalf("cancellation should not trip breaker, state %v", cb.State())
	}
}

func TestBreaker_TripOnOutageOnly(t *testing.T) {
	// WHAT: With Outage as the classifier, 4xx answers pass through without counting.
	// WHY: A judge rejecting one oversized prompt is not a judge outage.
	cb := NewCircuitBreaker("judge", WithBreakerThreshold(1), WithBreakerTripOn(Outage))
	ctx := context.Background()
	bad := NewHTTPError("judge", 400, nil)
	if err := cb.Do(ctx, func(context.Context) error { return bad }); !errors.Is(err, bad) {
		t.Fatalf("got %v", err)
	}
	if cb.State() != BreakerClosed {
		t.Fatalf("400 tripped the breaker")
	}
	cb.Do(ctx, func(context.Context) error { return NewHTTPError("judge", 503, nil) })
	if cb.State() != BreakerOpen {
		t.Fatalf("503 should trip, state %v", cb.State())
	}
}

func TestBreaker_CountsAndLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	cb := NewCircuitBreaker("newsguard", WithBreakerThreshold(2), WithBreakerLogger(logger))
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.Allow()

	c := cb.Counts()
	if c.State != BreakerOpen || c.Succeeded != 1 || c.Failed != 2 || c.Rejected != 1 {
		t.Fatalf("counts: %+v", c)
	}
	if c.OpenedAt.IsZero() {
		t.Error("opened_at not set")
	}
	out := buf.String()
	if !strings.Contains(out, "breaker state change") || !strings.Contains(out, "to=open") {
		t.Errorf("log: %s", out)
	}
}

func TestBreakerConfig_Options(t *testing.T) {
	// WHAT: Configured values replace the defaults; zero values keep them.
	// WHY: Operators tune the breakers from the config file.
	now := time.Unix(1000, 0)
	opts := append(BreakerConfig{Threshold: 1, ResetTimeout: time.Minute}.Options(),
		WithBreakerClock(func() time.Time { return now }))
	cb := NewCircuitBreaker("svc", opts...)
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("threshold 1: state %v", cb.State())
	}
	now = now.Add(45 * time.Second)
	if cb.State() != BreakerOpen {
		t.Fatal("reset timeout not applied")
	}
	now = now.Add(30 * time.Second)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state: %v", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != BreakerHalfOpen {
		t.Fatal("default half-open max is 2")
	}
	if len((BreakerConfig{}).Options()) != 0 {
		t.Error("zero config should add no options")
	}
}

func TestOutage(t *testing.T) {
	cases := map[int]bool{400: false, 404: false, 429: true, 500: true, 502: true}
	for code, want := range cases {
		if got := Outage(NewHTTPError("svc", code, nil)); got != want {
			t.Errorf("%d: got %v, want %v", code, got, want)
		}
	}
	if !Outage(errors.New("connection refused")) {
		t.Error("transport errors are outages")
	}
}

func TestSleep_Cancellable(t *testing.T) {
	// WHAT: Sleep returns early with ctx.Err() on cancellation.
	// WHY: Rate-limit backoff must be cancellable.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := Sleep(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err: got %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("sleep did not return promptly")
	}
}

func TestSleep_Completes(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleep: %v", err)
	}
}

func TestRetry_TemporaryOnly(t *testing.T) {
	// WHAT: Retry retries 5xx/429 but not 4xx.
	// WHY: Retrying a bad request only wastes quota.
	ctx := context.Background()

	calls := 0
	err := Retry(ctx, 2, time.Millisecond, nil, func(context.Context) error {
		calls++
		return &HTTPError{Service: "judge", StatusCode: 503}
	})
	if err == nil || calls != 3 {
		t.Fatalf("5xx: calls=%d err=%v, want 3 calls", calls, err)
	}

	calls = 0
	err = Retry(ctx, 2, time.Millisecond, nil, func(context.Context) error {
		calls++
		return &HTTPError{Service: "judge", StatusCode: 400}
	})
	if err == nil || calls != 1 {
		t.Fatalf("4xx: calls=%d err=%v, want 1 call", calls, err)
	}

	calls = 0
	err = Retry(ctx, 2, time.Millisecond, nil, func(context.Context) error {
		calls++
		if calls < 2 {
			return &HTTPError{Service: "judge", StatusCode: 429}
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("recover: calls=%d err=%v", calls, err)
	}
}

func TestNewHTTPError_TruncatesBody(t *testing.T) {
	body := make([]byte, 500)
	for i := range body {
		body[i] = 'x'
	}
	e := NewHTTPError("oracle", 500, body)
	if len(e.Body) != 200 {
		t.Errorf("body len: got %d, want 200", len(e.Body))
	}
}
