package resilience

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	apperrors "github.com/pabbly/hookdash/pkg/errors"
)

var errBoom = errors.New("boom")

func TestRetrySingleAttemptReturnsRawError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 1}, func() error {
		calls++
		return errBoom
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if err != errBoom {
		t.Fatalf("expected unwrapped error, got %v", err)
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func() error {
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped errBoom, got %v", err)
	}
	if !strings.Contains(err.Error(), "all 2 attempts failed") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	cfg := RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(error) bool { return false },
	}
	err := Retry(context.Background(), "op", cfg, func() error {
		calls++
		return errBoom
	})
	if calls != 1 || err != errBoom {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestRetryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, "op", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		return errBoom
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if apperrors.HTTPStatusCode(err) != http.StatusServiceUnavailable {
		t.Errorf("status = %d", apperrors.HTTPStatusCode(err))
	}

	parent, cancel := context.WithCancel(context.Background())
	cancel()
	err = WithTimeout(parent, time.Second, "cancelled", func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) || errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("caller cancellation reported as %v", err)
	}
	if err := WithTimeout(context.Background(), 0, "fast", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("zero timeout should run fn directly: %v", err)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("analytics", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		OnStateChange:    func(_ string, to State) { transitions = append(transitions, to) },
	})
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errBoom })
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe should pass: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed after probe, got %s", cb.GetState())
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestCircuitBreakerTripsFilter(t *testing.T) {
	errRejected := errors.New("rejected")
	cb := NewCircuitBreaker("analytics", CircuitBreakerConfig{
		FailureThreshold: 1,
		Trips:            func(err error) bool { return errors.Is(err, errBoom) },
	})
	if err := cb.Execute(func() error { return errRejected }); err != errRejected {
		t.Fatalf("err = %v", err)
	}
	if c := cb.Counts(); c.State != StateClosed || c.ConsecutiveFailures != 0 {
		t.Fatalf("rejected call moved the breaker: %+v", c)
	}
	_ = cb.Execute(func() error { return errBoom })
	c := cb.Counts()
	if c.StateName != "open" || c.ConsecutiveFailures != 1 || c.OpenedAt.IsZero() {
		t.Fatalf("counts = %+v", c)
	}
	cb.Reset()
	if c := cb.Counts(); c.State != StateClosed || !c.OpenedAt.IsZero() {
		t.Fatalf("after reset = %+v", c)
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("analytics", CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: 10 * time.Millisecond})
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errBoom })
	}
	time.Sleep(15 * time.Millisecond)
	_ = cb.Execute(func() error { return errBoom })
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s", cb.GetState())
	}
}
