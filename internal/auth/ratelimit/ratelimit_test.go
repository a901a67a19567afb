package ratelimit

import (
	"testing"
	"time"
)

func TestAllowAndRefill(t *testing.T) {
	l := New(3, time.Minute)
	defer l.Stop()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Allow("caller") {
			t.Fatalf("request %d rejected", i)
		}
	}
	if l.Allow("caller") {
		t.Fatal("fourth request allowed")
	}
	if !l.Allow("other") {
		t.Fatal("keys are not independent")
	}

	now = now.Add(20 * time.Second)
	if !l.Allow("caller") {
		t.Fatal("token not refilled")
	}
	if l.Allow("caller") {
		t.Fatal("refilled more than one token")
	}
}

func TestZeroLimitDisables(t *testing.T) {
	l := New(0, time.Minute)
	defer l.Stop()
	for i := 0; i < 100; i++ {
		if !l.Allow("x") {
			t.Fatal("rejected with limiting disabled")
		}
	}
	if l.RetryAfter() != 0 {
		t.Fatal("retry after should be zero")
	}
}

func TestRetryAfter(t *testing.T) {
	l := New(60, time.Minute)
	defer l.Stop()
	if got := l.RetryAfter(); got != time.Second {
		t.Fatalf("got %v", got)
	}
}
