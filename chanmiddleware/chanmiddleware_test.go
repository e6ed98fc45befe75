package chanmiddleware

import (
	"context"
	"errors"
	"testing"
	"time"
)

func echoHandler(msgType uint16, body []byte) error {
	return nil
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(nil)(echoHandler)
	if err := handler(1, []byte("x")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1/sec, burst=2: first two calls pass, third is rejected.
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		if err := handler(1, nil); err != nil {
			t.Fatalf("request %d should pass, got %v", i, err)
		}
	}
	if err := handler(1, nil); err == nil {
		t.Fatal("expected third request to be rate limited")
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	flaky := func(msgType uint16, body []byte) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}
	handler := RetryMiddleware(5, time.Millisecond)(flaky)
	if err := handler(1, nil); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryExhausted(t *testing.T) {
	alwaysFails := func(msgType uint16, body []byte) error {
		return errors.New("permanent")
	}
	handler := RetryMiddleware(2, time.Millisecond)(alwaysFails)
	if err := handler(1, nil); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestChain(t *testing.T) {
	chained := Chain(LoggingMiddleware(nil), RateLimitMiddleware(100, 10))
	handler := chained(echoHandler)
	if err := handler(1, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestRetryDialStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := RetryDial(ctx, 5, 50*time.Millisecond, func() error {
		attempts++
		return errors.New("still failing")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one dial attempt before cancellation, got %d", attempts)
	}
}

func TestRetryDialSucceeds(t *testing.T) {
	attempts := 0
	err := RetryDial(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		if attempts < 2 {
			return errors.New("refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}
