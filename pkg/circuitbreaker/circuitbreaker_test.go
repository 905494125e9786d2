package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errDownstream = errors.New("downstream failed")

func failing() (interface{}, error) { return nil, errDownstream }

func succeeding() (interface{}, error) { return "ok", nil }

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := New(3, 1, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := cb.Execute(failing); err != errDownstream {
			t.Fatalf("Expected the downstream error while closed, got %v", err)
		}
	}
	if cb.State() != Open {
		t.Fatalf("Expected Open after 3 consecutive failures, got %s", cb.State())
	}

	if _, err := cb.Execute(succeeding); err != ErrCircuitOpen {
		t.Fatalf("Expected ErrCircuitOpen while open, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := New(3, 1, time.Minute)

	_, _ = cb.Execute(failing)
	_, _ = cb.Execute(failing)
	if _, err := cb.Execute(succeeding); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	_, _ = cb.Execute(failing)
	_, _ = cb.Execute(failing)

	if cb.State() != Closed {
		t.Fatalf("Expected Closed since failures are not consecutive, got %s", cb.State())
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := New(1, 2, 10*time.Millisecond)

	_, _ = cb.Execute(failing)
	if cb.State() != Open {
		t.Fatalf("Expected Open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := cb.Execute(succeeding); err != nil {
		t.Fatalf("Expected a probe request to pass after the timeout, got %v", err)
	}
	if cb.State() != HalfOpen {
		t.Fatalf("Expected Half-Open after the first probe success, got %s", cb.State())
	}

	if _, err := cb.Execute(succeeding); err != nil {
		t.Fatalf("Expected the second probe to pass, got %v", err)
	}
	if cb.State() != Closed {
		t.Fatalf("Expected Closed after reaching the success threshold, got %s", cb.State())
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := New(1, 2, 10*time.Millisecond)

	_, _ = cb.Execute(failing)
	time.Sleep(20 * time.Millisecond)

	if _, err := cb.Execute(failing); err != errDownstream {
		t.Fatalf("Expected the probe to run and fail, got %v", err)
	}
	if cb.State() != Open {
		t.Fatalf("Expected Open again after a failed probe, got %s", cb.State())
	}
}
