package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func transientErr(msg string) error {
	return NewTransientError(errors.New(msg), 503)
}

func TestBreaker_ClosedState_PassesThrough(t *testing.T) {
	b := NewBreaker("ocr", DefaultCircuitConfig())

	var calls int
	err := b.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("ocr", CircuitConfig{FailureThreshold: 5, CoolDown: time.Minute})

	for i := 0; i < 5; i++ {
		_ = b.Execute(context.Background(), func(_ context.Context) error {
			return transientErr("timeout")
		})
	}

	if b.State() != CircuitOpen {
		t.Fatalf("expected open state after 5 failures, got %s", b.State())
	}

	// The 6th call must fail fast without invoking fn.
	err := b.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker("ocr", CircuitConfig{FailureThreshold: 2, CoolDown: time.Minute})

	for i := 0; i < 10; i++ {
		_ = b.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("invalid document")
		})
	}

	if b.State() != CircuitClosed {
		t.Errorf("permanent errors must not open the circuit, got %s", b.State())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("asset", CircuitConfig{FailureThreshold: 3, CoolDown: time.Minute})

	for i := 0; i < 2; i++ {
		_ = b.Execute(context.Background(), func(_ context.Context) error {
			return transientErr("reset")
		})
	}
	_ = b.Execute(context.Background(), func(_ context.Context) error { return nil })
	for i := 0; i < 2; i++ {
		_ = b.Execute(context.Background(), func(_ context.Context) error {
			return transientErr("reset")
		})
	}

	if b.State() != CircuitClosed {
		t.Errorf("interleaved success should keep circuit closed, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b := NewBreaker("ocr", CircuitConfig{FailureThreshold: 1, CoolDown: time.Minute})

	now := time.Now()
	b.nowFunc = func() time.Time { return now }

	_ = b.Execute(context.Background(), func(_ context.Context) error {
		return transientErr("timeout")
	})
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	// Advance past the cool-down: one probe is allowed.
	now = now.Add(2 * time.Minute)
	if b.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after cool-down, got %s", b.State())
	}

	// Failed probe reopens.
	_ = b.Execute(context.Background(), func(_ context.Context) error {
		return transientErr("still down")
	})
	if b.State() != CircuitOpen {
		t.Fatalf("failed probe should reopen, got %s", b.State())
	}

	// Successful probe closes.
	now = now.Add(2 * time.Minute)
	_ = b.Execute(context.Background(), func(_ context.Context) error { return nil })
	if b.State() != CircuitClosed {
		t.Fatalf("successful probe should close, got %s", b.State())
	}
}

func TestExecuteVal_PreservesValue(t *testing.T) {
	b := NewBreaker("ocr", DefaultCircuitConfig())

	got, err := ExecuteVal(context.Background(), b, func(_ context.Context) (string, error) {
		return "extracted", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "extracted" {
		t.Errorf("expected value preserved, got %q", got)
	}
}

func TestBreakerSet_PerDependency(t *testing.T) {
	bs := NewBreakerSet(CircuitConfig{FailureThreshold: 1, CoolDown: time.Minute})

	ocr := bs.Get("ocr")
	asset := bs.Get("asset")
	if ocr == asset {
		t.Fatal("dependencies must get independent breakers")
	}
	if bs.Get("ocr") != ocr {
		t.Fatal("same dependency must get the same breaker")
	}

	_ = ocr.Execute(context.Background(), func(_ context.Context) error {
		return transientErr("timeout")
	})

	states := bs.States()
	if states["ocr"] != CircuitOpen {
		t.Errorf("expected ocr open, got %s", states["ocr"])
	}
	if states["asset"] != CircuitClosed {
		t.Errorf("expected asset closed, got %s", states["asset"])
	}
}
