package resilience

import (
	"errors"
	"testing"
	"time"
)

// fakeClock lets tests move past the open timeout without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func withClock(cb *CircuitBreaker) *fakeClock {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb.now = clock.now
	return clock
}

func TestCircuitBreaker_ClosedState(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)

	err := cb.Execute(func() error { return nil })
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("Expected Closed, got %s", cb.CurrentState())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	testErr := errors.New("fail")

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return testErr })
	}

	if cb.CurrentState() != StateOpen {
		t.Errorf("Expected Open after 3 failures, got %s", cb.CurrentState())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to run while open")
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(2, 50*time.Millisecond)
	clock := withClock(cb)
	testErr := errors.New("fail")

	_ = cb.Execute(func() error { return testErr })
	_ = cb.Execute(func() error { return testErr })

	if cb.CurrentState() != StateOpen {
		t.Fatalf("Expected Open, got %s", cb.CurrentState())
	}

	clock.advance(60 * time.Millisecond)

	err := cb.Execute(func() error { return nil })
	if err != nil {
		t.Fatalf("Expected success in HalfOpen, got %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("Expected Closed after successful HalfOpen call, got %s", cb.CurrentState())
	}
}

func TestCircuitBreaker_HalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker(3, 50*time.Millisecond)
	clock := withClock(cb)
	testErr := errors.New("fail")

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return testErr })
	}
	clock.advance(60 * time.Millisecond)

	// A single failed trial call reopens regardless of threshold.
	_ = cb.Execute(func() error { return testErr })

	if cb.CurrentState() != StateOpen {
		t.Errorf("Expected Open after HalfOpen failure, got %s", cb.CurrentState())
	}
}

func TestCircuitBreaker_UncountedErrorsDoNotTrip(t *testing.T) {
	notFound := errors.New("not found")
	cb := NewCircuitBreaker(1, time.Minute).WithFailurePredicate(func(err error) bool {
		return !errors.Is(err, notFound)
	})

	for i := 0; i < 5; i++ {
		if err := cb.Execute(func() error { return notFound }); !errors.Is(err, notFound) {
			t.Fatalf("Expected the original error back, got %v", err)
		}
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("Expected Closed, got %s", cb.CurrentState())
	}
}

func TestCircuitBreaker_ZeroThresholdNeverOpens(t *testing.T) {
	cb := NewCircuitBreaker(0, time.Minute)
	for i := 0; i < 10; i++ {
		_ = cb.Execute(func() error { return errors.New("fail") })
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("Expected Closed, got %s", cb.CurrentState())
	}
}

func TestGroup_PerNameBreakers(t *testing.T) {
	g := NewGroup(1, time.Minute, nil)

	if g.Get("fiction_boutique") != g.Get("fiction_boutique") {
		t.Fatal("Expected the same breaker for the same name")
	}

	_ = g.Get("mega_market1").Execute(func() error { return errors.New("down") })

	states := g.States()
	if states["mega_market1"] != StateOpen {
		t.Errorf("Expected mega_market1 open, got %s", states["mega_market1"])
	}
	if states["fiction_boutique"] != StateClosed {
		t.Errorf("Expected fiction_boutique closed, got %s", states["fiction_boutique"])
	}
}
