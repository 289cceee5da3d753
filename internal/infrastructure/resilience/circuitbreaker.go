package resilience

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, reject calls
	StateHalfOpen              // Testing if the shop recovered
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker implements the circuit breaker pattern.
// Transitions: Closed → Open (after failThreshold consecutive counted failures)
//
//	Open → HalfOpen (after openTimeout expires)
//	HalfOpen → Closed (on success) or Open (on failure)
//
// Errors rejected by the counts predicate are returned to the caller but
// leave the breaker untouched, so a 404 from a healthy shop never trips it.
type CircuitBreaker struct {
	mu            sync.Mutex
	state         State
	failCount     int
	failThreshold int
	openTimeout   time.Duration
	openedAt      time.Time
	counts        func(error) bool
	now           func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given thresholds.
// A threshold below 1 disables tripping.
func NewCircuitBreaker(failThreshold int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:         StateClosed,
		failThreshold: failThreshold,
		openTimeout:   openTimeout,
		counts:        func(err error) bool { return err != nil },
		now:           time.Now,
	}
}

// WithFailurePredicate sets which errors count towards opening the breaker.
func (cb *CircuitBreaker) WithFailurePredicate(counts func(error) bool) *CircuitBreaker {
	if counts != nil {
		cb.counts = counts
	}
	return cb
}

// Execute runs fn through the circuit breaker.
// Returns ErrCircuitOpen if the circuit is open and the timeout hasn't elapsed.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) <= cb.openTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
	}
	cb.mu.Unlock()

	return cb.tryCall(fn)
}

func (cb *CircuitBreaker) tryCall(fn func() error) error {
	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.counts(err) {
		cb.failCount++
		if cb.state == StateHalfOpen || (cb.failThreshold > 0 && cb.failCount >= cb.failThreshold) {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
		return err
	}

	// Success or an uncounted error: reset
	cb.failCount = 0
	cb.state = StateClosed
	return err
}

// CurrentState returns the current state of the circuit breaker.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Group hands out one lazily created breaker per name, e.g. per shop.
type Group struct {
	mu            sync.Mutex
	breakers      map[string]*CircuitBreaker
	failThreshold int
	openTimeout   time.Duration
	counts        func(error) bool
}

func NewGroup(failThreshold int, openTimeout time.Duration, counts func(error) bool) *Group {
	return &Group{
		breakers:      make(map[string]*CircuitBreaker),
		failThreshold: failThreshold,
		openTimeout:   openTimeout,
		counts:        counts,
	}
}

// Get returns the breaker for name, creating it on first use.
func (g *Group) Get(name string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	cb, ok := g.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(g.failThreshold, g.openTimeout).WithFailurePredicate(g.counts)
		g.breakers[name] = cb
	}
	return cb
}

// States reports the current state of every breaker created so far.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]State, len(g.breakers))
	for name, cb := range g.breakers {
		out[name] = cb.CurrentState()
	}
	return out
}
