package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state; calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the dependency is degraded; calls fail fast with
	// no network attempt.
	CircuitOpen
	// CircuitHalfOpen allows a single probe call to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is
// open. It is transient by definition: the dependency may recover.
var ErrCircuitOpen = NewTransientError(eris.New("circuit breaker is open"), 0)

// CircuitConfig controls breaker behavior for one dependency.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 5.
	FailureThreshold int

	// CoolDown is how long the circuit stays open before allowing a probe.
	// Default: 60s.
	CoolDown time.Duration

	// ShouldTrip overrides which errors count toward the threshold. If nil,
	// only transient errors trip the breaker: a data-quality rejection must
	// not poison the dependency's health signal.
	ShouldTrip func(err error) bool
}

// DefaultCircuitConfig returns the default breaker settings.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		CoolDown:         60 * time.Second,
	}
}

// Breaker is a circuit breaker for a single external dependency. It is
// shared by all workers pulling from the queue, so one degraded dependency
// cannot exhaust the retry budget of every in-flight task.
type Breaker struct {
	name string
	cfg  CircuitConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewBreaker creates a circuit breaker for the named dependency.
func NewBreaker(name string, cfg CircuitConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 60 * time.Second
	}
	return &Breaker{
		name:    name,
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Execute runs fn through the breaker. When the circuit is open the call
// fails fast with ErrCircuitOpen and fn is never invoked.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// ExecuteVal is like Execute but preserves a return value.
func ExecuteVal[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State returns the current circuit state, accounting for cool-down expiry.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.nowFunc().Sub(b.lastFailureTime) >= b.cfg.CoolDown {
		return CircuitHalfOpen
	}
	return b.state
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Reset forces the circuit closed. Used by operators after manual recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(CircuitClosed)
	b.consecutiveFailures = 0
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.nowFunc().Sub(b.lastFailureTime) >= b.cfg.CoolDown {
			b.transition(CircuitHalfOpen)
			return nil // allow the probe
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	shouldTrip := b.cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = IsTransient
	}

	if err == nil || !shouldTrip(err) {
		switch b.state {
		case CircuitHalfOpen:
			// Probe succeeded.
			b.transition(CircuitClosed)
			b.consecutiveFailures = 0
		case CircuitClosed:
			b.consecutiveFailures = 0
		}
		return
	}

	b.consecutiveFailures++
	b.lastFailureTime = b.nowFunc()

	switch b.state {
	case CircuitClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Probe failed: reopen.
		b.transition(CircuitOpen)
	}
}

func (b *Breaker) transition(to CircuitState) {
	if b.state == to {
		return
	}
	zap.L().Warn("circuit state change",
		zap.String("dependency", b.name),
		zap.String("from", b.state.String()),
		zap.String("to", to.String()),
	)
	b.state = to
}

// BreakerSet holds the per-dependency breakers shared across workers.
type BreakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      CircuitConfig
}

// NewBreakerSet creates a registry of per-dependency circuit breakers.
func NewBreakerSet(cfg CircuitConfig) *BreakerSet {
	return &BreakerSet{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for the named dependency, creating one if needed.
func (bs *BreakerSet) Get(dependency string) *Breaker {
	bs.mu.RLock()
	b, ok := bs.breakers[dependency]
	bs.mu.RUnlock()
	if ok {
		return b
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if b, ok = bs.breakers[dependency]; ok {
		return b
	}
	b = NewBreaker(dependency, bs.cfg)
	bs.breakers[dependency] = b
	return b
}

// States returns a snapshot of all breaker states for observability.
func (bs *BreakerSet) States() map[string]CircuitState {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	states := make(map[string]CircuitState, len(bs.breakers))
	for name, b := range bs.breakers {
		states[name] = b.State()
	}
	return states
}
