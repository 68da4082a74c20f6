// Package breaker implements per-(service, operation) circuit breakers that
// shield failing upstream dependencies. A registry hands out breakers keyed
// "service:operation"; callers go through Execute or ExecuteGuarded instead
// of holding breaker instances.
package breaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	pkgerrors "github.com/Aidin1998/dexroute_unified/pkg/errors"
	"github.com/Aidin1998/dexroute_unified/pkg/metrics"
)

// State is the circuit state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds the breaker thresholds.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	MonitoringWindow time.Duration
}

// DefaultAdapterConfig is the breaker tuning for upstream adapter operations.
func DefaultAdapterConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: 60 * time.Second,
	}
}

// DefaultServiceConfig is the breaker tuning for generic services.
func DefaultServiceConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
		MonitoringWindow: 60 * time.Second,
	}
}

// Snapshot is a point-in-time view of one circuit.
type Snapshot struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failureCount"`
	SuccessCount    int       `json:"successCount"`
	LastFailureTime time.Time `json:"lastFailureTime,omitempty"`
	LastSuccessTime time.Time `json:"lastSuccessTime,omitempty"`
	NextAttemptTime time.Time `json:"nextAttemptTime,omitempty"`
}

// CircuitBreaker is one three-state machine. All mutations happen under mu.
type CircuitBreaker struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	lastSuccess time.Time
	nextAttempt time.Time
	probing     bool
}

func newCircuitBreaker(name string, cfg Config, logger *zap.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: logger,
		state:  StateClosed,
	}
	metrics.CircuitState.WithLabelValues(name).Set(0)
	return cb
}

// admit decides whether a call may proceed. In HALF_OPEN only one probe is
// admitted at a time; concurrent callers fast-fail.
func (cb *CircuitBreaker) admit(now time.Time) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.Before(cb.nextAttempt) {
			return pkgerrors.Newf(pkgerrors.CodeCircuitBreakerOpen, "circuit %s is open", cb.name).
				WithDetail("retryAfterMs", time.Until(cb.nextAttempt).Milliseconds())
		}
		cb.transition(StateHalfOpen)
		cb.successes = 0
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			return pkgerrors.Newf(pkgerrors.CodeCircuitBreakerOpen, "circuit %s is probing", cb.name)
		}
		cb.probing = true
		return nil
	}
	return nil
}

// report records the probe/call outcome and drives transitions.
func (cb *CircuitBreaker) report(err error, now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probing = false
	}

	if err == nil {
		cb.lastSuccess = now
		metrics.CircuitOutcomes.WithLabelValues(cb.name, "success").Inc()
		switch cb.state {
		case StateClosed:
			if cb.failures > 0 {
				cb.failures--
			}
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				cb.transition(StateClosed)
				cb.failures = 0
				cb.successes = 0
			}
		}
		return
	}

	cb.lastFailure = now
	metrics.CircuitOutcomes.WithLabelValues(cb.name, "failure").Inc()
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
			cb.nextAttempt = now.Add(cb.cfg.RecoveryTimeout)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
		cb.nextAttempt = now.Add(cb.cfg.RecoveryTimeout)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	metrics.CircuitTransitions.WithLabelValues(cb.name, to.String()).Inc()
	metrics.CircuitState.WithLabelValues(cb.name).Set(float64(to))
	cb.logger.Info("circuit breaker transition",
		zap.String("circuit", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the circuit CLOSED and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.failures = 0
	cb.successes = 0
	cb.probing = false
	cb.nextAttempt = time.Time{}
}

// Snapshot returns a point-in-time view for health reporting.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:            cb.name,
		State:           cb.state.String(),
		FailureCount:    cb.failures,
		SuccessCount:    cb.successes,
		LastFailureTime: cb.lastFailure,
		LastSuccessTime: cb.lastSuccess,
		NextAttemptTime: cb.nextAttempt,
	}
}

// Registry owns all circuit breakers in the process.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewRegistry creates a registry with the given default config.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the registry clock, for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) get(service, operation string) *CircuitBreaker {
	name := service + ":" + operation
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[name]; ok {
		return cb
	}
	cb = newCircuitBreaker(name, r.cfg, r.logger)
	r.breakers[name] = cb
	return cb
}

// Execute runs fn through the circuit for (service, operation). When the
// circuit is open the call fails fast with CIRCUIT_BREAKER_OPEN.
func (r *Registry) Execute(ctx context.Context, service, operation string, fn func(context.Context) error) error {
	cb := r.get(service, operation)
	if err := cb.admit(r.now()); err != nil {
		return err
	}
	err := fn(ctx)
	cb.report(err, r.now())
	return err
}

// ExecuteGuarded is Execute with a fallback invoked when the circuit rejects
// the call. Failures of fn itself do not trigger the fallback.
func (r *Registry) ExecuteGuarded(ctx context.Context, service, operation string, fn, fallback func(context.Context) error) error {
	cb := r.get(service, operation)
	if admitErr := cb.admit(r.now()); admitErr != nil {
		if fallback != nil {
			return fallback(ctx)
		}
		return admitErr
	}
	err := fn(ctx)
	cb.report(err, r.now())
	return err
}

// State returns the state of one circuit; unknown circuits report CLOSED.
func (r *Registry) State(service, operation string) State {
	return r.get(service, operation).State()
}

// Reset forces one circuit CLOSED.
func (r *Registry) Reset(service, operation string) {
	r.get(service, operation).Reset()
}

// Snapshots returns a view of every circuit for health reporting.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb.Snapshot())
	}
	return out
}
