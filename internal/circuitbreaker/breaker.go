// Package circuitbreaker trips after a run of consecutive failures against
// one dependency.
package circuitbreaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota // Normal: calls flow through
	StateOpen                // Tripped: the dependency is considered down
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudradar",
		Subsystem: "circuitbreaker",
		Name:      "state_transitions_total",
		Help:      "Circuit breaker state transitions by dependency, from-state, and to-state.",
	}, []string{"name", "from_state", "to_state"})

	cbConsecutiveFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fraudradar",
		Subsystem: "circuitbreaker",
		Name:      "consecutive_failures",
		Help:      "Current run of consecutive failures per dependency.",
	}, []string{"name"})
)

func init() {
	prometheus.MustRegister(cbStateTransitions, cbConsecutiveFailures)
}

// Breaker counts consecutive failures for a named dependency and opens once
// the count reaches threshold. A success closes it and resets the count.
type Breaker struct {
	mu        sync.Mutex
	name      string
	state     State
	failures  int
	threshold int
}

// New creates a breaker that opens after threshold consecutive failures.
func New(name string, threshold int) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &Breaker{name: name, threshold: threshold}
}

// RecordSuccess resets the failure run and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	cbConsecutiveFailures.WithLabelValues(b.name).Set(0)
	b.transition(StateClosed)
}

// RecordFailure extends the failure run and reports whether the breaker is
// now open.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	cbConsecutiveFailures.WithLabelValues(b.name).Set(float64(b.failures))
	if b.failures >= b.threshold {
		b.transition(StateOpen)
	}
	return b.state == StateOpen
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current run of consecutive failures.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Threshold returns the failure count that opens the breaker.
func (b *Breaker) Threshold() int {
	return b.threshold
}

// Caller must hold b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	cbStateTransitions.WithLabelValues(b.name, from.String(), to.String()).Inc()
}
