// Package circuitbreaker stops calling an upstream that keeps failing.
// A circuit starts closed, opens after a run of consecutive failures, and
// lets a single trial call through once the cooldown has passed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is the position of a circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cardiorisk",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit state changes by upstream and target state.",
}, []string{"upstream", "to_state"})

var rejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cardiorisk",
	Subsystem: "circuitbreaker",
	Name:      "rejected_calls_total",
	Help:      "Calls short-circuited while the upstream circuit was open.",
}, []string{"upstream"})

func init() {
	prometheus.MustRegister(transitionsTotal, rejectedTotal)
}

// ErrOpen is returned by Execute when the call was not attempted.
var ErrOpen = errors.New("circuitbreaker: circuit open")

// Transition describes one state change.
type Transition struct {
	Upstream string
	From     State
	To       State
	Failures int
	At       time.Time
}

// Listener is told about every state change. It runs on the goroutine
// whose call caused the change, after the breaker lock is released.
type Listener func(Transition)

// Snapshot is a point-in-time view of a circuit.
type Snapshot struct {
	Upstream string    `json:"upstream"`
	State    string    `json:"state"`
	Failures int       `json:"consecutive_failures"`
	RetryAt  time.Time `json:"retry_at,omitzero"`
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithListener registers fn for state changes. Several listeners may be
// added; they run in registration order.
func WithListener(fn Listener) Option {
	return func(b *Breaker) { b.listeners = append(b.listeners, fn) }
}

// Breaker guards a single upstream.
type Breaker struct {
	upstream  string
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	listeners []Listener

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool // a half-open trial call is in flight
}

// New creates a breaker for upstream that opens after threshold consecutive
// failures and waits cooldown before allowing a trial call.
func New(upstream string, threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	b := &Breaker{
		upstream:  upstream,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs fn unless the circuit is open, and feeds the outcome back
// into the circuit. A rejected call returns ErrOpen without running fn.
func (b *Breaker) Execute(fn func() error) error {
	if ok, t := b.acquire(); !ok {
		rejectedTotal.WithLabelValues(b.upstream).Inc()
		return ErrOpen
	} else if t != nil {
		b.notify(*t)
	}

	err := fn()
	if t := b.record(err == nil); t != nil {
		b.notify(*t)
	}
	return err
}

// Snapshot returns the current state with its failure count and, while
// open, the earliest time a trial call is allowed. An open circuit whose
// cooldown has passed still reports open until the next call tries it.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{Upstream: b.upstream, State: b.state.String(), Failures: b.failures}
	if b.state == StateOpen {
		s.RetryAt = b.openedAt.Add(b.cooldown)
	}
	return s
}

// acquire decides whether a call may proceed. It returns a transition when
// the decision moved the circuit to half-open.
func (b *Breaker) acquire() (bool, *Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, nil
		}
		t := b.moveTo(StateHalfOpen)
		b.trial = true
		return true, t
	case StateHalfOpen:
		if b.trial {
			return false, nil
		}
		b.trial = true
		return true, nil
	default:
		return true, nil
	}
}

func (b *Breaker) record(ok bool) *Transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasTrial := b.state == StateHalfOpen
	b.trial = false

	if ok {
		b.failures = 0
		if wasTrial {
			return b.moveTo(StateClosed)
		}
		return nil
	}

	b.failures++
	if wasTrial || (b.state == StateClosed && b.failures >= b.threshold) {
		b.openedAt = b.now()
		return b.moveTo(StateOpen)
	}
	return nil
}

// moveTo changes state. Caller holds b.mu.
func (b *Breaker) moveTo(to State) *Transition {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	transitionsTotal.WithLabelValues(b.upstream, to.String()).Inc()
	return &Transition{
		Upstream: b.upstream,
		From:     from,
		To:       to,
		Failures: b.failures,
		At:       b.now(),
	}
}

func (b *Breaker) notify(t Transition) {
	for _, fn := range b.listeners {
		fn(t)
	}
}
