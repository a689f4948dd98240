// Package circuit implements a per-host circuit breaker for the upstream
// HTTP client: a candidate host that fails repeatedly gets short-circuited
// for a cooldown period instead of being hammered with new connection
// attempts on every request.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config controls when a breaker trips and how it recovers.
type Config struct {
	// MaxRequests is the number of trial requests let through while
	// half-open.
	MaxRequests uint32
	// Interval is how long the closed state runs before its failure
	// counts are reset to zero.
	Interval time.Duration
	// Timeout is how long the breaker stays open before moving to
	// half-open.
	Timeout time.Duration

	// ReadyToTrip decides whether the current counts should open the
	// breaker. Defaults to 20+ requests with a >=50% failure rate.
	ReadyToTrip func(counts Counts) bool
	// IsSuccessful classifies an error as a breaker failure. Defaults to
	// err == nil.
	IsSuccessful func(err error) bool
}

// Counts tracks request outcomes within the current window.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) onRequest() { c.Requests++ }

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() { *c = Counts{} }

// ErrOpenState is returned by ExecuteWithContext when the breaker is open.
var ErrOpenState = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when a half-open breaker already has
// MaxRequests trial requests in flight.
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// Breaker guards calls to a single upstream host.
type Breaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// New creates a breaker in the closed state, defaulting any zero-valued
// Config fields.
func New(name string, config Config) *Breaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = defaultReadyToTrip
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultIsSuccessful
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

func defaultReadyToTrip(counts Counts) bool {
	return counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

func defaultIsSuccessful(err error) bool { return err == nil }

// ExecuteWithContext runs fn if the breaker allows it, recording the
// outcome. It returns ErrOpenState or ErrTooManyRequests without calling
// fn when the breaker is tripped.
func (b *Breaker) ExecuteWithContext(fn func() error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	b.afterRequest(err)
	return err
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentState(now)

	if state == StateOpen {
		return ErrOpenState
	}
	if state == StateHalfOpen && b.counts.Requests >= b.config.MaxRequests {
		return ErrTooManyRequests
	}
	b.counts.onRequest()
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentState(now)

	if b.config.IsSuccessful(err) {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	b.counts.onSuccess()
	if state == StateHalfOpen {
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	b.counts.onFailure()
	switch state {
	case StateClosed:
		if b.config.ReadyToTrip(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

// currentState must be called with mu held.
func (b *Breaker) currentState(now time.Time) State {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts.clear()
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state
}

// setState must be called with mu held.
func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	b.state = state
	b.counts.clear()

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.config.Interval)
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}
}

// GetState returns the breaker's current state, resolving any pending
// open->half-open or window-expiry transition first.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(time.Now())
}

// Name returns the breaker's identifier, typically the candidate host.
func (b *Breaker) Name() string { return b.name }

// Manager hands out one Breaker per name, creating it on first use.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewManager creates a Manager whose breakers all share config.
func NewManager(config Config) *Manager {
	return &Manager{breakers: make(map[string]*Breaker), config: config}
}

// GetBreaker returns the named breaker, creating it if absent.
func (m *Manager) GetBreaker(name string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b = New(name, m.config)
	m.breakers[name] = b
	return b
}
