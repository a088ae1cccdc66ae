// Package resilience provides a circuit breaker for the outbound HTTP calls
// made by the alert feed and the assistant client.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/logger"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota

	// StateOpen blocks all requests.
	StateOpen

	// StateHalfOpen allows limited requests for testing recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker behavior.
type BreakerConfig struct {
	// Name identifies this breaker in logs and metrics.
	Name string

	// MaxFailures is the number of consecutive failures that trips the circuit.
	MaxFailures int

	// Timeout is how long the circuit stays open.
	Timeout time.Duration

	// HalfOpenMaxCalls is how many trial calls are allowed in half-open state,
	// and how many must succeed to close the circuit again.
	HalfOpenMaxCalls int

	// OnStateChange is called after the breaker changes state, outside its lock.
	OnStateChange func(name string, from, to State)

	// IsSuccessful decides whether an error counts against the breaker.
	// If nil, any non-nil error other than context cancellation or a client
	// error (see IsClientError) is a failure.
	IsSuccessful func(err error) bool

	// Now is the breaker's clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultBreakerConfig returns the default configuration.
func DefaultBreakerConfig(name string) *BreakerConfig {
	return &BreakerConfig{
		Name:             name,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// LoggingConfig returns a config whose state changes are logged.
func LoggingConfig(name string, maxFailures int, timeout time.Duration, log *logger.Logger) *BreakerConfig {
	cfg := DefaultBreakerConfig(name)
	if maxFailures > 0 {
		cfg.MaxFailures = maxFailures
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	if log != nil {
		l := log.WithComponent("breaker")
		cfg.OnStateChange = func(name string, from, to State) {
			l.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}
	}
	return cfg
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	config *BreakerConfig

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	openedAt      time.Time
	halfOpenCalls int

	totalCalls     int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64
}

// NewBreaker creates a new circuit breaker.
func NewBreaker(config *BreakerConfig) *Breaker {
	if config == nil {
		config = DefaultBreakerConfig("default")
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 1
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Breaker{
		config: config,
		state:  StateClosed,
	}
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.config.Name
}

// Execute runs fn unless the circuit is open. A cancelled context is returned
// without calling fn and without counting as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := b.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	b.afterRequest(err)
	return err
}

// Do is Execute for functions returning a value.
func Do[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()

	b.totalCalls++

	var changed *transitionEvent
	var rejected error

	switch b.state {
	case StateOpen:
		retryAt := b.openedAt.Add(b.config.Timeout)
		if !b.config.Now().Before(retryAt) {
			changed = b.transition(StateHalfOpen)
			b.halfOpenCalls = 1
			b.successes = 0
			break
		}
		b.totalRejected++
		rejected = &BreakerOpenError{Name: b.config.Name, RetryAt: retryAt, Failures: b.failures}

	case StateHalfOpen:
		if b.halfOpenCalls < b.config.HalfOpenMaxCalls {
			b.halfOpenCalls++
			break
		}
		b.totalRejected++
		rejected = &BreakerOpenError{Name: b.config.Name, RetryAt: b.config.Now().Add(time.Second), Failures: b.failures}
	}

	b.mu.Unlock()
	b.fire(changed)
	return rejected
}

func (b *Breaker) afterRequest(err error) {
	var success bool
	if b.config.IsSuccessful != nil {
		success = b.config.IsSuccessful(err)
	} else {
		success = err == nil || errors.Is(err, context.Canceled) || IsClientError(err)
	}

	b.mu.Lock()
	var changed *transitionEvent
	if success {
		changed = b.recordSuccess()
	} else {
		changed = b.recordFailure()
	}
	b.mu.Unlock()

	b.fire(changed)
}

func (b *Breaker) recordSuccess() *transitionEvent {
	b.totalSuccesses++

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.HalfOpenMaxCalls {
			b.failures = 0
			b.successes = 0
			return b.transition(StateClosed)
		}
	}
	return nil
}

func (b *Breaker) recordFailure() *transitionEvent {
	b.totalFailures++
	b.failures++

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.MaxFailures {
			b.openedAt = b.config.Now()
			return b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.successes = 0
		b.openedAt = b.config.Now()
		return b.transition(StateOpen)
	}
	return nil
}

type transitionEvent struct {
	from, to State
}

// transition must be called with b.mu held. The returned event is delivered
// by fire once the lock is released.
func (b *Breaker) transition(to State) *transitionEvent {
	from := b.state
	b.state = to
	if from == to {
		return nil
	}
	return &transitionEvent{from: from, to: to}
}

func (b *Breaker) fire(ev *transitionEvent) {
	if ev == nil || b.config.OnStateChange == nil {
		return
	}
	b.config.OnStateChange(b.config.Name, ev.from, ev.to)
}

// State returns the current state of the breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Metrics returns the breaker metrics.
func (b *Breaker) Metrics() BreakerMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerMetrics{
		Name:            b.config.Name,
		State:           b.state.String(),
		TotalCalls:      b.totalCalls,
		TotalFailures:   b.totalFailures,
		TotalSuccesses:  b.totalSuccesses,
		TotalRejected:   b.totalRejected,
		CurrentFailures: b.failures,
	}
}

// Reset returns the breaker to the closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	changed := b.transition(StateClosed)
	b.failures = 0
	b.successes = 0
	b.halfOpenCalls = 0
	b.mu.Unlock()

	b.fire(changed)
}

// BreakerMetrics contains circuit breaker metrics.
type BreakerMetrics struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	TotalCalls      int64  `json:"total_calls"`
	TotalFailures   int64  `json:"total_failures"`
	TotalSuccesses  int64  `json:"total_successes"`
	TotalRejected   int64  `json:"total_rejected"`
	CurrentFailures int    `json:"current_failures"`
}

// BreakerOpenError is returned when the circuit is open.
type BreakerOpenError struct {
	Name     string
	RetryAt  time.Time
	Failures int
}

// Error implements the error interface.
func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open (failures=%d, retry at %s)",
		e.Name, e.Failures, e.RetryAt.Format(time.RFC3339))
}

// RetryAfter returns the duration until retry.
func (e *BreakerOpenError) RetryAfter() time.Duration {
	d := time.Until(e.RetryAt)
	if d < 0 {
		return 0
	}
	return d
}

// IsOpen reports whether err was produced by an open breaker.
func IsOpen(err error) bool {
	var open *BreakerOpenError
	return errors.As(err, &open)
}

// clientError is implemented by errors describing a rejected request rather
// than an unhealthy dependency, such as a 4xx response.
type clientError interface {
	ClientError() bool
}

// IsClientError reports whether err, or any error it wraps, is a client
// error. Client errors never trip a breaker with the default IsSuccessful.
func IsClientError(err error) bool {
	var ce clientError
	return errors.As(err, &ce) && ce.ClientError()
}

// Registry holds the named breakers of a session so their metrics can be
// reported together.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults *BreakerConfig
}

// NewRegistry creates a new breaker registry.
func NewRegistry(defaults *BreakerConfig) *Registry {
	if defaults == nil {
		defaults = DefaultBreakerConfig("default")
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
	}
}

// Register creates a breaker from cfg, replacing any breaker with the same name.
func (r *Registry) Register(cfg *BreakerConfig) *Breaker {
	b := NewBreaker(cfg)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[b.Name()] = b
	return b
}

// Get returns the breaker registered under key, creating one from the
// registry defaults if needed.
func (r *Registry) Get(key string) *Breaker {
	r.mu.RLock()
	if b, ok := r.breakers[key]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[key]; ok {
		return b
	}

	cfg := *r.defaults
	cfg.Name = key
	b := NewBreaker(&cfg)
	r.breakers[key] = b
	return b
}

// AllMetrics returns metrics for all breakers.
func (r *Registry) AllMetrics() []BreakerMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metrics := make([]BreakerMetrics, 0, len(r.breakers))
	for _, b := range r.breakers {
		metrics = append(metrics, b.Metrics())
	}
	return metrics
}

// ResetAll resets all breakers.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	for _, b := range breakers {
		b.Reset()
	}
}
