// Package circuitbreaker stops calling an external collaborator that keeps
// failing, so searches degrade immediately instead of waiting on timeouts.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned while a breaker rejects calls. It matches
// ErrCircuitOpen with errors.Is.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry in %s", e.Name, e.RetryAfter.Round(time.Millisecond))
}

func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

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

type Config struct {
	// FailureThreshold consecutive failures open the circuit. Default 5.
	FailureThreshold uint32
	// Cooldown is how long an open circuit rejects calls. Default 30s.
	Cooldown time.Duration
	// Probes is how many calls may run at once while half-open. Default 1.
	Probes uint32
	// SuccessThreshold probe successes close the circuit. Default 2.
	SuccessThreshold uint32
	OnStateChange    func(name string, from, to State)
	// IsFailure decides whether an error counts against the breaker. By
	// default caller cancellation does not.
	IsFailure func(err error) bool
	Logger    *zap.Logger
}

type CircuitBreaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu        sync.Mutex
	state     State
	failures  uint32
	successes uint32
	probing   uint32
	openedAt  time.Time
}

func New(name string, cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes == 0 {
		cfg.Probes = 1
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = isFailure
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &CircuitBreaker{name: name, cfg: cfg, now: time.Now}
}

func isFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Retryable reports whether a failed call is worth retrying: rejected calls
// and context errors are not.
func Retryable(err error) bool {
	return !errors.Is(err, ErrCircuitOpen) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn unless the breaker is open. A cancelled ctx short-circuits
// without touching the counters.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	probe, err := cb.acquire()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.release(probe, true)
			panic(r)
		}
	}()

	err = fn()
	cb.release(probe, cb.cfg.IsFailure(err))
	return err
}

func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.refresh(now) {
	case StateOpen:
		return false, &OpenError{Name: cb.name, RetryAfter: cb.openedAt.Add(cb.cfg.Cooldown).Sub(now)}
	case StateHalfOpen:
		if cb.probing >= cb.cfg.Probes {
			return false, &OpenError{Name: cb.name}
		}
		cb.probing++
		return true, nil
	}
	return false, nil
}

// release records the outcome. Results of calls that started under an
// earlier state are ignored.
func (cb *CircuitBreaker) release(probe, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch {
	case probe && cb.state == StateHalfOpen:
		cb.probing--
		if failed {
			cb.transition(StateOpen, now)
			return
		}
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed, now)
		}
	case !probe && cb.state == StateClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	}
}

// refresh moves an open circuit to half-open once the cooldown has passed.
func (cb *CircuitBreaker) refresh(now time.Time) State {
	if cb.state == StateOpen && !now.Before(cb.openedAt.Add(cb.cfg.Cooldown)) {
		cb.transition(StateHalfOpen, now)
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	from := cb.state
	failures := cb.failures
	cb.state = to
	cb.failures, cb.successes, cb.probing = 0, 0, 0
	if to == StateOpen {
		cb.openedAt = now
	}

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
	log := cb.cfg.Logger.Info
	if to == StateOpen {
		log = cb.cfg.Logger.Warn
	}
	log("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Uint32("failures", failures),
	)
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.refresh(cb.now())
}
