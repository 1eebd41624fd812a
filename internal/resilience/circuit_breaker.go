// Package resilience wraps sony/gobreaker with per-backend circuit breakers.
//
// Each breaker opens after a configured number of consecutive failures,
// rejects calls while open, admits a single probe after the recovery
// timeout (half-open), re-opens on a failed probe, and closes on success.
package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned by Execute when the breaker rejects the call
// without invoking the protected function.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

func fromGobreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// CircuitBreaker protects one backend.
type CircuitBreaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewCircuitBreaker builds a breaker that trips when consecutive failures
// reach threshold and transitions open -> half-open after recovery.
// Half-open admits exactly one probe.
func NewCircuitBreaker(name string, threshold uint32, recovery time.Duration, logger *zap.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{name: name, logger: logger}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     recovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				zap.String("backend", name),
				zap.String("from", string(fromGobreakerState(from))),
				zap.String("to", string(fromGobreakerState(to))))
		},
	}
	cb.breaker = gobreaker.NewCircuitBreaker(settings)
	return cb
}

// Execute runs fn under breaker protection. When the breaker is open (or a
// half-open probe is already in flight) it returns ErrCircuitOpen without
// calling fn; any other error came from fn itself and has been recorded as
// a failure. A nil error records a success.
func (cb *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	result, err := cb.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return result, err
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	return fromGobreakerState(cb.breaker.State())
}

// Name returns the backend this breaker protects.
func (cb *CircuitBreaker) Name() string { return cb.name }
