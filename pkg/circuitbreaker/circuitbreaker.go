package circuitbreaker

import (
	"errors"
	"time"

	"github.com/fjod/go_cart/shop-service/pkg/logger"
	"github.com/sony/gobreaker/v2"
)

// ErrOpen is returned instead of calling through while the breaker is open
// or half-open and saturated.
var ErrOpen = errors.New("circuit breaker is open")

type Options struct {
	// ConsecutiveFailures trips the breaker. Zero means 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open. Zero means 10s.
	OpenTimeout time.Duration
	// HalfOpenRequests allowed while probing. Zero means 1.
	HalfOpenRequests uint32
	// IsSuccessful classifies errors that must not count as failures,
	// e.g. not-found lookups.
	IsSuccessful func(err error) bool
}

type Breaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

func New(name string, opts Options, log logger.Logger) *Breaker {
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = 10 * time.Second
	}
	if opts.HalfOpenRequests == 0 {
		opts.HalfOpenRequests = 1
	}

	threshold := opts.ConsecutiveFailures
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: opts.HalfOpenRequests,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
		IsSuccessful: opts.IsSuccessful,
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Execute runs fn through the breaker. Rejections are reported as ErrOpen.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	v, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, ErrOpen
	}
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	return v.(T), nil
}
