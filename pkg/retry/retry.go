// Package retry holds the rate-limit retry policy shared by outbound
// gateways: exponential backoff starting at one second, doubling per attempt,
// capped, and bounded by an attempt count. Errors an operation considers
// non-transient are marked Permanent and propagate immediately.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultInitialInterval = 1 * time.Second
	defaultMaxInterval     = 60 * time.Second
)

// Policy describes a bounded exponential backoff: delays run
// initial*2^(attempt-1) without jitter, capped at MaxInterval.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Validate checks the policy bounds.
func (policy Policy) Validate() error {
	if policy.MaxAttempts <= 0 {
		return fmt.Errorf("retry policy: max attempts must be positive, got %d", policy.MaxAttempts)
	}
	return nil
}

// ExecuteOption configures one Execute call.
type ExecuteOption func(*executeSettings)

type executeSettings struct {
	notify backoff.Notify
	timer  backoff.Timer
}

// WithNotify registers a callback invoked before each backoff sleep with the
// failing error and the upcoming delay.
func WithNotify(notify func(err error, delay time.Duration)) ExecuteOption {
	return func(settings *executeSettings) {
		settings.notify = backoff.Notify(notify)
	}
}

// WithTimer replaces the backoff timer (tests use one that fires instantly).
func WithTimer(timer backoff.Timer) ExecuteOption {
	return func(settings *executeSettings) {
		settings.timer = timer
	}
}

// Permanent marks an error as non-retriable so Execute stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Execute runs operation under the policy. Only errors not marked Permanent
// are retried; context cancellation interrupts backoff sleeps.
func (policy Policy) Execute(ctx context.Context, operation func() error, options ...ExecuteOption) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	settings := executeSettings{}
	for _, option := range options {
		if option != nil {
			option(&settings)
		}
	}
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = policy.InitialInterval
	if exponential.InitialInterval <= 0 {
		exponential.InitialInterval = defaultInitialInterval
	}
	exponential.MaxInterval = policy.MaxInterval
	if exponential.MaxInterval <= 0 {
		exponential.MaxInterval = defaultMaxInterval
	}
	exponential.Multiplier = 2
	exponential.RandomizationFactor = 0
	exponential.MaxElapsedTime = 0

	bounded := backoff.WithMaxRetries(exponential, uint64(policy.MaxAttempts-1))
	return backoff.RetryNotifyWithTimer(operation, backoff.WithContext(bounded, ctx), settings.notify, settings.timer)
}
