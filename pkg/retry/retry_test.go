package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// instantTimer fires immediately and records the requested delays.
type instantTimer struct {
	delays []time.Duration
	ch     chan time.Time
}

func newInstantTimer() *instantTimer {
	return &instantTimer{ch: make(chan time.Time, 1)}
}

func (timer *instantTimer) Start(duration time.Duration) {
	timer.delays = append(timer.delays, duration)
	timer.ch <- time.Now()
}

func (timer *instantTimer) Stop() {}

func (timer *instantTimer) C() <-chan time.Time {
	return timer.ch
}

func TestExecuteRetriesWithDoublingDelays(test *testing.T) {
	test.Parallel()
	timer := newInstantTimer()
	policy := Policy{MaxAttempts: 3}
	attempts := 0
	transient := errors.New("rate limited")

	err := policy.Execute(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return transient
		}
		return nil
	}, WithTimer(timer))

	if err != nil {
		test.Fatalf("execute: %v", err)
	}
	if attempts != 3 {
		test.Fatalf("expected 3 attempts, got %d", attempts)
	}
	expected := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(timer.delays) != len(expected) {
		test.Fatalf("expected %d sleeps, got %v", len(expected), timer.delays)
	}
	for index, delay := range expected {
		if timer.delays[index] != delay {
			test.Fatalf("expected delay %v at position %d, got %v", delay, index, timer.delays[index])
		}
	}
}

func TestExecuteStopsAtAttemptBound(test *testing.T) {
	test.Parallel()
	timer := newInstantTimer()
	policy := Policy{MaxAttempts: 3}
	attempts := 0
	transient := errors.New("rate limited")

	err := policy.Execute(context.Background(), func() error {
		attempts++
		return transient
	}, WithTimer(timer))

	if !errors.Is(err, transient) {
		test.Fatalf("expected final transient error, got %v", err)
	}
	if attempts != 3 {
		test.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestExecutePermanentStopsImmediately(test *testing.T) {
	test.Parallel()
	timer := newInstantTimer()
	policy := Policy{MaxAttempts: 5}
	attempts := 0
	fatal := errors.New("unauthorized")

	err := policy.Execute(context.Background(), func() error {
		attempts++
		return Permanent(fatal)
	}, WithTimer(timer))

	if !errors.Is(err, fatal) {
		test.Fatalf("expected unauthorized error, got %v", err)
	}
	if attempts != 1 {
		test.Fatalf("expected single attempt, got %d", attempts)
	}
	if len(timer.delays) != 0 {
		test.Fatalf("expected no sleeps, got %v", timer.delays)
	}
}

func TestExecuteCapsDelayAtMaxInterval(test *testing.T) {
	test.Parallel()
	timer := newInstantTimer()
	policy := Policy{MaxAttempts: 5, InitialInterval: 1 * time.Second, MaxInterval: 2 * time.Second}
	transient := errors.New("rate limited")

	_ = policy.Execute(context.Background(), func() error { return transient }, WithTimer(timer))

	expected := []time.Duration{1 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}
	if len(timer.delays) != len(expected) {
		test.Fatalf("expected %d sleeps, got %v", len(expected), timer.delays)
	}
	for index, delay := range expected {
		if timer.delays[index] != delay {
			test.Fatalf("expected delay %v at position %d, got %v", delay, index, timer.delays[index])
		}
	}
}

func TestExecuteNotifiesBeforeEachSleep(test *testing.T) {
	test.Parallel()
	timer := newInstantTimer()
	policy := Policy{MaxAttempts: 3}
	transient := errors.New("rate limited")
	var notified []time.Duration

	_ = policy.Execute(context.Background(), func() error { return transient },
		WithTimer(timer),
		WithNotify(func(err error, delay time.Duration) {
			if !errors.Is(err, transient) {
				test.Errorf("unexpected notify error: %v", err)
			}
			notified = append(notified, delay)
		}),
	)

	if len(notified) != 2 {
		test.Fatalf("expected 2 notifications, got %d", len(notified))
	}
}

func TestValidateRejectsNonPositiveAttempts(test *testing.T) {
	test.Parallel()
	if err := (Policy{MaxAttempts: 0}).Validate(); err == nil {
		test.Fatalf("expected validation error for zero attempts")
	}
	if err := (Policy{}).Execute(context.Background(), func() error { return nil }); err == nil {
		test.Fatalf("expected execute to reject invalid policy")
	}
}
