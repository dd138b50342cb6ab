package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"k8s.io/klog/v2"

	"ordermesh/pkg/apiserver/config"
)

// ErrUnavailable marks a dependency call that exhausted its retry schedule or
// hit an open circuit. Callers treat it as "publish/read failed, run the
// compensation or requeue path", never as a silent no-op.
var ErrUnavailable = errors.New("dependency unavailable")

type unavailableError struct {
	name  string
	cause error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.name, e.cause)
}

func (e *unavailableError) Unwrap() error { return e.cause }

func (e *unavailableError) Is(target error) bool { return target == ErrUnavailable }

// Policy wraps dependency calls with a per-attempt timeout, a fixed retry
// schedule for transient errors and a circuit breaker on top. One Policy
// instance guards one dependency (the broker, the transient store).
type Policy struct {
	name     string
	timeout  time.Duration
	schedule []time.Duration
	breaker  *gobreaker.CircuitBreaker
}

// NewPolicy builds a Policy named after the dependency it guards.
func NewPolicy(name string, cfg config.ResilienceConfig) *Policy {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			klog.Warningf("circuit %s state change: %s -> %s", name, from, to)
		},
	}
	return &Policy{
		name:     name,
		timeout:  cfg.AttemptTimeout,
		schedule: cfg.RetrySchedule,
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

// Execute runs op under the policy. Each attempt gets its own timeout; failed
// attempts are retried on the fixed schedule; a run of failed calls opens the
// breaker and subsequent calls short-circuit for the cool-down window.
// Exhaustion and open-circuit both surface as ErrUnavailable. Context
// cancellation propagates as-is without tripping the unavailable class.
func (p *Policy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		attempt := func() error {
			actx := ctx
			var cancel context.CancelFunc
			if p.timeout > 0 {
				actx, cancel = context.WithTimeout(ctx, p.timeout)
				defer cancel()
			}
			err := op(actx)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				// The caller is gone, retrying serves nobody.
				return backoff.Permanent(err)
			}
			klog.V(4).Infof("%s attempt failed: %v", p.name, err)
			return err
		}
		return nil, backoff.Retry(attempt, backoff.WithContext(&fixedSchedule{waits: p.schedule}, ctx))
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	return &unavailableError{name: p.name, cause: err}
}

// fixedSchedule is a backoff.BackOff that replays a fixed wait list once.
type fixedSchedule struct {
	waits []time.Duration
	next  int
}

func (s *fixedSchedule) NextBackOff() time.Duration {
	if s.next >= len(s.waits) {
		return backoff.Stop
	}
	d := s.waits[s.next]
	s.next++
	return d
}

func (s *fixedSchedule) Reset() { s.next = 0 }
