package health

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// ErrTimeout is returned by Poller.Poll when the condition was not met
// before the timeout.
var ErrTimeout = errors.New("timed out")

// CheckFunc produces one observation.
type CheckFunc func(ctx context.Context) Result

// Poller re-runs a check with exponential back-off: the first wait is
// BaseInterval, each following wait doubles, capped at MaxInterval.
type Poller struct {
	BaseInterval time.Duration
	MaxInterval  time.Duration
	// Observe, if set, sees every result in order.
	Observe func(Result)
}

func (p Poller) backoff() wait.Backoff {
	return wait.Backoff{
		Duration: p.BaseInterval,
		Factor:   2,
		Cap:      p.MaxInterval,
		Steps:    math.MaxInt32,
	}
}

// Poll calls check until done accepts a result, the timeout expires or ctx
// is cancelled. It returns the last result together with nil, an error
// wrapping ErrTimeout, or the context's error. Cancellation is noticed at
// every wait boundary.
func (p Poller) Poll(ctx context.Context, timeout time.Duration, check CheckFunc, done func(Result) bool) (Result, error) {
	deadline := time.Now().Add(timeout)
	backoff := p.backoff()

	var last Result
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}

		if attempt > 1 && time.Until(deadline) <= 0 {
			return last, p.timedOut(timeout, attempt-1)
		}

		checkCtx, cancel := context.WithDeadline(ctx, deadline)
		res := check(checkCtx)
		expired := checkCtx.Err() != nil && ctx.Err() == nil
		cancel()
		// A check cut short by the deadline says nothing about the target;
		// keep the previous observation.
		if expired && attempt > 1 && !done(res) {
			return last, p.timedOut(timeout, attempt-1)
		}
		last = res
		if p.Observe != nil {
			p.Observe(last)
		}
		if done(last) {
			return last, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return last, p.timedOut(timeout, attempt)
		}

		delay := backoff.Step()
		if delay > remaining {
			delay = remaining
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
	}
}

func (p Poller) timedOut(timeout time.Duration, attempts int) error {
	return fmt.Errorf("%w after %s (%d attempts)", ErrTimeout, timeout, attempts)
}

// UntilStatus returns a done predicate accepting results at or above want.
func UntilStatus(want Status) func(Result) bool {
	return func(r Result) bool { return r.Status >= want }
}

// UntilAbsent accepts NotFound results.
func UntilAbsent(r Result) bool {
	return r.Status == NotFound
}
