package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jurisdesk/lexflow/pkg/policy"
)

const DefaultMaxConcurrent = 32

// Invoker executes activities with real parallelism in a bounded pool,
// applying the retry policy and heartbeat liveness from the activity options
// of each invocation.
type Invoker struct {
	registry *Registry
	logger   *slog.Logger
	slots    chan struct{}
}

func NewInvoker(registry *Registry, logger *slog.Logger, maxConcurrent int) *Invoker {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	return &Invoker{
		registry: registry,
		logger:   logger.With("module", "activity_invoker"),
		slots:    make(chan struct{}, maxConcurrent),
	}
}

// Invoke runs the named activity until it succeeds, a non-retryable failure
// occurs, retries are exhausted, or the schedule-to-close deadline passes.
// It blocks the caller, which is exactly the suspension semantics workflow
// code expects from an activity call.
func (inv *Invoker) Invoke(ctx context.Context, name string, opts policy.ActivityOptions, rc RequestContext, input json.RawMessage) (json.RawMessage, error) {
	fn, err := inv.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	select {
	case inv.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-inv.slots }()

	scheduleCtx := ctx

	if opts.ScheduleToCloseTimeout > 0 {
		var cancel context.CancelFunc

		scheduleCtx, cancel = context.WithTimeout(ctx, opts.ScheduleToCloseTimeout)
		defer cancel()
	}

	retryPolicy := opts.RetryPolicy
	logger := inv.logger.With("activity", name)

	var lastErr error

	for attempt := 1; attempt <= retryPolicy.MaximumAttempts; attempt++ {
		result, attemptErr := inv.attempt(scheduleCtx, fn, opts, rc, input)
		if attemptErr == nil {
			return result, nil
		}

		lastErr = attemptErr

		if kind := ErrorKind(attemptErr); retryPolicy.IsNonRetryable(kind) {
			logger.WarnContext(ctx, "Activity failed with non-retryable error",
				"kind", kind, "attempt", attempt, "error", attemptErr)

			return nil, &ActivityError{Activity: name, Kind: kind, Attempts: attempt, Err: attemptErr}
		}

		if scheduleCtx.Err() != nil {
			break
		}

		if attempt == retryPolicy.MaximumAttempts {
			break
		}

		backoff := retryPolicy.BackoffInterval(attempt)
		logger.DebugContext(ctx, "Activity attempt failed, backing off",
			"attempt", attempt, "backoff", backoff, "error", attemptErr)

		if err := waitForBackoff(scheduleCtx, backoff); err != nil {
			lastErr = err

			break
		}
	}

	logger.ErrorContext(ctx, "Activity retries exhausted", "error", lastErr)

	return nil, &ActivityError{
		Activity: name,
		Attempts: retryPolicy.MaximumAttempts,
		Err:      fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr),
	}
}

func (inv *Invoker) attempt(ctx context.Context, fn Func, opts policy.ActivityOptions, rc RequestContext, input json.RawMessage) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if opts.StartToCloseTimeout > 0 {
		var cancelTimeout context.CancelFunc

		attemptCtx, cancelTimeout = context.WithTimeout(attemptCtx, opts.StartToCloseTimeout)
		defer cancelTimeout()
	}

	if opts.HeartbeatTimeout > 0 {
		var lastBeat atomic.Int64

		lastBeat.Store(time.Now().UnixNano())

		attemptCtx = WithHeartbeat(attemptCtx, func() {
			lastBeat.Store(time.Now().UnixNano())
		})

		watchdogDone := make(chan struct{})
		defer close(watchdogDone)

		go func() {
			ticker := time.NewTicker(opts.HeartbeatTimeout / 2)
			defer ticker.Stop()

			for {
				select {
				case <-watchdogDone:
					return
				case <-attemptCtx.Done():
					return
				case <-ticker.C:
					stale := time.Since(time.Unix(0, lastBeat.Load()))
					if stale > opts.HeartbeatTimeout {
						cancel(ErrHeartbeatTimeout)

						return
					}
				}
			}
		}()
	}

	result, err := fn(attemptCtx, rc, input)
	if err != nil {
		if cause := context.Cause(attemptCtx); errors.Is(cause, ErrHeartbeatTimeout) {
			return nil, fmt.Errorf("%w: %w", ErrHeartbeatTimeout, err)
		}

		return nil, err
	}

	return result, nil
}

func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
