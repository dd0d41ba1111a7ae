// Package policy provides retry policy and activity option builders used by the
// workflow engine when invoking activities.
package policy

import (
	"math"
	"time"
)

// Error kinds that can be marked non-retryable. They match the Kind field of
// activities.ActivityError so a policy can short-circuit the retry loop.
const (
	ErrorKindValidation   = "validation"
	ErrorKindDuplicateKey = "duplicate_key"
	ErrorKindTypeCast     = "type_cast"
	ErrorKindTimeout      = "timeout"
	ErrorKindUnavailable  = "unavailable"
)

// RetryPolicy is an immutable description of how a single activity call-site
// is retried. Construct it with BuildRetryPolicy or one of the presets.
type RetryPolicy struct {
	MaximumAttempts        int           `json:"maximum_attempts"`
	InitialInterval        time.Duration `json:"initial_interval"`
	BackoffCoefficient     float64       `json:"backoff_coefficient"`
	MaximumInterval        time.Duration `json:"maximum_interval"`
	NonRetryableErrorKinds []string      `json:"non_retryable_error_kinds,omitempty"`
}

// RetryOptions are the knobs accepted by BuildRetryPolicy. Zero values fall
// back to the defaults (3 attempts, 1s initial interval, x2 backoff, 1m cap).
type RetryOptions struct {
	MaximumAttempts        int
	InitialInterval        time.Duration
	BackoffCoefficient     float64
	MaximumInterval        time.Duration
	NonRetryableErrorKinds []string
}

func BuildRetryPolicy(opts RetryOptions) RetryPolicy {
	policy := RetryPolicy{
		MaximumAttempts:        3,
		InitialInterval:        1 * time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        1 * time.Minute,
		NonRetryableErrorKinds: opts.NonRetryableErrorKinds,
	}

	if opts.MaximumAttempts > 0 {
		policy.MaximumAttempts = opts.MaximumAttempts
	}

	if opts.InitialInterval > 0 {
		policy.InitialInterval = opts.InitialInterval
	}

	if opts.BackoffCoefficient > 0 {
		policy.BackoffCoefficient = opts.BackoffCoefficient
	}

	if opts.MaximumInterval > 0 {
		policy.MaximumInterval = opts.MaximumInterval
	}

	return policy
}

// BackoffInterval returns the wait before the given attempt is retried.
// interval(attempt) = min(initial * coefficient^(attempt-1), maximum).
func (p RetryPolicy) BackoffInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	interval := float64(p.InitialInterval) * math.Pow(p.BackoffCoefficient, float64(attempt-1))
	if interval > float64(p.MaximumInterval) {
		return p.MaximumInterval
	}

	return time.Duration(interval)
}

// IsNonRetryable reports whether the given error kind bypasses retrying
// entirely and propagates as a terminal activity failure.
func (p RetryPolicy) IsNonRetryable(kind string) bool {
	if kind == "" {
		return false
	}

	for _, k := range p.NonRetryableErrorKinds {
		if k == kind {
			return true
		}
	}

	return false
}

// ActivityOptions govern a single activity invocation: timeouts, heartbeat
// liveness and the retry policy applied on failure.
type ActivityOptions struct {
	StartToCloseTimeout    time.Duration `json:"start_to_close_timeout"`
	ScheduleToCloseTimeout time.Duration `json:"schedule_to_close_timeout"`
	HeartbeatTimeout       time.Duration `json:"heartbeat_timeout"`
	RetryPolicy            RetryPolicy   `json:"retry_policy"`
}

// DefaultActivityOptions are used when a call-site does not pick a preset.
func DefaultActivityOptions() ActivityOptions {
	return ActivityOptions{
		StartToCloseTimeout:    30 * time.Second,
		ScheduleToCloseTimeout: 5 * time.Minute,
		RetryPolicy:            BuildRetryPolicy(RetryOptions{}),
	}
}

// CriticalActivityOptions favor persistence over speed for operations that
// must not be silently dropped (approver resolution, status updates).
func CriticalActivityOptions() ActivityOptions {
	return ActivityOptions{
		StartToCloseTimeout:    30 * time.Second,
		ScheduleToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:       20 * time.Second,
		RetryPolicy: BuildRetryPolicy(RetryOptions{
			MaximumAttempts:    10,
			InitialInterval:    500 * time.Millisecond,
			BackoffCoefficient: 1.5,
			MaximumInterval:    30 * time.Second,
		}),
	}
}

// ExternalAPIActivityOptions tolerate slow upstream recovery for third-party
// integrations (e-signature, calendar, banking, notifications).
func ExternalAPIActivityOptions() ActivityOptions {
	return ActivityOptions{
		StartToCloseTimeout:    2 * time.Minute,
		ScheduleToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:       1 * time.Minute,
		RetryPolicy: BuildRetryPolicy(RetryOptions{
			MaximumAttempts:    5,
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    5 * time.Minute,
		}),
	}
}

// DataLayerActivityOptions mark validation, duplicate-key and type-cast
// failures non-retryable: retrying a malformed write can never succeed.
func DataLayerActivityOptions() ActivityOptions {
	return ActivityOptions{
		StartToCloseTimeout:    15 * time.Second,
		ScheduleToCloseTimeout: 5 * time.Minute,
		RetryPolicy: BuildRetryPolicy(RetryOptions{
			MaximumAttempts:    5,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			NonRetryableErrorKinds: []string{
				ErrorKindValidation,
				ErrorKindDuplicateKey,
				ErrorKindTypeCast,
			},
		}),
	}
}
