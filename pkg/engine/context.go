package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jurisdesk/lexflow/pkg/activities"
	"github.com/jurisdesk/lexflow/pkg/models"
	"github.com/jurisdesk/lexflow/pkg/policy"
)

// Context is the only interface workflow code has to the outside world.
// Every primitive either replays a recorded history entry or executes live,
// records the outcome and checkpoints before returning, so the logical
// thread can never get ahead of durable state.
type Context struct {
	ctx    context.Context
	runner *Runner
	cursor int
}

// InstanceID returns the deterministic instance identifier.
func (c *Context) InstanceID() string {
	return c.runner.checkpoint.InstanceID
}

// EntityID returns the business entity this instance belongs to.
func (c *Context) EntityID() string {
	return c.runner.checkpoint.EntityID
}

// TenantID returns the owning tenant.
func (c *Context) TenantID() string {
	return c.runner.checkpoint.TenantID
}

// Input returns the raw start parameters recorded at instance creation.
func (c *Context) Input() json.RawMessage {
	return c.runner.checkpoint.Input
}

// Logger returns the instance-scoped logger. Logging is not recorded in
// history; workflow code may log freely.
func (c *Context) Logger() *slog.Logger {
	return c.runner.logger
}

// Replaying reports whether recorded history is still being consumed.
func (c *Context) Replaying() bool {
	return c.cursor < len(c.runner.checkpoint.History)
}

func (c *Context) nextEntry(kinds ...models.EntryKind) (*models.Entry, error) {
	entry := &c.runner.checkpoint.History[c.cursor]

	for _, kind := range kinds {
		if entry.Kind == kind {
			c.cursor++

			return entry, nil
		}
	}

	return nil, fmt.Errorf("%w: entry %d is %s, expected one of %v",
		ErrReplayDivergence, entry.Seq, entry.Kind, kinds)
}

// record appends a history entry and checkpoints. consumedSignal > 0 pops
// that many envelopes off the pending queue in the same durable write.
func (c *Context) record(kind models.EntryKind, name string, payload json.RawMessage, consumeSignals int) error {
	r := c.runner

	r.lock()
	defer r.unlock()

	r.checkpoint.History = append(r.checkpoint.History, models.Entry{
		Seq:        len(r.checkpoint.History) + 1,
		Kind:       kind,
		Name:       name,
		Payload:    payload,
		RecordedAt: r.clock(),
	})

	if consumeSignals > 0 {
		r.checkpoint.PendingSignals = r.checkpoint.PendingSignals[consumeSignals:]
	}

	if err := r.saveLocked(c.ctx); err != nil {
		return err
	}

	c.cursor = len(r.checkpoint.History)

	return nil
}

// Now returns the current time as observed by the workflow. The value is
// recorded so replay sees the identical instant.
func (c *Context) Now() (time.Time, error) {
	if c.Replaying() {
		entry, err := c.nextEntry(models.EntryNowRecorded)
		if err != nil {
			return time.Time{}, err
		}

		var t time.Time
		if err := json.Unmarshal(entry.Payload, &t); err != nil {
			return time.Time{}, fmt.Errorf("decode recorded time: %w", err)
		}

		return t, nil
	}

	now := c.runner.clock()

	payload, err := json.Marshal(now)
	if err != nil {
		return time.Time{}, err
	}

	if err := c.record(models.EntryNowRecorded, "", payload, 0); err != nil {
		return time.Time{}, err
	}

	return now, nil
}

// SetState refreshes the machine-specific query snapshot. During replay the
// stored snapshot is already current, so nothing is written.
func (c *Context) SetState(state any) error {
	if c.Replaying() {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state snapshot: %w", err)
	}

	r := c.runner

	r.lock()
	defer r.unlock()

	r.checkpoint.State = data

	return r.saveLocked(c.ctx)
}

// SetCancelReason records why the instance was cancelled.
func (c *Context) SetCancelReason(reason string) {
	r := c.runner

	r.lock()
	defer r.unlock()

	r.checkpoint.CancelReason = reason
}

// ExecuteActivity invokes a registered activity through the bounded pool,
// applying the retry policy from opts, and blocks the logical thread until
// the activity settles. The outcome is recorded, so replay feeds the same
// result back without re-executing the side effect.
func (c *Context) ExecuteActivity(name string, opts policy.ActivityOptions, rc activities.RequestContext, in any, out any) error {
	if c.Replaying() {
		entry, err := c.nextEntry(models.EntryActivityCompleted, models.EntryActivityFailed)
		if err != nil {
			return err
		}

		if entry.Name != name {
			return fmt.Errorf("%w: entry %d is activity %q, expected %q",
				ErrReplayDivergence, entry.Seq, entry.Name, name)
		}

		if entry.Kind == models.EntryActivityFailed {
			failure := &ActivityFailure{}
			if err := json.Unmarshal(entry.Payload, failure); err != nil {
				return fmt.Errorf("decode recorded failure: %w", err)
			}

			return failure
		}

		return decodeResult(entry.Payload, out)
	}

	input, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s input: %w", name, err)
	}

	result, invokeErr := c.runner.invoker.Invoke(c.ctx, name, opts, rc, input)
	if invokeErr != nil {
		if c.ctx.Err() != nil {
			// Executor shutdown, not an activity outcome: nothing is
			// recorded and the call is re-issued after restart replay.
			return c.ctx.Err()
		}

		failure := &ActivityFailure{
			Activity: name,
			Kind:     activities.ErrorKind(invokeErr),
			Message:  invokeErr.Error(),
		}

		payload, err := json.Marshal(failure)
		if err != nil {
			return err
		}

		if err := c.record(models.EntryActivityFailed, name, payload, 0); err != nil {
			return err
		}

		return failure
	}

	if err := c.record(models.EntryActivityCompleted, name, result, 0); err != nil {
		return err
	}

	return decodeResult(result, out)
}

func decodeResult(payload json.RawMessage, out any) error {
	if out == nil || len(payload) == 0 {
		return nil
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode activity result: %w", err)
	}

	return nil
}

// Sleep suspends the logical thread for the given duration. The firing is
// recorded, so replay resumes immediately instead of waiting again.
func (c *Context) Sleep(d time.Duration) error {
	if c.Replaying() {
		_, err := c.nextEntry(models.EntryTimerFired)

		return err
	}

	select {
	case <-time.After(d):
		return c.record(models.EntryTimerFired, "sleep", nil, 0)
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// AwaitSignal suspends until a signal with one of the given names arrives
// or the timeout elapses. timeout <= 0 waits indefinitely. The deadline is
// computed from the instant the wait begins, never from earlier waits.
// Queued signals are observed strictly in delivery order; an envelope whose
// name is not awaited here is discarded with a warning.
//
// Returns (envelope, true, nil) for a signal and (nil, false, nil) for a
// timeout.
func (c *Context) AwaitSignal(timeout time.Duration, names ...string) (*models.SignalEnvelope, bool, error) {
	if c.Replaying() {
		entry, err := c.nextEntry(models.EntrySignalReceived, models.EntryTimerFired)
		if err != nil {
			return nil, false, err
		}

		if entry.Kind == models.EntryTimerFired {
			return nil, false, nil
		}

		envelope := &models.SignalEnvelope{}
		if err := json.Unmarshal(entry.Payload, envelope); err != nil {
			return nil, false, fmt.Errorf("decode recorded signal: %w", err)
		}

		return envelope, true, nil
	}

	var timerC <-chan time.Time

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		timerC = timer.C
	}

	for {
		envelope, err := c.takeMatchingSignal(names)
		if err != nil {
			return nil, false, err
		}

		if envelope != nil {
			return envelope, true, nil
		}

		select {
		case <-c.runner.wake:
		case <-timerC:
			if err := c.record(models.EntryTimerFired, "await-signal", nil, 0); err != nil {
				return nil, false, err
			}

			return nil, false, nil
		case <-c.ctx.Done():
			return nil, false, c.ctx.Err()
		}
	}
}

// takeMatchingSignal walks the pending queue front-to-back, consuming the
// first envelope whose name is awaited and durably discarding the ones that
// are not. Returns nil when the queue holds no awaited signal.
func (c *Context) takeMatchingSignal(names []string) (*models.SignalEnvelope, error) {
	r := c.runner

	for {
		r.lock()

		if len(r.checkpoint.PendingSignals) == 0 {
			r.unlock()

			return nil, nil
		}

		head := r.checkpoint.PendingSignals[0]
		r.unlock()

		if !containsName(names, head.Name) {
			r.logger.Warn("Discarding unexpected signal at suspension point", "signal", head.Name)

			r.lock()
			r.checkpoint.PendingSignals = r.checkpoint.PendingSignals[1:]
			err := r.saveLocked(c.ctx)
			r.unlock()

			if err != nil {
				return nil, err
			}

			continue
		}

		payload, err := json.Marshal(head)
		if err != nil {
			return nil, err
		}

		if err := c.record(models.EntrySignalReceived, head.Name, payload, 1); err != nil {
			return nil, err
		}

		return &head, nil
	}
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}

	return false
}
