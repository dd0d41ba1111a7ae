package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jurisdesk/lexflow/pkg/activities"
	"github.com/jurisdesk/lexflow/pkg/models"
	"github.com/jurisdesk/lexflow/pkg/persistence/file"
	"github.com/jurisdesk/lexflow/pkg/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fastOptions() policy.ActivityOptions {
	return policy.ActivityOptions{
		StartToCloseTimeout:    time.Second,
		ScheduleToCloseTimeout: 5 * time.Second,
		RetryPolicy: policy.BuildRetryPolicy(policy.RetryOptions{
			MaximumAttempts:    2,
			InitialInterval:    time.Millisecond,
			BackoffCoefficient: 1.0,
			MaximumInterval:    time.Millisecond,
		}),
	}
}

type engineEnv struct {
	t        *testing.T
	store    *file.Persistence
	registry *activities.Registry
	invoker  *activities.Invoker
	calls    map[string]*atomic.Int32
}

func newEngineEnv(t *testing.T) *engineEnv {
	t.Helper()

	registry := activities.NewRegistry(testLogger())

	return &engineEnv{
		t:        t,
		store:    file.NewPersistence(t.TempDir()),
		registry: registry,
		invoker:  activities.NewInvoker(registry, testLogger(), 4),
		calls:    make(map[string]*atomic.Int32),
	}
}

// registerActivity tracks invocation counts per name.
func (env *engineEnv) registerActivity(name string, fn func() (json.RawMessage, error)) {
	env.t.Helper()

	counter := &atomic.Int32{}
	env.calls[name] = counter

	err := env.registry.Register(name, func(_ context.Context, _ activities.RequestContext, _ json.RawMessage) (json.RawMessage, error) {
		counter.Add(1)

		return fn()
	})
	require.NoError(env.t, err)
}

func (env *engineEnv) callCount(name string) int32 {
	return env.calls[name].Load()
}

func (env *engineEnv) newRunner(instanceID string, opts ...RunnerOption) *Runner {
	env.t.Helper()

	checkpoint := &models.Checkpoint{
		InstanceID:   instanceID,
		WorkflowType: "test-workflow",
		EntityID:     "entity-1",
		TenantID:     "tenant-a",
		Status:       models.InstanceStatusRunning,
		Input:        json.RawMessage(`{}`),
	}
	require.NoError(env.t, env.store.SaveCheckpoint(context.Background(), checkpoint))

	return NewRunner(checkpoint, env.store, env.invoker, testLogger(), opts...)
}

// restoredRunner reloads the durable checkpoint, as a restarted worker would.
func (env *engineEnv) restoredRunner(instanceID string, opts ...RunnerOption) *Runner {
	env.t.Helper()

	checkpoint, err := env.store.CheckpointByID(context.Background(), instanceID)
	require.NoError(env.t, err)

	return NewRunner(checkpoint, env.store, env.invoker, testLogger(), opts...)
}

func waitDone(t *testing.T, runner *Runner) {
	t.Helper()

	select {
	case <-runner.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not finish in time")
	}
}

func TestExecuteActivityRecordsAndReplays(t *testing.T) {
	env := newEngineEnv(t)
	env.registerActivity("fetch", func() (json.RawMessage, error) {
		return json.RawMessage(`{"value":7}`), nil
	})

	fn := func(wctx *Context) (models.InstanceStatus, error) {
		var out struct {
			Value int `json:"value"`
		}

		if err := wctx.ExecuteActivity("fetch", fastOptions(), activities.RequestContext{}, nil, &out); err != nil {
			return models.InstanceStatusFailed, err
		}

		if out.Value != 7 {
			return models.InstanceStatusFailed, errors.New("unexpected value")
		}

		return models.InstanceStatusCompleted, nil
	}

	runner := env.newRunner("exec-1")
	runner.Start(context.Background(), fn)
	waitDone(t, runner)

	snapshot := runner.Snapshot()
	assert.Equal(t, models.InstanceStatusCompleted, snapshot.Status)
	require.Len(t, snapshot.History, 1)
	assert.Equal(t, models.EntryActivityCompleted, snapshot.History[0].Kind)
	assert.Equal(t, "fetch", snapshot.History[0].Name)
	assert.Equal(t, int32(1), env.callCount("fetch"))

	// A replay of the full history must not re-execute the activity.
	snapshot.Status = models.InstanceStatusRunning
	require.NoError(t, env.store.SaveCheckpoint(context.Background(), &snapshot))

	replayed := env.restoredRunner("exec-1")
	replayed.Start(context.Background(), fn)
	waitDone(t, replayed)

	assert.Equal(t, models.InstanceStatusCompleted, replayed.Snapshot().Status)
	assert.Equal(t, int32(1), env.callCount("fetch"))
}

func TestExecuteActivityFailureIsDeterministic(t *testing.T) {
	env := newEngineEnv(t)
	env.registerActivity("doomed", func() (json.RawMessage, error) {
		return nil, errors.New("downstream exploded")
	})

	var liveFailure, replayFailure *ActivityFailure

	fn := func(capture **ActivityFailure) WorkflowFunc {
		return func(wctx *Context) (models.InstanceStatus, error) {
			err := wctx.ExecuteActivity("doomed", fastOptions(), activities.RequestContext{}, nil, nil)

			failure, ok := IsActivityFailure(err)
			if !ok {
				return models.InstanceStatusFailed, err
			}

			*capture = failure

			return models.InstanceStatusCompleted, nil
		}
	}

	runner := env.newRunner("fail-1")
	runner.Start(context.Background(), fn(&liveFailure))
	waitDone(t, runner)

	require.NotNil(t, liveFailure)
	assert.Equal(t, "doomed", liveFailure.Activity)
	assert.Equal(t, int32(2), env.callCount("doomed"))

	snapshot := runner.Snapshot()
	require.Len(t, snapshot.History, 1)
	assert.Equal(t, models.EntryActivityFailed, snapshot.History[0].Kind)

	snapshot.Status = models.InstanceStatusRunning
	require.NoError(t, env.store.SaveCheckpoint(context.Background(), &snapshot))

	replayed := env.restoredRunner("fail-1")
	replayed.Start(context.Background(), fn(&replayFailure))
	waitDone(t, replayed)

	require.NotNil(t, replayFailure)
	assert.Equal(t, liveFailure.Activity, replayFailure.Activity)
	assert.Equal(t, liveFailure.Kind, replayFailure.Kind)
	assert.Equal(t, liveFailure.Message, replayFailure.Message)
	assert.Equal(t, int32(2), env.callCount("doomed"), "replay must not re-execute")
}

func TestReplayDivergenceDetected(t *testing.T) {
	env := newEngineEnv(t)
	env.registerActivity("original", func() (json.RawMessage, error) { return nil, nil })
	env.registerActivity("changed", func() (json.RawMessage, error) { return nil, nil })

	first := func(wctx *Context) (models.InstanceStatus, error) {
		if err := wctx.ExecuteActivity("original", fastOptions(), activities.RequestContext{}, nil, nil); err != nil {
			return models.InstanceStatusFailed, err
		}

		return models.InstanceStatusCompleted, nil
	}

	runner := env.newRunner("div-1")
	runner.Start(context.Background(), first)
	waitDone(t, runner)

	snapshot := runner.Snapshot()
	snapshot.Status = models.InstanceStatusRunning
	require.NoError(t, env.store.SaveCheckpoint(context.Background(), &snapshot))

	var replayErr error

	second := func(wctx *Context) (models.InstanceStatus, error) {
		replayErr = wctx.ExecuteActivity("changed", fastOptions(), activities.RequestContext{}, nil, nil)

		return models.InstanceStatusFailed, replayErr
	}

	replayed := env.restoredRunner("div-1")
	replayed.Start(context.Background(), second)
	waitDone(t, replayed)

	require.Error(t, replayErr)
	assert.ErrorIs(t, replayErr, ErrReplayDivergence)
}

func TestNowIsRecordedForReplay(t *testing.T) {
	env := newEngineEnv(t)

	var liveNow, replayNow time.Time

	fn := func(capture *time.Time) WorkflowFunc {
		return func(wctx *Context) (models.InstanceStatus, error) {
			now, err := wctx.Now()
			if err != nil {
				return models.InstanceStatusFailed, err
			}

			*capture = now

			return models.InstanceStatusCompleted, nil
		}
	}

	runner := env.newRunner("now-1")
	runner.Start(context.Background(), fn(&liveNow))
	waitDone(t, runner)

	snapshot := runner.Snapshot()
	snapshot.Status = models.InstanceStatusRunning
	require.NoError(t, env.store.SaveCheckpoint(context.Background(), &snapshot))

	replayed := env.restoredRunner("now-1")
	replayed.Start(context.Background(), fn(&replayNow))
	waitDone(t, replayed)

	assert.True(t, liveNow.Equal(replayNow), "replay must observe the recorded instant")
}

func TestAwaitSignalConsumesQueuedSignalsInOrder(t *testing.T) {
	env := newEngineEnv(t)

	var received []string

	fn := func(wctx *Context) (models.InstanceStatus, error) {
		for range 2 {
			signal, ok, err := wctx.AwaitSignal(5*time.Second, "first", "second")
			if err != nil {
				return models.InstanceStatusFailed, err
			}

			if !ok {
				return models.InstanceStatusFailed, errors.New("unexpected timeout")
			}

			received = append(received, signal.Name)
		}

		return models.InstanceStatusCompleted, nil
	}

	runner := env.newRunner("order-1")

	// Queue both before the machine even starts; delivery order must hold.
	require.NoError(t, runner.Deliver(context.Background(), models.SignalEnvelope{ID: "s1", Name: "first"}))
	require.NoError(t, runner.Deliver(context.Background(), models.SignalEnvelope{ID: "s2", Name: "second"}))

	runner.Start(context.Background(), fn)
	waitDone(t, runner)

	assert.Equal(t, []string{"first", "second"}, received)
	assert.Empty(t, runner.Snapshot().PendingSignals)
}

func TestAwaitSignalDiscardsUnexpectedSignal(t *testing.T) {
	env := newEngineEnv(t)

	fn := func(wctx *Context) (models.InstanceStatus, error) {
		signal, ok, err := wctx.AwaitSignal(5*time.Second, "wanted")
		if err != nil {
			return models.InstanceStatusFailed, err
		}

		if !ok || signal.Name != "wanted" {
			return models.InstanceStatusFailed, errors.New("wrong signal")
		}

		return models.InstanceStatusCompleted, nil
	}

	runner := env.newRunner("discard-1")
	require.NoError(t, runner.Deliver(context.Background(), models.SignalEnvelope{ID: "s1", Name: "unrelated"}))
	require.NoError(t, runner.Deliver(context.Background(), models.SignalEnvelope{ID: "s2", Name: "wanted"}))

	runner.Start(context.Background(), fn)
	waitDone(t, runner)

	snapshot := runner.Snapshot()
	assert.Equal(t, models.InstanceStatusCompleted, snapshot.Status)

	// Only the consumed signal is in history; the discarded one left no entry.
	require.Len(t, snapshot.History, 1)
	assert.Equal(t, models.EntrySignalReceived, snapshot.History[0].Kind)
	assert.Equal(t, "wanted", snapshot.History[0].Name)
}

func TestAwaitSignalTimeoutRecordsTimer(t *testing.T) {
	env := newEngineEnv(t)

	fn := func(wctx *Context) (models.InstanceStatus, error) {
		_, ok, err := wctx.AwaitSignal(200*time.Millisecond, "never")
		if err != nil {
			return models.InstanceStatusFailed, err
		}

		if ok {
			return models.InstanceStatusFailed, errors.New("expected timeout")
		}

		return models.InstanceStatusCompleted, nil
	}

	runner := env.newRunner("timeout-1")
	runner.Start(context.Background(), fn)
	waitDone(t, runner)

	snapshot := runner.Snapshot()
	require.Len(t, snapshot.History, 1)
	assert.Equal(t, models.EntryTimerFired, snapshot.History[0].Kind)

	// Replay resumes from the recorded firing without waiting again.
	snapshot.Status = models.InstanceStatusRunning
	require.NoError(t, env.store.SaveCheckpoint(context.Background(), &snapshot))

	start := time.Now()
	replayed := env.restoredRunner("timeout-1")
	replayed.Start(context.Background(), fn)
	waitDone(t, replayed)

	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestDeliverToTerminalInstance(t *testing.T) {
	env := newEngineEnv(t)

	fn := func(_ *Context) (models.InstanceStatus, error) {
		return models.InstanceStatusCompleted, nil
	}

	runner := env.newRunner("term-1")
	runner.Start(context.Background(), fn)
	waitDone(t, runner)

	err := runner.Deliver(context.Background(), models.SignalEnvelope{ID: "late", Name: "anything"})
	assert.ErrorIs(t, err, ErrInstanceTerminal)
}

func TestShutdownSuspendsWithoutTerminalStatus(t *testing.T) {
	env := newEngineEnv(t)

	fn := func(wctx *Context) (models.InstanceStatus, error) {
		_, _, err := wctx.AwaitSignal(0, "never")
		if err != nil {
			return models.InstanceStatusFailed, err
		}

		return models.InstanceStatusCompleted, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	runner := env.newRunner("suspend-1")
	runner.Start(ctx, fn)

	time.Sleep(20 * time.Millisecond)
	cancel()
	waitDone(t, runner)

	stored, err := env.store.CheckpointByID(context.Background(), "suspend-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, stored.Status,
		"shutdown must leave the instance resumable")
}

func TestWorkflowErrorMarksInstanceFailed(t *testing.T) {
	env := newEngineEnv(t)

	fn := func(_ *Context) (models.InstanceStatus, error) {
		return models.InstanceStatusFailed, errors.New("state machine invariant broken")
	}

	runner := env.newRunner("failed-1")
	runner.Start(context.Background(), fn)
	waitDone(t, runner)

	stored, err := env.store.CheckpointByID(context.Background(), "failed-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "invariant broken")
}
