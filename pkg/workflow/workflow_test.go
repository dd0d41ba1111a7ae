package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jurisdesk/lexflow/pkg/activities"
	"github.com/jurisdesk/lexflow/pkg/engine"
	"github.com/jurisdesk/lexflow/pkg/models"
	"github.com/jurisdesk/lexflow/pkg/persistence/file"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeClock drives Context.Now deterministically; real timers (decision
// waits) still run on wall time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// testEnv wires the workflow machines to counting stub activities over a
// file-backed store, mirroring a single-worker deployment.
type testEnv struct {
	t       *testing.T
	store   *file.Persistence
	invoker *activities.Invoker
	clock   *fakeClock

	mu    sync.Mutex
	calls map[string]*atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		t:     t,
		store: file.NewPersistence(t.TempDir()),
		clock: newFakeClock(),
		calls: make(map[string]*atomic.Int32),
	}

	registry := activities.NewRegistry(testLogger())

	resolve := func(_ context.Context, _ activities.RequestContext, in activities.ResolveApproverInput) (activities.ResolveApproverOutput, error) {
		env.count(activities.ResolveApproverForLevel)

		return activities.ResolveApproverOutput{ApproverID: fmt.Sprintf("approver-l%d", in.Level)}, nil
	}
	require.NoError(t, activities.RegisterFunc(registry, activities.ResolveApproverForLevel, resolve))

	for _, name := range []string{
		activities.NotifyApprover,
		activities.UpdateEntityStatus,
		activities.NotifyRejection,
		activities.EscalateApproval,
		activities.NotifyCompletion,
		activities.LogWorkflowStart,
		activities.PersistStageTransition,
		activities.PersistRequirementProgress,
		activities.ScheduleReminder,
	} {
		name := name
		require.NoError(t, registry.Register(name, func(_ context.Context, _ activities.RequestContext, _ json.RawMessage) (json.RawMessage, error) {
			env.count(name)

			return nil, nil
		}))
	}

	env.invoker = activities.NewInvoker(registry, testLogger(), 8)

	return env
}

func (env *testEnv) count(name string) {
	env.mu.Lock()
	defer env.mu.Unlock()

	counter, ok := env.calls[name]
	if !ok {
		counter = &atomic.Int32{}
		env.calls[name] = counter
	}

	counter.Add(1)
}

func (env *testEnv) callCount(name string) int32 {
	env.mu.Lock()
	defer env.mu.Unlock()

	counter, ok := env.calls[name]
	if !ok {
		return 0
	}

	return counter.Load()
}

func (env *testEnv) startInstance(ctx context.Context, workflowType string, input any, fn engine.WorkflowFunc) *engine.Runner {
	env.t.Helper()

	payload, err := json.Marshal(input)
	require.NoError(env.t, err)

	var entityID, tenantID string

	switch in := input.(type) {
	case models.ApprovalInput:
		entityID, tenantID = in.EntityID, in.TenantID
	case models.LifecycleInput:
		entityID, tenantID = in.EntityID, in.TenantID
	}

	checkpoint := &models.Checkpoint{
		InstanceID:   models.InstanceID(workflowType, entityID),
		WorkflowType: workflowType,
		EntityID:     entityID,
		TenantID:     tenantID,
		Status:       models.InstanceStatusRunning,
		Input:        payload,
	}
	require.NoError(env.t, env.store.SaveCheckpoint(ctx, checkpoint))

	runner := engine.NewRunner(checkpoint, env.store, env.invoker, testLogger(),
		engine.WithClock(env.clock.Now))
	runner.Start(ctx, fn)

	return runner
}

// restoreInstance reloads the durable checkpoint and relaunches it, exactly
// as a restarted worker would.
func (env *testEnv) restoreInstance(ctx context.Context, instanceID string, fn engine.WorkflowFunc) *engine.Runner {
	env.t.Helper()

	checkpoint, err := env.store.CheckpointByID(ctx, instanceID)
	require.NoError(env.t, err)

	runner := engine.NewRunner(checkpoint, env.store, env.invoker, testLogger(),
		engine.WithClock(env.clock.Now))
	runner.Start(ctx, fn)

	return runner
}

func (env *testEnv) signal(runner *engine.Runner, id, name string, payload any) {
	env.t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(env.t, err)

	require.NoError(env.t, runner.Deliver(context.Background(), models.SignalEnvelope{
		ID:      id,
		Name:    name,
		Payload: data,
	}))
}

func waitDone(t *testing.T, runner *engine.Runner) {
	t.Helper()

	select {
	case <-runner.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not finish in time")
	}
}

func waitForHistoryLen(t *testing.T, runner *engine.Runner, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(runner.Snapshot().History) >= n
	}, 5*time.Second, 5*time.Millisecond)
}

func approvalState(t *testing.T, runner *engine.Runner) models.ApprovalStatus {
	t.Helper()

	var status models.ApprovalStatus
	require.NoError(t, json.Unmarshal(runner.Snapshot().State, &status))

	return status
}

func lifecycleState(t *testing.T, runner *engine.Runner) models.LifecycleStatus {
	t.Helper()

	var status models.LifecycleStatus
	require.NoError(t, json.Unmarshal(runner.Snapshot().State, &status))

	return status
}

func waitForLifecycle(t *testing.T, runner *engine.Runner, cond func(models.LifecycleStatus) bool) {
	t.Helper()

	require.Eventually(t, func() bool {
		snapshot := runner.Snapshot()
		if len(snapshot.State) == 0 {
			return false
		}

		var status models.LifecycleStatus
		if err := json.Unmarshal(snapshot.State, &status); err != nil {
			return false
		}

		return cond(status)
	}, 5*time.Second, 5*time.Millisecond)
}
