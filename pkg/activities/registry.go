package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Func is the registered form of an activity: JSON in, JSON out. Typed
// implementations are adapted with RegisterFunc/RegisterProc.
type Func func(ctx context.Context, rc RequestContext, input json.RawMessage) (json.RawMessage, error)

type heartbeatKey struct{}

// WithHeartbeat attaches a heartbeat callback to the context. The invoker
// installs it before each attempt when the activity options set a heartbeat
// timeout.
func WithHeartbeat(ctx context.Context, beat func()) context.Context {
	return context.WithValue(ctx, heartbeatKey{}, beat)
}

// Heartbeat reports liveness from inside a long-running activity so the
// executor can detect stalls and honor cancellation promptly. A no-op when
// the invocation has no heartbeat timeout.
func Heartbeat(ctx context.Context) {
	if beat, ok := ctx.Value(heartbeatKey{}).(func()); ok {
		beat()
	}
}

// Registry maps activity names to executable functions.
type Registry struct {
	mu     sync.RWMutex
	funcs  map[string]Func
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		funcs:  make(map[string]Func),
		logger: logger.With("module", "activity_registry"),
	}
}

func (r *Registry) Register(name string, fn Func) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("activity %q already registered", name)
	}

	r.funcs[name] = fn

	return nil
}

func (r *Registry) Lookup(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, exists := r.funcs[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrActivityNotFound, name)
	}

	return fn, nil
}

// RegisterFunc adapts a typed activity with a result to the registry form.
func RegisterFunc[In, Out any](r *Registry, name string, fn func(context.Context, RequestContext, In) (Out, error)) error {
	return r.Register(name, func(ctx context.Context, rc RequestContext, raw json.RawMessage) (json.RawMessage, error) {
		var in In
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, NewValidationError(name, fmt.Errorf("decode input: %w", err))
			}
		}

		out, err := fn(ctx, rc, in)
		if err != nil {
			return nil, err
		}

		payload, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode %s output: %w", name, err)
		}

		return payload, nil
	})
}

// RegisterProc adapts a typed activity without a result.
func RegisterProc[In any](r *Registry, name string, fn func(context.Context, RequestContext, In) error) error {
	return RegisterFunc(r, name, func(ctx context.Context, rc RequestContext, in In) (struct{}, error) {
		return struct{}{}, fn(ctx, rc, in)
	})
}

// RegisterApproval registers an ApprovalActivities implementation under the
// canonical activity names.
func RegisterApproval(r *Registry, impl ApprovalActivities) error {
	if err := RegisterFunc(r, ResolveApproverForLevel, impl.ResolveApproverForLevel); err != nil {
		return err
	}

	if err := RegisterProc(r, NotifyApprover, impl.NotifyApprover); err != nil {
		return err
	}

	if err := RegisterProc(r, UpdateEntityStatus, impl.UpdateEntityStatus); err != nil {
		return err
	}

	if err := RegisterProc(r, NotifyRejection, impl.NotifyRejection); err != nil {
		return err
	}

	if err := RegisterProc(r, EscalateApproval, impl.EscalateApproval); err != nil {
		return err
	}

	if err := RegisterProc(r, NotifyCompletion, impl.NotifyCompletion); err != nil {
		return err
	}

	return RegisterProc(r, LogWorkflowStart, impl.LogWorkflowStart)
}

// RegisterLifecycle registers a LifecycleActivities implementation. The
// shared names (update-entity-status, notify-completion, log-workflow-start)
// may already be present when both contracts share one implementation;
// duplicates are skipped.
func RegisterLifecycle(r *Registry, impl LifecycleActivities) error {
	if err := RegisterProc(r, PersistStageTransition, impl.PersistStageTransition); err != nil {
		return err
	}

	if err := RegisterProc(r, PersistRequirementProgress, impl.PersistRequirementProgress); err != nil {
		return err
	}

	if err := RegisterProc(r, ScheduleReminder, impl.ScheduleReminder); err != nil {
		return err
	}

	for name, register := range map[string]func() error{
		UpdateEntityStatus: func() error { return RegisterProc(r, UpdateEntityStatus, impl.UpdateEntityStatus) },
		NotifyCompletion:   func() error { return RegisterProc(r, NotifyCompletion, impl.NotifyCompletion) },
		LogWorkflowStart:   func() error { return RegisterProc(r, LogWorkflowStart, impl.LogWorkflowStart) },
	} {
		if _, err := r.Lookup(name); err == nil {
			continue
		}

		if err := register(); err != nil {
			return err
		}
	}

	return nil
}
