package engine

import (
	"fmt"
	"sync"

	"github.com/jurisdesk/lexflow/pkg/models"
)

// WorkflowFunc is a deterministic workflow state machine. It may only
// perform side effects through the Context primitives and must return the
// terminal status the instance reached.
type WorkflowFunc func(wctx *Context) (models.InstanceStatus, error)

// WorkflowRegistry maps workflow type names to their state machine
// functions.
type WorkflowRegistry struct {
	mu    sync.RWMutex
	funcs map[string]WorkflowFunc
}

func NewWorkflowRegistry() *WorkflowRegistry {
	return &WorkflowRegistry{funcs: make(map[string]WorkflowFunc)}
}

func (r *WorkflowRegistry) Register(workflowType string, fn WorkflowFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[workflowType]; exists {
		return fmt.Errorf("workflow type %q already registered", workflowType)
	}

	r.funcs[workflowType] = fn

	return nil
}

func (r *WorkflowRegistry) Lookup(workflowType string) (WorkflowFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, exists := r.funcs[workflowType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowType)
	}

	return fn, nil
}
