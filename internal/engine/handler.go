package engine

import (
	"context"
	"fmt"
	"sync"
)

// Phase is the lifecycle phase a handler is invoked in.
type Phase string

const (
	PhaseCreate Phase = "create"
	PhaseUpdate Phase = "update"
	PhaseDelete Phase = "delete"
)

// Op tags a handler result. Handlers return an explicit variant instead of
// mutating call-context flags, so the contract stays a pure function.
type Op int

const (
	// OpCreated: a remote object was created (or adopted) and Output is its
	// full state.
	OpCreated Op = iota + 1
	// OpUpdated: the object was reconciled in place. A true no-op is an
	// OpUpdated whose Output matches the previous output.
	OpUpdated
	// OpReplace: the declared change cannot be applied in place. The runtime
	// responds by deleting the old object and re-running create.
	OpReplace
	// OpDestroyed: the delete phase removed the remote object.
	OpDestroyed
)

func (o Op) String() string {
	switch o {
	case OpCreated:
		return "created"
	case OpUpdated:
		return "updated"
	case OpReplace:
		return "replace"
	case OpDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Result is the tagged outcome of one handler invocation.
type Result struct {
	Op     Op
	Output map[string]any
}

// Created wraps a create-phase result.
func Created(output map[string]any) *Result {
	return &Result{Op: OpCreated, Output: output}
}

// Updated wraps an update-phase result.
func Updated(output map[string]any) *Result {
	return &Result{Op: OpUpdated, Output: output}
}

// Replace requests a forced delete-then-recreate from an update phase.
func Replace() *Result {
	return &Result{Op: OpReplace}
}

// Destroyed wraps a delete-phase result.
func Destroyed() *Result {
	return &Result{Op: OpDestroyed}
}

// HandlerContext is the execution context handed to a handler. The engine
// holds no schema knowledge; everything the handler needs to decide between
// no-op, in-place update, and replace is here.
type HandlerContext struct {
	Phase Phase
	// ScopePath and ID address the logical resource.
	ScopePath []string
	ID        string
	Kind      string
	// PhysicalName is the deterministic external-facing name derived from
	// app identity, scope path, and logical id.
	PhysicalName string
	// PreviousInputs and PreviousOutput come from the prior record, secrets
	// already decrypted. Both are nil during a first create.
	PreviousInputs map[string]any
	PreviousOutput map[string]any
	// Adopt is set on a create re-run after a ConflictError: the handler
	// should look the existing object up by its natural key and return it
	// as though freshly created.
	Adopt bool
}

// HandlerFunc is the reconciliation function for one resource kind. It is
// the only seam between the generic engine and provider-specific code.
// Handlers are responsible for their own retry against transient provider
// errors; the engine never retries a failed invocation.
type HandlerFunc func(ctx context.Context, hc *HandlerContext, props map[string]any) (*Result, error)

// Registry maps resource kinds to handlers. It is an explicit object
// threaded through one engine instance per apply; there is no process-global
// kind table to leak across runs or tests.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to a kind, replacing any previous binding.
func (r *Registry) Register(kind string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Get returns the handler for a kind.
func (r *Registry) Get(kind string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("no handler registered for kind %q", kind)
	}
	return h, nil
}

// Kinds returns the registered kinds, for diagnostics.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}
