package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound signals that a remote object does not exist. A handler delete
// phase returning it (or wrapping it) is treated as success: the object is
// already gone.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err indicates a missing remote object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ValidationError reports conflicting or missing props. It is raised before
// any provider I/O happens.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError is returned by a handler's create phase when the remote
// object already exists. When the active scope adopts, the runtime re-runs
// the create with adoption enabled instead of failing; NaturalKey names the
// existing object so the handler can look it up.
type ConflictError struct {
	NaturalKey string
	Err        error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conflict: object %q already exists: %v", e.NaturalKey, e.Err)
	}
	return fmt.Sprintf("conflict: object %q already exists", e.NaturalKey)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// AsConflict extracts a ConflictError if err is or wraps one.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	ok := errors.As(err, &ce)
	return ce, ok
}

// DuplicateResourceError is the fatal error raised when a logical id is
// declared twice within one scope during one run, whether sequentially or
// by two concurrent calls racing on the same id.
type DuplicateResourceError struct {
	ScopePath []string
	ID        string
}

func (e *DuplicateResourceError) Error() string {
	return fmt.Sprintf("duplicate resource %q in scope %s", e.ID, formatScopePath(e.ScopePath))
}

// ResourceError wraps a failure with the logical id and full scope path of
// the resource it belongs to, so every user-visible failure names both.
type ResourceError struct {
	ScopePath []string
	ID        string
	Kind      string
	Err       error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource %q (kind %s, scope %s): %v",
		e.ID, e.Kind, formatScopePath(e.ScopePath), e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

func formatScopePath(path []string) string {
	if len(path) == 0 {
		return "(root)"
	}
	return strings.Join(path, "/")
}
