// Package state provides durable keyed storage for resource records.
// Records are keyed by (scope path, logical id); every backend guarantees
// per-key atomicity and supports listing a whole scope subtree by prefix.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status tracks where a record is in its lifecycle.
type Status string

const (
	// StatusPending marks a first create in flight: the record exists but
	// the handler has not reported success yet. A pending record found on a
	// later run means that run died mid-create; the create is retried from
	// scratch.
	StatusPending Status = "pending"
	// StatusCreated means the remote object exists and the output is current.
	StatusCreated Status = "created"
	// StatusReplacing marks a half-completed forced replace: the old remote
	// object has been deleted but the new one has not been created yet.
	StatusReplacing Status = "replacing"
	// StatusDestroyed is the tombstone written between a successful handler
	// delete and the record's removal, so an interruption in that window
	// never replays the delete phase.
	StatusDestroyed Status = "destroyed"
)

// Record is the persisted representation of one logical resource.
// It is unique per (ScopePath, ID).
type Record struct {
	ScopePath []string       `json:"scopePath"`
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Status    Status         `json:"status"`
	// Retain disables the delete phase on destroy: the record is removed
	// but the remote object is left intact.
	Retain    bool      `json:"retain,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key returns the flat storage key for a record address.
func Key(scopePath []string, id string) string {
	if len(scopePath) == 0 {
		return id
	}
	return strings.Join(scopePath, "/") + "/" + id
}

// ScopeDepth is the nesting depth of the record's scope, used to order
// subtree destroys deepest-first.
func (r *Record) ScopeDepth() int {
	return len(r.ScopePath)
}

// ErrRecordNotFound is returned by Get when no record exists for a key.
var ErrRecordNotFound = errors.New("record not found")

// Store is the contract every state backend implements. All operations are
// atomic per key. List returns every record whose scope path is at or below
// the given prefix; a nil prefix lists the whole store.
type Store interface {
	Get(ctx context.Context, scopePath []string, id string) (*Record, error)
	Put(ctx context.Context, scopePath []string, id string, rec *Record) error
	Delete(ctx context.Context, scopePath []string, id string) error
	List(ctx context.Context, scopePathPrefix []string) ([]*Record, error)
}

// Locker is implemented by backends that support exclusive apply locks.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// CorruptionError signals that the store is unreachable or a record is
// unreadable. State correctness is load-bearing, so callers abort the
// whole apply on this error rather than guessing.
type CorruptionError struct {
	Key string
	Err error
}

func (e *CorruptionError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("state store corruption: %v", e.Err)
	}
	return fmt.Sprintf("state store corruption at %s: %v", e.Key, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// IsCorruption reports whether err is (or wraps) a CorruptionError.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}
