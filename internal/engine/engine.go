// Package engine implements the resource lifecycle and state-reconciliation
// core: scope identity, the per-resource phase state machine, adoption on
// conflict, and orphan garbage collection.
//
// The engine never builds a dependency graph. Ordering between a resource
// and a consumer of its output is the host program's own sequencing:
// outputs are passed between calls as already-resolved values, so structural
// nesting mirrors dependency and deletes run in reverse of that order. This
// is a deliberate trade-off, not a gap.
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/convergent-io/convergent/internal/logging"
	"github.com/convergent-io/convergent/internal/state"
)

// Options configures one Engine instance. An Engine is built per apply;
// nothing is shared through globals across runs or tests.
type Options struct {
	// App and Stage form the identity prefix of every physical name.
	App   string
	Stage string

	Store    state.Store
	Registry *Registry

	// Codec encrypts secret values in persisted records. Defaults to a
	// codec keyed from CONVERGENT_SECRET_KEY.
	Codec *state.SecretCodec

	// Adopt is the root scope's default adoption policy.
	Adopt bool
}

// Engine owns the store, the secret codec, the handler registry, and the
// root scope for one apply.
type Engine struct {
	app      string
	stage    string
	store    state.Store
	codec    *state.SecretCodec
	registry *Registry
	root     *Scope

	touched *touchedSet
}

// New validates options and builds an engine.
func New(opts Options) (*Engine, error) {
	if opts.App == "" {
		return nil, Validationf("app name is required")
	}
	if opts.Store == nil {
		return nil, Validationf("state store is required")
	}
	if opts.Registry == nil {
		return nil, Validationf("handler registry is required")
	}
	codec := opts.Codec
	if codec == nil {
		codec = state.CodecFromEnv()
	}
	e := &Engine{
		app:      opts.App,
		stage:    opts.Stage,
		store:    opts.Store,
		codec:    codec,
		registry: opts.Registry,
		touched:  newTouchedSet(),
	}
	e.root = &Scope{eng: e, adopt: opts.Adopt}
	return e, nil
}

// Root returns the root scope.
func (e *Engine) Root() *Scope { return e.root }

// Run is the top-level entry point: it acquires the store lock if the
// backend supports one, enters a child scope of the root, runs fn, and
// reconciles orphans for that subtree.
func (e *Engine) Run(ctx context.Context, name string, fn func(context.Context, *Scope) error, opts ...RunOption) error {
	unlock, err := e.lockStore(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return e.root.Run(ctx, name, fn, opts...)
}

// Destroy deletes every record in the scope's subtree, deepest-nested scope
// first, replaying each through its handler's delete phase. Records marked
// retain are removed from state without touching the remote object.
func (e *Engine) Destroy(ctx context.Context, scope *Scope) error {
	unlock, err := e.lockStore(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	records, err := e.store.List(ctx, scope.Path())
	if err != nil {
		return err
	}
	orderForDeletion(records)

	logging.Info("destroying scope", "scope", formatScopePath(scope.Path()), "resources", len(records))
	for _, rec := range records {
		if err := e.deleteRecord(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// DestroyResource forces deletion of a single resource outside the normal
// reconcile pass.
func (e *Engine) DestroyResource(ctx context.Context, scope *Scope, id string) error {
	rec, err := e.store.Get(ctx, scope.Path(), id)
	if err != nil {
		if err == state.ErrRecordNotFound {
			return nil
		}
		return err
	}
	return e.deleteRecord(ctx, rec)
}

// reconcileScope removes orphans: records under the scope that were not
// touched by the current run. Each orphan's last known output is replayed
// through its handler's delete phase before the record is removed.
func (e *Engine) reconcileScope(ctx context.Context, scope *Scope) error {
	records, err := e.store.List(ctx, scope.Path())
	if err != nil {
		return err
	}

	var orphans []*state.Record
	for _, rec := range records {
		if !e.touched.has(rec.ScopePath, rec.ID) {
			orphans = append(orphans, rec)
		}
	}
	if len(orphans) == 0 {
		return nil
	}
	orderForDeletion(orphans)

	logging.Info("reconciling orphans", "scope", formatScopePath(scope.Path()), "orphans", len(orphans))
	for _, rec := range orphans {
		if err := e.deleteRecord(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// deleteRecord runs a record's handler delete phase (unless retained) and
// removes the record. A handler reporting the object as already gone counts
// as success. Marker statuses skip the handler: a replacing or destroyed
// record's remote object is already gone, and a pending record never
// finished creating one.
func (e *Engine) deleteRecord(ctx context.Context, rec *state.Record) error {
	skipPhase := rec.Retain ||
		rec.Status == state.StatusReplacing ||
		rec.Status == state.StatusPending ||
		rec.Status == state.StatusDestroyed
	if !skipPhase {
		prevInputs, prevOutput, err := e.decryptRecord(rec)
		if err != nil {
			return err
		}
		handler, err := e.registry.Get(rec.Kind)
		if err != nil {
			return &ResourceError{ScopePath: rec.ScopePath, ID: rec.ID, Kind: rec.Kind, Err: err}
		}
		hc := &HandlerContext{
			Phase:          PhaseDelete,
			ScopePath:      rec.ScopePath,
			ID:             rec.ID,
			Kind:           rec.Kind,
			PhysicalName:   e.physicalNameFor(rec.ScopePath, rec.ID),
			PreviousInputs: prevInputs,
			PreviousOutput: prevOutput,
		}
		logging.Debug("deleting resource", "id", rec.ID, "kind", rec.Kind, "scope", formatScopePath(rec.ScopePath))
		if _, err := handler(ctx, hc, prevInputs); err != nil && !IsNotFound(err) {
			return &ResourceError{ScopePath: rec.ScopePath, ID: rec.ID, Kind: rec.Kind, Err: err}
		}
		// Tombstone before removal: a crash between the remote delete and
		// the record removal must never replay the delete phase.
		tomb := *rec
		tomb.Output = nil
		tomb.Status = state.StatusDestroyed
		tomb.UpdatedAt = time.Now().UTC()
		if err := e.store.Put(ctx, rec.ScopePath, rec.ID, &tomb); err != nil {
			return err
		}
	}
	return e.store.Delete(ctx, rec.ScopePath, rec.ID)
}

// physicalNameFor rebuilds the deterministic physical name for a stored
// record address without needing a live Scope for it.
func (e *Engine) physicalNameFor(scopePath []string, id string) string {
	s := &Scope{eng: e}
	for _, name := range scopePath {
		s = &Scope{eng: e, name: name, parent: s}
	}
	return s.PhysicalName(id)
}

func (e *Engine) lockStore(ctx context.Context) (func(), error) {
	locker, ok := e.store.(state.Locker)
	if !ok {
		return func() {}, nil
	}
	if err := locker.Lock(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := locker.Unlock(ctx); err != nil {
			logging.Warn("failed to release state lock", "error", err)
		}
	}, nil
}

// orderForDeletion sorts deepest-nested scope first, newest record first
// within a scope, mirroring creation order in reverse.
func orderForDeletion(records []*state.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if d1, d2 := records[i].ScopeDepth(), records[j].ScopeDepth(); d1 != d2 {
			return d1 > d2
		}
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
}
