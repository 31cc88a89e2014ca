package engine

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/convergent-io/convergent/internal/logging"
	"github.com/convergent-io/convergent/internal/state"
)

// ResourceOption configures a single resource declaration.
type ResourceOption func(*resourceOptions)

type resourceOptions struct {
	adopt  *bool
	retain bool
}

// WithAdopt overrides the scope's adoption policy for this call.
func WithAdopt(adopt bool) ResourceOption {
	return func(o *resourceOptions) { o.adopt = &adopt }
}

// WithRetain marks the resource delete-protected: destroying it removes the
// record but never invokes the handler's delete phase, leaving the remote
// object intact.
func WithRetain() ResourceOption {
	return func(o *resourceOptions) { o.retain = true }
}

// Resource declares a resource in this scope and drives it through its
// lifecycle phase. It returns the handler's output with secrets decrypted.
//
// Independent calls (distinct logical ids) may run concurrently; a second
// call sharing a logical id fails fast with a duplicate-resource error.
func (s *Scope) Resource(ctx context.Context, kind, id string, props map[string]any, opts ...ResourceOption) (map[string]any, error) {
	if s == nil {
		return nil, Validationf("resource %q declared with no active scope", id)
	}
	var o resourceOptions
	for _, opt := range opts {
		opt(&o)
	}
	return s.eng.invoke(ctx, s, kind, id, props, o)
}

func (e *Engine) invoke(ctx context.Context, s *Scope, kind, id string, props map[string]any, o resourceOptions) (map[string]any, error) {
	if id == "" || strings.Contains(id, "/") {
		return nil, Validationf("invalid logical id %q", id)
	}
	if kind == "" {
		return nil, Validationf("resource %q has no kind", id)
	}
	handler, err := e.registry.Get(kind)
	if err != nil {
		return nil, Validationf("resource %q: %v", id, err)
	}

	scopePath := s.Path()
	if !e.touched.add(scopePath, id) {
		return nil, &DuplicateResourceError{ScopePath: scopePath, ID: id}
	}

	prior, err := e.store.Get(ctx, scopePath, id)
	if err != nil && err != state.ErrRecordNotFound {
		return nil, err
	}

	var prevInputs, prevOutput map[string]any
	if prior != nil {
		prevInputs, prevOutput, err = e.decryptRecord(prior)
		if err != nil {
			return nil, err
		}
	}

	adopt := s.adopt
	if o.adopt != nil {
		adopt = *o.adopt
	}

	hc := &HandlerContext{
		ScopePath:      scopePath,
		ID:             id,
		Kind:           kind,
		PhysicalName:   s.PhysicalName(id),
		PreviousInputs: prevInputs,
		PreviousOutput: prevOutput,
	}

	switch {
	case prior == nil:
		// Mark the create in flight before touching the remote system so a
		// crash mid-create leaves a visible pending record instead of
		// nothing.
		marker, err := e.persistPending(ctx, hc, nil, props, o)
		if err != nil {
			return nil, err
		}
		return e.createResource(ctx, handler, hc, marker, props, adopt, o)

	case prior.Status == state.StatusPending:
		// A previous run died mid-create. The handler's create phase is
		// idempotent, so retry from scratch.
		logging.Warn("retrying interrupted create", "id", id, "kind", kind,
			"scope", formatScopePath(scopePath))
		hc.PreviousOutput = nil
		return e.createResource(ctx, handler, hc, prior, props, adopt, o)

	case prior.Status == state.StatusReplacing:
		// A previous run was interrupted between deleting the old object
		// and creating the new one. The old object is gone; never try to
		// resurrect it, always proceed forward to create.
		logging.Warn("resuming interrupted replace", "id", id, "kind", kind,
			"scope", formatScopePath(scopePath))
		hc.PreviousOutput = nil
		return e.createResource(ctx, handler, hc, prior, props, adopt, o)

	default:
		hc.Phase = PhaseUpdate
		logging.Debug("updating resource", "id", id, "kind", kind, "scope", formatScopePath(scopePath))
		res, err := handler(ctx, hc, props)
		if err != nil {
			return nil, &ResourceError{ScopePath: scopePath, ID: id, Kind: kind, Err: err}
		}
		switch res.Op {
		case OpUpdated, OpCreated:
			if err := e.persist(ctx, hc, prior, props, res.Output, o); err != nil {
				return nil, err
			}
			return res.Output, nil
		case OpReplace:
			return e.forceReplace(ctx, handler, hc, prior, props, adopt, o)
		default:
			return nil, &ResourceError{ScopePath: scopePath, ID: id, Kind: kind,
				Err: Validationf("handler returned %s from update phase", res.Op)}
		}
	}
}

// createResource runs the create phase, adopting an existing remote object
// on naming conflict when the effective policy allows it.
func (e *Engine) createResource(ctx context.Context, handler HandlerFunc, hc *HandlerContext, prior *state.Record, props map[string]any, adopt bool, o resourceOptions) (map[string]any, error) {
	hc.Phase = PhaseCreate
	logging.Debug("creating resource", "id", hc.ID, "kind", hc.Kind,
		"scope", formatScopePath(hc.ScopePath), "physical_name", hc.PhysicalName)

	res, err := handler(ctx, hc, props)
	if err != nil {
		if conflict, ok := AsConflict(err); ok && adopt {
			logging.Info("adopting existing resource", "id", hc.ID, "kind", hc.Kind,
				"natural_key", conflict.NaturalKey)
			hc.Adopt = true
			res, err = handler(ctx, hc, props)
		}
		if err != nil {
			return nil, &ResourceError{ScopePath: hc.ScopePath, ID: hc.ID, Kind: hc.Kind, Err: err}
		}
	}
	if res.Op != OpCreated {
		return nil, &ResourceError{ScopePath: hc.ScopePath, ID: hc.ID, Kind: hc.Kind,
			Err: Validationf("handler returned %s from create phase", res.Op)}
	}
	if err := e.persist(ctx, hc, prior, props, res.Output, o); err != nil {
		return nil, err
	}
	return res.Output, nil
}

// forceReplace deletes the old remote object, persists an intermediate
// replacing marker so an interruption is resumable, then creates the new
// object under the unchanged logical id.
func (e *Engine) forceReplace(ctx context.Context, handler HandlerFunc, hc *HandlerContext, prior *state.Record, props map[string]any, adopt bool, o resourceOptions) (map[string]any, error) {
	logging.Info("replacing resource", "id", hc.ID, "kind", hc.Kind, "scope", formatScopePath(hc.ScopePath))

	del := *hc
	del.Phase = PhaseDelete
	if _, err := handler(ctx, &del, hc.PreviousInputs); err != nil && !IsNotFound(err) {
		return nil, &ResourceError{ScopePath: hc.ScopePath, ID: hc.ID, Kind: hc.Kind, Err: err}
	}

	// The old object is gone. Record that before clearing anything else so
	// a crash here resumes forward into create instead of re-deleting.
	encInputs, err := e.encryptWithPrior(props, prior)
	if err != nil {
		return nil, &ResourceError{ScopePath: hc.ScopePath, ID: hc.ID, Kind: hc.Kind, Err: err}
	}
	marker := &state.Record{
		ScopePath: hc.ScopePath,
		ID:        hc.ID,
		Kind:      hc.Kind,
		Inputs:    encInputs,
		Status:    state.StatusReplacing,
		Retain:    o.retain,
		UpdatedAt: time.Now().UTC(),
	}
	if err := e.store.Put(ctx, hc.ScopePath, hc.ID, marker); err != nil {
		return nil, err
	}

	create := *hc
	create.PreviousOutput = nil
	return e.createResource(ctx, handler, &create, marker, props, adopt, o)
}

// persistPending writes the in-flight marker for a first create, reusing
// prior ciphertext when one exists.
func (e *Engine) persistPending(ctx context.Context, hc *HandlerContext, prior *state.Record, props map[string]any, o resourceOptions) (*state.Record, error) {
	encInputs, err := e.encryptWithPrior(props, prior)
	if err != nil {
		return nil, &ResourceError{ScopePath: hc.ScopePath, ID: hc.ID, Kind: hc.Kind, Err: err}
	}
	marker := &state.Record{
		ScopePath: hc.ScopePath,
		ID:        hc.ID,
		Kind:      hc.Kind,
		Inputs:    encInputs,
		Status:    state.StatusPending,
		Retain:    o.retain,
		UpdatedAt: time.Now().UTC(),
	}
	if err := e.store.Put(ctx, hc.ScopePath, hc.ID, marker); err != nil {
		return nil, err
	}
	return marker, nil
}

// persist writes the post-invocation record. Secrets are re-encrypted,
// reusing prior ciphertext for unchanged values; if the resulting record is
// identical to the prior one, the write is skipped so an idempotent re-run
// leaves the stored bytes untouched.
func (e *Engine) persist(ctx context.Context, hc *HandlerContext, prior *state.Record, props, output map[string]any, o resourceOptions) error {
	encInputs, err := e.encryptWithPrior(props, prior)
	if err != nil {
		return &ResourceError{ScopePath: hc.ScopePath, ID: hc.ID, Kind: hc.Kind, Err: err}
	}
	var priorOutput map[string]any
	if prior != nil {
		priorOutput = prior.Output
	}
	encOutput, err := e.codec.Encrypt(output, priorOutput)
	if err != nil {
		return &ResourceError{ScopePath: hc.ScopePath, ID: hc.ID, Kind: hc.Kind, Err: err}
	}

	rec := &state.Record{
		ScopePath: hc.ScopePath,
		ID:        hc.ID,
		Kind:      hc.Kind,
		Inputs:    encInputs,
		Output:    encOutput,
		Status:    state.StatusCreated,
		Retain:    o.retain,
		UpdatedAt: time.Now().UTC(),
	}
	if recordsEquivalent(prior, rec) {
		return nil
	}
	return e.store.Put(ctx, hc.ScopePath, hc.ID, rec)
}

func (e *Engine) encryptWithPrior(props map[string]any, prior *state.Record) (map[string]any, error) {
	var priorInputs map[string]any
	if prior != nil {
		priorInputs = prior.Inputs
	}
	return e.codec.Encrypt(props, priorInputs)
}

// decryptRecord returns a record's inputs and output with secret envelopes
// replaced by in-memory Secret values. A record that cannot be decrypted is
// unreadable state.
func (e *Engine) decryptRecord(rec *state.Record) (inputs, output map[string]any, err error) {
	inputs, err = e.codec.Decrypt(rec.Inputs)
	if err != nil {
		return nil, nil, &state.CorruptionError{Key: state.Key(rec.ScopePath, rec.ID), Err: err}
	}
	output, err = e.codec.Decrypt(rec.Output)
	if err != nil {
		return nil, nil, &state.CorruptionError{Key: state.Key(rec.ScopePath, rec.ID), Err: err}
	}
	return inputs, output, nil
}

// recordsEquivalent compares records through their JSON forms, ignoring
// UpdatedAt, so a no-op update does not churn the stored bytes.
func recordsEquivalent(prior, next *state.Record) bool {
	if prior == nil || prior.Status != next.Status || prior.Retain != next.Retain || prior.Kind != next.Kind {
		return false
	}
	return jsonEqual(prior.Inputs, next.Inputs) && jsonEqual(prior.Output, next.Output)
}

func jsonEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ja, err1 := json.Marshal(a)
	jb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(ja) == string(jb)
}
