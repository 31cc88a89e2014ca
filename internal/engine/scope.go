package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/convergent-io/convergent/internal/logging"
)

// maxPhysicalNameLen bounds derived names so they fit common cloud name
// limits. Longer names are truncated and suffixed with a stable hash.
const maxPhysicalNameLen = 64

// Scope is a hierarchical namespace node. Logical ids are unique within
// their immediate scope, and orphan detection is bounded by a scope subtree.
// A scope exclusively owns its children; a child never outlives its parent.
type Scope struct {
	eng    *Engine
	name   string
	parent *Scope
	adopt  bool

	mu       sync.Mutex
	children []*Scope
}

// Name returns the scope's own name. The root scope's name is empty.
func (s *Scope) Name() string { return s.name }

// Path returns the scope path from the root, excluding the root itself.
func (s *Scope) Path() []string {
	if s.parent == nil {
		return nil
	}
	return append(s.parent.Path(), s.name)
}

// Adopting reports the scope's effective adoption policy.
func (s *Scope) Adopting() bool { return s.adopt }

// enter creates (or returns the existing) child scope with the given name.
// The adopt policy is inherited unless overridden later via RunOption.
func (s *Scope) enter(name string) (*Scope, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, Validationf("invalid scope name %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.children {
		if c.name == name {
			return c, nil
		}
	}
	child := &Scope{eng: s.eng, name: name, parent: s, adopt: s.adopt}
	s.children = append(s.children, child)
	return child, nil
}

// Descend resolves (creating as needed) the scope at the given relative
// path. It addresses stored state without running a program, which is how
// destroy and state inspection target a subtree.
func (s *Scope) Descend(path ...string) (*Scope, error) {
	cur := s
	for _, name := range path {
		child, err := cur.enter(name)
		if err != nil {
			return nil, err
		}
		cur = child
	}
	return cur, nil
}

// RunOption configures a nested Run.
type RunOption func(*runOptions)

type runOptions struct {
	deferReconcile bool
	adopt          *bool
}

// WithDeferredReconcile skips orphan reconciliation when the scope's
// function returns. The caller is then responsible for reconciling (or
// destroying) the scope later.
func WithDeferredReconcile() RunOption {
	return func(o *runOptions) { o.deferReconcile = true }
}

// WithAdoption overrides the inherited adopt policy for the child scope.
func WithAdoption(adopt bool) RunOption {
	return func(o *runOptions) { o.adopt = &adopt }
}

// Run creates a child scope, runs fn with it active, and afterwards
// reconciles away orphans under that child, unless deferred. fn returning
// an error skips reconciliation so a partial run never garbage-collects
// resources it did not get to declare.
func (s *Scope) Run(ctx context.Context, name string, fn func(context.Context, *Scope) error, opts ...RunOption) error {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	child, err := s.enter(name)
	if err != nil {
		return err
	}
	if o.adopt != nil {
		child.adopt = *o.adopt
	}

	logging.Debug("entering scope", "scope", formatScopePath(child.Path()))
	if err := fn(ctx, child); err != nil {
		return err
	}
	if o.deferReconcile {
		return nil
	}
	return s.eng.reconcileScope(ctx, child)
}

// PhysicalName derives the deterministic external-facing name for a logical
// id in this scope: app, stage, scope path, and id joined with dashes and
// sanitized. It is stable across runs, so an update-in-place always targets
// the same remote object.
func (s *Scope) PhysicalName(id string) string {
	parts := []string{s.eng.app, s.eng.stage}
	parts = append(parts, s.Path()...)
	parts = append(parts, id)

	var cleaned []string
	for _, p := range parts {
		if p = sanitizeNamePart(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	name := strings.Join(cleaned, "-")
	if len(name) <= maxPhysicalNameLen {
		return name
	}

	h := fnv.New32a()
	h.Write([]byte(name))
	suffix := fmt.Sprintf("-%08x", h.Sum32())
	return name[:maxPhysicalNameLen-len(suffix)] + suffix
}

func sanitizeNamePart(p string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(p) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ' || r == '.':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
