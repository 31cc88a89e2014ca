// Package null provides a deterministic resource kind with no remote side
// effects. A null resource carries a triggers map; changing any trigger
// forces a replace. It is mainly useful in tests and as a reference for
// writing handlers.
package null

import (
	"context"
	"fmt"

	"github.com/convergent-io/convergent/internal/engine"
)

// Kind is the resource kind this handler serves.
const Kind = "null"

// Register binds the null handler into a registry.
func Register(reg *engine.Registry) {
	reg.Register(Kind, Handler)
}

// Handler reconciles null resources.
func Handler(ctx context.Context, hc *engine.HandlerContext, props map[string]any) (*engine.Result, error) {
	switch hc.Phase {
	case engine.PhaseCreate:
		return engine.Created(map[string]any{
			"id":       "null-" + hc.PhysicalName,
			"triggers": triggers(props),
		}), nil

	case engine.PhaseUpdate:
		if !equalTriggers(triggers(props), triggers(hc.PreviousInputs)) {
			return engine.Replace(), nil
		}
		return engine.Updated(hc.PreviousOutput), nil

	case engine.PhaseDelete:
		return engine.Destroyed(), nil
	}
	return nil, fmt.Errorf("unexpected phase %q", hc.Phase)
}

func triggers(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	t, _ := props["triggers"].(map[string]any)
	return t
}

func equalTriggers(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if fmt.Sprintf("%v", b[k]) != fmt.Sprintf("%v", v) {
			return false
		}
	}
	return true
}
