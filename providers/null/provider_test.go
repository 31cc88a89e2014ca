package null

import (
	"context"
	"testing"

	"github.com/convergent-io/convergent/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Create(t *testing.T) {
	ctx := context.Background()

	res, err := Handler(ctx, &engine.HandlerContext{
		Phase:        engine.PhaseCreate,
		ID:           "test",
		Kind:         Kind,
		PhysicalName: "app-dev-test",
	}, map[string]any{"triggers": map[string]any{"foo": "bar"}})
	require.NoError(t, err)
	assert.Equal(t, engine.OpCreated, res.Op)
	assert.Equal(t, "null-app-dev-test", res.Output["id"])
	assert.Equal(t, map[string]any{"foo": "bar"}, res.Output["triggers"])
}

func TestHandler_UpdateNoOp(t *testing.T) {
	ctx := context.Background()
	prevOutput := map[string]any{"id": "null-app-dev-test", "triggers": map[string]any{"foo": "bar"}}

	res, err := Handler(ctx, &engine.HandlerContext{
		Phase:          engine.PhaseUpdate,
		ID:             "test",
		Kind:           Kind,
		PhysicalName:   "app-dev-test",
		PreviousInputs: map[string]any{"triggers": map[string]any{"foo": "bar"}},
		PreviousOutput: prevOutput,
	}, map[string]any{"triggers": map[string]any{"foo": "bar"}})
	require.NoError(t, err)
	assert.Equal(t, engine.OpUpdated, res.Op)
	assert.Equal(t, prevOutput, res.Output)
}

func TestHandler_ChangedTriggersForceReplace(t *testing.T) {
	ctx := context.Background()

	res, err := Handler(ctx, &engine.HandlerContext{
		Phase:          engine.PhaseUpdate,
		ID:             "test",
		Kind:           Kind,
		PhysicalName:   "app-dev-test",
		PreviousInputs: map[string]any{"triggers": map[string]any{"foo": "bar"}},
		PreviousOutput: map[string]any{"id": "null-app-dev-test"},
	}, map[string]any{"triggers": map[string]any{"foo": "baz"}})
	require.NoError(t, err)
	assert.Equal(t, engine.OpReplace, res.Op)
}

func TestHandler_Delete(t *testing.T) {
	ctx := context.Background()

	res, err := Handler(ctx, &engine.HandlerContext{
		Phase:          engine.PhaseDelete,
		ID:             "test",
		Kind:           Kind,
		PreviousOutput: map[string]any{"id": "null-app-dev-test"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, engine.OpDestroyed, res.Op)
}
