package docker

import (
	"context"
	"sync"
	"testing"

	"github.com/convergent-io/convergent/internal/engine"
	"github.com/convergent-io/convergent/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeProps(t *testing.T) {
	p := New()

	var cfg ContainerConfig
	err := p.decodeProps(map[string]any{
		"image": "nginx:1.27",
		"ports": map[string]any{"8080": 80},
		"env":   map[string]any{"TOKEN": state.NewSecret("hunter2")},
	}, &cfg)
	require.NoError(t, err)
	assert.Equal(t, "nginx:1.27", cfg.Image)
	assert.Equal(t, 80, cfg.Ports["8080"])
	// Secrets are revealed before being handed to the daemon.
	assert.Equal(t, "hunter2", cfg.Env["TOKEN"])
}

func TestDecodeProps_MissingImage(t *testing.T) {
	p := New()

	var cfg ContainerConfig
	err := p.decodeProps(map[string]any{"name": "web"}, &cfg)
	require.Error(t, err)
	var ve *engine.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestDecodeProps_BadRestartPolicy(t *testing.T) {
	p := New()

	var cfg ContainerConfig
	err := p.decodeProps(map[string]any{"image": "nginx", "restart": "sometimes"}, &cfg)
	require.Error(t, err)
}

func TestContainer_ImageChangeForcesReplace(t *testing.T) {
	p := New()
	ctx := context.Background()

	res, err := p.handleContainer(ctx, &engine.HandlerContext{
		Phase:          engine.PhaseUpdate,
		ID:             "web",
		Kind:           KindContainer,
		PhysicalName:   "app-dev-web",
		PreviousInputs: map[string]any{"image": "nginx:1.26"},
		PreviousOutput: map[string]any{"id": "abc123", "name": "app-dev-web", "image": "nginx:1.26"},
	}, map[string]any{"image": "nginx:1.27"})
	require.NoError(t, err)
	assert.Equal(t, engine.OpReplace, res.Op)
}

func TestContainer_UnchangedImageIsNoOp(t *testing.T) {
	p := New()
	ctx := context.Background()
	prevOutput := map[string]any{"id": "abc123", "name": "app-dev-web", "image": "nginx:1.27"}

	res, err := p.handleContainer(ctx, &engine.HandlerContext{
		Phase:          engine.PhaseUpdate,
		ID:             "web",
		Kind:           KindContainer,
		PhysicalName:   "app-dev-web",
		PreviousInputs: map[string]any{"image": "nginx:1.27"},
		PreviousOutput: prevOutput,
	}, map[string]any{"image": "nginx:1.27"})
	require.NoError(t, err)
	assert.Equal(t, engine.OpUpdated, res.Op)
	assert.Equal(t, prevOutput, res.Output)
}

// The engine runs handlers for distinct logical ids concurrently, so lazy
// client init must be safe under the race detector.
func TestConcurrentHandlersShareClient(t *testing.T) {
	p := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prevOutput := map[string]any{"id": "abc123", "name": "app-dev-web", "image": "nginx:1.27"}
			res, err := p.handleContainer(ctx, &engine.HandlerContext{
				Phase:          engine.PhaseUpdate,
				ID:             "web",
				Kind:           KindContainer,
				PhysicalName:   "app-dev-web",
				PreviousInputs: map[string]any{"image": "nginx:1.27"},
				PreviousOutput: prevOutput,
			}, map[string]any{"image": "nginx:1.27"})
			assert.NoError(t, err)
			assert.Equal(t, engine.OpUpdated, res.Op)
		}()
	}
	wg.Wait()
	assert.NotNil(t, p.client)
}

func TestNetwork_DriverChangeForcesReplace(t *testing.T) {
	p := New()
	ctx := context.Background()

	res, err := p.handleNetwork(ctx, &engine.HandlerContext{
		Phase:          engine.PhaseUpdate,
		ID:             "net",
		Kind:           KindNetwork,
		PhysicalName:   "app-dev-net",
		PreviousOutput: map[string]any{"id": "n1", "name": "app-dev-net", "driver": "bridge"},
	}, map[string]any{"driver": "overlay"})
	require.NoError(t, err)
	assert.Equal(t, engine.OpReplace, res.Op)
}
