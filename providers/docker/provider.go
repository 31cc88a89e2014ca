// Package docker provides resource kinds backed by a local Docker daemon:
// containers, images, networks, and volumes. Container and network name
// conflicts surface as adoption-capable conflicts, so a scope with adoption
// enabled takes ownership of pre-existing objects instead of failing.
package docker

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/docker/docker/client"
	"github.com/go-playground/validator/v10"

	"github.com/convergent-io/convergent/internal/engine"
	"github.com/convergent-io/convergent/internal/state"
)

// Resource kinds served by this provider.
const (
	KindContainer = "docker:container"
	KindImage     = "docker:image"
	KindNetwork   = "docker:network"
	KindVolume    = "docker:volume"
)

// Provider holds the shared Docker client for all docker kinds.
type Provider struct {
	initOnce sync.Once
	initErr  error
	client   *client.Client
	validate *validator.Validate
}

// New builds a provider. The Docker client is created lazily on first use
// so that construction never needs a reachable daemon.
func New() *Provider {
	return &Provider{validate: validator.New()}
}

// Register binds all docker kinds into a registry.
func (p *Provider) Register(reg *engine.Registry) {
	reg.Register(KindContainer, p.handleContainer)
	reg.Register(KindImage, p.handleImage)
	reg.Register(KindNetwork, p.handleNetwork)
	reg.Register(KindVolume, p.handleVolume)
}

// ensureClient initializes the shared client exactly once. Handlers for
// distinct logical ids may run concurrently, so init must be race-free.
func (p *Provider) ensureClient() error {
	p.initOnce.Do(func() {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			p.initErr = fmt.Errorf("failed to create docker client: %w", err)
			return
		}
		p.client = cli
	})
	return p.initErr
}

// decodeProps converts loose props into a typed config and validates it.
// Secret values are revealed first; the daemon needs the real strings.
func (p *Provider) decodeProps(props map[string]any, out any) error {
	raw, err := json.Marshal(revealSecrets(props))
	if err != nil {
		return engine.Validationf("unserializable props: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return engine.Validationf("invalid props: %v", err)
	}
	if err := p.validate.Struct(out); err != nil {
		return engine.Validationf("invalid props: %v", err)
	}
	return nil
}

func revealSecrets(v any) any {
	switch val := v.(type) {
	case state.Secret:
		return val.Reveal()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = revealSecrets(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = revealSecrets(inner)
		}
		return out
	default:
		return val
	}
}

// notFound translates a docker missing-object error into the engine's
// sentinel so deletes treat it as already gone.
func notFound(err error) error {
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%w: %v", engine.ErrNotFound, err)
	}
	return err
}
