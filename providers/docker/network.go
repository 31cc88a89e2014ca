package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/errdefs"

	"github.com/convergent-io/convergent/internal/engine"
)

func (p *Provider) handleNetwork(ctx context.Context, hc *engine.HandlerContext, props map[string]any) (*engine.Result, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch hc.Phase {
	case engine.PhaseDelete:
		id, _ := hc.PreviousOutput["id"].(string)
		if id != "" {
			if err := p.client.NetworkRemove(ctx, id); err != nil {
				return nil, notFound(err)
			}
		}
		return engine.Destroyed(), nil

	case engine.PhaseUpdate:
		var desired NetworkConfig
		if err := p.decodeProps(props, &desired); err != nil {
			return nil, err
		}
		prevDriver, _ := hc.PreviousOutput["driver"].(string)
		if desired.Driver != "" && desired.Driver != prevDriver {
			return engine.Replace(), nil
		}
		return engine.Updated(hc.PreviousOutput), nil
	}

	var desired NetworkConfig
	if err := p.decodeProps(props, &desired); err != nil {
		return nil, err
	}
	if desired.Name == "" {
		desired.Name = hc.PhysicalName
	}

	if hc.Adopt {
		inspect, err := p.client.NetworkInspect(ctx, desired.Name, types.NetworkInspectOptions{})
		if err != nil {
			return nil, fmt.Errorf("cannot adopt network %s: %w", desired.Name, notFound(err))
		}
		return engine.Created(map[string]any{
			"id":     inspect.ID,
			"name":   inspect.Name,
			"driver": inspect.Driver,
		}), nil
	}

	resp, err := p.client.NetworkCreate(ctx, desired.Name, types.NetworkCreate{
		Driver:   desired.Driver,
		Internal: desired.Internal,
		Labels:   desired.Labels,
	})
	if err != nil {
		if errdefs.IsConflict(err) {
			return nil, &engine.ConflictError{NaturalKey: desired.Name, Err: err}
		}
		return nil, fmt.Errorf("failed to create network: %w", err)
	}

	return engine.Created(map[string]any{
		"id":     resp.ID,
		"name":   desired.Name,
		"driver": desired.Driver,
	}), nil
}
