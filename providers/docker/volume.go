package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/volume"

	"github.com/convergent-io/convergent/internal/engine"
)

func (p *Provider) handleVolume(ctx context.Context, hc *engine.HandlerContext, props map[string]any) (*engine.Result, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch hc.Phase {
	case engine.PhaseDelete:
		name, _ := hc.PreviousOutput["name"].(string)
		if name != "" {
			if err := p.client.VolumeRemove(ctx, name, true); err != nil {
				return nil, notFound(err)
			}
		}
		return engine.Destroyed(), nil

	case engine.PhaseUpdate:
		var desired VolumeConfig
		if err := p.decodeProps(props, &desired); err != nil {
			return nil, err
		}
		prevDriver, _ := hc.PreviousOutput["driver"].(string)
		if desired.Driver != "" && desired.Driver != prevDriver {
			return engine.Replace(), nil
		}
		return engine.Updated(hc.PreviousOutput), nil
	}

	var desired VolumeConfig
	if err := p.decodeProps(props, &desired); err != nil {
		return nil, err
	}
	if desired.Name == "" {
		desired.Name = hc.PhysicalName
	}

	vol, err := p.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   desired.Name,
		Driver: desired.Driver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create volume: %w", err)
	}

	return engine.Created(map[string]any{
		"name":   vol.Name,
		"driver": vol.Driver,
	}), nil
}
