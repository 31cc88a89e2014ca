package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/archive"

	"github.com/convergent-io/convergent/internal/engine"
)

func (p *Provider) handleImage(ctx context.Context, hc *engine.HandlerContext, props map[string]any) (*engine.Result, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch hc.Phase {
	case engine.PhaseDelete:
		id, _ := hc.PreviousOutput["id"].(string)
		if id != "" {
			if _, err := p.client.ImageRemove(ctx, id, image.RemoveOptions{Force: true}); err != nil {
				return nil, notFound(err)
			}
		}
		return engine.Destroyed(), nil

	case engine.PhaseUpdate:
		var desired ImageConfig
		if err := p.decodeProps(props, &desired); err != nil {
			return nil, err
		}
		prevName, _ := hc.PreviousOutput["name"].(string)
		if desired.Name != prevName || desired.BuildContext != "" {
			// Reference changed, or a local build whose context may have
			// drifted: rebuild under a fresh image id.
			return engine.Replace(), nil
		}
		return engine.Updated(hc.PreviousOutput), nil
	}

	var desired ImageConfig
	if err := p.decodeProps(props, &desired); err != nil {
		return nil, err
	}

	if desired.BuildContext != "" {
		tar, err := archive.TarWithOptions(desired.BuildContext, &archive.TarOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create build context tar: %w", err)
		}
		resp, err := p.client.ImageBuild(ctx, tar, types.ImageBuildOptions{
			Tags:       []string{desired.Name},
			Dockerfile: desired.Dockerfile,
			Remove:     true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build image: %w", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	} else {
		// Registry pulls flake; retry on transient failures only.
		err := engine.RetryWithBackoff(ctx, nil, func() error {
			reader, err := p.client.ImagePull(ctx, desired.Name, image.PullOptions{})
			if err != nil {
				return err
			}
			io.Copy(io.Discard, reader)
			return reader.Close()
		}, engine.IsTransientError)
		if err != nil {
			return nil, fmt.Errorf("failed to pull image: %w", err)
		}
	}

	inspect, _, err := p.client.ImageInspectWithRaw(ctx, desired.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect image: %w", err)
	}

	return engine.Created(map[string]any{
		"id":   inspect.ID,
		"name": desired.Name,
	}), nil
}
