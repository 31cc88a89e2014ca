package docker

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/convergent-io/convergent/internal/engine"
)

func (p *Provider) handleContainer(ctx context.Context, hc *engine.HandlerContext, props map[string]any) (*engine.Result, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch hc.Phase {
	case engine.PhaseDelete:
		return p.deleteContainer(ctx, hc)
	case engine.PhaseCreate, engine.PhaseUpdate:
	default:
		return nil, fmt.Errorf("unexpected phase %q", hc.Phase)
	}

	var desired ContainerConfig
	if err := p.decodeProps(props, &desired); err != nil {
		return nil, err
	}
	if desired.Name == "" {
		desired.Name = hc.PhysicalName
	}

	if hc.Phase == engine.PhaseUpdate {
		prevImage, _ := hc.PreviousOutput["image"].(string)
		if desired.Image != prevImage {
			// A container cannot swap images in place.
			return engine.Replace(), nil
		}
		return engine.Updated(hc.PreviousOutput), nil
	}

	if hc.Adopt {
		return p.adoptContainer(ctx, desired)
	}
	return p.createContainer(ctx, desired)
}

func (p *Provider) createContainer(ctx context.Context, desired ContainerConfig) (*engine.Result, error) {
	// Registry pulls flake; retry on transient failures only.
	err := engine.RetryWithBackoff(ctx, nil, func() error {
		reader, err := p.client.ImagePull(ctx, desired.Image, image.PullOptions{})
		if err != nil {
			return err
		}
		io.Copy(io.Discard, reader)
		return reader.Close()
	}, engine.IsTransientError)
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", desired.Image, err)
	}

	config, hostConfig, err := buildContainerSpec(desired)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.ContainerCreate(ctx, config, hostConfig,
		&network.NetworkingConfig{}, &v1.Platform{}, desired.Name)
	if err != nil {
		if errdefs.IsConflict(err) {
			return nil, &engine.ConflictError{NaturalKey: desired.Name, Err: err}
		}
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	return engine.Created(containerOutput(ContainerState{
		ID:    resp.ID,
		Name:  desired.Name,
		Image: desired.Image,
	})), nil
}

// adoptContainer looks up a pre-existing container by name and returns it
// as though freshly created, transferring ownership to the engine.
func (p *Provider) adoptContainer(ctx context.Context, desired ContainerConfig) (*engine.Result, error) {
	list, err := p.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", desired.Name)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up container %s: %w", desired.Name, err)
	}
	for _, c := range list {
		for _, name := range c.Names {
			if strings.TrimPrefix(name, "/") == desired.Name {
				return engine.Created(containerOutput(ContainerState{
					ID:    c.ID,
					Name:  desired.Name,
					Image: c.Image,
				})), nil
			}
		}
	}
	return nil, fmt.Errorf("cannot adopt container %s: %w", desired.Name, engine.ErrNotFound)
}

func (p *Provider) deleteContainer(ctx context.Context, hc *engine.HandlerContext) (*engine.Result, error) {
	id, _ := hc.PreviousOutput["id"].(string)
	if id == "" {
		return engine.Destroyed(), nil
	}
	stopTimeout := 10 // seconds
	_ = p.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &stopTimeout})
	if err := p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return nil, notFound(err)
	}
	return engine.Destroyed(), nil
}

func buildContainerSpec(desired ContainerConfig) (*container.Config, *container.HostConfig, error) {
	portBindings := nat.PortMap{}
	for hostPort, containerPort := range desired.Ports {
		p := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		portBindings[p] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}

	var binds []string
	for _, v := range desired.Volumes {
		parts := strings.SplitN(v, ":", 2)
		if strings.HasPrefix(parts[0], "./") || strings.HasPrefix(parts[0], "../") {
			if abs, err := filepath.Abs(parts[0]); err == nil {
				parts[0] = abs
				binds = append(binds, strings.Join(parts, ":"))
				continue
			}
		}
		binds = append(binds, v)
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        binds,
	}
	if len(desired.Networks) > 0 {
		hostConfig.NetworkMode = container.NetworkMode(desired.Networks[0])
	}
	if desired.Restart != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(desired.Restart),
		}
	}
	if desired.Logging != nil {
		hostConfig.LogConfig = container.LogConfig{
			Type:   desired.Logging.Driver,
			Config: desired.Logging.Options,
		}
	}

	config := &container.Config{
		Image:      desired.Image,
		Cmd:        desired.Command,
		Env:        mapToEnvList(desired.Env),
		Labels:     desired.Labels,
		WorkingDir: desired.WorkingDir,
		User:       desired.User,
	}
	if desired.Healthcheck != nil {
		test := desired.Healthcheck.Test
		if len(test) == 0 {
			test = []string{"NONE"}
		}
		interval, _ := time.ParseDuration(desired.Healthcheck.Interval)
		timeout, _ := time.ParseDuration(desired.Healthcheck.Timeout)
		startPeriod, _ := time.ParseDuration(desired.Healthcheck.StartPeriod)
		config.Healthcheck = &container.HealthConfig{
			Test:        test,
			Interval:    interval,
			Timeout:     timeout,
			StartPeriod: startPeriod,
			Retries:     desired.Healthcheck.Retries,
		}
	}
	return config, hostConfig, nil
}

func containerOutput(st ContainerState) map[string]any {
	return map[string]any{"id": st.ID, "name": st.Name, "image": st.Image}
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
