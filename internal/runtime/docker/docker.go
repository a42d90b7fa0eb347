// Package docker implements runtime.Adapter on top of the Docker Engine API,
// grounded on the teacher's internal/infra/docker.Runtime.
package docker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"mcpgateway/internal/runtime"

	"github.com/containerd/errdefs"
	dockercontainer "github.com/docker/docker/api/types/container"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

var _ runtime.Adapter = (*Adapter)(nil)

// Adapter implements runtime.Adapter using the Docker Engine API.
type Adapter struct {
	cli *client.Client
}

// New creates an Adapter from the ambient Docker environment
// (DOCKER_HOST, etc).
func New() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Adapter{cli: cli}, nil
}

// NewFromClient wraps an existing Docker client, primarily for tests that
// run against a real daemon.
func NewFromClient(cli *client.Client) *Adapter {
	return &Adapter{cli: cli}
}

func (a *Adapter) Ping(ctx context.Context) error {
	_, err := a.cli.Ping(ctx)
	if err != nil {
		return wrap("ping", err)
	}
	return nil
}

func (a *Adapter) ImagePull(ctx context.Context, ref string) error {
	rc, err := a.cli.ImagePull(ctx, ref, dockerimage.PullOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return &runtime.Error{Kind: runtime.KindImageUnavailable, Op: "pull image " + ref, Err: err}
		}
		return wrap("pull image "+ref, err)
	}
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()
	return nil
}

func (a *Adapter) ContainerCreate(ctx context.Context, spec runtime.Spec) (string, error) {
	proto := strings.ToLower(strings.TrimSpace(spec.Protocol))
	if proto == "" {
		proto = "tcp"
	}
	containerPort := nat.Port(fmt.Sprintf("%d/%s", spec.ContainerPort, proto))

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	cc := &dockercontainer.Config{
		Image:  spec.Image,
		Env:    env,
		Labels: spec.Labels,
		ExposedPorts: nat.PortSet{
			containerPort: struct{}{},
		},
	}

	restartName := dockercontainer.RestartPolicyUnlessStopped
	switch strings.TrimSpace(spec.RestartPolicy) {
	case "", "unless-stopped":
		restartName = dockercontainer.RestartPolicyUnlessStopped
	case "always":
		restartName = dockercontainer.RestartPolicyAlways
	case "on-failure":
		restartName = dockercontainer.RestartPolicyOnFailure
	case "no":
		restartName = dockercontainer.RestartPolicyDisabled
	}

	hc := &dockercontainer.HostConfig{
		RestartPolicy: dockercontainer.RestartPolicy{Name: restartName},
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{{HostPort: strconv.Itoa(spec.HostPort)}},
		},
		NetworkMode: "bridge",
		Resources: dockercontainer.Resources{
			Memory:   spec.Resources.MemoryBytes,
			NanoCPUs: int64(spec.Resources.NanoCPUs * 1e9),
		},
	}

	created, err := a.cli.ContainerCreate(ctx, cc, hc, nil, nil, spec.Name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", &runtime.Error{Kind: runtime.KindImageUnavailable, Op: "create container " + spec.Name, Err: err}
		}
		return "", wrap("create container "+spec.Name, err)
	}
	return created.ID, nil
}

func (a *Adapter) ContainerStart(ctx context.Context, nameOrID string) error {
	if err := a.cli.ContainerStart(ctx, nameOrID, dockercontainer.StartOptions{}); err != nil {
		return wrap("start container "+nameOrID, err)
	}
	return nil
}

func (a *Adapter) ContainerStop(ctx context.Context, nameOrID string) error {
	if err := a.cli.ContainerStop(ctx, nameOrID, dockercontainer.StopOptions{}); err != nil {
		return wrap("stop container "+nameOrID, err)
	}
	return nil
}

func (a *Adapter) ContainerRemove(ctx context.Context, nameOrID string, force bool) error {
	if err := a.cli.ContainerRemove(ctx, nameOrID, dockercontainer.RemoveOptions{Force: force}); err != nil {
		return wrap("remove container "+nameOrID, err)
	}
	return nil
}

func (a *Adapter) ContainerInspect(ctx context.Context, nameOrID string) (runtime.Info, error) {
	info, err := a.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return runtime.Info{Exists: false}, nil
		}
		return runtime.Info{}, wrap("inspect container "+nameOrID, err)
	}

	out := runtime.Info{Exists: true}
	if info.State != nil {
		out.Running = info.State.Running
		switch {
		case info.State.Running:
			out.Status = runtime.StatusRunning
		case info.State.Status == "created":
			out.Status = runtime.StatusCreated
		default:
			out.Status = runtime.StatusExited
		}
	}
	if info.Created != "" {
		if t, parseErr := parseDockerTime(info.Created); parseErr == nil {
			out.CreatedAt = t
		}
	}
	if info.NetworkSettings != nil {
		for port, bindings := range info.NetworkSettings.Ports {
			for _, b := range bindings {
				hostPort, convErr := strconv.Atoi(b.HostPort)
				if convErr != nil {
					continue
				}
				out.Ports = append(out.Ports, runtime.PortBinding{
					ContainerPort: port.Int(),
					Protocol:      port.Proto(),
					HostPort:      hostPort,
				})
			}
		}
	}
	return out, nil
}

func (a *Adapter) ContainerList(ctx context.Context) ([]runtime.Brief, error) {
	containers, err := a.cli.ContainerList(ctx, dockercontainer.ListOptions{All: true})
	if err != nil {
		return nil, wrap("list containers", err)
	}
	out := make([]runtime.Brief, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, runtime.Brief{Name: name, Running: c.State == "running"})
	}
	return out, nil
}

func parseDockerTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// wrap normalizes a Docker SDK error into the runtime error taxonomy.
func wrap(op string, err error) error {
	switch {
	case errdefs.IsNotFound(err):
		return &runtime.Error{Kind: runtime.KindNotFound, Op: op, Err: err}
	case errdefs.IsConflict(err):
		return &runtime.Error{Kind: runtime.KindConflict, Op: op, Err: err}
	case errdefs.IsUnavailable(err), client.IsErrConnectionFailed(err):
		return &runtime.Error{Kind: runtime.KindRuntimeUnavailable, Op: op, Err: err}
	case errdefs.IsNotImplemented(err), errdefs.IsInvalidArgument(err):
		return &runtime.Error{Kind: runtime.KindTransient, Op: op, Err: err}
	default:
		return &runtime.Error{Kind: runtime.KindTransient, Op: op, Err: err}
	}
}
