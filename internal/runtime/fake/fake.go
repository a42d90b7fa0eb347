// Package fake is an in-memory runtime.Adapter used by tests, grounded on
// the teacher's internal/adapter/fake.ContainerRuntime.
package fake

import (
	"context"
	"fmt"
	"sync"

	"mcpgateway/internal/runtime"
)

var _ runtime.Adapter = (*Adapter)(nil)

// Call records a single method invocation for test assertions.
type Call struct {
	Method string
	Name   string
}

// CallRecorder tracks method calls, grounded on the teacher's
// internal/adapter/fake.CallRecorder.
type CallRecorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *CallRecorder) record(method, name string) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Method: method, Name: name})
	r.mu.Unlock()
}

// Calls returns recorded calls, optionally filtered by method name.
func (r *CallRecorder) Calls(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	if method == "" {
		out := make([]Call, len(r.calls))
		copy(out, r.calls)
		return out
	}
	var out []Call
	for _, c := range r.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears all recorded calls.
func (r *CallRecorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

type container struct {
	spec    runtime.Spec
	running bool
	status  runtime.Status
}

// Adapter is an in-memory runtime.Adapter. The *Err hooks let tests inject
// failures for specific operations and names.
type Adapter struct {
	CallRecorder

	mu         sync.Mutex
	containers map[string]*container
	images     map[string]bool
	pingErr    error

	ImagePullErr       func(ref string) error
	ContainerCreateErr func(spec runtime.Spec) error
	ContainerStartErr  func(name string) error
	ContainerStopErr   func(name string) error
	ContainerRemoveErr func(name string) error
	ContainerInspectErr func(name string) error
}

// New creates an Adapter with no containers or images yet known.
func New() *Adapter {
	return &Adapter{
		containers: make(map[string]*container),
		images:     make(map[string]bool),
	}
}

// SetPingErr makes Ping fail, simulating an unreachable runtime.
func (a *Adapter) SetPingErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pingErr = err
}

// SeedContainer injects a pre-existing container into runtime inventory,
// simulating state left over from a prior process incarnation.
func (a *Adapter) SeedContainer(name string, spec runtime.Spec, running bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	status := runtime.StatusExited
	if running {
		status = runtime.StatusRunning
	}
	a.containers[name] = &container{spec: spec, running: running, status: status}
}

// SeedImage marks an image as already present locally.
func (a *Adapter) SeedImage(ref string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.images[ref] = true
}

func (a *Adapter) Ping(ctx context.Context) error {
	a.record("Ping", "")
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pingErr
}

func (a *Adapter) ImagePull(ctx context.Context, ref string) error {
	a.record("ImagePull", ref)
	if a.ImagePullErr != nil {
		if err := a.ImagePullErr(ref); err != nil {
			return err
		}
	}
	a.mu.Lock()
	a.images[ref] = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) ContainerCreate(ctx context.Context, spec runtime.Spec) (string, error) {
	a.record("ContainerCreate", spec.Name)
	if a.ContainerCreateErr != nil {
		if err := a.ContainerCreateErr(spec); err != nil {
			return "", err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.images[spec.Image] {
		return "", &runtime.Error{Kind: runtime.KindImageUnavailable, Op: "create container " + spec.Name, Err: fmt.Errorf("image %q not present", spec.Image)}
	}
	if _, exists := a.containers[spec.Name]; exists {
		return "", &runtime.Error{Kind: runtime.KindConflict, Op: "create container " + spec.Name, Err: fmt.Errorf("already exists")}
	}
	a.containers[spec.Name] = &container{spec: spec, running: false, status: runtime.StatusCreated}
	return spec.Name, nil
}

func (a *Adapter) ContainerStart(ctx context.Context, name string) error {
	a.record("ContainerStart", name)
	if a.ContainerStartErr != nil {
		if err := a.ContainerStartErr(name); err != nil {
			return err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.containers[name]
	if !ok {
		return &runtime.Error{Kind: runtime.KindNotFound, Op: "start container " + name}
	}
	c.running = true
	c.status = runtime.StatusRunning
	return nil
}

func (a *Adapter) ContainerStop(ctx context.Context, name string) error {
	a.record("ContainerStop", name)
	if a.ContainerStopErr != nil {
		if err := a.ContainerStopErr(name); err != nil {
			return err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.containers[name]
	if !ok {
		return &runtime.Error{Kind: runtime.KindNotFound, Op: "stop container " + name}
	}
	c.running = false
	c.status = runtime.StatusExited
	return nil
}

func (a *Adapter) ContainerRemove(ctx context.Context, name string, force bool) error {
	a.record("ContainerRemove", name)
	if a.ContainerRemoveErr != nil {
		if err := a.ContainerRemoveErr(name); err != nil {
			return err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.containers, name)
	return nil
}

func (a *Adapter) ContainerInspect(ctx context.Context, name string) (runtime.Info, error) {
	a.record("ContainerInspect", name)
	if a.ContainerInspectErr != nil {
		if err := a.ContainerInspectErr(name); err != nil {
			return runtime.Info{}, err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.containers[name]
	if !ok {
		return runtime.Info{Exists: false}, nil
	}
	info := runtime.Info{
		Exists:  true,
		Running: c.running,
		Status:  c.status,
	}
	proto := c.spec.Protocol
	if proto == "" {
		proto = "tcp"
	}
	if c.spec.HostPort != 0 {
		info.Ports = []runtime.PortBinding{{
			ContainerPort: c.spec.ContainerPort,
			Protocol:      proto,
			HostPort:      c.spec.HostPort,
		}}
	}
	return info, nil
}

func (a *Adapter) ContainerList(ctx context.Context) ([]runtime.Brief, error) {
	a.record("ContainerList", "")
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]runtime.Brief, 0, len(a.containers))
	for name, c := range a.containers {
		out = append(out, runtime.Brief{Name: name, Running: c.running})
	}
	return out, nil
}
