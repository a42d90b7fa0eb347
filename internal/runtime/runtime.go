// Package runtime abstracts the container runtime the Lifecycle Controller
// provisions tenant containers on. Production code talks to it through the
// Docker-backed implementation in runtime/docker; tests drive it through the
// in-memory implementation in runtime/fake. Nothing above this layer is
// aware of SDK-specific types or errors.
package runtime

import (
	"context"
	"errors"
	"time"
)

// Status mirrors the runtime's view of a container's lifecycle state.
type Status string

const (
	StatusMissing Status = "missing"
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
)

// Kind is the normalized error taxonomy every Adapter implementation maps
// its own SDK errors into (spec.md §4.1). Everything above this layer
// switches on Kind, never on the underlying SDK error type.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindImageUnavailable
	KindRuntimeUnavailable
	KindConflict
	KindTransient
)

// Error wraps an underlying runtime error with a normalized Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, ErrNotFound) and friends by comparing Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newErr(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Sentinels for errors.Is comparisons against a bare Kind, independent of Op/Err.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrImageUnavailable  = &Error{Kind: KindImageUnavailable}
	ErrRuntimeUnavailable = &Error{Kind: KindRuntimeUnavailable}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrTransient         = &Error{Kind: KindTransient}
)

// PortBinding describes a container's published port, as found by Inspect.
type PortBinding struct {
	ContainerPort int
	Protocol      string
	HostPort      int
}

// Info is the normalized view of ContainerInspect.
type Info struct {
	Exists    bool
	Running   bool
	Status    Status
	CreatedAt time.Time
	Ports     []PortBinding
}

// HostPortFor returns the host port bound to the given container-internal
// port/protocol, if any.
func (i Info) HostPortFor(containerPort int, protocol string) (int, bool) {
	for _, p := range i.Ports {
		if p.ContainerPort == containerPort && p.Protocol == protocol {
			return p.HostPort, true
		}
	}
	return 0, false
}

// Brief is one entry of ContainerList.
type Brief struct {
	Name    string
	Running bool
}

// Resources bounds a container's compute footprint.
type Resources struct {
	MemoryBytes int64
	NanoCPUs    float64 // fractional CPU cores, e.g. 0.3
}

// Spec is the fixed container shape the Lifecycle Controller creates
// (spec.md §4.1): one published port, a resource cap, env vars carrying the
// tenant credential and backend wiring, and an "unless-stopped" restart
// policy so the runtime itself never reaps an idle-stopped container.
type Spec struct {
	Name          string
	Image         string
	Env           map[string]string
	ContainerPort int
	HostPort      int
	Protocol      string // defaults to "tcp"
	Resources     Resources
	RestartPolicy string // "unless-stopped"
	Labels        map[string]string
}

// Adapter is the Runtime Adapter capability set (spec.md §4.1). All methods
// return errors wrapped as *Error with a normalized Kind.
type Adapter interface {
	Ping(ctx context.Context) error
	ImagePull(ctx context.Context, ref string) error
	ContainerCreate(ctx context.Context, spec Spec) (id string, err error)
	ContainerStart(ctx context.Context, nameOrID string) error
	ContainerStop(ctx context.Context, nameOrID string) error
	ContainerRemove(ctx context.Context, nameOrID string, force bool) error
	ContainerInspect(ctx context.Context, nameOrID string) (Info, error)
	ContainerList(ctx context.Context) ([]Brief, error)
}
