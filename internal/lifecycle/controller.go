// Package lifecycle implements the container lifecycle controller: the
// decision engine that maps a tenant credential to a ready container's
// host port, provisioning, restarting, or adopting as needed (spec.md §4.5).
// This is the hard part of the system — it is the only component that
// touches the registry, the runtime inventory and the port allocation
// together, and must keep them consistent under concurrency, process
// restarts, and idle reclamation. It does not consult the credential
// oracle: the gateway validates the credential before calling Resolve.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"mcpgateway/internal/fingerprint"
	"mcpgateway/internal/keylock"
	"mcpgateway/internal/portalloc"
	"mcpgateway/internal/registry"
	"mcpgateway/internal/runtime"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Resolve's error taxonomy (spec.md §4.5/§7). All are sentinels compared
// with errors.Is; wrapping with fmt.Errorf("...: %w", ...) is expected.
var (
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	ErrNoPortsAvailable   = errors.New("no ports available")
	ErrImageUnavailable   = errors.New("image unavailable")
	ErrProvisioningFailed = errors.New("provisioning failed")
)

// Prober checks whether a freshly (re)started container is ready to accept
// connections. The default dials TCP; spec.md §9 allows a fixed sleep as
// the weakest acceptable substitute, but a probe keeps tail latency honest
// and is what tests exercise against the fake runtime.
type Prober interface {
	Ready(ctx context.Context, port int) error
}

// TCPProbe dials localhost:port with bounded retries.
type TCPProbe struct {
	Budget   time.Duration
	Interval time.Duration
}

func (p TCPProbe) Ready(ctx context.Context, port int) error {
	budget := p.Budget
	if budget <= 0 {
		budget = 5 * time.Second
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	deadline := time.Now().Add(budget)
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	var lastErr error
	for {
		d := net.Dialer{Timeout: interval}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			return fmt.Errorf("probe %s: %w", addr, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// AlwaysReady is a no-op Prober for tests that don't run a real listener.
type AlwaysReady struct{}

func (AlwaysReady) Ready(ctx context.Context, port int) error { return nil }

// EnvBuilder derives the per-container environment from a tenant token
// (spec.md §6: OUTLINE_API_KEY, OUTLINE_API_URL, MCP_TRANSPORT, MCP_HOST,
// MCP_PORT). The credential never leaves the process except as this
// container's environment.
type EnvBuilder func(token string) map[string]string

// Config bounds the Controller's behavior.
type Config struct {
	Image             string
	ContainerPort     int // 3000
	Protocol          string
	Resources         runtime.Resources
	RestartReadiness  time.Duration // ~1s
	CreateReadiness   time.Duration // ~2s
	StartingPollBound time.Duration // ≤5s
	BuildEnv          EnvBuilder
	Labels            map[string]string
}

func (c Config) withDefaults() Config {
	if c.ContainerPort == 0 {
		c.ContainerPort = 3000
	}
	if c.Protocol == "" {
		c.Protocol = "tcp"
	}
	if c.RestartReadiness <= 0 {
		c.RestartReadiness = time.Second
	}
	if c.CreateReadiness <= 0 {
		c.CreateReadiness = 2 * time.Second
	}
	if c.StartingPollBound <= 0 {
		c.StartingPollBound = 5 * time.Second
	}
	return c
}

// Controller is the Lifecycle Controller. It is single-flight per
// fingerprint: concurrent Resolve calls for the same tenant collapse into
// one in-flight provisioning (spec.md §4.5, testable property P5).
type Controller struct {
	adapter   runtime.Adapter
	registry  *registry.Registry
	allocator *portalloc.Allocator
	prober    Prober
	cfg       Config
	tracer    trace.Tracer
	now       func() time.Time
	locks     *keylock.Map

	group singleflight.Group
}

// Option customizes a Controller at construction.
type Option func(*Controller)

// WithProber overrides the default TCP readiness probe.
func WithProber(p Prober) Option {
	return func(c *Controller) { c.prober = p }
}

// WithLocks installs a shared keylock.Map so Resolve's critical section
// mutually excludes the Idle Sweeper's stop decisions for the same
// fingerprint. Share one instance between Controller and Sweeper; when
// omitted, a private Map is used and only guards against concurrent
// Resolve calls, not sweeps.
func WithLocks(l *keylock.Map) Option {
	return func(c *Controller) { c.locks = l }
}

// Locks returns the Controller's keylock.Map so callers can share it with
// a Sweeper via sweeper.WithLocker.
func (c *Controller) Locks() *keylock.Map { return c.locks }

// WithClock overrides time.Now, for deterministic idle-sweep tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithTracer overrides the default otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// New constructs a Controller over the given adapter, registry, and
// allocator.
func New(adapter runtime.Adapter, reg *registry.Registry, alloc *portalloc.Allocator, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		adapter:   adapter,
		registry:  reg,
		allocator: alloc,
		cfg:       cfg.withDefaults(),
		prober:    TCPProbe{},
		tracer:    otel.Tracer("mcpgateway/lifecycle"),
		now:       time.Now,
		locks:     keylock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolved is the result of a successful Resolve.
type Resolved struct {
	Port          int
	ContainerName string
}

// Resolve maps a tenant credential to a ready container, creating,
// restarting, or adopting as needed, and returns its host port (spec.md
// §4.5). Concurrent Resolve calls sharing a fingerprint collapse into one
// in-flight provisioning (single-flight); a caller whose own context is
// cancelled simply stops waiting — the shared work continues to
// completion and its result is memoized for other waiters (spec.md §5).
func (c *Controller) Resolve(ctx context.Context, token string) (Resolved, error) {
	fp := fingerprint.Of(token)
	name := fp.ContainerName()

	ctx, span := c.tracer.Start(ctx, "lifecycle.Resolve", trace.WithAttributes())
	defer span.End()

	resultCh := c.group.DoChan(string(fp), func() (any, error) {
		// Detach from any single caller's cancellation: once provisioning
		// starts, it runs to completion for the benefit of every waiter.
		return c.resolveOnce(context.WithoutCancel(ctx), fp, name, token)
	})

	select {
	case res := <-resultCh:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return Resolved{}, res.Err
		}
		return res.Val.(Resolved), nil
	case <-ctx.Done():
		return Resolved{}, ctx.Err()
	}
}

func (c *Controller) resolveOnce(ctx context.Context, fp fingerprint.Fingerprint, name, token string) (Resolved, error) {
	unlock := c.locks.Lock(string(fp))
	defer unlock()

	log := slog.With("component", "lifecycle", "fingerprint", string(fp))

	// Step 1: registry hit, running — the fast path.
	if rec, ok := c.registry.Get(fp); ok && rec.Status == registry.StatusRunning {
		info, err := c.adapter.ContainerInspect(ctx, name)
		if err == nil && info.Exists && info.Running {
			c.registry.Touch(fp, c.now())
			return Resolved{Port: rec.HostPort, ContainerName: name}, nil
		}
	}

	// Step 2: registry hit, not running.
	if rec, ok := c.registry.Get(fp); ok {
		log.Debug("restarting stopped container", "port", rec.HostPort)
		if err := c.adapter.ContainerStart(ctx, name); err == nil {
			if err := c.awaitStartingThenReady(ctx, name, rec.HostPort, c.cfg.RestartReadiness); err != nil {
				// Partial failure: container left running-or-starting in
				// place; last-used was already set so the sweeper won't
				// reap it prematurely (spec.md §7).
				c.registry.SetStatus(fp, registry.StatusRunning)
				c.registry.Touch(fp, c.now())
				return Resolved{}, fmt.Errorf("%w: readiness probe after restart: %v", ErrProvisioningFailed, err)
			}
			c.registry.SetStatus(fp, registry.StatusRunning)
			c.registry.Touch(fp, c.now())
			return Resolved{Port: rec.HostPort, ContainerName: name}, nil
		}
		log.Warn("restart failed, rebuilding record", "err", lastErr(ctx, name, c.adapter))
		c.registry.Delete(fp)
		c.allocator.Release(rec.HostPort)
	}

	// Step 3: registry miss, adopt from runtime inventory if present.
	info, err := c.adapter.ContainerInspect(ctx, name)
	if err != nil {
		return Resolved{}, classifyAdapterErr(err)
	}
	if info.Exists {
		hostPort, validBinding := info.HostPortFor(c.cfg.ContainerPort, c.cfg.Protocol)
		switch {
		case info.Running && validBinding:
			// Adopt directly, no restart needed.
			c.allocator.AdoptExisting(hostPort)
			now := c.now()
			c.registry.Put(registry.Record{
				Name: name, Fingerprint: fp, HostPort: hostPort,
				CreatedAt: info.CreatedAt, LastUsedAt: now, Status: registry.StatusRunning,
			})
			return Resolved{Port: hostPort, ContainerName: name}, nil

		case info.Running && !validBinding:
			if err := c.adapter.ContainerStop(ctx, name); err != nil {
				return Resolved{}, classifyAdapterErr(err)
			}
			// fall through to step 4

		case !info.Running && validBinding:
			// Reclaim the port before starting, so a parallel
			// provisioning for a different fingerprint can't take it.
			c.allocator.AdoptExisting(hostPort)
			if err := c.adapter.ContainerStart(ctx, name); err != nil {
				return Resolved{}, classifyAdapterErr(err)
			}
			if err := c.awaitStartingThenReady(ctx, name, hostPort, c.cfg.RestartReadiness); err != nil {
				now := c.now()
				c.registry.Put(registry.Record{
					Name: name, Fingerprint: fp, HostPort: hostPort,
					CreatedAt: info.CreatedAt, LastUsedAt: now, Status: registry.StatusRunning,
				})
				return Resolved{}, fmt.Errorf("%w: readiness probe after adopt: %v", ErrProvisioningFailed, err)
			}
			now := c.now()
			c.registry.Put(registry.Record{
				Name: name, Fingerprint: fp, HostPort: hostPort,
				CreatedAt: info.CreatedAt, LastUsedAt: now, Status: registry.StatusRunning,
			})
			return Resolved{Port: hostPort, ContainerName: name}, nil

		default: // !Running && !validBinding
			if err := c.adapter.ContainerRemove(ctx, name, true); err != nil {
				return Resolved{}, classifyAdapterErr(err)
			}
			// fall through to step 4
		}
	}

	// Step 4: fresh creation.
	return c.createFresh(ctx, fp, name, token)
}

func (c *Controller) createFresh(ctx context.Context, fp fingerprint.Fingerprint, name, token string) (Resolved, error) {
	port, err := c.allocator.Acquire(ctx)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %v", ErrNoPortsAvailable, err)
	}

	// Best-effort pull: a failure here is tolerated if a local image
	// already exists; a subsequent ContainerCreate failure with
	// ImageUnavailable is what actually surfaces the error.
	if err := c.adapter.ImagePull(ctx, c.cfg.Image); err != nil {
		slog.Warn("image pull failed, continuing with local image if present", "component", "lifecycle", "image", c.cfg.Image, "err", err)
	}

	env := map[string]string{}
	if c.cfg.BuildEnv != nil {
		env = c.cfg.BuildEnv(token)
	}

	spec := runtime.Spec{
		Name:          name,
		Image:         c.cfg.Image,
		Env:           env,
		ContainerPort: c.cfg.ContainerPort,
		HostPort:      port,
		Protocol:      c.cfg.Protocol,
		Resources:     c.cfg.Resources,
		RestartPolicy: "unless-stopped",
		Labels:        c.cfg.Labels,
	}

	if _, err := c.adapter.ContainerCreate(ctx, spec); err != nil {
		c.allocator.Release(port)
		var rtErr *runtime.Error
		if errors.As(err, &rtErr) && rtErr.Kind == runtime.KindImageUnavailable {
			return Resolved{}, fmt.Errorf("%w: %v", ErrImageUnavailable, err)
		}
		return Resolved{}, fmt.Errorf("%w: create: %v", ErrProvisioningFailed, err)
	}

	if err := c.adapter.ContainerStart(ctx, name); err != nil {
		c.allocator.Release(port)
		_ = c.adapter.ContainerRemove(ctx, name, true)
		return Resolved{}, fmt.Errorf("%w: start: %v", ErrProvisioningFailed, err)
	}

	now := c.now()
	if err := c.awaitStartingThenReady(ctx, name, port, c.cfg.CreateReadiness); err != nil {
		// Leave the container in place; it may become ready later.
		c.registry.Put(registry.Record{
			Name: name, Fingerprint: fp, HostPort: port,
			CreatedAt: now, LastUsedAt: now, Status: registry.StatusRunning,
		})
		return Resolved{}, fmt.Errorf("%w: readiness probe after create: %v", ErrProvisioningFailed, err)
	}

	c.registry.Put(registry.Record{
		Name: name, Fingerprint: fp, HostPort: port,
		CreatedAt: now, LastUsedAt: now, Status: registry.StatusRunning,
	})
	return Resolved{Port: port, ContainerName: name}, nil
}

// awaitStartingThenReady polls status while the container reports
// "created"/starting (bounded by StartingPollBound), then runs the
// readiness probe bounded by budget.
func (c *Controller) awaitStartingThenReady(ctx context.Context, name string, port int, budget time.Duration) error {
	deadline := time.Now().Add(c.cfg.StartingPollBound)
	for {
		info, err := c.adapter.ContainerInspect(ctx, name)
		if err != nil {
			return err
		}
		if info.Running {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("container %q did not reach running within %s", name, c.cfg.StartingPollBound)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	readyCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return c.prober.Ready(readyCtx, port)
}

func classifyAdapterErr(err error) error {
	var rtErr *runtime.Error
	if errors.As(err, &rtErr) {
		switch rtErr.Kind {
		case runtime.KindRuntimeUnavailable:
			return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
		case runtime.KindImageUnavailable:
			return fmt.Errorf("%w: %v", ErrImageUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
}

func lastErr(ctx context.Context, name string, adapter runtime.Adapter) error {
	_, err := adapter.ContainerInspect(ctx, name)
	return err
}
