// Package sweeper implements the Idle Sweeper: a background loop that
// stops containers whose tenants have gone quiet, freeing compute while
// keeping their port lease and registry record intact for a fast restart
// (spec.md §4.6).
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"mcpgateway/internal/metrics"
	"mcpgateway/internal/registry"
	"mcpgateway/internal/runtime"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Config bounds the Sweeper's behavior (spec.md §6).
type Config struct {
	Interval      time.Duration // default 60s
	IdleThreshold time.Duration // default 900s
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = 900 * time.Second
	}
	return c
}

// Locker serializes a sweep's stop decision against a concurrent Resolve
// for the same fingerprint, so a request arriving mid-sweep never races a
// stop-in-progress (spec.md §7, testable property P6). A *keylock.Map
// shared with the Lifecycle Controller (see Controller.Locks) satisfies
// this by fingerprint key.
type Locker interface {
	Lock(key string) func()
}

// Sweeper periodically stops Running containers idle past the threshold.
type Sweeper struct {
	adapter  runtime.Adapter
	registry *registry.Registry
	cfg      Config
	tracer   trace.Tracer
	now      func() time.Time
	lock     Locker
	metrics  *metrics.Metrics
}

// Option customizes a Sweeper at construction.
type Option func(*Sweeper)

// WithClock overrides time.Now for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithLocker installs a Locker so sweeps serialize against concurrent
// Resolve calls by fingerprint.
func WithLocker(l Locker) Option {
	return func(s *Sweeper) { s.lock = l }
}

// WithMetrics installs a Metrics set to count stopped containers.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// New constructs a Sweeper over the given adapter and registry.
func New(adapter runtime.Adapter, reg *registry.Registry, cfg Config, opts ...Option) *Sweeper {
	s := &Sweeper{
		adapter:  adapter,
		registry: reg,
		cfg:      cfg.withDefaults(),
		tracer:   otel.Tracer("mcpgateway/sweeper"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks, sweeping on Config.Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep stops every Running record idle past IdleThreshold. Stop failures
// are logged and absorbed: a container that refuses to stop is left
// Running and will be retried on the next tick (spec.md §7).
func (s *Sweeper) Sweep(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "sweeper.Sweep")
	defer span.End()

	now := s.now()
	snap := s.registry.Snapshot()
	stopped := 0
	running := 0
	for _, rec := range snap {
		if rec.Status != registry.StatusRunning {
			continue
		}
		running++
		if now.Sub(rec.LastUsedAt) < s.cfg.IdleThreshold {
			continue
		}
		if s.stopOne(ctx, rec) {
			stopped++
			running--
		}
	}
	if s.metrics != nil {
		s.metrics.ContainersActive.Set(float64(running))
	}
	span.SetAttributes()
	if stopped > 0 {
		slog.Info("idle sweep stopped containers", "component", "sweeper", "count", stopped)
	}
}

func (s *Sweeper) stopOne(ctx context.Context, rec registry.Record) bool {
	if s.lock != nil {
		unlock := s.lock.Lock(string(rec.Fingerprint))
		defer unlock()
	}

	// Re-read under the lock: a Resolve may have already restarted or
	// touched this record while the sweep was iterating the snapshot.
	current, ok := s.registry.Get(rec.Fingerprint)
	if !ok || current.Status != registry.StatusRunning {
		return false
	}
	if s.now().Sub(current.LastUsedAt) < s.cfg.IdleThreshold {
		return false
	}

	if err := s.adapter.ContainerStop(ctx, current.Name); err != nil {
		slog.Warn("idle sweep: stop failed, retrying next tick", "component", "sweeper", "container", current.Name, "err", err)
		return false
	}
	s.registry.SetStatus(current.Fingerprint, registry.StatusStopped)
	if s.metrics != nil {
		s.metrics.SweepStoppedTotal.Inc()
	}
	slog.Debug("idle sweep stopped container", "component", "sweeper", "container", current.Name, "idle_for", s.now().Sub(current.LastUsedAt))
	return true
}
