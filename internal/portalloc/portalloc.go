// Package portalloc hands out host ports from a bounded window, reconciling
// against ports already bound by live containers the way pkg/ipam scans a
// CIDR window for the first non-overlapping subnet.
package portalloc

import (
	"context"
	"fmt"
	"sync"

	"mcpgateway/internal/runtime"
)

// ErrNoPortsAvailable is returned when the window is exhausted.
var ErrNoPortsAvailable = fmt.Errorf("no ports available")

// Allocator hands out host ports in [low, high), reconciling against the
// runtime's own inventory before each allocation (spec.md §4.2).
type Allocator struct {
	low, high int
	adapter   runtime.Adapter
	// containerPort/protocol identify which published port on each
	// container the reconciliation scan should read.
	containerPort int
	protocol      string

	mu     sync.Mutex
	leased map[int]bool
	next   int
}

// New creates an Allocator over [low, high) that reconciles against ports
// published on containerPort/protocol.
func New(adapter runtime.Adapter, low, high, containerPort int, protocol string) *Allocator {
	return &Allocator{
		low:           low,
		high:          high,
		adapter:       adapter,
		containerPort: containerPort,
		protocol:      protocol,
		leased:        make(map[int]bool),
		next:          low,
	}
}

// Acquire reconciles against runtime inventory, then returns the first free
// port in the window, advancing the rolling cursor (invariant I2).
func (a *Allocator) Acquire(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	inUse, err := a.inUseLocked(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconcile port inventory: %w", err)
	}

	start := a.next
	for i := 0; i < a.high-a.low; i++ {
		port := a.low + (start-a.low+i)%(a.high-a.low)
		if a.leased[port] || inUse[port] {
			continue
		}
		a.leased[port] = true
		a.next = port + 1
		if a.next >= a.high {
			a.next = a.low
		}
		return port, nil
	}
	return 0, ErrNoPortsAvailable
}

// Release frees a previously leased port.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.leased, port)
}

// AdoptExisting records a port discovered from runtime inventory so a
// concurrent Acquire for a different fingerprint does not also hand it out.
func (a *Allocator) AdoptExisting(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leased[port] = true
}

// inUseLocked queries the runtime for all containers and unions the host
// ports they have bound on containerPort/protocol. Caller holds a.mu.
func (a *Allocator) inUseLocked(ctx context.Context) (map[int]bool, error) {
	briefs, err := a.adapter.ContainerList(ctx)
	if err != nil {
		return nil, err
	}
	inUse := make(map[int]bool, len(briefs))
	for _, b := range briefs {
		info, err := a.adapter.ContainerInspect(ctx, b.Name)
		if err != nil || !info.Exists {
			continue
		}
		if port, ok := info.HostPortFor(a.containerPort, a.protocol); ok {
			inUse[port] = true
		}
	}
	return inUse, nil
}
