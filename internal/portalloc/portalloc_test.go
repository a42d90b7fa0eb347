package portalloc

import (
	"context"
	"errors"
	"testing"

	"mcpgateway/internal/runtime"
	"mcpgateway/internal/runtime/fake"
)

func TestAcquireReturnsDistinctPorts(t *testing.T) {
	adapter := fake.New()
	a := New(adapter, 4000, 4003, 3000, "tcp")

	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		port, err := a.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		if seen[port] {
			t.Fatalf("port %d handed out twice", port)
		}
		seen[port] = true
		if port < 4000 || port >= 4003 {
			t.Fatalf("port %d out of window [4000,4003)", port)
		}
	}
}

func TestAcquireExhaustionReturnsErrNoPortsAvailable(t *testing.T) {
	adapter := fake.New()
	a := New(adapter, 4000, 4001, 3000, "tcp")

	if _, err := a.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	_, err := a.Acquire(context.Background())
	if !errors.Is(err, ErrNoPortsAvailable) {
		t.Fatalf("expected ErrNoPortsAvailable, got %v", err)
	}
}

func TestReleaseFreesPortForReuse(t *testing.T) {
	adapter := fake.New()
	a := New(adapter, 4000, 4001, 3000, "tcp")

	port, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	a.Release(port)

	got, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	if got != port {
		t.Fatalf("expected reused port %d, got %d", port, got)
	}
}

func TestAcquireReconcilesAgainstRuntimeInventory(t *testing.T) {
	adapter := fake.New()
	adapter.SeedImage("img")
	adapter.SeedContainer("mcp-existing", runtime.Spec{
		Name: "mcp-existing", Image: "img", ContainerPort: 3000, HostPort: 4000, Protocol: "tcp",
	}, true)

	a := New(adapter, 4000, 4002, 3000, "tcp")
	port, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if port != 4001 {
		t.Fatalf("expected reconciliation to skip port already bound by live container, got %d", port)
	}
}

func TestAdoptExistingReservesPort(t *testing.T) {
	adapter := fake.New()
	a := New(adapter, 4000, 4002, 3000, "tcp")
	a.AdoptExisting(4000)

	port, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if port != 4001 {
		t.Fatalf("expected adopted port to be skipped, got %d", port)
	}
}
