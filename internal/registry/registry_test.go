package registry

import (
	"testing"
	"time"

	"mcpgateway/internal/fingerprint"
)

func TestPutGetRoundTrip(t *testing.T) {
	r := New()
	fp := fingerprint.Of("tenant-a")
	rec := Record{Name: "mcp-abc", Fingerprint: fp, HostPort: 4001, Status: StatusRunning}
	r.Put(rec)

	got, ok := r.Get(fp)
	if !ok {
		t.Fatalf("expected record for %q", fp)
	}
	if got.HostPort != 4001 || got.Status != StatusRunning {
		t.Fatalf("got %+v, want HostPort=4001 Status=running", got)
	}
}

func TestPutOverwritesSameFingerprint(t *testing.T) {
	r := New()
	fp := fingerprint.Of("tenant-a")
	r.Put(Record{Name: "mcp-abc", Fingerprint: fp, HostPort: 4001})
	r.Put(Record{Name: "mcp-abc", Fingerprint: fp, HostPort: 4002})

	if r.Len() != 1 {
		t.Fatalf("expected exactly one record per fingerprint, got %d", r.Len())
	}
	got, _ := r.Get(fp)
	if got.HostPort != 4002 {
		t.Fatalf("expected overwritten HostPort 4002, got %d", got.HostPort)
	}
}

func TestDelete(t *testing.T) {
	r := New()
	fp := fingerprint.Of("tenant-a")
	r.Put(Record{Fingerprint: fp})
	r.Delete(fp)

	if _, ok := r.Get(fp); ok {
		t.Fatalf("expected record to be gone after Delete")
	}
}

func TestTouchAdvancesLastUsedAt(t *testing.T) {
	r := New()
	fp := fingerprint.Of("tenant-a")
	start := time.Now().Add(-time.Hour)
	r.Put(Record{Fingerprint: fp, LastUsedAt: start})

	later := time.Now()
	r.Touch(fp, later)

	got, _ := r.Get(fp)
	if !got.LastUsedAt.Equal(later) {
		t.Fatalf("expected LastUsedAt %v, got %v", later, got.LastUsedAt)
	}
}

func TestTouchOnMissingFingerprintIsNoop(t *testing.T) {
	r := New()
	r.Touch(fingerprint.Of("nobody"), time.Now())
	if r.Len() != 0 {
		t.Fatalf("expected no record to be created by Touch")
	}
}

func TestSetStatus(t *testing.T) {
	r := New()
	fp := fingerprint.Of("tenant-a")
	r.Put(Record{Fingerprint: fp, Status: StatusStarting})
	r.SetStatus(fp, StatusRunning)

	got, _ := r.Get(fp)
	if got.Status != StatusRunning {
		t.Fatalf("expected status running, got %v", got.Status)
	}
}

func TestSnapshotIsCoherentCopy(t *testing.T) {
	r := New()
	r.Put(Record{Fingerprint: fingerprint.Of("a")})
	r.Put(Record{Fingerprint: fingerprint.Of("b")})

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 records in snapshot, got %d", len(snap))
	}

	r.Put(Record{Fingerprint: fingerprint.Of("c")})
	if len(snap) != 2 {
		t.Fatalf("snapshot should not observe later mutations")
	}
}
