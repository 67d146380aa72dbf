package tracker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/heapguard/heapguard/internal/classify"
	"github.com/heapguard/heapguard/internal/config"
)

func TestValidateSizeRejectsOverCap(t *testing.T) {
	if err := ValidateSize(OutOfBoundCap); err != nil {
		t.Errorf("ValidateSize(cap) = %v, want nil", err)
	}

	if err := ValidateSize(OutOfBoundCap + 1); err == nil {
		t.Error("ValidateSize(cap+1) should reject an out-of-bound size")
	}
}

func TestBeginOpRequiresActiveStateAndTracking(t *testing.T) {
	tr := New(config.WithMMapMode(classify.ModeBoth))
	tr.cfg.TrackAllocs = true

	if allowed, end := tr.BeginOp(); allowed {
		end()
		t.Fatal("BeginOp must refuse tracking before Activate")
	} else {
		end()
	}

	tr.Activate()

	allowed, end := tr.BeginOp()
	defer end()

	if !allowed {
		t.Fatal("BeginOp must allow tracking once active and TrackAllocs is set")
	}
}

func TestAddThenRemoveAllocationRoundTrips(t *testing.T) {
	tr := New()
	tr.cfg.TrackAllocs = true
	tr.cfg.Backtrace = false
	tr.Activate()

	tr.AddAllocation(0x1000, 4096, classify.Host)

	totals := tr.peak.Totals()
	if totals.CurrentHost != 4096 {
		t.Fatalf("CurrentHost = %d, want 4096 after AddAllocation", totals.CurrentHost)
	}

	tr.RemoveAllocation(0x1000, classify.Host)

	totals = tr.peak.Totals()
	if totals.CurrentHost != 0 {
		t.Fatalf("CurrentHost = %d, want 0 after RemoveAllocation", totals.CurrentHost)
	}
}

func TestInternWithoutBacktraceUsesNoStackSentinel(t *testing.T) {
	tr := New()
	tr.cfg.Backtrace = false

	if idx := tr.intern(128); idx != 1 {
		t.Errorf("intern() with Backtrace disabled = %d, want the no-stack sentinel (1)", idx)
	}
}

func TestInternRespectsSizeFilterWhenBacktraceSpecific(t *testing.T) {
	tr := New()
	tr.cfg.Backtrace = true
	tr.cfg.BacktraceSpecific = true
	tr.cfg.MinSize = 1024
	tr.cfg.MaxSize = 2048

	if idx := tr.intern(16); idx != 1 {
		t.Errorf("intern(16) below MinSize = %d, want no-stack sentinel (1)", idx)
	}

	if idx := tr.intern(4096); idx != 1 {
		t.Errorf("intern(4096) above MaxSize = %d, want no-stack sentinel (1)", idx)
	}
}

func TestCheckpointWritesDumpFile(t *testing.T) {
	tr := New()
	tr.cfg.TrackAllocs = true
	tr.cfg.Backtrace = false
	tr.Activate()

	tr.AddAllocation(0x2000, 8192, classify.Host)

	path := filepath.Join(t.TempDir(), "dump.txt")
	if err := tr.Checkpoint(path); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if !strings.HasPrefix(string(data), "host peak used:") {
		t.Errorf("dump file missing expected header, got:\n%s", data)
	}

	if !strings.Contains(string(data), "alloc_size:8KB") {
		t.Errorf("dump file missing the recorded allocation, got:\n%s", data)
	}
}

func TestDrainIsIdempotent(t *testing.T) {
	tr := New()
	tr.cfg.DumpOnExit = false
	tr.Activate()

	tr.Drain()
	tr.Drain()

	if tr.currentState() != StateFrozen {
		t.Errorf("state after Drain = %v, want StateFrozen", tr.currentState())
	}
}

func TestRemoveAllocationMissIsSilent(t *testing.T) {
	tr := New()
	tr.cfg.TrackAllocs = true
	tr.Activate()

	// Must not panic when removing an address that was never added.
	tr.RemoveAllocation(0xdeadbeef, classify.Host)
}
