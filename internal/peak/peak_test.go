package peak

import (
	"testing"
	"time"

	"github.com/heapguard/heapguard/internal/classify"
	"github.com/heapguard/heapguard/internal/frame"
	"github.com/heapguard/heapguard/internal/livetable"
)

func TestAddRebuildsSnapshotOnQualifyingPeak(t *testing.T) {
	live := livetable.NewTable()
	frames := frame.NewTable()

	engine := NewEngine(live, frames, true, 0, 100)

	engine.Add(0x1000, 4096, classify.Host, frame.IndexNoStack, time.Now())

	snap := engine.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() len = %d, want 1", len(snap))
	}

	if snap[0].Size != 4096 {
		t.Errorf("snapshot entry size = %d, want 4096", snap[0].Size)
	}
}

func TestAddBelowIncrementGateSkipsRebuild(t *testing.T) {
	live := livetable.NewTable()
	frames := frame.NewTable()

	// incrementBytes larger than every allocation means no rebuild ever
	// fires even though the running total keeps setting new peaks.
	engine := NewEngine(live, frames, true, 0, 1<<30)

	engine.Add(0x1000, 16, classify.Host, frame.IndexNoStack, time.Now())

	if len(engine.Snapshot()) != 0 {
		t.Fatal("expected no snapshot rebuild below the increment gate")
	}
}

func TestAddDisabledNeverRebuilds(t *testing.T) {
	live := livetable.NewTable()
	frames := frame.NewTable()

	engine := NewEngine(live, frames, false, 0, 0)

	engine.Add(0x1000, 4096, classify.Host, frame.IndexNoStack, time.Now())

	if len(engine.Snapshot()) != 0 {
		t.Fatal("RECORD_MEMORY_PEAK disabled must never populate a snapshot")
	}
}

func TestSortAndCoalesceMergesEqualEntries(t *testing.T) {
	entries := []SnapshotEntry{
		{Address: 0x2000, Size: 64, Count: 1},
		{Address: 0x1000, Size: 64, Count: 1},
		{Address: 0x3000, Size: 128, Count: 1},
	}

	out := sortAndCoalesce(entries)

	if len(out) != 2 {
		t.Fatalf("sortAndCoalesce len = %d, want 2", len(out))
	}

	if out[0].Size != 128 || out[0].Count != 1 {
		t.Errorf("largest entry first: got %+v", out[0])
	}

	if out[1].Size != 64 || out[1].Count != 2 {
		t.Errorf("equal-size entries should coalesce with count 2: got %+v", out[1])
	}

	if out[1].Address != 0x1000 {
		t.Errorf("coalesced entry should keep the lower address first, got %#x", out[1].Address)
	}
}

func TestSortAndCoalesceRanksStacklessLast(t *testing.T) {
	entries := []SnapshotEntry{
		{Address: 0x1000, Size: 1000, HasStack: false},
		{Address: 0x2000, Size: 10, HasStack: true},
	}

	out := sortAndCoalesce(entries)

	if !out[0].HasStack {
		t.Fatal("a stackful entry must sort before any stackless one, regardless of size")
	}
}

func TestLiveViewSortsByAscendingTime(t *testing.T) {
	live := livetable.NewTable()
	frames := frame.NewTable()
	engine := NewEngine(live, frames, false, 0, 0)

	t1 := time.Now()
	t2 := t1.Add(time.Second)

	engine.Add(0x2000, 16, classify.Host, frame.IndexNoStack, t2)
	engine.Add(0x1000, 16, classify.Host, frame.IndexNoStack, t1)

	view := engine.LiveView()
	if len(view) != 2 {
		t.Fatalf("LiveView() len = %d, want 2", len(view))
	}

	if view[0].Address != 0x1000 || view[1].Address != 0x2000 {
		t.Errorf("LiveView not sorted ascending by time: %+v", view)
	}
}

func TestRemoveThenLiveViewOmitsFreedEntry(t *testing.T) {
	live := livetable.NewTable()
	frames := frame.NewTable()
	engine := NewEngine(live, frames, false, 0, 0)

	engine.Add(0x1000, 16, classify.Host, frame.IndexNoStack, time.Now())

	if _, ok := engine.Remove(0x1000, classify.Host); !ok {
		t.Fatal("expected Remove to find the just-added entry")
	}

	if len(engine.LiveView()) != 0 {
		t.Fatal("freed entry must not appear in LiveView")
	}
}
