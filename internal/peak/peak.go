// Package peak implements the peak engine and snapshot/dump preparation
// of spec §3/§4.8/§4.9: running totals, the "new global peak" trigger,
// and the sorted, coalesced view handed to the dump writer.
package peak

import (
	"sort"
	"sync"
	"time"

	"github.com/heapguard/heapguard/internal/classify"
	"github.com/heapguard/heapguard/internal/frame"
	"github.com/heapguard/heapguard/internal/livetable"
)

// SnapshotEntry is one coalesced row of a peak snapshot or a live dump
// (spec §3 PeakSnapshot, §4.9 ListEntry).
type SnapshotEntry struct {
	Address   uintptr
	Size      uint64
	Count     int
	Class     classify.Class
	Time      time.Time
	HeldFor   time.Duration // SPEC_FULL §3.14 supplement; rebuild and LiveView leave it zero
	HasStack  bool
	Frames    []frame.Descriptor
	FrameRefs int // refcount of the backing FrameRecord, for diagnostics
}

// Engine ties the live-pointer table and the frame interning table
// together, owning the "has the global peak grown enough to rebuild
// the snapshot" decision of spec §4.8 and the snapshot builder of §4.9.
type Engine struct {
	live   *livetable.Table
	frames *frame.Table

	thresholdBytes uint64 // RECORD_MEMORY_PEAK gate: DUMP_PEAK_VALUE_MB
	incrementBytes uint64 // "interesting increment" per-allocation gate

	mu       sync.Mutex
	snapshot []SnapshotEntry
	enabled  bool
}

// NewEngine wires an Engine to existing live and frame tables. threshold
// and increment are both in bytes; see spec §4.4/§4.8.
func NewEngine(live *livetable.Table, frames *frame.Table, enabled bool, threshold, increment uint64) *Engine {
	return &Engine{
		live:           live,
		frames:         frames,
		thresholdBytes: threshold,
		incrementBytes: increment,
		enabled:        enabled,
	}
}

// Add records a newly-installed allocation's contribution to the
// running totals and, if warranted, rebuilds the peak snapshot (spec
// §4.8). size is the allocation's raw byte count; livetable.Add masks
// the reserved high bit off the stored entry.
func (e *Engine) Add(addr uintptr, size uint64, class classify.Class, internIndex int32, now time.Time) {
	result := e.live.Add(addr, size, class, internIndex, now)

	if !e.enabled || !result.NewPeakTotal {
		return
	}

	if result.Totals.PeakTotal < e.thresholdBytes {
		return
	}

	if size < e.incrementBytes {
		return
	}

	e.rebuild()
}

// Remove decrements the running totals for addr's entry, if tracked.
// Peaks never decrease on Remove (spec §4.8). The caller is
// responsible for releasing the frame-table reference afterward.
func (e *Engine) Remove(addr uintptr, class classify.Class) (livetable.LiveEntry, bool) {
	return e.live.Remove(addr, class)
}

// rebuild walks the live table under both locks (pointer, then frame —
// spec §4.7/§4.9 lock order) and replaces the snapshot wholesale.
func (e *Engine) rebuild() {
	e.live.Lock()
	defer e.live.Unlock()

	e.frames.Lock()
	defer e.frames.Unlock()

	var entries []SnapshotEntry

	e.live.RangeLocked(func(addr uintptr, le livetable.LiveEntry) {
		se := SnapshotEntry{
			Address: addr,
			Size:    le.RawSize(),
			Count:   1,
			Class:   le.Class,
			Time:    le.AllocTime,
		}

		if le.InternIndex >= 2 {
			if rec, ok := e.frames.LookupLocked(le.InternIndex); ok {
				se.HasStack = true
				se.Frames = rec.Frames()
				se.FrameRefs = rec.RefCount()
			}
		}

		entries = append(entries, se)
	})

	sorted := sortAndCoalesce(entries)

	e.mu.Lock()
	e.snapshot = sorted
	e.mu.Unlock()
}

// sortAndCoalesce implements spec §4.9 steps 2-3: sort by (size desc,
// stack depth desc, address asc) with stackless entries ranked last,
// then merge consecutive equal (size, stack-identity) runs.
func sortAndCoalesce(entries []SnapshotEntry) []SnapshotEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]

		if a.HasStack != b.HasStack {
			return a.HasStack // stackful entries sort before stackless
		}

		if a.Size != b.Size {
			return a.Size > b.Size
		}

		if len(a.Frames) != len(b.Frames) {
			return len(a.Frames) > len(b.Frames)
		}

		return a.Address < b.Address
	})

	var out []SnapshotEntry

	for _, e := range entries {
		if n := len(out); n > 0 && coalescable(out[n-1], e) {
			out[n-1].Count++
			continue
		}

		out = append(out, e)
	}

	return out
}

func coalescable(a, b SnapshotEntry) bool {
	if a.Size != b.Size || a.HasStack != b.HasStack {
		return false
	}

	if len(a.Frames) != len(b.Frames) {
		return false
	}

	for i := range a.Frames {
		if a.Frames[i].PC != b.Frames[i].PC {
			return false
		}
	}

	return true
}

// Snapshot returns the most recently captured peak snapshot.
func (e *Engine) Snapshot() []SnapshotEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]SnapshotEntry, len(e.snapshot))
	copy(out, e.snapshot)

	return out
}

// Totals returns the current running counters.
func (e *Engine) Totals() livetable.Totals {
	return e.live.TotalsSnapshot()
}

// LiveView builds an ad hoc SnapshotEntry list from the live table as
// it stands right now, sorted by ascending allocation time — used when
// RECORD_MEMORY_PEAK is off and a dump must still show something (spec
// §4.9's "sorted by ascending allocation time" fallback).
func (e *Engine) LiveView() []SnapshotEntry {
	e.live.Lock()
	defer e.live.Unlock()

	e.frames.Lock()
	defer e.frames.Unlock()

	var entries []SnapshotEntry

	e.live.RangeLocked(func(addr uintptr, le livetable.LiveEntry) {
		se := SnapshotEntry{
			Address: addr,
			Size:    le.RawSize(),
			Count:   1,
			Class:   le.Class,
			Time:    le.AllocTime,
		}

		if le.InternIndex >= 2 {
			if rec, ok := e.frames.LookupLocked(le.InternIndex); ok {
				se.HasStack = true
				se.Frames = rec.Frames()
				se.FrameRefs = rec.RefCount()
			}
		}

		entries = append(entries, se)
	})

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})

	return entries
}
