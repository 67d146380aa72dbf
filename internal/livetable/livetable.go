// Package livetable implements the live-pointer table of spec §3/§4.7:
// a map from (obfuscated) allocation address to LiveEntry, plus the
// running per-class and total byte counters it is defined to protect.
package livetable

import (
	"sync"
	"time"

	"github.com/heapguard/heapguard/internal/classify"
)

// sizeFlagBit is the high bit spec §3/§9 reserves on the size field.
// Sizes are always stored raw below it; the bit itself carries no
// meaning in this implementation (see DESIGN.md's Open Question note
// on the legacy zygote-child flag).
const sizeFlagBit = uint64(1) << 63

// obfuscateMask is XORed with every address before it is used as a map
// key, keeping raw pointers out of the tracker's own working set (spec
// §9). It must be applied on both the insert and lookup paths.
const obfuscateMask = ^uintptr(0)

func obfuscate(addr uintptr) uintptr { return addr ^ obfuscateMask }

// LiveEntry is the bookkeeping record for one outstanding allocation.
type LiveEntry struct {
	Size        uint64
	InternIndex int32
	Class       classify.Class
	AllocTime   time.Time
}

// RawSize returns Size with the reserved high bit masked off.
func (e LiveEntry) RawSize() uint64 { return e.Size &^ sizeFlagBit }

// Totals holds the six running byte counters of spec §3. Peaks are
// monotonic for the life of the process (spec invariant 3); currents
// may rise and fall.
type Totals struct {
	CurrentHost  uint64
	CurrentDMA   uint64
	CurrentTotal uint64
	PeakHost     uint64
	PeakDMA      uint64
	PeakTotal    uint64
}

// currentFor returns a pointer to the per-class current counter,
// dispatched by class rather than by any type hierarchy (spec §9).
// MMap allocations are accounted against the host bucket: the spec
// names current_host/current_dma/current_total only, folding anonymous
// mappings into "host" the same way a plain malloc is.
func (t *Totals) currentFor(c classify.Class) *uint64 {
	switch c {
	case classify.DMA:
		return &t.CurrentDMA
	case classify.Host, classify.MMap:
		return &t.CurrentHost
	default:
		return &t.CurrentHost
	}
}

func (t *Totals) peakFor(c classify.Class) *uint64 {
	switch c {
	case classify.DMA:
		return &t.PeakDMA
	case classify.Host, classify.MMap:
		return &t.PeakHost
	default:
		return &t.PeakHost
	}
}

// Table is the live-pointer table, guarded by the "pointer lock" of
// spec §5. It also owns Totals, since the pointer lock is defined to
// protect both together (spec §5: "protects the live-pointer table and
// current totals").
type Table struct {
	mu      sync.Mutex
	entries map[uintptr]LiveEntry
	totals  Totals
}

// NewTable returns an empty live-pointer table.
func NewTable() *Table {
	return &Table{entries: make(map[uintptr]LiveEntry)}
}

// AddResult reports what happened as a side effect of Add, so the peak
// engine can decide whether a snapshot rebuild is warranted without
// re-deriving the totals itself.
type AddResult struct {
	Totals       Totals
	NewPeakTotal bool
}

// Add installs a LiveEntry for addr and updates the per-class and total
// current/peak counters (spec §4.7 step, §4.8 steps 1-2). Callers must
// have already obtained internIndex from the frame table *before*
// calling Add, so the frame lock is released before the pointer lock
// is taken and the two are never nested on the add path (spec §4.7).
func (t *Table) Add(addr uintptr, size uint64, class classify.Class, internIndex int32, now time.Time) AddResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[obfuscate(addr)] = LiveEntry{
		Size:        size &^ sizeFlagBit,
		InternIndex: internIndex,
		Class:       class,
		AllocTime:   now,
	}

	cur := t.totals.currentFor(class)
	*cur += size

	t.totals.CurrentTotal += size

	peak := t.totals.peakFor(class)
	if *cur > *peak {
		*peak = *cur
	}

	newPeak := false
	if t.totals.CurrentTotal > t.totals.PeakTotal {
		t.totals.PeakTotal = t.totals.CurrentTotal
		newPeak = true
	}

	return AddResult{Totals: t.totals, NewPeakTotal: newPeak}
}

// Remove extracts and deletes the entry for addr, decrementing the
// per-class and total current counters (peaks never decrease). It is a
// no-op if addr was never tracked — deallocations from the init-phase
// gate or a reentrant bypass are expected to miss here (spec §4.7).
// The caller is responsible for releasing the entry's frame-table
// reference *after* this call returns, outside the pointer lock, to
// preserve the pointer-then-frame lock order on the remove side.
func (t *Table) Remove(addr uintptr, class classify.Class) (LiveEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := obfuscate(addr)

	entry, ok := t.entries[key]
	// A host pointer and a DMA fd can coincide numerically; requiring
	// the caller's expected class to match the stored one prevents a
	// close(fd) from ever removing an unrelated malloc'd pointer (and
	// vice versa) that happens to obfuscate to the same key.
	if !ok || entry.Class != class {
		return LiveEntry{}, false
	}

	delete(t.entries, key)

	cur := t.totals.currentFor(entry.Class)
	if *cur >= entry.Size {
		*cur -= entry.Size
	} else {
		*cur = 0
	}

	if t.totals.CurrentTotal >= entry.Size {
		t.totals.CurrentTotal -= entry.Size
	} else {
		t.totals.CurrentTotal = 0
	}

	return entry, true
}

// TotalsSnapshot returns a copy of the current counters.
func (t *Table) TotalsSnapshot() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.totals
}

// Len reports the number of live entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// Lock and Unlock expose the pointer lock for the snapshot path, which
// must hold it across a full table walk together with the frame lock
// (pointer acquired first, per spec §4.7/§4.9).
func (t *Table) Lock()   { t.mu.Lock() }
func (t *Table) Unlock() { t.mu.Unlock() }

// RangeLocked walks every live entry; the caller must already hold the
// pointer lock (via Lock). The obfuscated key is de-obfuscated before
// being passed to fn so callers work in terms of real addresses.
func (t *Table) RangeLocked(fn func(addr uintptr, entry LiveEntry)) {
	for k, e := range t.entries {
		fn(obfuscate(k), e)
	}
}

// TotalsLocked returns the counters without acquiring the lock, for
// callers already holding it (the snapshot path).
func (t *Table) TotalsLocked() Totals { return t.totals }
