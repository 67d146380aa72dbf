// Package frame implements the stack-interning table of spec §3/§4.6: a
// reference-counted map from a unique call-stack sequence to a small
// monotonic index, so that the live-pointer table can carry an int32
// instead of a full backtrace per allocation.
package frame

import "sync"

// Reserved interning indices. FrameRecords exist only for indices >= 2.
const (
	// IndexExit marks an allocation whose unwind terminated in a known
	// exit/terminator frame; the caller must drop the allocation entirely.
	IndexExit int32 = 0
	// IndexNoStack marks an allocation for which tracking was attempted
	// but no usable stack was obtained (filtered by size, or unwind failed).
	IndexNoStack int32 = 1
	// firstIndex is the first index handed out to a real FrameRecord.
	firstIndex int32 = 2
	// maxHashPCs bounds the hashing cost for very deep stacks (spec §3).
	maxHashPCs = 5
)

// Descriptor is a single pretty-printable frame, populated by the
// out-of-scope unwinder collaborator for dump formatting only; it plays
// no role in interning identity (that's PC-based, see Key).
type Descriptor struct {
	PC         uintptr
	Module     string
	ModuleBase uintptr
	Symbol     string
	Offset     uintptr
	HasSymbol  bool
	Anonymous  bool
}

// Key identifies a unique call stack by its ordered PC sequence. Two
// keys are equal iff their lengths and all PCs pairwise match.
type Key struct {
	pcs []uintptr
}

func newKey(pcs []uintptr) Key {
	return Key{pcs: pcs}
}

// hash XOR-folds at most the first maxHashPCs values, bounding the cost
// of hashing very deep stacks (spec §3).
func (k Key) hash() uintptr {
	var h uintptr

	n := len(k.pcs)
	if n > maxHashPCs {
		n = maxHashPCs
	}

	for i := 0; i < n; i++ {
		h ^= k.pcs[i]
	}

	return h
}

func (k Key) equal(other Key) bool {
	if len(k.pcs) != len(other.pcs) {
		return false
	}

	for i := range k.pcs {
		if k.pcs[i] != other.pcs[i] {
			return false
		}
	}

	return true
}

// Record is the interned payload for a unique Key: an owned copy of the
// PC sequence, the optional pretty-printing descriptors, and a
// reference count equal to the number of live allocations pointing at it.
type Record struct {
	pcs     []uintptr
	frames  []Descriptor
	refs    int
	index   int32
}

// PCs returns the owned PC sequence (do not mutate).
func (r *Record) PCs() []uintptr { return r.pcs }

// Frames returns the owned descriptor sequence, if the unwinder
// populated one (do not mutate).
func (r *Record) Frames() []Descriptor { return r.frames }

// RefCount returns the current reference count. Exposed for the
// refcount-sum testable property (spec §8 P2).
func (r *Record) RefCount() int { return r.refs }

// bucket groups records that collide under hash() so equal() can
// disambiguate; this is a manual open-chaining map since Key is not a
// comparable type usable as a Go map key (it holds a slice).
type bucket struct {
	key    Key
	record *Record
}

// Table is the interning table. It is guarded by a single mutex, the
// "frame lock" of spec §5, held by Intern/Release and
// additionally by the peak engine and dump writer during a snapshot
// (acquired strictly after the pointer lock — see internal/livetable).
type Table struct {
	mu      sync.Mutex
	buckets map[uintptr][]bucket
	next    int32
	byIndex map[int32]*Record
}

// NewTable returns an empty interning table with the index counter
// seeded at firstIndex (0 and 1 are reserved sentinels).
func NewTable() *Table {
	return &Table{
		buckets: make(map[uintptr][]bucket),
		next:    firstIndex,
		byIndex: make(map[int32]*Record),
	}
}

// Intern looks up pcs, incrementing the existing record's refcount on a
// hit or creating a new refcount-1 record on a miss. frames may be nil
// when the unwinder produced no pretty-printing data. pcs and frames
// are taken by reference and must not be reused by the caller.
func (t *Table) Intern(pcs []uintptr, frames []Descriptor) int32 {
	key := newKey(pcs)
	h := key.hash()

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, b := range t.buckets[h] {
		if b.key.equal(key) {
			b.record.refs++
			return b.record.index
		}
	}

	idx := t.next
	t.next++

	rec := &Record{pcs: pcs, frames: frames, refs: 1, index: idx}
	// The bucket's key must reference rec's own backing array, not the
	// caller's stack buffer, or a later lookup dereferences a dead
	// buffer once the caller's array is reused (spec §4.6 hash
	// stability rule). newKey(pcs) above already does this since pcs
	// is the same slice rec now owns.
	t.buckets[h] = append(t.buckets[h], bucket{key: key, record: rec})
	t.byIndex[idx] = rec

	return idx
}

// Release decrements the refcount for index, removing the record (and
// its bucket entry) once it reaches zero. index <= 1 is a no-op per
// spec §4.6.
func (t *Table) Release(index int32) {
	if index <= IndexNoStack {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.byIndex[index]
	if !ok {
		return
	}

	rec.refs--
	if rec.refs > 0 {
		return
	}

	delete(t.byIndex, index)

	h := newKey(rec.pcs).hash()
	bs := t.buckets[h]

	for i, b := range bs {
		if b.record == rec {
			bs[i] = bs[len(bs)-1]
			t.buckets[h] = bs[:len(bs)-1]
			break
		}
	}
}

// Lookup returns the Record for index, acquiring the frame lock itself.
// Do not call this while already holding the frame lock (e.g. from
// inside a snapshot walk) — use LookupLocked instead.
func (t *Table) Lookup(index int32) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.LookupLocked(index)
}

// LookupLocked is Lookup without acquiring the lock, for callers (the
// dump writer, the peak engine's snapshot builder) that already hold
// the frame lock across a multi-entry walk.
func (t *Table) LookupLocked(index int32) (*Record, bool) {
	rec, ok := t.byIndex[index]
	return rec, ok
}

// Lock and Unlock expose the frame lock directly for the snapshot path,
// which must hold both the pointer lock and the frame lock across a
// full live-table walk (spec §4.7, §4.9).
func (t *Table) Lock()   { t.mu.Lock() }
func (t *Table) Unlock() { t.mu.Unlock() }

// Len reports the number of live frame records, for tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.byIndex)
}
