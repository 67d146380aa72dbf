// Command heapguard-preload builds the interposition shared object
// itself: `go build -buildmode=c-shared -o heapguard.so ./cmd/heapguard-preload`
// produces a `.so` meant to be loaded via LD_PRELOAD. package main here
// plays the role spec §1 calls "a shared object that replaces libc
// allocator symbols at load time" — the cgo-exported functions below
// are the only surface the dynamic linker sees; everything behind them
// is internal/tracker and its collaborators.
package main

/*
#cgo LDFLAGS: -ldl
#include <stdlib.h>
#include "shim.h"
*/
import "C"

import (
	"unsafe"

	"github.com/heapguard/heapguard/internal/classify"
	"github.com/heapguard/heapguard/internal/tracker"
)

// globalTracker is the process-singleton handle spec §9 requires:
// symbol interposition is inherently process-global, so a lazily
// constructed per-call-site tracker would be wrong even if it were
// safe. It is constructed exactly once, from heapguardOnConstruct,
// itself called only after the init-phase gate has already begun
// protecting the process (the C constructor that calls it runs at
// priority 102, right after baseline resolution at 101) — never lazily from
// inside a public symbol, which would risk re-entering an
// uninitialized tracker.
var globalTracker *tracker.Tracker

//export heapguardOnConstruct
func heapguardOnConstruct() {
	globalTracker = tracker.New()
}

//export heapguardActivate
func heapguardActivate() {
	if globalTracker != nil {
		globalTracker.Activate()
	}

	C.heapguard_set_active()
}

//export heapguardOnExit
func heapguardOnExit() {
	if globalTracker != nil {
		globalTracker.Drain()
	}
}

//export heapguardCheckpoint
func heapguardCheckpoint(path *C.char) C.int {
	if globalTracker == nil {
		return -1
	}

	if err := globalTracker.Checkpoint(C.GoString(path)); err != nil {
		return -1
	}

	return 0
}

//export heapguardValidateSize
func heapguardValidateSize(size C.size_t) C.int {
	if err := tracker.ValidateSize(uint64(size)); err != nil {
		return 0
	}

	return 1
}

//export heapguardRecordAlloc
func heapguardRecordAlloc(ptr unsafe.Pointer, size C.size_t, class C.int) {
	if globalTracker == nil || ptr == nil {
		return
	}

	allowed, end := globalTracker.BeginOp()
	defer end()

	if !allowed {
		return
	}

	globalTracker.AddAllocation(uintptr(ptr), uint64(size), classify.Class(class))
}

//export heapguardRecordFree
func heapguardRecordFree(ptr unsafe.Pointer, class C.int) {
	if globalTracker == nil || ptr == nil {
		return
	}

	allowed, end := globalTracker.BeginOp()
	defer end()

	if !allowed {
		return
	}

	globalTracker.RemoveAllocation(uintptr(ptr), classify.Class(class))
}

// heapguardRecordFreeMmap retires a munmap'd mapping without knowing
// ahead of time which class it was recorded under: the mmap-backed DMA
// path (spec §4.10, ModeDMAHeapProbe/ModeBoth) classifies and keys its
// entry by the returned pointer exactly like a plain anonymous mapping
// does, so the C side can't tell them apart without a memory probe it
// has no business doing (see cmd/heapguard-preload/shim.c's premain
// registry for why dereferencing caller pointers is off the table).
//
//export heapguardRecordFreeMmap
func heapguardRecordFreeMmap(ptr unsafe.Pointer) {
	if globalTracker == nil || ptr == nil {
		return
	}

	allowed, end := globalTracker.BeginOp()
	defer end()

	if !allowed {
		return
	}

	globalTracker.RemoveAllocationAny(uintptr(ptr), classify.MMap, classify.DMA)
}

// heapguardRecordFreeFD matches heapguardRecordAlloc for the DMA/ioctl
// path, where the "address" is a file descriptor number rather than a
// pointer — close(fd) is the deallocation event (spec §4.10).
//
//export heapguardRecordFreeFD
func heapguardRecordFreeFD(fd C.int) {
	if globalTracker == nil {
		return
	}

	allowed, end := globalTracker.BeginOp()
	defer end()

	if !allowed {
		return
	}

	globalTracker.RemoveAllocation(uintptr(fd), classify.DMA)
}

// heapguardClassifyMmap applies spec §4.10's mmap classification rules
// and, when the mapping should be tracked, records it directly (the
// "address" for a DMA-heap mmap is still the returned pointer, not the
// fd — only the close(fd) side is fd-keyed, matching an ioctl alloc).
//
//export heapguardClassifyMmap
func heapguardClassifyMmap(ptr unsafe.Pointer, length C.size_t, fd C.int) {
	if globalTracker == nil || ptr == nil {
		return
	}

	cfg := globalTracker.Config()

	class, ok := classify.ClassifyMmap(cfg.MMapMode, int(fd), globalTracker.FDCache())
	if !ok {
		return
	}

	allowed, end := globalTracker.BeginOp()
	defer end()

	if !allowed {
		return
	}

	globalTracker.AddAllocation(uintptr(ptr), uint64(length), class)
}

// heapguardRecordDMAAlloc records a DMA-heap buffer allocated through
// the ioctl path (spec §4.10), keyed by the returned fd.
//
//export heapguardRecordDMAAlloc
func heapguardRecordDMAAlloc(fd C.int, length C.size_t) {
	if globalTracker == nil {
		return
	}

	allowed, end := globalTracker.BeginOp()
	defer end()

	if !allowed {
		return
	}

	globalTracker.AddAllocation(uintptr(fd), uint64(length), classify.DMA)
}

func main() {
	// Required by -buildmode=c-shared but never runs: the shared
	// object has no entry point of its own, only the constructor in
	// shim.c and the exported symbols above.
}
