//go:build linux && cgo

package backtrace

/*
#define _GNU_SOURCE
#include <stdlib.h>
#include <execinfo.h>
#include <dlfcn.h>

// heapguard_backtrace_pcs wraps backtrace(3): it fills out with up to n
// raw PC values for the calling thread and returns the count actually
// captured. Declared noinline so it always contributes exactly one
// frame to skip.
static __attribute__((noinline)) int heapguard_backtrace_pcs(void **out, int n) {
	return backtrace(out, n);
}
*/
import "C"

import (
	"unsafe"
)

// maxCaptureDepth bounds the PC buffer Capture allocates; deeper stacks
// are truncated (Result = OKTruncated) rather than growing the buffer,
// since growing it would allocate again on the hot interception path.
const maxCaptureDepth = 256

// Capture walks the current thread's native call stack via libc's
// backtrace(3), classifies it per spec §4.5, and resolves symbol names
// for the frames via dladdr(3) (module name/base, symbol name/offset —
// raw, not yet demangled; see internal/demangle for that step).
func (s *Source) Capture(maxDepth int) ([]uintptr, []Frame, Result) {
	if maxDepth <= 0 || maxDepth > maxCaptureDepth {
		maxDepth = maxCaptureDepth
	}

	buf := make([]unsafe.Pointer, maxDepth)

	n := int(C.heapguard_backtrace_pcs((*unsafe.Pointer)(&buf[0]), C.int(maxDepth)))
	if n <= 0 {
		return nil, nil, Fail
	}

	truncated := n == maxDepth

	start := s.skipFrames
	if start > n {
		start = n
	}

	frames := make([]Frame, 0, n-start)

	for i := start; i < n; i++ {
		pc := uintptr(buf[i])
		frames = append(frames, resolveFrame(pc))
	}

	pcs, outFrames, result := s.classify(frames, truncated)

	return pcs, outFrames, result
}

// resolveFrame calls dladdr(3) to recover the owning shared object and
// the nearest preceding symbol for pc, matching the "module/shared
// object name and base, symbol name and offset" shape the spec's
// unwinder collaborator is defined to produce (spec §1).
func resolveFrame(pc uintptr) Frame {
	var info C.Dl_info

	ok := C.dladdr(unsafe.Pointer(pc), &info)
	if ok == 0 {
		return Frame{PC: pc, Anonymous: true}
	}

	f := Frame{PC: pc}

	if info.dli_fname != nil {
		f.Module = C.GoString(info.dli_fname)
		f.ModuleBase = uintptr(info.dli_fbase)
	} else {
		f.Anonymous = true
		f.ModuleBase = uintptr(info.dli_fbase)
	}

	if info.dli_sname != nil {
		f.Symbol = C.GoString(info.dli_sname)
		f.HasSymbol = true
		f.Offset = pc - uintptr(info.dli_saddr)
	}

	return f
}
