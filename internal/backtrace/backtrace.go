// Package backtrace wraps the unwinder collaborator named in spec §1 —
// an external dependency this spec specifies only by interface. On the
// platforms this kind of interposition shim targets that means libc's
// own unwinder, not runtime.Callers, which only walks Go frames and is
// blind to the arbitrary C/C++ call stacks a malloc hook needs to
// attribute. DataDog's cmemprof package
// (_examples/other_examples/641ae1d8_...) is the pack's only other
// example of a Go package reasoning about native call stacks; it too
// reaches for cgo rather than a pure-Go stack walker.
package backtrace

import "strings"

// Result is the outcome of a single Capture call (spec §4.5).
type Result int

const (
	OK Result = iota
	OKTruncated
	ExitFunc
	Fail
)

// Frame is the raw PC plus the pretty-printing data the unwinder
// attached, ready to be converted into a frame.Descriptor by the
// caller (kept separate from package frame to avoid a cgo->frame
// dependency neither package otherwise needs).
type Frame struct {
	PC         uintptr
	Module     string
	ModuleBase uintptr
	Symbol     string
	Offset     uintptr
	HasSymbol  bool
	Anonymous  bool
}

// Source captures backtraces up to maxDepth, skipping a fixed number of
// frames internal to the hook and treating any symbol matching an entry
// in exitPrefixes as a terminator (spec §4.5).
type Source struct {
	skipFrames   int
	exitPrefixes []string
}

// NewSource builds a Source. skipFrames counts frames belonging to the
// hook itself (the trampoline, this package's own Capture) that should
// never appear in a reported stack.
func NewSource(skipFrames int, exitPrefixes []string) *Source {
	return &Source{skipFrames: skipFrames, exitPrefixes: exitPrefixes}
}

func (s *Source) isExitFrame(symbol string) bool {
	for _, prefix := range s.exitPrefixes {
		if prefix != "" && strings.HasPrefix(symbol, prefix) {
			return true
		}
	}

	return false
}

// classify turns the frames Capture collected into PC values (for
// hashing/interning) and parallel Frame descriptors (for pretty-printing),
// with the Result of spec §4.5. See backtrace_cgo.go for the actual
// native unwind; this file holds the policy that's
// independent of the unwind mechanism (exit-frame detection, depth
// accounting) so it can be unit tested without cgo.
func (s *Source) classify(frames []Frame, truncated bool) ([]uintptr, []Frame, Result) {
	if len(frames) == 0 {
		return nil, nil, Fail
	}

	for _, f := range frames {
		if f.HasSymbol && s.isExitFrame(f.Symbol) {
			return nil, nil, ExitFunc
		}
	}

	pcs := make([]uintptr, len(frames))
	for i, f := range frames {
		pcs[i] = f.PC
	}

	if truncated {
		return pcs, frames, OKTruncated
	}

	return pcs, frames, OK
}
