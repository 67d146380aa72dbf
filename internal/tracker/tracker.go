// Package tracker orchestrates the allocation-tracking engine: the
// state machine, the concurrent-ops lock, and the signal/exit dispatch
// of spec §4.11, wiring together internal/config, internal/frame,
// internal/livetable, internal/peak, internal/backtrace and
// internal/dump. This is the package cmd/heapguard-preload's cgo shim
// calls into from every interceptor trampoline.
package tracker

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/heapguard/heapguard/internal/backtrace"
	"github.com/heapguard/heapguard/internal/classify"
	"github.com/heapguard/heapguard/internal/config"
	"github.com/heapguard/heapguard/internal/dump"
	"github.com/heapguard/heapguard/internal/errors"
	"github.com/heapguard/heapguard/internal/frame"
	"github.com/heapguard/heapguard/internal/livetable"
	"github.com/heapguard/heapguard/internal/peak"
)

// State is the tracker's lifecycle state machine (spec §4.11).
type State int32

const (
	StateUninitialized State = iota
	StatePreMain
	StateActive
	StateDraining
	StateFrozen
)

// Tracker is the process-singleton tracking engine. It is never torn
// down: the spec requires leaking it rather than racing threads whose
// own teardown still allocates (spec §5, §9).
type Tracker struct {
	cfg    *config.Config
	frames *frame.Table
	live   *livetable.Table
	peak   *peak.Engine
	bt     *backtrace.Source
	cache  *classify.FDInodeCache

	// opsLock is the "concurrent-ops" reader/writer lock: every
	// interceptor holds a read lock across its body, teardown takes the
	// write lock exclusively. It is the outermost lock (spec §5).
	opsLock sync.RWMutex

	stateMu sync.Mutex
	state   State

	logger *Logger
}

// Logger is the tracker's diagnostic sink. Failures here must never
// propagate as errors that crash the host process (spec §7).
type Logger struct {
	Debug bool
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "heapguard: "+format+"\n", args...)
}

// New constructs a Tracker in StatePreMain, ready for Activate once the
// init-phase gate flips (spec §4.3). Config parse diagnostics are
// logged immediately; none of them prevent the library from loading.
func New(opts ...config.Option) *Tracker {
	cfg, diags := config.Load(opts...)

	t := &Tracker{
		cfg:    cfg,
		frames: frame.NewTable(),
		live:   livetable.NewTable(),
		cache:  classify.NewFDInodeCache(),
		logger: &Logger{},
		state:  StatePreMain,
	}

	t.peak = peak.NewEngine(t.live, t.frames, cfg.RecordPeak, cfg.PeakThresholdMB*(1<<20), interestingIncrement)

	t.bt = backtrace.NewSource(skipFramesForHook, exitFramePrefixes)

	for _, d := range diags {
		t.logger.Warnf("%v", d)
	}

	return t
}

// interestingIncrement is the per-allocation size gate of spec §4.8,
// below which a new peak does not trigger a snapshot rebuild even
// though the global total did in fact grow. 1KB matches the worked
// example in spec §8 scenario 5.
const interestingIncrement = 1024

// skipFramesForHook is the number of frames internal to the hook that
// the unwinder must skip before it reaches the application's own call
// site (the trampoline and Tracker.AddAllocation/Capture themselves).
const skipFramesForHook = 3

// exitFramePrefixes names the symbol prefixes the unwinder treats as
// thread-exit terminators (spec §4.5).
var exitFramePrefixes = []string{
	"__pthread_exit", "pthread_exit", "__call_tls_dtors", "_dl_fini",
}

// Activate transitions StatePreMain -> StateActive, called from the C
// shim's high-priority constructor once the baseline resolver has
// cached every required symbol (spec §4.3).
func (t *Tracker) Activate() {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	if t.state == StatePreMain {
		t.state = StateActive
	}

	if t.cfg.DumpOnSignal {
		t.installSignalHandler()
	}
}

func (t *Tracker) currentState() State {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	return t.state
}

// BeginOp acquires the concurrent-ops read lock for the duration of one
// interceptor call. It reports whether the tracker is in a state that
// permits Add/Remove at all; callers in any other state should still
// call through to the baseline but skip tracking.
func (t *Tracker) BeginOp() (trackingAllowed bool, end func()) {
	t.opsLock.RLock()

	allowed := t.currentState() == StateActive && t.cfg.TrackAllocs

	return allowed, t.opsLock.RUnlock
}

// Config returns the parsed configuration, for the preload package's
// mmap classification (heapguardClassifyMmap), which needs the mmap mode.
func (t *Tracker) Config() *config.Config { return t.cfg }

// FDCache exposes the DMA-heap inode probe cache for mmap classification.
func (t *Tracker) FDCache() *classify.FDInodeCache { return t.cache }

// AddAllocation records a newly-baseline-allocated pointer. size is the
// requested size (raw, below the 31-bit cap — the caller is expected
// to have already rejected oversize requests per spec §7
// OutOfBoundSize before ever reaching here).
func (t *Tracker) AddAllocation(addr uintptr, size uint64, class classify.Class) {
	idx := t.intern(size)

	// An exit-terminator unwind means spec §4.5 says to drop this
	// allocation entirely, not track it stackless: inserting it here
	// would double-account it (the matching free, if any, lands during
	// the same thread-exit teardown this is meant to stay clear of).
	if idx == frame.IndexExit {
		return
	}

	t.peak.Add(addr, size, class, idx, time.Now())
}

// intern applies the size filter (spec §4.6 step 1) and, if the
// allocation passes it, captures and interns a backtrace (steps 2-3).
func (t *Tracker) intern(size uint64) int32 {
	if t.cfg.BacktraceSpecific && (size < t.cfg.MinSize || size > t.cfg.MaxSize) {
		return frame.IndexNoStack
	}

	if !t.cfg.Backtrace {
		return frame.IndexNoStack
	}

	pcs, frames, result := t.bt.Capture(t.cfg.BacktraceFrames)

	switch result {
	case backtrace.ExitFunc:
		return frame.IndexExit
	case backtrace.Fail:
		return frame.IndexNoStack
	default:
		return t.frames.Intern(pcs, toFrameDescriptors(frames))
	}
}

// toFrameDescriptors adapts the unwind package's Frame shape into the
// frame package's Descriptor shape; kept as a conversion rather than a
// shared type so neither package depends on the other's concerns
// (capture mechanism vs. interning identity).
func toFrameDescriptors(in []backtrace.Frame) []frame.Descriptor {
	if in == nil {
		return nil
	}

	out := make([]frame.Descriptor, len(in))
	for i, f := range in {
		out[i] = frame.Descriptor{
			PC:         f.PC,
			Module:     f.Module,
			ModuleBase: f.ModuleBase,
			Symbol:     f.Symbol,
			Offset:     f.Offset,
			HasSymbol:  f.HasSymbol,
			Anonymous:  f.Anonymous,
		}
	}

	return out
}

// RemoveAllocation matches a prior AddAllocation for addr. A miss is
// silent per spec §4.7/§7 Untracked — it means the allocation was
// served by the init-phase gate or a reentrant bypass.
func (t *Tracker) RemoveAllocation(addr uintptr, class classify.Class) {
	entry, ok := t.peak.Remove(addr, class)
	if !ok {
		return
	}

	t.frames.Release(entry.InternIndex)
}

// RemoveAllocationAny matches a prior AddAllocation for addr under
// whichever of classes it was actually recorded as, stopping at the
// first hit. munmap's caller doesn't know ahead of time whether the
// mapping was classified Host/MMap or DMA (spec §4.10's mmap-backed DMA
// path keys its entry by the returned pointer, same as an ordinary
// anonymous mapping, not by fd) — trying MMap then DMA here, rather
// than hardcoding MMap, is what keeps that entry from being silently
// unretireable.
func (t *Tracker) RemoveAllocationAny(addr uintptr, classes ...classify.Class) {
	for _, class := range classes {
		entry, ok := t.peak.Remove(addr, class)
		if !ok {
			continue
		}

		t.frames.Release(entry.InternIndex)

		return
	}
}

// OutOfBoundCap is the 31-bit request-size ceiling of spec §6/§7.
const OutOfBoundCap = (uint64(1) << 31) - 1

// ValidateSize returns an OutOfBoundSize error if size exceeds the
// tracker's cap, matching the real allocator's own out-of-memory
// behavior per spec §7's propagation rule.
func ValidateSize(size uint64) error {
	if size > OutOfBoundCap {
		return errors.OutOfBoundSize(size)
	}

	return nil
}

// Checkpoint writes an on-demand dump to path (spec §6's exported
// checkpoint(path) symbol). I/O failures are reported but never panic
// (spec §7 DumpIOFailed).
func (t *Tracker) Checkpoint(path string) error {
	return t.dumpTo(path)
}

func (t *Tracker) dumpTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		t.logger.Warnf("%v", errors.DumpIOFailed(path, err))
		return err
	}
	defer f.Close()

	opts := dump.Options{OnlyWithBacktrace: false}

	var entries []peak.SnapshotEntry
	if t.cfg.RecordPeak {
		entries = t.peak.Snapshot()
		if len(entries) == 0 {
			entries = t.peak.LiveView()
		}
	} else {
		entries = t.peak.LiveView()
	}

	if err := dump.Write(f, t.peak.Totals(), entries, opts); err != nil {
		t.logger.Warnf("%v", errors.DumpIOFailed(path, err))
		return err
	}

	return nil
}

// installSignalHandler wires the configured dump signal to a dedicated
// helper goroutine, matching the design note's preferred shape over an
// in-handler dump: "the handler sets a pending flag consumed by a
// dedicated helper thread" (spec §4.11, §9).
func (t *Tracker) installSignalHandler() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.Signal(t.cfg.DumpSignal))

	go func() {
		for range sigCh {
			path := fmt.Sprintf("%s.time.%d.txt", t.cfg.DumpPrefix, time.Now().Unix())
			_ = t.dumpTo(path)
		}
	}()
}

// Drain transitions to StateDraining and performs the exit dump if
// configured, taking the concurrent-ops write lock first so no other
// thread can enter an interceptor during the dump (spec §4.11). The
// tracker is deliberately never freed afterward (spec §5, §9) — Drain
// leaves it in StateFrozen, permitting no further operations, but the
// process is about to exit anyway.
func (t *Tracker) Drain() {
	t.stateMu.Lock()
	if t.state == StateFrozen || t.state == StateDraining {
		t.stateMu.Unlock()
		return
	}

	t.state = StateDraining
	t.stateMu.Unlock()

	t.opsLock.Lock()
	defer t.opsLock.Unlock()

	if t.cfg.DumpOnExit {
		path := fmt.Sprintf("%s.exit.%d.txt", t.cfg.DumpPrefix, time.Now().Unix())
		_ = t.dumpTo(path)
	}

	t.stateMu.Lock()
	t.state = StateFrozen
	t.stateMu.Unlock()
}
