// Package errors provides standardized error messaging for heapguard.
package errors

import (
	"fmt"
	"runtime"
)

// Kind identifies one of the error categories named in the spec's error
// handling design. Only InitFatal is expected to ever reach the process
// abort path; every other kind is recorded and swallowed.
type Kind string

const (
	KindInitFatal      Kind = "INIT_FATAL"
	KindConfigInvalid  Kind = "CONFIG_INVALID"
	KindUnwindFailed   Kind = "UNWIND_FAILED"
	KindUnwindExit     Kind = "UNWIND_EXIT"
	KindOutOfBoundSize Kind = "OUT_OF_BOUND_SIZE"
	KindDumpIOFailed   Kind = "DUMP_IO_FAILED"
	KindUntracked      Kind = "UNTRACKED"
)

// TrackerError is a standardized, non-fatal (except for InitFatal) error
// carrying its kind, a message, and the caller that raised it.
type TrackerError struct {
	Kind    Kind
	Message string
	Context map[string]interface{}
	Caller  string
}

func (e *TrackerError) Error() string {
	return fmt.Sprintf("[%s] %s (at %s)", e.Kind, e.Message, e.Caller)
}

// New creates a TrackerError, capturing the immediate caller for
// diagnostics the way the dump writer and config loader report failures.
func New(kind Kind, message string, context map[string]interface{}) *TrackerError {
	pc, _, _, ok := runtime.Caller(1)
	caller := "unknown"

	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &TrackerError{
		Kind:    kind,
		Message: message,
		Context: context,
		Caller:  caller,
	}
}

// ConfigInvalid reports a malformed environment variable. The caller
// downgrades to a default and keeps loading per spec §4.4.
func ConfigInvalid(name, value, reason string) *TrackerError {
	return New(KindConfigInvalid, fmt.Sprintf("invalid value %q for %s: %s", value, name, reason),
		map[string]interface{}{"name": name, "value": value})
}

// OutOfBoundSize reports a request above the tracker's 31-bit cap.
func OutOfBoundSize(size uint64) *TrackerError {
	return New(KindOutOfBoundSize, fmt.Sprintf("requested size %d exceeds tracked cap", size),
		map[string]interface{}{"size": size})
}

// DumpIOFailed reports a dump file that could not be created or written.
func DumpIOFailed(path string, cause error) *TrackerError {
	return New(KindDumpIOFailed, fmt.Sprintf("dump to %s failed: %v", path, cause),
		map[string]interface{}{"path": path})
}
