//go:build !cgo || !linux

package backtrace

// Capture is a stub used only when building without cgo (e.g. for unit
// tests of the pure-Go policy in backtrace.go, or on a non-Linux host).
// A preload shim built this way cannot see native C/C++ frames at all,
// so every capture reports Fail — the caller records the allocation
// under the reserved "no usable stack" index per spec §4.5/§4.6.
func (s *Source) Capture(maxDepth int) ([]uintptr, []Frame, Result) {
	return nil, nil, Fail
}
