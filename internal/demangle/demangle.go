// Package demangle wraps the symbol demangler collaborator of spec §1:
// an external dependency specified only by interface ("turns a raw
// mangled symbol into a human-readable name"). The natural
// implementation for a C-ABI preload shim is the platform's own
// Itanium-ABI demangler (__cxa_demangle), the same one every C++
// toolchain on Linux already ships, rather than vendoring a demangling
// library the retrieval pack never uses.
package demangle

// Demangle returns a human-readable form of a possibly-mangled symbol.
// If symbol is not a recognizable mangled name (a plain C symbol, for
// instance), it is returned unchanged — matching __cxa_demangle's own
// "not mangled" failure mode.
func Demangle(symbol string) string {
	return demangle(symbol)
}
