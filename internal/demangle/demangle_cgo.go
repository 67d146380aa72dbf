//go:build cgo

package demangle

/*
#cgo LDFLAGS: -lstdc++
#include <stdlib.h>
#include <stddef.h>

// __cxa_demangle is part of the Itanium C++ ABI and is exported as a
// plain C symbol by libstdc++/libc++ even though it is declared inside
// an `extern "C"` block in <cxxabi.h> (a C++-only header); cgo's
// preamble is compiled as C, so it is declared directly here instead
// of included from that header.
extern char *__cxa_demangle(const char *mangled_name, char *output_buffer, size_t *length, int *status);

static char *heapguard_demangle(const char *mangled, int *status) {
	return __cxa_demangle(mangled, NULL, NULL, status);
}
*/
import "C"

import "unsafe"

func demangle(symbol string) string {
	if symbol == "" {
		return symbol
	}

	cs := C.CString(symbol)
	defer C.free(unsafe.Pointer(cs))

	var status C.int

	out := C.heapguard_demangle(cs, &status)
	if out == nil || status != 0 {
		return symbol
	}
	defer C.free(unsafe.Pointer(out))

	return C.GoString(out)
}
