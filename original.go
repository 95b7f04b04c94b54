package hotpatch

import (
	"reflect"
	"unsafe"
)

// funcval is the runtime layout a Go func value points to.
type funcval struct {
	fn uintptr
}

// OriginalFunc returns the trampoline of h as a Go function of type T. It only
// makes sense for hooks installed with ConventionGo, where the original code
// expects Go's register ABI.
//
// If T is not a function type the zero value is returned.
func OriginalFunc[T any](h *Hook) T {
	return makeFunc[T](h.Original())
}

// makeFunc convinces Go that entry is a function of type T. A func value is a
// pointer to a funcval, and the funcval stays reachable through it.
func makeFunc[T any](entry uintptr) T {
	var zero T
	if reflect.TypeOf(zero) == nil || reflect.TypeOf(zero).Kind() != reflect.Func {
		return zero
	}

	fv := &funcval{fn: entry}
	return *(*T)(unsafe.Pointer(&fv))
}

// FuncAddr returns the entry point of a Go function, for use as a Target
// Replacement with ConventionGo.
func FuncAddr(fn any) (uintptr, bool) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return 0, false
	}
	return v.Pointer(), true
}

// FuncAt returns the code at entry as a Go function of type T. The code must
// follow Go's register ABI.
func FuncAt[T any](entry uintptr) T {
	return makeFunc[T](entry)
}
