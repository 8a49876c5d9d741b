package mem

import (
	"reflect"
	"unsafe"
)

// Memcopy copies size bytes from src to dst. Like Memset, it overlays raw
// byte slices on top of the supplied addresses instead of looping byte by
// byte so the copy can use the runtime's optimized copy() builtin.
func Memcopy(src, dst uintptr, size Size) {
	if size == 0 {
		return
	}

	srcSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: src,
	}))
	dstSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: dst,
	}))

	copy(dstSlice, srcSlice)
}
