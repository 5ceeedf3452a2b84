package undo

import (
	"sync/atomic"
	"unsafe"
)

// atomicLoad64/atomicStore64/atomicCAS64 perform atomic operations
// directly on an 8-byte-aligned field inside a PM-mapped byte slice.
// This is the Go analogue of original_source's
// std::atomic<uint64_t>* over mmap'd memory: the field lives outside
// the Go heap (it's backed by an mmap'd file), so aliasing it through
// unsafe.Pointer does not confuse the garbage collector, and
// sync/atomic's hardware-backed ops give the same acquire/release
// guarantees the C++ code relies on.
func atomicLoad64(b []byte) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&b[0])))
}

func atomicStore64(b []byte, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&b[0])), v)
}

func atomicCAS64(b []byte, old, new uint64) bool {
	return atomic.CompareAndSwapUint64((*uint64)(unsafe.Pointer(&b[0])), old, new)
}
