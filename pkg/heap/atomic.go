package heap

import (
	"sync/atomic"
	"unsafe"
)

// atomicLoad32/atomicCAS32 give RowIDMgr's maxPageId counter the same
// std::atomic<uint32_t>-over-mmap semantics the PM header documents in
// pkg/undo/atomic.go, at 32-bit width for page ids.
func atomicLoad32(b []byte) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&b[0])))
}

func atomicCAS32(b []byte, old, new uint32) bool {
	return atomic.CompareAndSwapUint32((*uint32)(unsafe.Pointer(&b[0])), old, new)
}
