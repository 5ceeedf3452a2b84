// Package pm implements the persistent-memory copy and durability
// primitives that the rest of the engine builds on: streaming writes
// into a mapped segment, cache-line flushing, and prefetch hints.
//
// Real PM hardware exposes CLFLUSHOPT/CLWB and AVX-512 non-temporal
// stores through compiler intrinsics; Go has no portable equivalent.
// Durability here is obtained the way a byte-addressable mmap'd file
// must be made durable without those intrinsics: ordinary copies
// followed by unix.Msync (spec.md §4.1, grounded on
// original_source/src/common/nvm_cfg.cpp's memcpy_no_flush_nt /
// WriteToNVM pair). Msync is coarser-grained than CLFLUSHOPT, so
// callers that flush tiny ranges still pay a page-granularity sync.
package pm

// WriteToNVM copies src into dest and makes it durable, mirroring
// LogicFile::WriteToNVM: a streaming copy immediately followed by a
// flush. Used for writes that must be visible on a crash the instant
// the call returns (tuple header publication, TxSlot commit).
func WriteToNVM(dest []byte, src []byte) {
	n := copy(dest, src)
	Flush(dest[:n])
}

// MemcpyNoFlushNT copies src into dest without flushing; the caller is
// responsible for calling Flush once it has finished appending further
// data, exactly as original_source's memcpy_no_flush_nt leaves the
// sfence to its caller. In this portable implementation the copy
// itself is an ordinary copy() — there is no non-temporal store to
// elide, so the distinction from WriteToNVM is purely "did we flush".
func MemcpyNoFlushNT(dest []byte, src []byte) int {
	return copy(dest, src)
}

// Flush persists dest to the backing segment file. A real PM mapping
// would CLFLUSHOPT each cache line touched; this mapping is msync'd
// instead, the standard way to durably publish an mmap'd byte range.
// on must be a slice obtained from a Mapping (see mmap.go) or a
// subslice of one — Flush resolves it back to its owning Mapping and
// syncs only the covered page range.
func Flush(region []byte) {
	if len(region) == 0 {
		return
	}
	if m := ownerOf(region); m != nil {
		m.syncRange(region)
	}
}

// PrefetchFromNVM is a documented no-op: _mm_prefetch(..., _MM_HINT_NTA)
// has no portable Go expression, and an incorrect one (e.g. touching
// the page to fault it in) would change fault behavior under test.
// Kept as a named call site so callers read the same as
// original_source's prefetch_from_nvm and can be wired to a real
// prefetch once one of the SIMD-intrinsic packages in the ecosystem is
// vetted for this use.
func PrefetchFromNVM(_ []byte) {}
