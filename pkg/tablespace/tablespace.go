// Package tablespace implements the shared, extent-granular
// allocator that all tables draw their storage from: a LogicFile of
// fixed 2 MiB extents, striped round-robin across NUMA-local
// directories (spec.md §4.3, grounded on
// original_source/include/heap/nvm_rowid_mgr.h's HEAP_EXTENT_SIZE and
// fastAllocNewExtent contract).
package tablespace

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/iDC-NEU/ReviveDB/pkg/logicfile"
	"github.com/iDC-NEU/ReviveDB/pkg/pm"
)

const (
	// PageSize is the flat addressing unit LogicFile deals in. The
	// retrieved headers define NVM_PAGE_SIZE externally (not present in
	// the pack); 8 KiB is chosen because it divides ExtentSize evenly
	// (256 pages/extent) and matches the page size the wider storage
	// corpus (e.g. matrixorigin's block layout) defaults to.
	PageSize = 8 * 1024

	// ExtentSize is HEAP_EXTENT_SIZE (EXT_SIZE_2M): the fixed allocation
	// granule for table heap storage.
	ExtentSize = 2 * 1024 * 1024

	pagesPerExtent = ExtentSize / PageSize

	// InvalidPageId marks an extent-table slot that has never been
	// materialized. 0 is a legitimate page id, so the sentinel must not
	// be the mmap zero-fill value.
	InvalidPageId uint32 = 1<<32 - 1
)

// NVMPageIdIsValid reports whether pageId refers to a materialized
// extent rather than an empty segment-head slot.
func NVMPageIdIsValid(pageId uint32) bool { return pageId != InvalidPageId }

// TableSpace is the allocator all tables' RowIDMgrs call into for new
// extents. It owns one LogicFile and a per-directory free-extent
// bitmap so extents released through FreeExtent can be reused before
// the high-water mark is advanced.
type TableSpace struct {
	lf       *logicfile.LogicFile
	dirCount int

	mu         sync.Mutex
	nextExtent uint32                   // high-water mark, in extent units
	free       map[int]*bitset.BitSet   // dirIndex -> free relative-extent-index bitmap
	freeBase   map[int]uint32           // dirIndex -> extent index the bitmap's bit 0 represents
}

// New wraps an already-mounted LogicFile as a TableSpace. The
// LogicFile's segment size must be a multiple of ExtentSize (see
// ExtentAddr); extents are mounted page by page via LogicFile.Extend.
func New(lf *logicfile.LogicFile, dirCount int) *TableSpace {
	return &TableSpace{
		lf:       lf,
		dirCount: dirCount,
		free:     make(map[int]*bitset.BitSet),
		freeBase: make(map[int]uint32),
	}
}

// PagesPerExtent is the number of LogicFile pages one extent spans.
func (ts *TableSpace) PagesPerExtent() uint32 { return pagesPerExtent }

// DirCount is the number of NUMA-local directories extents are striped
// across, the stride RowIDMgr.tryAllocNewPage walks by.
func (ts *TableSpace) DirCount() int { return ts.dirCount }

// Close unmounts the underlying LogicFile, releasing every mmap'd
// segment. Tables allocated out of this TableSpace must not be used
// afterward.
func (ts *TableSpace) Close() error { return ts.lf.Unmount() }

// GetNvmAddrByPageId resolves a page id to its backing bytes, exactly
// as RowIDMgr::getNVMTupleByRowId expects from m_tableSpace.
func (ts *TableSpace) GetNvmAddrByPageId(pageId uint32) ([]byte, error) {
	return ts.lf.AddrByPageID(pageId)
}

// ExtentAddr returns the full ExtentSize-byte region for the extent
// whose first page is pageId, as a zero-copy view directly into the
// owning segment's mmap — writes through it (via pm.WriteToNVM /
// pm.Flush) land on PM, not a throwaway buffer. The underlying
// LogicFile's segment size must be a multiple of ExtentSize so no
// extent ever straddles two segments; New's callers are expected to
// size segments that way.
func (ts *TableSpace) ExtentAddr(pageId uint32) ([]byte, error) {
	return ts.lf.AddrRange(pageId, ExtentSize)
}

// FastAllocNewExtent returns a fresh extent's leading page id,
// preferring a previously freed extent in dirHint's stripe before
// advancing the high-water mark. dirHint is typically the calling
// thread's NUMA node (spec.md §4.3 step 2).
func (ts *TableSpace) FastAllocNewExtent(dirHint int) (uint32, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if bs, ok := ts.free[dirHint]; ok {
		if idx, found := bs.NextSet(0); found {
			bs.Clear(idx)
			extentIdx := ts.freeBase[dirHint] + uint32(idx)*uint32(ts.dirCount)
			return ts.mountExtent(extentIdx)
		}
	}

	extentIdx := ts.nextExtent
	if ts.dirCount > 0 {
		for int(extentIdx)%ts.dirCount != dirHint {
			extentIdx++
		}
	}
	ts.nextExtent = extentIdx + 1
	return ts.mountExtent(extentIdx)
}

func (ts *TableSpace) mountExtent(extentIdx uint32) (uint32, error) {
	pageId := extentIdx * pagesPerExtent
	if err := ts.lf.Extend(pageId + pagesPerExtent - 1); err != nil {
		return 0, fmt.Errorf("tablespace: mount extent %d: %w", extentIdx, err)
	}
	return pageId, nil
}

// FreeExtent returns an extent to the per-directory free list so a
// later FastAllocNewExtent call for the same directory can reuse it
// without advancing the high-water mark. No engine path calls it at
// present: neither the reclaimer nor catalog.DropTable frees extents.
func (ts *TableSpace) FreeExtent(pageId uint32, dirHint int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	extentIdx := pageId / pagesPerExtent
	bs, ok := ts.free[dirHint]
	if !ok {
		bs = bitset.New(1024)
		ts.free[dirHint] = bs
		ts.freeBase[dirHint] = extentIdx
	}
	base := ts.freeBase[dirHint]
	if extentIdx < base || (extentIdx-base)%uint32(ts.dirCount) != 0 {
		return // not this stripe's extent; ignore rather than corrupt the bitmap
	}
	bit := (extentIdx - base) / uint32(ts.dirCount)
	bs.Set(uint(bit)) // Set grows the bitset automatically if bit is out of range
}

// CreateSegmentHead allocates a fresh extent to serve as a table's
// segment head and initializes its maxPageId counter and extent-id
// lookup array (capacity slots, each InvalidPageId) — the layout
// RowIDMgr's leafPageExtentIds / updateMaxPageId read and write.
func (ts *TableSpace) CreateSegmentHead(dirHint int, capacity uint32) (uint32, error) {
	pageId, err := ts.FastAllocNewExtent(dirHint)
	if err != nil {
		return 0, err
	}
	extent, err := ts.ExtentAddr(pageId)
	if err != nil {
		return 0, err
	}

	// maxPageId (4 bytes) already zero from a fresh mmap; write it
	// explicitly so the invariant holds even if this extent was reused
	// from the free list.
	var zero [4]byte
	pm.WriteToNVM(extent[0:4], zero[:])

	invalid := make([]byte, 4)
	for i := range invalid {
		invalid[i] = 0xFF
	}
	for i := uint32(0); i < capacity; i++ {
		off := 4 + i*4
		pm.MemcpyNoFlushNT(extent[off:off+4], invalid)
	}
	pm.Flush(extent[4 : 4+capacity*4])
	return pageId, nil
}
