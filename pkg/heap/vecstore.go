package heap

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
	queue "github.com/yireyun/go-queue"
)

// globalBitMap hands out directory-local extent-range indices, one
// never-reused index per call, exactly like the original's
// GlobalBitMap::SyncAcquire: a table's extent ranges only ever grow,
// they are never handed back (grounded on
// original_source/src/heap/nvm_vecstore.cpp's tryNextSegment, which
// always calls SyncAcquire rather than ever freeing a bit). Freed
// RowIds within an already-claimed range are instead returned to
// VecStore's shared free set below, so reuse happens at row
// granularity rather than extent granularity.
type globalBitMap struct {
	mu   sync.Mutex
	next uint
}

func (g *globalBitMap) syncAcquire() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.next
	g.next++
	return uint32(v)
}

// VecStore claims RowId ranges one extent at a time, striped across a
// table's NUMA directories, so concurrent inserts on different nodes
// don't contend on a single counter (grounded on
// original_source/src/heap/nvm_vecstore.cpp). It also owns the table's
// shared pool of reclaimed RowIds: ids a session's own free list
// overflowed are handed here instead of being dropped, so another
// session can reacquire them before the table's extent high-water mark
// is advanced any further.
type VecStore struct {
	tuplesPerExtent uint32
	dirCount        int
	gbm             []*globalBitMap

	freeMu   sync.Mutex
	freeRows *roaring.Bitmap
}

// NewVecStore builds the per-directory range allocators for a table.
func NewVecStore(dirCount int, tuplesPerExtent uint32) *VecStore {
	vs := &VecStore{
		tuplesPerExtent: tuplesPerExtent,
		dirCount:        dirCount,
		gbm:             make([]*globalBitMap, dirCount),
		freeRows:        roaring.New(),
	}
	for i := range vs.gbm {
		vs.gbm[i] = &globalBitMap{}
	}
	return vs
}

// claimRange reserves the next never-before-issued extent's worth of
// RowIds on dirHint's stripe.
func (vs *VecStore) claimRange(dirHint int) (RowId, RowId) {
	local := vs.gbm[dirHint].syncAcquire()
	global := uint32(dirHint) + uint32(vs.dirCount)*local
	return RowId(global * vs.tuplesPerExtent), RowId((global + 1) * vs.tuplesPerExtent)
}

// releaseRowId returns rid to the table-wide reclaimed set, making it
// available to any session's allocator via acquireFreeRowId.
func (vs *VecStore) releaseRowId(rid RowId) {
	vs.freeMu.Lock()
	defer vs.freeMu.Unlock()
	vs.freeRows.Add(uint32(rid))
}

// acquireFreeRowId pops the lowest RowId out of the table-wide
// reclaimed set, if one is waiting.
func (vs *VecStore) acquireFreeRowId() (RowId, bool) {
	vs.freeMu.Lock()
	defer vs.freeMu.Unlock()
	if vs.freeRows.IsEmpty() {
		return InvalidRowId, false
	}
	v := vs.freeRows.Minimum()
	vs.freeRows.Remove(v)
	return RowId(v), true
}

// allocatorFreeListCapacity bounds the per-allocator reuse queue; a
// session that releases more rows than this between inserts hands the
// overflow to the VecStore's shared release set, where any session's
// allocator can pick it up.
const allocatorFreeListCapacity = 1024

// RowIdAllocator is a session-local RowId source: it first drains
// rows freed by this session's own deletes, then walks forward through
// its currently-claimed extent range, and only touches the shared
// VecStore once that range is exhausted. One allocator is meant to be
// owned by a single goroutine at a time (a transaction or connection),
// mirroring the thread_local TLTableCache the original keeps per
// table per OS thread.
type RowIdAllocator struct {
	vs      *VecStore
	dirHint int

	freeList *queue.EsQueue

	rangeNext RowId
	rangeEnd  RowId
}

// NewAllocator builds a session-local allocator bound to dirHint's
// NUMA stripe.
func (vs *VecStore) NewAllocator(dirHint int) *RowIdAllocator {
	return &RowIdAllocator{
		vs:       vs,
		dirHint:  dirHint,
		freeList: queue.NewQueue(allocatorFreeListCapacity),
	}
}

// Next returns a RowId this session may safely claim: a previously
// released row if one is queued, otherwise the next unused row in the
// currently-claimed extent, otherwise a row some other session
// released back to the table-wide pool, claiming a fresh extent from
// the shared VecStore only once all of those are exhausted.
func (a *RowIdAllocator) Next() RowId {
	if v, ok, _ := a.freeList.Get(); ok {
		return v.(RowId)
	}
	if a.rangeNext < a.rangeEnd {
		rid := a.rangeNext
		a.rangeNext++
		return rid
	}
	if rid, ok := a.vs.acquireFreeRowId(); ok {
		return rid
	}
	for a.rangeNext >= a.rangeEnd {
		a.rangeNext, a.rangeEnd = a.vs.claimRange(a.dirHint)
	}
	rid := a.rangeNext
	a.rangeNext++
	return rid
}

// Release returns a deleted row's id to this session's reuse queue.
// If the queue is full it is handed to the table-wide reclaimed set
// instead of being dropped, so a session that deletes in bursts still
// gives other sessions a chance to reclaim the space.
func (a *RowIdAllocator) Release(rid RowId) {
	if ok, _ := a.freeList.Put(rid); !ok {
		a.vs.releaseRowId(rid)
	}
}
