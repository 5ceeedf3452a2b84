package heap

import (
	"fmt"
	"sync"

	"github.com/iDC-NEU/ReviveDB/pkg/pm"
	"github.com/iDC-NEU/ReviveDB/pkg/tablespace"
)

// segment head layout inside its ExtentSize-byte extent: a 4-byte
// atomic maxPageId counter, followed by a dense array of leaf-extent
// page ids (tablespace.InvalidPageId until a leaf extent is
// materialized).
const segHeadPageIdsOffset = 4

// RowIDMgr translates a table-local RowId into the address of its
// fixed-length tuple slot, lazily materializing the leaf extent a row
// falls in. One RowIDMgr exists per table (spec.md §4.3, grounded on
// original_source/include/heap/nvm_rowid_mgr.h).
type RowIDMgr struct {
	ts       *tablespace.TableSpace
	segHead  uint32
	tupleLen uint32

	tuplesPerExtent uint32

	mu sync.Mutex
}

// NewRowIDMgr builds a RowIDMgr over an already-created segment head.
// rowLen is the table's fixed row payload length, excluding the tuple
// header.
func NewRowIDMgr(ts *tablespace.TableSpace, segHead uint32, rowLen uint32) *RowIDMgr {
	tupleLen := RealTupleSize(rowLen)
	return &RowIDMgr{
		ts:              ts,
		segHead:         segHead,
		tupleLen:        tupleLen,
		tuplesPerExtent: tablespace.ExtentSize / tupleLen,
	}
}

// TuplesPerExtent is how many fixed-length tuples fit in one extent.
func (m *RowIDMgr) TuplesPerExtent() uint32 { return m.tuplesPerExtent }

// TupleLen is the per-row slot size, header included.
func (m *RowIDMgr) TupleLen() uint32 { return m.tupleLen }

func (m *RowIDMgr) leafPageExtentIds() ([]byte, error) {
	root, err := m.ts.ExtentAddr(m.segHead)
	if err != nil {
		return nil, err
	}
	return root[segHeadPageIdsOffset:], nil
}

func extentIDAt(ids []byte, i uint32) uint32 {
	off := i * 4
	return leUint32(ids[off : off+4])
}

func setExtentIDAt(ids []byte, i uint32, v uint32) {
	off := i * 4
	putLeUint32(ids[off:off+4], v)
}

// GetMaxPageId is the segment head's high-water leaf-extent index.
func (m *RowIDMgr) GetMaxPageId() (uint32, error) {
	root, err := m.ts.ExtentAddr(m.segHead)
	if err != nil {
		return 0, err
	}
	return atomicLoad32(root[0:4]), nil
}

// GetUpperRowId is one past the highest RowId this table could
// currently address, given its highest materialized leaf extent.
func (m *RowIDMgr) GetUpperRowId() (RowId, error) {
	max, err := m.GetMaxPageId()
	if err != nil {
		return 0, err
	}
	return RowId((max + 1) * m.tuplesPerExtent), nil
}

func (m *RowIDMgr) updateMaxPageId(leafExtentId uint32) error {
	root, err := m.ts.ExtentAddr(m.segHead)
	if err != nil {
		return err
	}
	field := root[0:4]
	for {
		old := atomicLoad32(field)
		if old >= leafExtentId {
			return nil
		}
		if atomicCAS32(field, old, leafExtentId) {
			pm.Flush(field)
			return nil
		}
	}
}

// tryAllocNewPage materializes the leaf extent leafExtentId falls in.
// If a concurrent caller has already installed it by the time this
// one acquires the tablespace allocator, the newly-won extent is not
// wasted: it is donated to the next free slot in the dirCount stride,
// preserving the invariant that slot i always belongs to directory i
// % dirCount.
func (m *RowIDMgr) tryAllocNewPage(leafExtentId uint32, dirHint int) error {
	ids, err := m.leafPageExtentIds()
	if err != nil {
		return err
	}
	if tablespace.NVMPageIdIsValid(extentIDAt(ids, leafExtentId)) {
		return nil
	}

	pageId, err := m.ts.FastAllocNewExtent(dirHint)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	dirCount := uint32(m.ts.DirCount())
	for tablespace.NVMPageIdIsValid(extentIDAt(ids, leafExtentId)) {
		leafExtentId += dirCount
	}
	setExtentIDAt(ids, leafExtentId, pageId)
	off := leafExtentId * 4
	pm.Flush(ids[off : off+4])
	return m.updateMaxPageId(leafExtentId)
}

// GetNVMTupleByRowId resolves rowId to its tuple slot, materializing
// the leaf extent (and recording it as the table's new high-water
// mark) when append is true and the slot doesn't exist yet. With
// append false a not-yet-materialized row resolves to (nil, nil): a
// read of a row nobody has ever written.
func (m *RowIDMgr) GetNVMTupleByRowId(rowId RowId, append bool, dirHint int) ([]byte, error) {
	leafExtentId := rowId.Extent(m.tuplesPerExtent)
	leafPageOffset := rowId.Offset(m.tuplesPerExtent)

	ids, err := m.leafPageExtentIds()
	if err != nil {
		return nil, err
	}

	if !tablespace.NVMPageIdIsValid(extentIDAt(ids, leafExtentId)) {
		if !append {
			return nil, nil
		}
		if err := m.updateMaxPageId(leafExtentId); err != nil {
			return nil, err
		}
		if err := m.tryAllocNewPage(leafExtentId, dirHint); err != nil {
			return nil, err
		}
	}

	pageId := extentIDAt(ids, leafExtentId)
	if !tablespace.NVMPageIdIsValid(pageId) {
		return nil, fmt.Errorf("heap: leaf extent %d still unmaterialized after alloc", leafExtentId)
	}
	extent, err := m.ts.ExtentAddr(pageId)
	if err != nil {
		return nil, err
	}
	start := leafPageOffset * m.tupleLen
	return extent[start : start+m.tupleLen], nil
}
