package recovery

import (
	"testing"

	"github.com/iDC-NEU/ReviveDB/pkg/config"
	"github.com/iDC-NEU/ReviveDB/pkg/heap"
	"github.com/iDC-NEU/ReviveDB/pkg/logicfile"
	"github.com/iDC-NEU/ReviveDB/pkg/tablespace"
	"github.com/iDC-NEU/ReviveDB/pkg/txn"
	"github.com/iDC-NEU/ReviveDB/pkg/undo"
	"github.com/stretchr/testify/require"
)

const testRowLen = 16

type testTable struct {
	segHead uint32
	rm      *heap.RowIdMap
}

func newTestTable(t *testing.T) *testTable {
	dc, err := config.NewDirectoryConfig(t.TempDir(), false)
	require.NoError(t, err)
	lf, err := logicfile.New(dc, "ts", 8*tablespace.ExtentSize, tablespace.PageSize, 64)
	require.NoError(t, err)
	t.Cleanup(func() { lf.Unmount() })
	ts := tablespace.New(lf, 1)

	segHead, err := ts.CreateSegmentHead(0, 4096)
	require.NoError(t, err)
	rowidMgr := heap.NewRowIDMgr(ts, segHead, testRowLen)
	rm := heap.NewRowIdMap(rowidMgr, 1, testRowLen)
	return &testTable{segHead: segHead, rm: rm}
}

func newTestRegistry(t *testing.T) *undo.Registry {
	dc, err := config.NewDirectoryConfig(t.TempDir(), false)
	require.NoError(t, err)
	reg, err := undo.NewRegistry(dc, 1, 256*1024, tablespace.PageSize, 64, 16)
	require.NoError(t, err)
	return reg
}

func body(b byte) []byte {
	buf := make([]byte, testRowLen)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestScanRecoversFreshRegistryWithZeroCSN(t *testing.T) {
	reg := newTestRegistry(t)
	table := newTestTable(t)

	csn, err := Scan(reg, func(sh uint32) (*heap.RowIdMap, bool) {
		if sh == table.segHead {
			return table.rm, true
		}
		return nil, false
	})
	require.NoError(t, err)
	require.Zero(t, csn)
}

// TestScanRollsBackLastInProgressSlot writes an insert directly against
// a segment the way a live transaction would, leaves its TxSlot
// IN_PROGRESS (simulating a crash before commit), and checks Scan
// restores the row to unused. Only the most recently allocated slot
// of a segment is eligible for crash rollback (matching
// UndoSegment::getMaxCSNForRollback's last-two-slots window), so two
// prior slots are committed first to push the crashed slot into that
// window.
func TestScanRollsBackLastInProgressSlot(t *testing.T) {
	reg := newTestRegistry(t)
	seg := reg.Segments()[0]
	table := newTestTable(t)

	alloc := table.rm.VecStore().NewAllocator(0)
	lookup := func(sh uint32) (*heap.RowIdMap, bool) {
		if sh == table.segHead {
			return table.rm, true
		}
		return nil, false
	}

	for i := 0; i < 2; i++ {
		s := seg.AllocateTxSlot()
		seg.AppendUndoRecord(s, undo.Record{
			Type: undo.TypeInsert, TxSlot: uint32(s), Prev: undo.InvalidRecPtr,
			SegHead: table.segHead, RowId: 0,
		})
		seg.MarkCommitted(s, 10+uint64(i))
	}

	crashedSlot := seg.AllocateTxSlot()
	tsp := txn.MakeTxSlotPtr(seg.SegmentID(), crashedSlot, seg.TxSlots())

	rowId, tuple, err := table.rm.GetNextEmptyRow(alloc, 0, uint64(tsp))
	require.NoError(t, err)
	require.NotNil(t, tuple)

	seg.AppendUndoRecord(crashedSlot, undo.Record{
		Type: undo.TypeInsert, TxSlot: uint32(crashedSlot), Prev: undo.InvalidRecPtr,
		SegHead: table.segHead, RowId: uint32(rowId),
	})

	h := heap.Header{TxInfo: uint64(tsp), Prev: undo.InvalidRecPtr, IsUsed: true, DataSize: testRowLen}
	buf := make([]byte, heap.HeaderSize)
	h.Encode(buf)
	copy(tuple, buf)
	copy(tuple[heap.HeaderSize:], body(1))

	csn, err := Scan(reg, lookup)
	require.NoError(t, err)
	require.EqualValues(t, 11, csn)

	entry, err := table.rm.GetEntry(rowId, false)
	require.NoError(t, err)
	restored := heap.DecodeHeader(entry.Addr()[:heap.HeaderSize])
	require.False(t, restored.IsUsed)

	slot := seg.ReadTxSlot(crashedSlot)
	require.Equal(t, undo.StatusRollBacked, slot.Status)
}

func TestWatermarkIncrementsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	wm, v, err := OpenWatermark(dir)
	require.NoError(t, err)
	require.EqualValues(t, 1, v)
	require.NoError(t, wm.Close())

	wm2, v2, err := OpenWatermark(dir)
	require.NoError(t, err)
	require.EqualValues(t, 2, v2)
	require.NoError(t, wm2.Close())
}

// TestBaseCSNAlwaysCarriesMSB checks the three-way max spec.md §4.8
// step 3 requires: a fresh database (maxOverSegments == 0) must still
// get a base CSN with the discriminator bit set, and a restart that
// observed a higher committed CSN than the watermark term must win.
func TestBaseCSNAlwaysCarriesMSB(t *testing.T) {
	fresh := BaseCSN(1, 0)
	require.True(t, heap.IsCSN(fresh))
	require.Equal(t, MinTxCSN+uint64(1)<<32, fresh)

	withHistory := BaseCSN(1, MinTxCSN+1<<40)
	require.Equal(t, MinTxCSN+uint64(1)<<40, withHistory)
}

// TestScanThenBaseCSNEndToEnd drives the real recovery.Scan path (as
// BootStrap does) against a registry with no prior CSN history and
// checks the resulting base CSN — the value a fresh txn.Manager would
// be seeded with — satisfies heap.IsCSN, closing the gap a process
// that only unit-tests txn.Manager in isolation (with a hard-coded
// MSB-set baseCSN) would never catch.
func TestScanThenBaseCSNEndToEnd(t *testing.T) {
	reg := newTestRegistry(t)
	table := newTestTable(t)

	maxCSN, err := Scan(reg, func(sh uint32) (*heap.RowIdMap, bool) {
		if sh == table.segHead {
			return table.rm, true
		}
		return nil, false
	})
	require.NoError(t, err)
	require.Zero(t, maxCSN)

	dir := t.TempDir()
	wm, watermark, err := OpenWatermark(dir)
	require.NoError(t, err)
	defer wm.Close()

	baseCSN := BaseCSN(watermark, maxCSN)
	require.True(t, heap.IsCSN(baseCSN), "a fresh database's base CSN must have the discriminator bit set")
}
