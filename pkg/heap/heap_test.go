package heap

import (
	"testing"

	"github.com/iDC-NEU/ReviveDB/pkg/config"
	"github.com/iDC-NEU/ReviveDB/pkg/logicfile"
	"github.com/iDC-NEU/ReviveDB/pkg/tablespace"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T, rowLen uint32) (*tablespace.TableSpace, *RowIDMgr) {
	dc, err := config.NewDirectoryConfig(t.TempDir(), false)
	require.NoError(t, err)
	lf, err := logicfile.New(dc, "heap", 64*tablespace.ExtentSize, tablespace.PageSize, 64)
	require.NoError(t, err)
	t.Cleanup(func() { lf.Unmount() })
	ts := tablespace.New(lf, 1)

	segHead, err := ts.CreateSegmentHead(0, 4096)
	require.NoError(t, err)
	return ts, NewRowIDMgr(ts, segHead, rowLen)
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{TxInfo: 0x8000000000000001, Prev: 77, IsUsed: true, IsDeleted: false, DataSize: 42}
	buf := make([]byte, HeaderSize)
	h.Encode(buf)

	got := DecodeHeader(buf)
	require.Equal(t, h, got)
	require.True(t, IsCSN(got.TxInfo))
}

func TestRowIdExtentAndOffset(t *testing.T) {
	const tuplesPerExtent = 100
	rid := RowId(250)
	require.EqualValues(t, 2, rid.Extent(tuplesPerExtent))
	require.EqualValues(t, 50, rid.Offset(tuplesPerExtent))
}

func TestRowIDMgrMaterializesLeafExtentOnAppend(t *testing.T) {
	_, mgr := newTestTable(t, 32)

	rowId := RowId(0)
	tuple, err := mgr.GetNVMTupleByRowId(rowId, true, 0)
	require.NoError(t, err)
	require.Len(t, tuple, int(mgr.TupleLen()))

	h := Header{TxInfo: 5, DataSize: 1}
	h.Encode(tuple[:HeaderSize])

	reread, err := mgr.GetNVMTupleByRowId(rowId, false, 0)
	require.NoError(t, err)
	require.NotNil(t, reread)
	require.Equal(t, h, DecodeHeader(reread[:HeaderSize]))
}

func TestRowIDMgrReadMissingRowReturnsNil(t *testing.T) {
	_, mgr := newTestTable(t, 32)
	tuple, err := mgr.GetNVMTupleByRowId(RowId(10), false, 0)
	require.NoError(t, err)
	require.Nil(t, tuple)
}

func TestRowIdMapGetNextEmptyRowAndGetEntry(t *testing.T) {
	_, mgr := newTestTable(t, 32)
	m := NewRowIdMap(mgr, 1, 32)
	alloc := m.VecStore().NewAllocator(0)

	rowId, tuple, err := m.GetNextEmptyRow(alloc, 0, 0x8000000000000001)
	require.NoError(t, err)
	require.False(t, DecodeHeader(tuple[:HeaderSize]).IsUsed)

	entry, err := m.GetEntry(rowId, true)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.True(t, entry.IsValid())
	require.Equal(t, tuple, entry.Addr())
}

func TestRowIdMapGetEntryOnNeverWrittenRowIsNil(t *testing.T) {
	_, mgr := newTestTable(t, 32)
	m := NewRowIdMap(mgr, 1, 32)

	entry, err := m.GetEntry(RowId(5), true)
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestRowIdAllocatorReusesReleasedRow(t *testing.T) {
	vs := NewVecStore(1, 100)
	alloc := vs.NewAllocator(0)

	a := alloc.Next()
	alloc.Release(a)
	b := alloc.Next()
	require.Equal(t, a, b)
}

// TestRowIdAllocatorOverflowReachesOtherSession drives one allocator's
// session-local free list past capacity and checks a second,
// independent allocator on the same VecStore can still reacquire the
// overflowed row: the table-wide reclaimed set, not just the
// per-session queue, must actually hand rows back out.
func TestRowIdAllocatorOverflowReachesOtherSession(t *testing.T) {
	vs := NewVecStore(1, 100)
	producer := vs.NewAllocator(0)

	rows := make([]RowId, 0, allocatorFreeListCapacity+1)
	for i := 0; i < allocatorFreeListCapacity+1; i++ {
		rows = append(rows, producer.Next())
	}
	for _, r := range rows {
		producer.Release(r)
	}

	consumer := vs.NewAllocator(0)
	seen := make(map[RowId]bool)
	for i := 0; i < len(rows); i++ {
		seen[consumer.Next()] = true
	}

	overflowed := rows[len(rows)-1]
	require.True(t, seen[overflowed], "a row that overflowed the producer's local free list must still be reclaimable by another session")
}
