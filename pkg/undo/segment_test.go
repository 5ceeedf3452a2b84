package undo

import (
	"testing"

	"github.com/iDC-NEU/ReviveDB/pkg/config"
	"github.com/iDC-NEU/ReviveDB/pkg/logicfile"
	"github.com/stretchr/testify/require"
)

func newTestSegment(t *testing.T) *Segment {
	dc, err := config.NewDirectoryConfig(t.TempDir(), false)
	require.NoError(t, err)
	lf, err := logicfile.New(dc, "undo0", 256*1024, 8*1024, 64)
	require.NoError(t, err)
	t.Cleanup(func() { lf.Unmount() })
	return New(lf, 0, 16)
}

func TestAllocateAppendAndCommit(t *testing.T) {
	seg := newTestSegment(t)

	slot := seg.AllocateTxSlot()
	require.EqualValues(t, 0, slot)

	rec := Record{Type: TypeInsert, TxSlot: uint32(slot), Prev: InvalidRecPtr, SegHead: 7, RowId: 3, Payload: []byte("hello")}
	ptr := seg.AppendUndoRecord(slot, rec)
	require.True(t, ptr.IsValid())

	got := seg.ReadUndoRecord(ptr)
	require.Equal(t, rec.Payload, got.Payload)
	require.Equal(t, rec.RowId, got.RowId)

	seg.MarkCommitted(slot, uint64(1)<<63+1)
	ts := seg.readTxSlot(slot)
	require.Equal(t, StatusCommitted, ts.Status)
	require.EqualValues(t, uint64(1)<<63+1, ts.CSN)
}

func TestIsTxSlotRecyclableAndRecycle(t *testing.T) {
	seg := newTestSegment(t)

	s0 := seg.AllocateTxSlot()
	seg.AppendUndoRecord(s0, Record{Type: TypeInsert, TxSlot: uint32(s0), Prev: InvalidRecPtr, SegHead: 1, RowId: 1, Payload: []byte("x")})
	seg.MarkCommitted(s0, 10)

	require.True(t, seg.IsTxSlotRecyclable(s0, 100))
	require.False(t, seg.IsTxSlotRecyclable(s0, 5))

	seg.RecycleTxSlot(100)
	require.EqualValues(t, 1, seg.NextRecycleSlot())
}

func TestGetMaxCSNForRollbackEmptySegment(t *testing.T) {
	seg := newTestSegment(t)
	require.EqualValues(t, 0, seg.GetMaxCSNForRollback())
}
