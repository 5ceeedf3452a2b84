package reclaim

import (
	"testing"
	"time"

	"github.com/iDC-NEU/ReviveDB/pkg/config"
	"github.com/iDC-NEU/ReviveDB/pkg/tablespace"
	"github.com/iDC-NEU/ReviveDB/pkg/undo"
	"github.com/stretchr/testify/require"
)

type fixedSnapshot uint64

func (f fixedSnapshot) MinActiveSnapshot() uint64 { return uint64(f) }

func newTestRegistry(t *testing.T, segments int) *undo.Registry {
	dc, err := config.NewDirectoryConfig(t.TempDir(), false)
	require.NoError(t, err)
	reg, err := undo.NewRegistry(dc, segments, 256*1024, tablespace.PageSize, 64, 16)
	require.NoError(t, err)
	for i := 0; i < segments; i++ {
		reg.MarkRecovered(uint32(i))
	}
	return reg
}

func TestRunOnceRecyclesCommittedSlotsBelowSnapshot(t *testing.T) {
	reg := newTestRegistry(t, 2)
	seg := reg.Segments()[0]

	slot := seg.AllocateTxSlot()
	seg.AppendUndoRecord(slot, undo.Record{
		Type: undo.TypeInsert, TxSlot: uint32(slot), Prev: undo.InvalidRecPtr,
		SegHead: 1, RowId: 1,
	})
	seg.MarkCommitted(slot, 5)

	r, err := New(reg, fixedSnapshot(100), 2, time.Hour)
	require.NoError(t, err)
	r.RunOnce()

	require.EqualValues(t, 1, seg.NextRecycleSlot())
}

func TestRunOnceLeavesRecentCommitsAlone(t *testing.T) {
	reg := newTestRegistry(t, 1)
	seg := reg.Segments()[0]

	slot := seg.AllocateTxSlot()
	seg.AppendUndoRecord(slot, undo.Record{
		Type: undo.TypeInsert, TxSlot: uint32(slot), Prev: undo.InvalidRecPtr,
		SegHead: 1, RowId: 1,
	})
	seg.MarkCommitted(slot, 50)

	r, err := New(reg, fixedSnapshot(10), 2, time.Hour)
	require.NoError(t, err)
	r.RunOnce()

	require.EqualValues(t, 0, seg.NextRecycleSlot())
}

func TestStartAndStopRunsSweepsOnTicker(t *testing.T) {
	reg := newTestRegistry(t, 1)
	r, err := New(reg, fixedSnapshot(0), 2, 5*time.Millisecond)
	require.NoError(t, err)
	r.Start()
	time.Sleep(30 * time.Millisecond)
	r.Stop()
}
