package txn

import (
	"testing"

	"github.com/iDC-NEU/ReviveDB/pkg/config"
	"github.com/iDC-NEU/ReviveDB/pkg/heap"
	"github.com/iDC-NEU/ReviveDB/pkg/logicfile"
	"github.com/iDC-NEU/ReviveDB/pkg/tablespace"
	"github.com/iDC-NEU/ReviveDB/pkg/undo"
	"github.com/stretchr/testify/require"
)

const testRowLen = 16

type testEnv struct {
	mgr *Manager
	rm  *heap.RowIdMap
	seg uint32
}

func newTestEnv(t *testing.T) *testEnv {
	dc, err := config.NewDirectoryConfig(t.TempDir(), false)
	require.NoError(t, err)

	tslf, err := logicfile.New(dc, "ts", 8*tablespace.ExtentSize, tablespace.PageSize, 64)
	require.NoError(t, err)
	t.Cleanup(func() { tslf.Unmount() })
	ts := tablespace.New(tslf, 1)

	segHead, err := ts.CreateSegmentHead(0, 4096)
	require.NoError(t, err)
	rowidMgr := heap.NewRowIDMgr(ts, segHead, testRowLen)
	rm := heap.NewRowIdMap(rowidMgr, 1, testRowLen)

	reg, err := undo.NewRegistry(dc, 2, 256*1024, tablespace.PageSize, 64, 16)
	require.NoError(t, err)
	reg.MarkRecovered(0)
	reg.MarkRecovered(1)

	lookup := func(sh uint32) (*heap.RowIdMap, bool) {
		if sh == segHead {
			return rm, true
		}
		return nil, false
	}
	mgr := NewManager(reg, 1, 1<<63, lookup)
	return &testEnv{mgr: mgr, rm: rm, seg: segHead}
}

func body(b byte) []byte {
	buf := make([]byte, testRowLen)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestInsertThenCommitIsVisibleToNewTxn(t *testing.T) {
	env := newTestEnv(t)
	alloc := env.rm.VecStore().NewAllocator(0)

	tx, err := env.mgr.Begin()
	require.NoError(t, err)
	rowId, err := HeapInsert(tx, env.rm, env.seg, alloc, body(1))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	reader, err := env.mgr.Begin()
	require.NoError(t, err)
	out := make([]byte, testRowLen)
	require.NoError(t, HeapRead(reader, env.rm, rowId, out))
	require.Equal(t, body(1), out)
	require.NoError(t, reader.Commit())
}

func TestInsertIsSelfVisibleBeforeCommit(t *testing.T) {
	env := newTestEnv(t)
	alloc := env.rm.VecStore().NewAllocator(0)

	tx, err := env.mgr.Begin()
	require.NoError(t, err)
	rowId, err := HeapInsert(tx, env.rm, env.seg, alloc, body(2))
	require.NoError(t, err)

	out := make([]byte, testRowLen)
	require.NoError(t, HeapRead(tx, env.rm, rowId, out))
	require.Equal(t, body(2), out)
	require.NoError(t, tx.Commit())
}

func TestUncommittedInsertInvisibleToOtherTxn(t *testing.T) {
	env := newTestEnv(t)
	alloc := env.rm.VecStore().NewAllocator(0)

	writer, err := env.mgr.Begin()
	require.NoError(t, err)
	rowId, err := HeapInsert(writer, env.rm, env.seg, alloc, body(3))
	require.NoError(t, err)

	reader, err := env.mgr.Begin()
	require.NoError(t, err)
	out := make([]byte, testRowLen)
	err = HeapRead(reader, env.rm, rowId, out)
	require.ErrorIs(t, err, ErrNoVisibleVersion)

	require.NoError(t, writer.Commit())
	require.NoError(t, reader.Commit())
}

func TestAbortUndoesInsert(t *testing.T) {
	env := newTestEnv(t)
	alloc := env.rm.VecStore().NewAllocator(0)

	tx, err := env.mgr.Begin()
	require.NoError(t, err)
	rowId, err := HeapInsert(tx, env.rm, env.seg, alloc, body(4))
	require.NoError(t, err)
	require.NoError(t, tx.Abort())

	reader, err := env.mgr.Begin()
	require.NoError(t, err)
	out := make([]byte, testRowLen)
	err = HeapRead(reader, env.rm, rowId, out)
	require.ErrorIs(t, err, ErrReadRowNotUsed)
	require.NoError(t, reader.Commit())
}

func TestUpdateThenAbortRestoresOldBody(t *testing.T) {
	env := newTestEnv(t)
	alloc := env.rm.VecStore().NewAllocator(0)

	setup, err := env.mgr.Begin()
	require.NoError(t, err)
	rowId, err := HeapInsert(setup, env.rm, env.seg, alloc, body(5))
	require.NoError(t, err)
	require.NoError(t, setup.Commit())

	updater, err := env.mgr.Begin()
	require.NoError(t, err)
	require.NoError(t, HeapUpdate(updater, env.rm, env.seg, rowId, body(9)))
	require.NoError(t, updater.Abort())

	reader, err := env.mgr.Begin()
	require.NoError(t, err)
	out := make([]byte, testRowLen)
	require.NoError(t, HeapRead(reader, env.rm, rowId, out))
	require.Equal(t, body(5), out)
	require.NoError(t, reader.Commit())
}

func TestConcurrentUpdateConflictPoisonsTransaction(t *testing.T) {
	env := newTestEnv(t)
	alloc := env.rm.VecStore().NewAllocator(0)

	setup, err := env.mgr.Begin()
	require.NoError(t, err)
	rowId, err := HeapInsert(setup, env.rm, env.seg, alloc, body(1))
	require.NoError(t, err)
	require.NoError(t, setup.Commit())

	txA, err := env.mgr.Begin()
	require.NoError(t, err)
	txB, err := env.mgr.Begin()
	require.NoError(t, err)

	require.NoError(t, HeapUpdate(txA, env.rm, env.seg, rowId, body(2)))
	err = HeapUpdate(txB, env.rm, env.seg, rowId, body(3))
	require.ErrorIs(t, err, ErrUpdateConflict)

	_, err = HeapInsert(txB, env.rm, env.seg, alloc, body(7))
	require.ErrorIs(t, err, ErrWaitAbort)

	require.NoError(t, txB.Abort())
	require.NoError(t, txA.Commit())
}

func TestDeleteThenReadReturnsRowDeleted(t *testing.T) {
	env := newTestEnv(t)
	alloc := env.rm.VecStore().NewAllocator(0)

	setup, err := env.mgr.Begin()
	require.NoError(t, err)
	rowId, err := HeapInsert(setup, env.rm, env.seg, alloc, body(6))
	require.NoError(t, err)
	require.NoError(t, setup.Commit())

	deleter, err := env.mgr.Begin()
	require.NoError(t, err)
	require.NoError(t, HeapDelete(deleter, env.rm, env.seg, rowId))
	require.NoError(t, deleter.Commit())

	reader, err := env.mgr.Begin()
	require.NoError(t, err)
	out := make([]byte, testRowLen)
	err = HeapRead(reader, env.rm, rowId, out)
	require.ErrorIs(t, err, ErrRowDeleted)
	require.NoError(t, reader.Commit())
}

func TestHeapUpdate2AppliesColumnDeltas(t *testing.T) {
	env := newTestEnv(t)
	alloc := env.rm.VecStore().NewAllocator(0)

	setup, err := env.mgr.Begin()
	require.NoError(t, err)
	rowId, err := HeapInsert(setup, env.rm, env.seg, alloc, body(0))
	require.NoError(t, err)
	require.NoError(t, setup.Commit())

	updater, err := env.mgr.Begin()
	require.NoError(t, err)
	require.NoError(t, HeapUpdate2(updater, env.rm, env.seg, rowId, []ColumnChange{
		{Offset: 4, Data: []byte{9, 9}},
	}))
	require.NoError(t, updater.Commit())

	reader, err := env.mgr.Begin()
	require.NoError(t, err)
	out := make([]byte, testRowLen)
	require.NoError(t, HeapRead(reader, env.rm, rowId, out))
	want := body(0)
	want[4], want[5] = 9, 9
	require.Equal(t, want, out)
	require.NoError(t, reader.Commit())
}
