package engine

import (
	"testing"

	"github.com/iDC-NEU/ReviveDB/pkg/heap"
	"github.com/iDC-NEU/ReviveDB/pkg/txn"
	"github.com/stretchr/testify/require"
)

func TestInitDBBootStrapAndExitWireEverySubsystem(t *testing.T) {
	db, err := InitDB(t.TempDir(), "", true)
	require.NoError(t, err)
	require.NoError(t, db.BootStrap())
	t.Cleanup(func() { ExitDBProcess(db) })

	require.NotNil(t, db.Manager())
	require.NotNil(t, db.Catalog())

	te, err := db.Catalog().CreateTable("widgets", 16, 0)
	require.NoError(t, err)

	alloc := te.RowIdMap.VecStore().NewAllocator(0)
	tx, err := db.Manager().Begin()
	require.NoError(t, err)

	body := make([]byte, 16)
	for i := range body {
		body[i] = 7
	}
	rowId, err := txn.HeapInsert(tx, te.RowIdMap, te.SegHead, alloc, body)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// A fresh process's very first commit must already satisfy the CSN
	// discriminator invariant: BootStrap's baseCSN always carries the
	// MSB, so every CSN txn.Manager hands out from it does too.
	readEntry, err := te.RowIdMap.GetEntry(rowId, true)
	require.NoError(t, err)
	committed := heap.DecodeHeader(readEntry.Addr()[:heap.HeaderSize])
	require.True(t, heap.IsCSN(committed.TxInfo), "committed tuple's txInfo must be a CSN, not a stale TxSlotPtr reinterpreted as one")
}

func TestInitDBTwiceWithoutExitFails(t *testing.T) {
	db, err := InitDB(t.TempDir(), "", true)
	require.NoError(t, err)
	t.Cleanup(func() { ExitDBProcess(db) })

	_, err = InitDB(t.TempDir(), "", true)
	require.Error(t, err)
}
