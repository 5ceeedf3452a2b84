package txn

import (
	"fmt"
	"sync"

	"github.com/iDC-NEU/ReviveDB/pkg/heap"
	"github.com/iDC-NEU/ReviveDB/pkg/pm"
	"github.com/iDC-NEU/ReviveDB/pkg/undo"
)

// txnState is a transaction's own lifecycle state, distinct from (and
// driving) its TxSlot's PM-resident state.
type txnState int32

const (
	txnActive txnState = iota
	txnCommitting
	txnRollbacking
	txnCommitted
	txnRollbacked
	txnWaitAbort
)

// writeSetEntry is one row this transaction has touched: its resolved
// entry (so commit can rewrite the header in place) and, for rollback
// bookkeeping, which table it belongs to.
type writeSetEntry struct {
	entry   *heap.RowIdMapEntry
	segHead uint32
	rowId   heap.RowId
}

// Txn is one transaction: a snapshot CSN, an attached undo segment
// slot, and the set of rows it has written. One goroutine owns a Txn
// at a time (spec.md §6's single-writer-per-transaction model).
type Txn struct {
	mgr      *Manager
	id       uint64
	snapshot uint64

	seg        *undo.Segment
	dirHint    int
	slotNumber uint64
	slotPtr    TxSlotPtr

	mu       sync.Mutex
	state    txnState
	err      error
	writeSet []writeSetEntry

	done chan struct{}
}

// ID is the transaction's allocated identifier.
func (t *Txn) ID() uint64 { return t.id }

// Snapshot is the CSN visibility is evaluated against.
func (t *Txn) Snapshot() uint64 { return t.snapshot }

// SlotPtr is the TSP this transaction stamps into every tuple header
// it writes, until commit replaces it with the final CSN.
func (t *Txn) SlotPtr() TxSlotPtr { return t.slotPtr }

func (t *Txn) addToWriteSet(entry *heap.RowIdMapEntry, segHead uint32, rowId heap.RowId) {
	t.mu.Lock()
	t.writeSet = append(t.writeSet, writeSetEntry{entry: entry, segHead: segHead, rowId: rowId})
	t.mu.Unlock()
}

// checkWritable rejects any heap operation once the transaction is
// already doomed (spec.md §7: every further operation fails until the
// caller calls Abort).
func (t *Txn) checkWritable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == txnWaitAbort {
		return ErrWaitAbort
	}
	return nil
}

// setWaitAbort moves the transaction into its doomed state after a
// write conflict; it does not itself enqueue a rollback; the caller
// must still call Abort().
func (t *Txn) setWaitAbort() {
	t.mu.Lock()
	if t.state == txnActive {
		t.state = txnWaitAbort
	}
	t.mu.Unlock()
}

// Commit enqueues the transaction onto the manager's pipeline and
// blocks until the write-through and bookkeeping have completed.
func (t *Txn) Commit() error {
	t.mu.Lock()
	t.state = txnCommitting
	t.mu.Unlock()
	t.mgr.enqueue(&opTxn{txn: t, op: opCommit})
	<-t.done
	return t.err
}

// Abort enqueues a rollback; used both for an explicit client abort
// and for WAIT_ABORT outcomes surfaced by a failed HeapUpdate/Delete.
func (t *Txn) Abort() error {
	t.mu.Lock()
	t.state = txnRollbacking
	t.mu.Unlock()
	t.mgr.enqueue(&opTxn{txn: t, op: opRollback})
	<-t.done
	return t.err
}

func (t *Txn) signalDone() { close(t.done) }

// doCommit replaces every write-set tuple's txInfo with csn in place
// (single aligned 8-byte store, flush, implicit fence via Msync),
// marks the TxSlot committed, and clears the write-set.
func (t *Txn) doCommit(csn uint64) {
	for _, w := range t.writeSet {
		tuple := w.entry.Addr()
		buf := make([]byte, 8)
		putLeUint64(buf, csn)
		pm.WriteToNVM(tuple[0:8], buf)
		pm.Flush(tuple[0:8])
	}
	t.seg.MarkCommitted(t.slotNumber, csn)
	t.mu.Lock()
	t.state = txnCommitted
	t.writeSet = nil
	t.mu.Unlock()
}

// doAbort walks this TxSlot's undo records in reverse, restoring each
// touched row to its pre-transaction state, then marks the slot
// ROLL_BACKED. The same walk drives crash recovery's rollback of
// IN_PROGRESS slots (pkg/recovery), so it lives in applyUndo rather
// than inline here.
func (t *Txn) doAbort() {
	slot := t.seg.ReadTxSlotAtPosition(t.slotNumber % t.seg.TxSlots())
	if err := applyUndo(t.mgr.reg, t.mgr.lookup, t.seg.SegmentID(), slot.Start, slot.End); err != nil {
		panic(fmt.Sprintf("txn: abort %d: %v", t.id, err))
	}
	t.seg.MarkAborted(t.slotNumber)
	t.mu.Lock()
	t.state = txnRollbacked
	t.writeSet = nil
	t.mu.Unlock()
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}
