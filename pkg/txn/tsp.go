// Package txn implements Begin/Commit/Abort, CSN assignment,
// visibility, write-set tracking and the HeapInsert/Read/Update/Delete
// operation contracts (spec.md §4.6), grounded on the teacher's
// TxnManager/Txn lifecycle (pkg/txn/txnbase in the original tree) and
// retargeted from its columnar batch-update store onto the row-level
// undo-chain MVCC this module actually implements.
package txn

// TxSlotPtr is the TSP half of a tuple header's txInfo discriminator:
// a 32-bit value whose top bits name an undo segment and whose low
// bits name a TxSlot ring position. It is only ever dereferenced while
// the slot is IN_PROGRESS — by the time a slot commits, the owning
// transaction rewrites every touched tuple header to a CSN, so no
// live TSP ever outlives the logical slot number it was built from,
// and recording just the ring position (not the full, never-wrapping
// slot number) loses no information a reader needs.
type TxSlotPtr uint32

const tspSegmentShift = 24
const tspPositionMask = 1<<tspSegmentShift - 1

// MakeTxSlotPtr packs a TSP from a segment id and a logical slot
// number, reducing the slot number to its ring position mod txSlots.
func MakeTxSlotPtr(segmentID uint32, slotNumber uint64, txSlots uint64) TxSlotPtr {
	pos := uint32(slotNumber % txSlots)
	return TxSlotPtr(segmentID)<<tspSegmentShift | TxSlotPtr(pos&tspPositionMask)
}

// SegmentID is the undo segment a TSP's TxSlot lives in.
func (p TxSlotPtr) SegmentID() uint32 { return uint32(p >> tspSegmentShift) }

// SlotPosition is the TxSlot ring position (already reduced mod
// txSlots) a TSP names.
func (p TxSlotPtr) SlotPosition() uint64 { return uint64(p & tspPositionMask) }
