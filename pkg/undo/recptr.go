// Package undo implements the PM-resident undo log: per-thread
// segments holding a ring of TxSlots and a ring of variable-length
// undo records, used for rollback, crash recovery and MVCC visibility
// (spec.md §4.5, grounded on
// original_source/src/undo/nvm_undo_segment.cpp).
package undo

// RecPtr addresses one undo record globally: which undo segment holds
// it, and the byte offset within that segment's own flat address
// space (the same vptr space LogicFile.SeekAndWrite/SeekAndRead use).
// A tuple header's prev field and a TxSlot's start/end bounds are all
// RecPtr-shaped, though TxSlot stores only the local offset half since
// it already lives inside one particular segment.
type RecPtr uint64

// InvalidRecPtr is the reserved sentinel meaning "no prior version".
const InvalidRecPtr RecPtr = ^RecPtr(0)

// MakeRecPtr packs a segment id and a within-segment byte offset into
// one global pointer.
func MakeRecPtr(segmentID uint32, offset uint32) RecPtr {
	return RecPtr(uint64(segmentID)<<32 | uint64(offset))
}

// SegmentID is the undo segment this pointer belongs to.
func (p RecPtr) SegmentID() uint32 { return uint32(p >> 32) }

// Offset is the byte offset within that segment's undo record ring.
func (p RecPtr) Offset() uint32 { return uint32(p) }

// IsValid reports whether p references a real record.
func (p RecPtr) IsValid() bool { return p != InvalidRecPtr }
