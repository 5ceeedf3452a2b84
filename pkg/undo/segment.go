package undo

import (
	"fmt"
	"sync"

	"github.com/iDC-NEU/ReviveDB/pkg/logicfile"
)

// Header field byte offsets within segment 0's first page (spec.md
// §4.5's "header at offset 0, fits within the first page").
const (
	offNextFreeSlot    = 0
	offNextRecycleSlot = 8
	offMinSlotID       = 16
	offMinSnapshot     = 24
	offRecoveryStart   = 32
	offRecoveryEnd     = 40
	offRecycledBegin   = 48
	offUndoOffset      = 56

	HeaderSize = 64

	// slotOffset mirrors original_source's SLOT_OFFSET: how close the
	// recycle cursor must be to nextFreeSlot before minSnapshot is
	// written back into the header (it otherwise only advances
	// minSlotId, leaving minSnapshot for a later, fuller pass).
	slotOffset = 2
)

// Segment is one thread's PM-resident undo ring: a LogicFile carrying
// the header, the TxSlot ring, and the growing undo-record area.
// Exactly one thread appends to a Segment at a time (spec.md §4.5);
// concurrent readers (visibility checks, the reclaimer) only read.
type Segment struct {
	lf        *logicfile.LogicFile
	segmentID uint32
	txSlots   uint64

	mu sync.Mutex // serializes the owning thread's slot/record allocation
}

// New wraps an already-constructed LogicFile (fresh or recovered) as
// an undo Segment. txSlots is UNDO_TX_SLOTS, the power-of-two ring
// capacity.
func New(lf *logicfile.LogicFile, segmentID uint32, txSlots int) *Segment {
	return &Segment{lf: lf, segmentID: segmentID, txSlots: uint64(txSlots)}
}

func (s *Segment) SegmentID() uint32 { return s.segmentID }

// TxSlots is the ring's power-of-two capacity (UNDO_TX_SLOTS).
func (s *Segment) TxSlots() uint64 { return s.txSlots }

func (s *Segment) recordAreaStart() uint64 {
	return uint64(HeaderSize) + s.txSlots*TxSlotSize
}

func (s *Segment) header() []byte {
	h := make([]byte, HeaderSize)
	if err := s.lf.SeekAndRead(0, h); err != nil {
		panic(fmt.Sprintf("undo: read header of segment %d: %v", s.segmentID, err))
	}
	return h
}

func (s *Segment) headerField(off uint64) uint64 {
	buf := make([]byte, 8)
	if err := s.lf.SeekAndRead(off, buf); err != nil {
		panic(fmt.Sprintf("undo: read header field at %d: %v", off, err))
	}
	return leUint64(buf)
}

func (s *Segment) setHeaderField(off uint64, v uint64) {
	buf := make([]byte, 8)
	putLeUint64(buf, v)
	if err := s.lf.SeekAndWrite(off, buf); err != nil {
		panic(fmt.Sprintf("undo: write header field at %d: %v", off, err))
	}
}

// casHeaderField compare-and-swaps one header field in place on PM.
// Nothing calls it at present: the bump counters (nextFreeSlot,
// undoOffset) are advanced with setHeaderField under s.mu.
func (s *Segment) casHeaderField(off uint64, old, new uint64) bool {
	page, err := s.lf.AddrByPageID(0)
	if err != nil {
		panic(fmt.Sprintf("undo: addr of header page: %v", err))
	}
	return atomicCAS64(page[off:off+8], old, new)
}

func (s *Segment) NextFreeSlot() uint64    { return s.headerField(offNextFreeSlot) }
func (s *Segment) NextRecycleSlot() uint64 { return s.headerField(offNextRecycleSlot) }
func (s *Segment) MinSlotID() uint64       { return s.headerField(offMinSlotID) }
func (s *Segment) MinSnapshot() uint64     { return s.headerField(offMinSnapshot) }

func (s *Segment) txSlotVptr(slotNumber uint64) uint64 {
	return uint64(HeaderSize) + (slotNumber%s.txSlots)*TxSlotSize
}

func (s *Segment) readTxSlot(slotNumber uint64) TxSlot {
	buf := make([]byte, TxSlotSize)
	if err := s.lf.SeekAndRead(s.txSlotVptr(slotNumber), buf); err != nil {
		panic(fmt.Sprintf("undo: read slot %d: %v", slotNumber, err))
	}
	return DecodeTxSlot(buf)
}

func (s *Segment) writeTxSlot(slotNumber uint64, slot TxSlot) {
	buf := make([]byte, TxSlotSize)
	slot.Encode(buf)
	if err := s.lf.SeekAndWrite(s.txSlotVptr(slotNumber), buf); err != nil {
		panic(fmt.Sprintf("undo: write slot %d: %v", slotNumber, err))
	}
}

// ReadTxSlotAtPosition reads the slot currently occupying ring
// position pos (0 <= pos < txSlots), for resolving a TxSlotPtr that
// only carries the ring position, not the full logical slot number.
func (s *Segment) ReadTxSlotAtPosition(pos uint64) TxSlot { return s.readTxSlot(pos) }

// ReadTxSlot reads the slot at logical slot number slotNumber
// (reduced mod the ring internally), for recovery's walk over
// RecoveryBounds' logical slot range.
func (s *Segment) ReadTxSlot(slotNumber uint64) TxSlot { return s.readTxSlot(slotNumber) }

// IsEmpty reports whether this segment has never allocated a TxSlot.
func (s *Segment) IsEmpty() bool { return s.NextFreeSlot() == 0 }

// IsFull mirrors UndoSegment::isFull: the ring is considered full once
// too many slots are outstanding between the recycle cursor and the
// allocation cursor, leaving no headroom for the owning thread's next
// transaction.
func (s *Segment) IsFull() bool {
	next := s.NextFreeSlot()
	recycled := s.NextRecycleSlot()
	return next-recycled >= s.txSlots-slotOffset
}

// AllocateTxSlot reserves the next slot number, initializes it
// IN_PROGRESS with start bound at the current undo offset, and
// publishes nextFreeSlot.
func (s *Segment) AllocateTxSlot() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	slotNumber := s.NextFreeSlot()
	start := s.headerField(offUndoOffset)
	if start < s.recordAreaStart() {
		start = s.recordAreaStart()
	}
	s.writeTxSlot(slotNumber, TxSlot{
		Status: StatusInProgress,
		CSN:    0,
		Start:  uint32(start),
		End:    0,
	})
	s.setHeaderField(offNextFreeSlot, slotNumber+1)
	return slotNumber
}

// AppendUndoRecord encodes rec at the segment's current write offset,
// flushes it, and advances the owning TxSlot's End bound. Returns the
// global pointer to the just-written record.
func (s *Segment) AppendUndoRecord(slotNumber uint64, rec Record) RecPtr {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := s.headerField(offUndoOffset)
	if offset < s.recordAreaStart() {
		offset = s.recordAreaStart()
	}
	buf := make([]byte, rec.EncodedLen())
	rec.Encode(buf)
	if err := s.lf.SeekAndWrite(offset, buf); err != nil {
		panic(fmt.Sprintf("undo: append record: %v", err))
	}
	newOffset := offset + uint64(len(buf))
	s.setHeaderField(offUndoOffset, newOffset)

	slot := s.readTxSlot(slotNumber)
	slot.End = uint32(newOffset)
	s.writeTxSlot(slotNumber, slot)

	return MakeRecPtr(s.segmentID, uint32(offset))
}

// ReadUndoRecord decodes the record referenced by ptr. ptr must
// belong to this segment.
func (s *Segment) ReadUndoRecord(ptr RecPtr) Record {
	lenBuf := make([]byte, 4)
	if err := s.lf.SeekAndRead(uint64(ptr.Offset()), lenBuf); err != nil {
		panic(fmt.Sprintf("undo: read record length at %d: %v", ptr.Offset(), err))
	}
	total := leUint32(lenBuf)
	full := make([]byte, 4+total)
	if err := s.lf.SeekAndRead(uint64(ptr.Offset()), full); err != nil {
		panic(fmt.Sprintf("undo: read record at %d: %v", ptr.Offset(), err))
	}
	return DecodeRecord(full)
}

// MarkCommitted writes the CSN then the COMMITTED status, matching
// the commit ordering contract (spec.md §4.6): CSN must be durable
// before the status that makes it visible to other readers.
func (s *Segment) MarkCommitted(slotNumber uint64, csn uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.readTxSlot(slotNumber)
	slot.CSN = csn
	csnBuf := make([]byte, 8)
	putLeUint64(csnBuf, csn)
	if err := s.lf.SeekAndWrite(s.txSlotVptr(slotNumber)+8, csnBuf); err != nil {
		panic(fmt.Sprintf("undo: write csn of slot %d: %v", slotNumber, err))
	}
	statusBuf := []byte{byte(StatusCommitted)}
	if err := s.lf.SeekAndWrite(s.txSlotVptr(slotNumber), statusBuf); err != nil {
		panic(fmt.Sprintf("undo: write status of slot %d: %v", slotNumber, err))
	}
}

// MarkAborted sets status=ROLL_BACKED once the caller has finished
// walking and applying the slot's undo records.
func (s *Segment) MarkAborted(slotNumber uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	statusBuf := []byte{byte(StatusRollBacked)}
	if err := s.lf.SeekAndWrite(s.txSlotVptr(slotNumber), statusBuf); err != nil {
		panic(fmt.Sprintf("undo: write status of slot %d: %v", slotNumber, err))
	}
}

// IsTxSlotRecyclable reports whether the slot's version no longer
// matters to any active snapshot.
func (s *Segment) IsTxSlotRecyclable(slotNumber uint64, minSnapshot uint64) bool {
	slot := s.readTxSlot(slotNumber)
	switch slot.Status {
	case StatusEmpty, StatusRollBacked:
		return true
	case StatusCommitted:
		return slot.CSN <= minSnapshot
	default:
		return false
	}
}

// GetMaxCSNForRollback scans the last two allocated TxSlots (the only
// ones a crash could have left mid-flight) and sets the recovery
// bounds in the header, exactly as UndoSegment::getMaxCSNForRollback
// does.
func (s *Segment) GetMaxCSNForRollback() uint64 {
	if s.IsEmpty() {
		return s.MinSnapshot()
	}
	slotEnd := s.NextFreeSlot() - 1
	slotBegin := uint64(0)
	if slotEnd > 0 {
		slotBegin = slotEnd - 1
	}
	var maxCSN uint64
	for i := slotBegin; i <= slotEnd; i++ {
		slot := s.readTxSlot(i)
		if slot.Status == StatusCommitted && slot.CSN > maxCSN {
			maxCSN = slot.CSN
		}
	}
	if s.headerField(offRecoveryStart) == 0 {
		s.setHeaderField(offRecoveryStart, slotBegin+1)
	}
	s.setHeaderField(offRecoveryEnd, slotEnd)
	return maxCSN
}

// RecoveryBounds returns [recoveryStart, recoveryEnd] for the
// background recovery walk.
func (s *Segment) RecoveryBounds() (start, end uint64) {
	return s.headerField(offRecoveryStart), s.headerField(offRecoveryEnd)
}

// ClearRecoveryStart marks recovery of this segment as complete.
func (s *Segment) ClearRecoveryStart() { s.setHeaderField(offRecoveryStart, 0) }

// RecycleTxSlot walks recyclable slots forward from nextRecycleSlot,
// publishes minSlotId before reusing their record space (the
// ordering the spec calls out as critical: a concurrent reader must
// observe minSlotId before the bytes it guards are reused), punches
// fully-recycled segments, and zeroes the slots it reclaimed.
func (s *Segment) RecycleTxSlot(minSnapshot uint64) {
	nextSlot := s.NextRecycleSlot()
	beginSlot := nextSlot
	maxSlot := s.NextFreeSlot()
	recycled := false
	for nextSlot < maxSlot {
		if !s.IsTxSlotRecyclable(nextSlot, minSnapshot) {
			break
		}
		nextSlot++
		recycled = true
	}
	if !recycled {
		return
	}

	if nextSlot+slotOffset >= maxSlot {
		s.setHeaderField(offMinSnapshot, minSnapshot)
	}
	s.setHeaderField(offMinSlotID, nextSlot)

	// The header field write above is release-ordered (it goes through
	// SeekAndWrite -> Flush -> Msync); reloading it here before reusing
	// record bytes is the acquire half of the pair the spec calls a
	// seq-cst fence. Go has no free-standing fence primitive — ordering
	// is expressed through the synchronizing accesses themselves.
	nextSlot = s.headerField(offMinSlotID)

	s.recycleUndoPages(beginSlot, nextSlot-1)

	beginOffset := beginSlot % s.txSlots
	endOffset := nextSlot % s.txSlots
	zero := make([]byte, TxSlotSize)
	if beginOffset < endOffset {
		for i := beginOffset; i < endOffset; i++ {
			s.lf.SeekAndWrite(uint64(HeaderSize)+i*TxSlotSize, zero)
		}
	} else {
		for i := beginOffset; i < s.txSlots; i++ {
			s.lf.SeekAndWrite(uint64(HeaderSize)+i*TxSlotSize, zero)
		}
		for i := uint64(0); i < endOffset; i++ {
			s.lf.SeekAndWrite(uint64(HeaderSize)+i*TxSlotSize, zero)
		}
	}

	s.setHeaderField(offNextRecycleSlot, nextSlot)
}

// recycleUndoPages releases any physical LogicFile segment entirely
// behind the recycled slot range, keeping segment 0 (the header)
// untouched.
func (s *Segment) recycleUndoPages(beginSlot, endSlot uint64) {
	segmentSize := uint64(s.lf.SegmentSize())
	startSegmentID := uint32(s.headerField(offRecycledBegin) / segmentSize)
	var endSegmentID uint32
	var recycledEnd uint64

	for i := beginSlot; i <= endSlot; i++ {
		slot := s.readTxSlot(i)
		if slot.Start == 0 {
			continue
		}
		recycledEnd = uint64(slot.End)
		endSegmentID = uint32(recycledEnd / segmentSize)
	}
	if startSegmentID == 0 {
		startSegmentID = 1
	}
	if startSegmentID < endSegmentID {
		s.setHeaderField(offRecycledBegin, recycledEnd)
		if err := s.lf.Punch(startSegmentID, endSegmentID); err != nil {
			panic(fmt.Sprintf("undo: punch segment %d: %v", s.segmentID, err))
		}
	}
}
