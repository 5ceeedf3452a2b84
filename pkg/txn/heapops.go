package txn

import (
	"fmt"

	"github.com/iDC-NEU/ReviveDB/pkg/heap"
	"github.com/iDC-NEU/ReviveDB/pkg/pm"
	"github.com/iDC-NEU/ReviveDB/pkg/undo"
)

// ColumnChange is one {offset,bytes} write HeapUpdate2 applies to a
// row's body, the column-delta counterpart to HeapUpdate's full-body
// replace.
type ColumnChange struct {
	Offset uint32
	Data   []byte
}

// HeapInsert reserves a fresh row, stamps it with tx's TxSlot pointer,
// writes body into it, and records an InsertUndo so an abort can mark
// the row unused again. The tuple's own prev stays invalid:
// rollback of an insert is driven by the TxSlot's own record range
// (applyUndo), not by the usual prev chain walk.
func HeapInsert(tx *Txn, rm *heap.RowIdMap, segHead uint32, alloc *heap.RowIdAllocator, body []byte) (heap.RowId, error) {
	if err := tx.checkWritable(); err != nil {
		return heap.InvalidRowId, err
	}
	if uint32(len(body)) != rm.RowLen() {
		return heap.InvalidRowId, fmt.Errorf("txn: insert: body length %d != row length %d", len(body), rm.RowLen())
	}

	rowId, _, err := rm.GetNextEmptyRow(alloc, tx.dirHint, uint64(tx.slotPtr))
	if err != nil {
		return heap.InvalidRowId, err
	}
	entry, err := rm.GetEntry(rowId, false)
	if err != nil {
		return heap.InvalidRowId, err
	}

	entry.Lock()
	defer entry.Unlock()
	tuple := entry.Addr()

	rec := undo.Record{
		Type:    undo.TypeInsert,
		TxSlot:  uint32(tx.slotNumber),
		Prev:    undo.InvalidRecPtr,
		SegHead: segHead,
		RowId:   uint32(rowId),
	}
	tx.seg.AppendUndoRecord(tx.slotNumber, rec)

	header := heap.Header{
		TxInfo:    uint64(tx.slotPtr),
		Prev:      undo.InvalidRecPtr,
		IsUsed:    true,
		IsDeleted: false,
		DataSize:  uint32(len(body)),
	}
	headerBuf := make([]byte, heap.HeaderSize)
	header.Encode(headerBuf)
	pm.WriteToNVM(tuple[:heap.HeaderSize], headerBuf)
	pm.WriteToNVM(tuple[heap.HeaderSize:], body)

	tx.addToWriteSet(entry, segHead, rowId)
	return rowId, nil
}

// HeapRead resolves rowId's version visible to tx's snapshot into
// out, walking the undo chain (via each header's prev) when the live
// header isn't visible yet.
func HeapRead(tx *Txn, rm *heap.RowIdMap, rowId heap.RowId, out []byte) error {
	entry, err := rm.GetEntry(rowId, true)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrReadRowNotUsed
	}

	entry.Lock()
	defer entry.Unlock()
	tuple := entry.Addr()
	header := heap.DecodeHeader(tuple[:heap.HeaderSize])
	if !header.IsUsed {
		return ErrReadRowNotUsed
	}

	body := make([]byte, rm.RowLen())
	copy(body, tuple[heap.HeaderSize:])

	for {
		switch evaluateVisibility(tx.mgr.reg, header.TxInfo, tx.slotPtr, tx.snapshot) {
		case visOK, visSelfUpdated:
			if header.IsDeleted {
				return ErrRowDeleted
			}
			copy(out, body)
			return nil
		default:
			if !header.Prev.IsValid() {
				return ErrNoVisibleVersion
			}
			rec := tx.mgr.reg.ReadUndoRecord(header.Prev)
			switch rec.Type {
			case undo.TypeDelete:
				if len(rec.Payload) < heap.HeaderSize {
					return fmt.Errorf("txn: read: short delete payload for row %d", rowId)
				}
				header = heap.DecodeHeader(rec.Payload[:heap.HeaderSize])
				copy(body, rec.Payload[heap.HeaderSize:])
			case undo.TypeUpdate:
				h, err := applyUpdatePayload(rec.Payload, body)
				if err != nil {
					return err
				}
				header = h
			default:
				return fmt.Errorf("txn: read: unexpected undo record type %d in prev chain", rec.Type)
			}
		}
	}
}

// satisfyForWrite is SatisfiedUpdate: a writer's visibility check
// against the row's current header. OK lets the caller proceed;
// anything else dooms the transaction and reports the conflict.
func (t *Txn) satisfyForWrite(header heap.Header) error {
	switch evaluateVisibility(t.mgr.reg, header.TxInfo, t.slotPtr, t.snapshot) {
	case visOK, visSelfUpdated:
		if header.IsDeleted {
			t.setWaitAbort()
			return ErrRowDeleted
		}
		return nil
	default:
		t.setWaitAbort()
		return ErrUpdateConflict
	}
}

// HeapUpdate replaces a row's full body, recording an UpdateUndo that
// captures only the byte ranges that actually changed.
func HeapUpdate(tx *Txn, rm *heap.RowIdMap, segHead uint32, rowId heap.RowId, newBody []byte) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if uint32(len(newBody)) != rm.RowLen() {
		return fmt.Errorf("txn: update: body length %d != row length %d", len(newBody), rm.RowLen())
	}
	entry, err := rm.GetEntry(rowId, false)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrReadRowNotUsed
	}

	entry.Lock()
	defer entry.Unlock()
	tuple := entry.Addr()
	header := heap.DecodeHeader(tuple[:heap.HeaderSize])
	if !header.IsUsed {
		return ErrReadRowNotUsed
	}
	if err := tx.satisfyForWrite(header); err != nil {
		return err
	}

	oldBody := make([]byte, rm.RowLen())
	copy(oldBody, tuple[heap.HeaderSize:])
	payload := encodeUpdatePayload(header, diffRanges(oldBody, newBody))

	rec := undo.Record{
		Type:    undo.TypeUpdate,
		TxSlot:  uint32(tx.slotNumber),
		Prev:    header.Prev,
		SegHead: segHead,
		RowId:   uint32(rowId),
		Payload: payload,
	}
	undoPtr := tx.seg.AppendUndoRecord(tx.slotNumber, rec)

	newHeader := heap.Header{
		TxInfo:    uint64(tx.slotPtr),
		Prev:      undoPtr,
		IsUsed:    true,
		IsDeleted: false,
		DataSize:  uint32(len(newBody)),
	}
	buf := make([]byte, heap.HeaderSize)
	newHeader.Encode(buf)
	pm.WriteToNVM(tuple[:heap.HeaderSize], buf)
	pm.WriteToNVM(tuple[heap.HeaderSize:], newBody)

	tx.addToWriteSet(entry, segHead, rowId)
	return nil
}

// HeapUpdate2 applies an explicit set of column-range writes instead
// of diffing a full replacement body, avoiding the O(rowLen) scan
// HeapUpdate does when the caller already knows what changed.
func HeapUpdate2(tx *Txn, rm *heap.RowIdMap, segHead uint32, rowId heap.RowId, changes []ColumnChange) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	entry, err := rm.GetEntry(rowId, false)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrReadRowNotUsed
	}

	entry.Lock()
	defer entry.Unlock()
	tuple := entry.Addr()
	header := heap.DecodeHeader(tuple[:heap.HeaderSize])
	if !header.IsUsed {
		return ErrReadRowNotUsed
	}
	if err := tx.satisfyForWrite(header); err != nil {
		return err
	}

	body := tuple[heap.HeaderSize:]
	deltas := make([]byteDelta, 0, len(changes))
	for _, c := range changes {
		end := c.Offset + uint32(len(c.Data))
		if end > rm.RowLen() {
			return fmt.Errorf("txn: update2: change at %d+%d overflows row length %d", c.Offset, len(c.Data), rm.RowLen())
		}
		old := make([]byte, len(c.Data))
		copy(old, body[c.Offset:end])
		deltas = append(deltas, byteDelta{offset: c.Offset, old: old})
	}
	payload := encodeUpdatePayload(header, deltas)

	rec := undo.Record{
		Type:    undo.TypeUpdate,
		TxSlot:  uint32(tx.slotNumber),
		Prev:    header.Prev,
		SegHead: segHead,
		RowId:   uint32(rowId),
		Payload: payload,
	}
	undoPtr := tx.seg.AppendUndoRecord(tx.slotNumber, rec)

	for _, c := range changes {
		copy(body[c.Offset:c.Offset+uint32(len(c.Data))], c.Data)
	}
	pm.Flush(body)

	newHeader := heap.Header{
		TxInfo:    uint64(tx.slotPtr),
		Prev:      undoPtr,
		IsUsed:    true,
		IsDeleted: false,
		DataSize:  header.DataSize,
	}
	buf := make([]byte, heap.HeaderSize)
	newHeader.Encode(buf)
	pm.WriteToNVM(tuple[:heap.HeaderSize], buf)

	tx.addToWriteSet(entry, segHead, rowId)
	return nil
}

// HeapDelete marks a row deleted, recording a DeleteUndo that captures
// the full pre-delete header and body.
func HeapDelete(tx *Txn, rm *heap.RowIdMap, segHead uint32, rowId heap.RowId) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	entry, err := rm.GetEntry(rowId, false)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrReadRowNotUsed
	}

	entry.Lock()
	defer entry.Unlock()
	tuple := entry.Addr()
	header := heap.DecodeHeader(tuple[:heap.HeaderSize])
	if !header.IsUsed {
		return ErrReadRowNotUsed
	}
	if err := tx.satisfyForWrite(header); err != nil {
		return err
	}

	payload := encodeFullPayload(header, tuple[heap.HeaderSize:])
	rec := undo.Record{
		Type:    undo.TypeDelete,
		TxSlot:  uint32(tx.slotNumber),
		Prev:    header.Prev,
		SegHead: segHead,
		RowId:   uint32(rowId),
		Payload: payload,
	}
	undoPtr := tx.seg.AppendUndoRecord(tx.slotNumber, rec)

	newHeader := heap.Header{
		TxInfo:    uint64(tx.slotPtr),
		Prev:      undoPtr,
		IsUsed:    true,
		IsDeleted: true,
		DataSize:  header.DataSize,
	}
	buf := make([]byte, heap.HeaderSize)
	newHeader.Encode(buf)
	pm.WriteToNVM(tuple[:heap.HeaderSize], buf)

	tx.addToWriteSet(entry, segHead, rowId)
	return nil
}

// HeapUpperRowId is the table's current exclusive upper RowId bound.
func HeapUpperRowId(rm *heap.RowIdMap) (heap.RowId, error) { return rm.GetUpperRowId() }
