package txn

import (
	"fmt"

	"github.com/iDC-NEU/ReviveDB/pkg/heap"
	"github.com/iDC-NEU/ReviveDB/pkg/pm"
	"github.com/iDC-NEU/ReviveDB/pkg/undo"
)

// deltaHeaderSize is the per-delta encoding inside an update payload:
// a 4-byte body offset and a 4-byte length, followed by that many
// bytes of the body's prior content.
const deltaHeaderSize = 8

type byteDelta struct {
	offset uint32
	old    []byte
}

// diffRanges finds the contiguous changed byte ranges between two
// equal-length bodies, the same granularity HeapUpdate2's column-delta
// path already works in.
func diffRanges(oldBody, newBody []byte) []byteDelta {
	var deltas []byteDelta
	i, n := 0, len(oldBody)
	for i < n {
		if oldBody[i] == newBody[i] {
			i++
			continue
		}
		start := i
		for i < n && oldBody[i] != newBody[i] {
			i++
		}
		old := make([]byte, i-start)
		copy(old, oldBody[start:i])
		deltas = append(deltas, byteDelta{offset: uint32(start), old: old})
	}
	return deltas
}

// encodeUpdatePayload packs the pre-update header followed by the
// body ranges that changed, so undo only needs to restore what
// actually moved.
func encodeUpdatePayload(oldHeader heap.Header, deltas []byteDelta) []byte {
	buf := make([]byte, heap.HeaderSize)
	oldHeader.Encode(buf)
	for _, d := range deltas {
		head := make([]byte, deltaHeaderSize)
		putLeUint32(head[0:4], d.offset)
		putLeUint32(head[4:8], uint32(len(d.old)))
		buf = append(buf, head...)
		buf = append(buf, d.old...)
	}
	return buf
}

// encodeFullPayload packs a complete pre-image: header then body, the
// shape DeleteUndo uses (InsertUndo records carry no payload).
func encodeFullPayload(oldHeader heap.Header, oldBody []byte) []byte {
	buf := make([]byte, heap.HeaderSize+len(oldBody))
	oldHeader.Encode(buf[:heap.HeaderSize])
	copy(buf[heap.HeaderSize:], oldBody)
	return buf
}

// applyUpdatePayload restores body's changed ranges from payload's
// encoded deltas in place and returns the header to restore.
func applyUpdatePayload(payload []byte, body []byte) (heap.Header, error) {
	if len(payload) < heap.HeaderSize {
		return heap.Header{}, fmt.Errorf("txn: update payload too short")
	}
	h := heap.DecodeHeader(payload[:heap.HeaderSize])
	rest := payload[heap.HeaderSize:]
	for len(rest) > 0 {
		if len(rest) < deltaHeaderSize {
			return heap.Header{}, fmt.Errorf("txn: truncated update delta")
		}
		offset := leUint32(rest[0:4])
		length := leUint32(rest[4:8])
		rest = rest[deltaHeaderSize:]
		if uint32(len(rest)) < length {
			return heap.Header{}, fmt.Errorf("txn: truncated update delta body")
		}
		copy(body[offset:offset+length], rest[:length])
		rest = rest[length:]
	}
	return h, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// ApplyUndo is applyUndo's exported form, used by pkg/recovery to
// share the exact same undo-application logic a live Txn.Abort uses
// when rolling back TxSlots a crash left IN_PROGRESS.
func ApplyUndo(reg *undo.Registry, lookup TableLookup, segmentID uint32, start, end uint32) error {
	return applyUndo(reg, lookup, segmentID, start, end)
}

// applyUndo walks segmentID's undo records in [start, end) and applies
// them in reverse, restoring every touched row to its pre-transaction
// state. It is the shared core of a live Txn.Abort() and crash
// recovery's rollback of IN_PROGRESS slots (pkg/recovery), which have
// no live write-set to fall back on and must reconstruct purely from
// the undo log.
func applyUndo(reg *undo.Registry, lookup TableLookup, segmentID uint32, start, end uint32) error {
	seg := reg.SegmentByID(segmentID)
	var recs []undo.Record
	for offset := start; offset < end; {
		rec := seg.ReadUndoRecord(undo.MakeRecPtr(segmentID, offset))
		recs = append(recs, rec)
		offset += uint32(rec.EncodedLen())
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if err := undoOne(lookup, recs[i]); err != nil {
			return err
		}
	}
	return nil
}

func undoOne(lookup TableLookup, rec undo.Record) error {
	rm, ok := lookup(rec.SegHead)
	if !ok {
		return fmt.Errorf("txn: undo: unknown table segment head %d", rec.SegHead)
	}
	entry, err := rm.GetEntry(heap.RowId(rec.RowId), false)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("txn: undo: row %d never materialized", rec.RowId)
	}

	entry.Lock()
	defer entry.Unlock()
	tuple := entry.Addr()
	body := tuple[heap.HeaderSize:]

	switch rec.Type {
	case undo.TypeInsert:
		header := heap.DecodeHeader(tuple[:heap.HeaderSize])
		header.IsUsed = false
		header.IsDeleted = false
		header.TxInfo = 0
		header.Prev = undo.InvalidRecPtr
		buf := make([]byte, heap.HeaderSize)
		header.Encode(buf)
		pm.WriteToNVM(tuple[:heap.HeaderSize], buf)

	case undo.TypeDelete:
		if len(rec.Payload) < heap.HeaderSize {
			return fmt.Errorf("txn: undo: short delete payload for row %d", rec.RowId)
		}
		pm.WriteToNVM(tuple[:heap.HeaderSize], rec.Payload[:heap.HeaderSize])
		pm.WriteToNVM(body, rec.Payload[heap.HeaderSize:])

	case undo.TypeUpdate:
		header, err := applyUpdatePayload(rec.Payload, body)
		if err != nil {
			return err
		}
		pm.Flush(body)
		buf := make([]byte, heap.HeaderSize)
		header.Encode(buf)
		pm.WriteToNVM(tuple[:heap.HeaderSize], buf)

	default:
		return fmt.Errorf("txn: undo: unknown record type %d", rec.Type)
	}
	return nil
}
