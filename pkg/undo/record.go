package undo

// Type discriminates what an undo record restores on rollback.
type Type uint8

const (
	TypeInsert Type = iota
	TypeUpdate
	TypeDelete
)

// recordHeaderSize is the fixed portion of an encoded Record: length,
// type, the owning TxSlot number, the previous-version pointer, the
// table's segment head (identifying which table/RowIDMgr this record
// belongs to), the row id, and the payload length.
const recordHeaderSize = 4 + 1 + 3 /*pad*/ + 4 + 8 + 4 + 4 + 4

// Record is the decoded form of one undo record: no payload (insert),
// a full pre-image (delete), or an update delta (a list of
// {offset,length,bytes} column changes, pre-flattened by the caller
// into Payload — the column-typing layer that would split Payload
// back into named columns is explicitly out of scope here).
type Record struct {
	Type    Type
	TxSlot  uint32
	Prev    RecPtr
	SegHead uint32
	RowId   uint32
	Payload []byte
}

// EncodedLen is the total number of bytes Encode writes.
func (r Record) EncodedLen() int { return recordHeaderSize + len(r.Payload) }

// Encode serializes r into dst, which must be at least EncodedLen()
// bytes. The leading length field lets a rollback or recovery scan
// walk records without first knowing their size.
func (r Record) Encode(dst []byte) {
	total := uint32(r.EncodedLen() - 4) // length field excludes itself
	putLeUint32(dst[0:4], total)
	dst[4] = byte(r.Type)
	dst[5], dst[6], dst[7] = 0, 0, 0
	putLeUint32(dst[8:12], r.TxSlot)
	putLeUint64(dst[12:20], uint64(r.Prev))
	putLeUint32(dst[20:24], r.SegHead)
	putLeUint32(dst[24:28], r.RowId)
	putLeUint32(dst[28:32], uint32(len(r.Payload)))
	copy(dst[32:], r.Payload)
}

// DecodeRecord reads a Record out of a buffer that starts at the
// record's length field.
func DecodeRecord(b []byte) Record {
	payloadLen := leUint32(b[28:32])
	r := Record{
		Type:    Type(b[4]),
		TxSlot:  leUint32(b[8:12]),
		Prev:    RecPtr(leUint64(b[12:20])),
		SegHead: leUint32(b[20:24]),
		RowId:   leUint32(b[24:28]),
	}
	r.Payload = make([]byte, payloadLen)
	copy(r.Payload, b[32:32+payloadLen])
	return r
}
