package heap

import "github.com/iDC-NEU/ReviveDB/pkg/undo"

// HeaderSize is NVMTupleHeadSize: txInfo (8) + prev (8, an
// undo.RecPtr) + isUsed (1) + isDeleted (1) + dataSize (4), rounded up
// to a 24-byte, 8-byte-aligned layout.
const HeaderSize = 24

// csnFlag is the MSB discriminator: when set, txInfo holds a Commit
// Sequence Number; when clear, txInfo holds a TxSlot pointer.
const csnFlag uint64 = 1 << 63

// IsCSN reports whether a tuple header's txInfo field currently holds
// a CSN rather than a TxSlot pointer.
func IsCSN(txInfo uint64) bool { return txInfo&csnFlag != 0 }

// Header is the decoded view of one tuple's fixed PM header.
type Header struct {
	TxInfo    uint64
	Prev      undo.RecPtr
	IsUsed    bool
	IsDeleted bool
	DataSize  uint32
}

// DecodeHeader reads a Header from its 24-byte PM encoding.
func DecodeHeader(b []byte) Header {
	_ = b[HeaderSize-1]
	return Header{
		TxInfo:    leUint64(b[0:8]),
		Prev:      undo.RecPtr(leUint64(b[8:16])),
		IsUsed:    b[16] != 0,
		IsDeleted: b[17] != 0,
		DataSize:  leUint32(b[20:24]),
	}
}

// Encode writes h back to its 24-byte PM encoding. Bytes 18-19 are
// reserved padding.
func (h Header) Encode(dst []byte) {
	_ = dst[HeaderSize-1]
	putLeUint64(dst[0:8], h.TxInfo)
	putLeUint64(dst[8:16], uint64(h.Prev))
	if h.IsUsed {
		dst[16] = 1
	} else {
		dst[16] = 0
	}
	if h.IsDeleted {
		dst[17] = 1
	} else {
		dst[17] = 0
	}
	dst[18], dst[19] = 0, 0
	putLeUint32(dst[20:24], h.DataSize)
}

// RealTupleSize is HeaderSize + the table's fixed row length.
func RealTupleSize(rowLen uint32) uint32 { return HeaderSize + rowLen }

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}
