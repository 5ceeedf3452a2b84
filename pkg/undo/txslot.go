package undo

// Status is a TxSlot's lifecycle state (spec.md §4.6 state machine).
type Status uint8

const (
	StatusEmpty Status = iota
	StatusInProgress
	StatusCommitted
	StatusRollBacked
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "EMPTY"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCommitted:
		return "COMMITTED"
	case StatusRollBacked:
		return "ROLL_BACKED"
	default:
		return "UNKNOWN"
	}
}

// TxSlotSize is the on-PM wire size of one TxSlot: an 8-byte status
// word (only the low byte used, the rest reserved so status can be
// read/written as a single aligned word), an 8-byte CSN, and two
// 4-byte within-segment undo offsets bounding the transaction's undo
// records.
const TxSlotSize = 24

// TxSlot is the decoded, in-memory view of one PM-resident slot.
type TxSlot struct {
	Status Status
	CSN    uint64
	Start  uint32
	End    uint32
}

// DecodeTxSlot reads a TxSlot from its 24-byte PM encoding.
func DecodeTxSlot(b []byte) TxSlot {
	_ = b[TxSlotSize-1]
	return TxSlot{
		Status: Status(b[0]),
		CSN:    leUint64(b[8:16]),
		Start:  leUint32(b[16:20]),
		End:    leUint32(b[20:24]),
	}
}

// Encode writes the TxSlot back to its 24-byte PM encoding. Callers
// are responsible for flushing/fencing per the ordering contract of
// the specific transition (allocate, markCommitted, markAborted).
func (s TxSlot) Encode(dst []byte) {
	_ = dst[TxSlotSize-1]
	dst[0] = byte(s.Status)
	dst[1], dst[2], dst[3], dst[4], dst[5], dst[6], dst[7] = 0, 0, 0, 0, 0, 0, 0
	putLeUint64(dst[8:16], s.CSN)
	putLeUint32(dst[16:20], s.Start)
	putLeUint32(dst[20:24], s.End)
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
