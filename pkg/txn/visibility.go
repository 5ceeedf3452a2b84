package txn

import (
	"github.com/iDC-NEU/ReviveDB/pkg/heap"
	"github.com/iDC-NEU/ReviveDB/pkg/undo"
)

// visResult is the outcome of evaluating one tuple version's txInfo
// against a transaction's snapshot (spec.md §4.6).
type visResult int

const (
	visOK visResult = iota
	visSelfUpdated
	visInvisible
	visBeingModified
	visAborted
)

// evaluateVisibility implements the CSN/TSP discriminator walk: a
// committed CSN is visible iff it's at or before the snapshot; a TSP
// defers to its TxSlot's status.
func evaluateVisibility(reg *undo.Registry, txInfo uint64, self TxSlotPtr, snapshot uint64) visResult {
	if heap.IsCSN(txInfo) {
		if txInfo <= snapshot {
			return visOK
		}
		return visInvisible
	}

	tsp := TxSlotPtr(txInfo)
	seg := reg.SegmentByID(tsp.SegmentID())
	slot := seg.ReadTxSlotAtPosition(tsp.SlotPosition())
	isSelf := tsp == self

	switch slot.Status {
	case undo.StatusCommitted:
		if slot.CSN <= snapshot {
			return visOK
		}
		if isSelf {
			return visSelfUpdated
		}
		return visInvisible
	case undo.StatusInProgress:
		if isSelf {
			return visSelfUpdated
		}
		return visBeingModified
	case undo.StatusRollBacked:
		return visAborted
	default: // StatusEmpty: slot already recycled, no reader should still hold this TSP
		return visInvisible
	}
}
