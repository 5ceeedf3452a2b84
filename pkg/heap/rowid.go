// Package heap implements the row directory and tuple format: the
// RowId -> PM address translation (RowIDMgr), the sparse DRAM
// directory of per-row entries (RowIdMap), and the on-PM tuple header
// layout, all against a shared tablespace.TableSpace (spec.md §3,
// §4.3, §4.4, grounded on original_source/include/heap/nvm_tuple.h,
// nvm_rowid_map.h and nvm_rowid_mgr.h).
package heap

// RowId is a table-local 32-bit logical row identifier.
type RowId uint32

// InvalidRowId is the reserved sentinel for "no row".
const InvalidRowId RowId = 1<<32 - 1

// Extent returns the logical extent index a row belongs to.
func (r RowId) Extent(tuplesPerExtent uint32) uint32 { return uint32(r) / tuplesPerExtent }

// Offset returns the row's offset within its extent.
func (r RowId) Offset(tuplesPerExtent uint32) uint32 { return uint32(r) % tuplesPerExtent }
