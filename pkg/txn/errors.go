package txn

import "errors"

// Sentinel errors for the status outcomes spec.md §4.6 and §7 name,
// tested with errors.Is at call sites.
var (
	ErrReadRowNotUsed  = errors.New("txn: row not used")
	ErrRowDeleted      = errors.New("txn: row deleted")
	ErrNoVisibleVersion = errors.New("txn: no visible version")
	ErrUpdateConflict  = errors.New("txn: update conflict")
	ErrWaitAbort       = errors.New("txn: transaction must abort")
)
