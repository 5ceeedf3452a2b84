package config

import (
	"github.com/BurntSushi/toml"
)

// EngineOptions is the structured configuration layered above the flat
// directory list: segment sizes, undo ring geometry, and background
// worker tuning. Unlike DirectoryConfig's single delimited string, this
// is a genuine structured document, so it is loaded with a TOML parser
// rather than hand-rolled splitting.
type EngineOptions struct {
	// TableSpaceSegmentSize is the size in bytes of one tablespace
	// LogicFile segment file. Typical: 1 GiB.
	TableSpaceSegmentSize int64 `toml:"tablespace_segment_size"`
	// UndoSegmentSize is the size in bytes of one undo LogicFile segment
	// file. Typical: 16 MiB.
	UndoSegmentSize int64 `toml:"undo_segment_size"`
	// ExtentSize is the aligned size of one table extent. The engine
	// does not read this field: extents are always
	// tablespace.ExtentSize (2 MiB).
	ExtentSize int64 `toml:"extent_size"`
	// UndoTxSlots is the power-of-two size of the per-segment TxSlot
	// ring.
	UndoTxSlots int `toml:"undo_tx_slots"`
	// RowIdMapSegmentSize is the number of RowIdMapEntry records per
	// lazily-allocated RowIdMap segment. The engine does not read this
	// field: pkg/heap always uses 256Ki entries per segment.
	RowIdMapSegmentSize uint32 `toml:"rowidmap_segment_size"`
	// ReclaimIntervalMillis is how long the reclaimer sleeps between
	// passes.
	ReclaimIntervalMillis int `toml:"reclaim_interval_millis"`
	// EnableNUMAPinning toggles the best-effort thread-pinning described
	// in SPEC_FULL.md §C.2.
	EnableNUMAPinning bool `toml:"enable_numa_pinning"`
	// JSONLogs switches the ambient logger to JSON output.
	JSONLogs bool `toml:"json_logs"`
	// LogDir, when set, routes logs to a rotating file instead of
	// stderr.
	LogDir string `toml:"log_dir"`
}

// DefaultEngineOptions mirrors the constants named throughout spec.md
// (2 MiB extents, 1 GiB tablespace segments, 16 MiB undo segments).
func DefaultEngineOptions() EngineOptions {
	const (
		mib = 1 << 20
		gib = 1 << 30
	)
	return EngineOptions{
		TableSpaceSegmentSize: 1 * gib,
		UndoSegmentSize:       16 * mib,
		ExtentSize:            2 * mib,
		UndoTxSlots:           1024,
		RowIdMapSegmentSize:   256 * 1024,
		ReclaimIntervalMillis: 1,
		EnableNUMAPinning:     true,
	}
}

// LoadEngineOptions reads a TOML options file, starting from
// DefaultEngineOptions for any field the file omits.
func LoadEngineOptions(path string) (EngineOptions, error) {
	opts := DefaultEngineOptions()
	if path == "" {
		return opts, nil
	}
	if _, err := toml.DecodeFile(path, &opts); err != nil {
		return EngineOptions{}, err
	}
	return opts, nil
}
