// Package engine wires every subsystem into one process-wide instance:
// configuration, the PM tablespace and undo registry, the table
// catalog, the transaction manager, the background reclaimer, and
// startup recovery (spec.md §6's externally observable process
// lifecycle, grounded on
// _examples/XuPeng-SH-tae_design/pkg/taedb/db.go's TAE/tae wiring of a
// single TxnManager + catalog + store behind a package-level handle).
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/iDC-NEU/ReviveDB/pkg/catalog"
	"github.com/iDC-NEU/ReviveDB/pkg/config"
	"github.com/iDC-NEU/ReviveDB/pkg/logicfile"
	"github.com/iDC-NEU/ReviveDB/pkg/numa"
	"github.com/iDC-NEU/ReviveDB/pkg/rdlog"
	"github.com/iDC-NEU/ReviveDB/pkg/reclaim"
	"github.com/iDC-NEU/ReviveDB/pkg/recovery"
	"github.com/iDC-NEU/ReviveDB/pkg/tablespace"
	"github.com/iDC-NEU/ReviveDB/pkg/txn"
	"github.com/iDC-NEU/ReviveDB/pkg/undo"
	"go.uber.org/multierr"
)

const (
	tablespaceSpaceName = "tablespace"
	undoSpaceName       = "undo"
	catalogStoreName    = "catalog"
)

// DB is the single open instance of the storage engine: one process
// mounts at most one DB against a given directory configuration,
// mirroring the original's process-wide g_* globals.
type DB struct {
	opts    config.EngineOptions
	dirs    *config.DirectoryConfig
	ts      *tablespace.TableSpace
	undoReg *undo.Registry
	cat     *catalog.Catalog
	mgr     *txn.Manager
	rec     *reclaim.Reclaimer
}

var (
	mu       sync.Mutex
	instance *DB
)

// InitDB parses the directory configuration and engine options and
// prepares (but does not yet open) the process singleton. init
// controls whether PM directories are wiped on mount (a fresh
// cluster) or preserved (a restart).
func InitDB(dirPathsString string, optsPath string, init bool) (*DB, error) {
	mu.Lock()
	defer mu.Unlock()
	if instance != nil {
		return nil, fmt.Errorf("engine: DB already initialized")
	}

	opts, err := config.LoadEngineOptions(optsPath)
	if err != nil {
		return nil, fmt.Errorf("engine: load options: %w", err)
	}
	rdlog.Init(rdlog.Options{
		Dir:        opts.LogDir,
		Filename:   "revivedb.log",
		MaxSizeMB:  64,
		MaxBackups: 8,
		MaxAgeDays: 14,
		JSON:       opts.JSONLogs,
	})

	dirs, err := config.NewDirectoryConfig(dirPathsString, init)
	if err != nil {
		return nil, fmt.Errorf("engine: directory config: %w", err)
	}

	if opts.EnableNUMAPinning {
		for i := 0; i < dirs.Size(); i++ {
			numa.BindCurrentThread(numa.NodeForCounter(uint64(i)))
		}
	}

	db := &DB{opts: opts, dirs: dirs}
	instance = db
	return db, nil
}

// BootStrap opens (or creates) every PM-backed subsystem, runs crash
// recovery, and starts the background reclaimer, bringing the DB to
// the point HeapInsert/Read/Update/Delete can be called against it.
func (db *DB) BootStrap() error {
	lf, err := logicfile.New(db.dirs, tablespaceSpaceName, db.opts.TableSpaceSegmentSize, tablespace.PageSize, config.MaxGroup*4)
	if err != nil {
		return fmt.Errorf("engine: mount tablespace: %w", err)
	}
	db.ts = tablespace.New(lf, db.dirs.Size())

	db.undoReg, err = undo.NewRegistry(db.dirs, db.dirs.Size()*4, db.opts.UndoSegmentSize, tablespace.PageSize, config.MaxGroup*4, db.opts.UndoTxSlots)
	if err != nil {
		return fmt.Errorf("engine: mount undo segments: %w", err)
	}

	db.cat, err = catalog.Open(db.ts, db.dirs.Size(), db.dirs.PathByIndex(0), catalogStoreName, nil)
	if err != nil {
		return fmt.Errorf("engine: open catalog: %w", err)
	}

	wm, watermark, err := recovery.OpenWatermark(db.dirs.PathByIndex(0))
	if err != nil {
		return fmt.Errorf("engine: open watermark: %w", err)
	}
	defer wm.Close()

	maxCSN, err := recovery.Scan(db.undoReg, db.cat.Lookup)
	if err != nil {
		return fmt.Errorf("engine: recovery scan: %w", err)
	}
	baseCSN := recovery.BaseCSN(watermark, maxCSN)

	db.mgr = txn.NewManager(db.undoReg, db.dirs.Size(), baseCSN, db.cat.Lookup)

	interval := time.Duration(db.opts.ReclaimIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = time.Millisecond
	}
	db.rec, err = reclaim.New(db.undoReg, db.mgr, db.dirs.Size()*2, interval)
	if err != nil {
		return fmt.Errorf("engine: start reclaimer: %w", err)
	}
	db.rec.Start()

	return nil
}

// Manager exposes the transaction manager Begin() is called through.
func (db *DB) Manager() *txn.Manager { return db.mgr }

// Catalog exposes the table registry.
func (db *DB) Catalog() *catalog.Catalog { return db.cat }

// ExitDBProcess stops the reclaimer and closes every durable handle,
// collecting every error encountered rather than stopping at the
// first one, since a clean shutdown should release everything it can.
func ExitDBProcess(db *DB) error {
	mu.Lock()
	defer mu.Unlock()

	var errs error
	if db.rec != nil {
		db.rec.Stop()
	}
	if db.cat != nil {
		errs = multierr.Append(errs, db.cat.Close())
	}
	if db.undoReg != nil {
		errs = multierr.Append(errs, db.undoReg.Close())
	}
	if db.ts != nil {
		errs = multierr.Append(errs, db.ts.Close())
	}
	if instance == db {
		instance = nil
	}
	return errs
}
