// Package catalog implements the table registry: allocating a fresh
// segment head for a new table, building and caching its RowIdMap, and
// durably logging table creation so a restart can rebuild the
// registry (grounded on
// _examples/XuPeng-SH-tae_design/pkg/catalog/catalog.go's
// MockCatalog/store.NewBaseStore wiring, generalized from its
// DLNode/nameNodes/versioned-entry model down to the single-version
// table records this module's row store actually needs).
package catalog

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/iDC-NEU/ReviveDB/pkg/heap"
	"github.com/iDC-NEU/ReviveDB/pkg/tablespace"
	"github.com/jiangxinmeng1/logstore/pkg/entry"
	"github.com/jiangxinmeng1/logstore/pkg/store"
	"github.com/matrixorigin/matrixone/pkg/vm/engine/aoe/storage/common"
)

// segmentHeadCapacity sizes every table's segment head dense array to
// the most leaf-extent ids a single head extent can index (spec.md
// §4.3: the head's lookup array lives entirely inside its own extent).
const segmentHeadCapacity = (tablespace.ExtentSize - 4) / 4

// tableEntryType is this package's log entry type, numbered past
// logstore's reserved range the way the teacher's own
// ETCreateDatabase/ETCreateTable constants are.
const tableEntryType = entry.ETCustomizedStart + 2

// TableEntry is one table's registry record: its fixed row layout and
// the resolved RowIdMap every heap operation addresses it through.
type TableEntry struct {
	ID       uint64
	Name     string
	RowLen   uint32
	SegHead  uint32
	RowIdMap *heap.RowIdMap
}

// Catalog owns every table in the process. Table creation is logged
// durably through a logstore-backed store; the tables themselves live
// in PM through the shared TableSpace, so the log only needs to record
// enough to rebuild the in-memory registry on restart, not the row
// data itself.
type Catalog struct {
	mu       sync.RWMutex
	ts       *tablespace.TableSpace
	dirCount int
	idAlloc  *common.IdAlloctor
	store    store.Store

	byName    map[string]*TableEntry
	byID      map[uint64]*TableEntry
	bySegHead map[uint32]*TableEntry
}

// Open creates or reopens a catalog backed by ts for table data and
// dir/name for its own durable creation log.
func Open(ts *tablespace.TableSpace, dirCount int, dir, name string, cfg *store.StoreCfg) (*Catalog, error) {
	s, err := store.NewBaseStore(dir, name, cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog: open store: %w", err)
	}
	return &Catalog{
		ts:        ts,
		dirCount:  dirCount,
		idAlloc:   common.NewIdAlloctor(1),
		store:     s,
		byName:    make(map[string]*TableEntry),
		byID:      make(map[uint64]*TableEntry),
		bySegHead: make(map[uint32]*TableEntry),
	}, nil
}

// Close releases the catalog's own durable log; it does not touch the
// tables' PM extents.
func (c *Catalog) Close() error { return c.store.Close() }

// CreateTable allocates a fresh segment head, builds the table's
// RowIdMap, registers it, and durably logs the creation.
func (c *Catalog) CreateTable(name string, rowLen uint32, dirHint int) (*TableEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byName[name]; exists {
		return nil, fmt.Errorf("catalog: table %q already exists", name)
	}

	segHead, err := c.ts.CreateSegmentHead(dirHint, segmentHeadCapacity)
	if err != nil {
		return nil, fmt.Errorf("catalog: create segment head for %q: %w", name, err)
	}
	rowidMgr := heap.NewRowIDMgr(c.ts, segHead, rowLen)
	rowIdMap := heap.NewRowIdMap(rowidMgr, c.dirCount, rowLen)

	te := &TableEntry{
		ID:       uint64(c.idAlloc.Alloc()),
		Name:     name,
		RowLen:   rowLen,
		SegHead:  segHead,
		RowIdMap: rowIdMap,
	}
	if err := c.logCreate(te); err != nil {
		return nil, err
	}
	c.byName[name] = te
	c.byID[te.ID] = te
	c.bySegHead[segHead] = te
	return te, nil
}

func (c *Catalog) logCreate(te *TableEntry) error {
	e := entry.GetBase()
	e.SetType(tableEntryType)
	e.Unmarshal(encodeTableEntry(te))
	_, err := c.store.AppendEntry(entry.GTCustomizedStart, e)
	return err
}

// encodeTableEntry packs id(8) + rowLen(4) + segHead(4) + nameLen(2) +
// name, the minimal record a restart needs to rebuild a TableEntry
// (the RowIdMap itself is rebuilt from SegHead, not persisted here).
func encodeTableEntry(te *TableEntry) []byte {
	buf := make([]byte, 8+4+4+2+len(te.Name))
	binary.LittleEndian.PutUint64(buf[0:8], te.ID)
	binary.LittleEndian.PutUint32(buf[8:12], te.RowLen)
	binary.LittleEndian.PutUint32(buf[12:16], te.SegHead)
	binary.LittleEndian.PutUint16(buf[16:18], uint16(len(te.Name)))
	copy(buf[18:], te.Name)
	return buf
}

// GetTable resolves a table by name.
func (c *Catalog) GetTable(name string) (*TableEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	te, ok := c.byName[name]
	return te, ok
}

// Lookup adapts the catalog to txn.TableLookup, resolving a segment
// head's page id back to its table's RowIdMap — the indirection
// HeapInsert/Update/Delete's undo records use to find a row's table
// without the txn package importing catalog directly.
func (c *Catalog) Lookup(segHead uint32) (*heap.RowIdMap, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	te, ok := c.bySegHead[segHead]
	if !ok {
		return nil, false
	}
	return te.RowIdMap, true
}

// DropTable removes a table from the registry. The underlying PM
// extents are not reclaimed: DDL-level space reclamation is out of
// scope (spec.md's Non-goals), matching the teacher's own drop path,
// which is a catalog-level soft delete rather than an extent punch.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	te, ok := c.byName[name]
	if !ok {
		return fmt.Errorf("catalog: table %q not found", name)
	}
	delete(c.byName, name)
	delete(c.byID, te.ID)
	delete(c.bySegHead, te.SegHead)
	return nil
}
