// Package logicfile implements LogicFile: a flat, globally addressed
// page space backed by a set of fixed-size segment files, striped
// across the configured PM directories. Both the heap tablespace and
// the undo log are LogicFiles with different segment sizes and page
// counts (spec.md §4.2, grounded on
// original_source/include/table_space/nvm_logic_file.h and its .cpp).
package logicfile

import (
	"fmt"
	"os"
	"sync"

	"github.com/iDC-NEU/ReviveDB/pkg/config"
	"github.com/iDC-NEU/ReviveDB/pkg/pm"
	"github.com/iDC-NEU/ReviveDB/pkg/rdlog"
)

// LogicFile translates a global page id into the address of the
// segment that holds it, mounting segments on demand. Every extend,
// punch, and seek call is safe for concurrent use.
type LogicFile struct {
	dirConfig       *config.DirectoryConfig
	spaceName       string
	segmentSize     int64
	pageSize        int64
	pagesPerSegment int64
	maxSegmentCount int

	mu       sync.RWMutex
	segments []*pm.Mapping // index is segmentId; nil means not mounted
}

// New creates (or opens) segment 0 of a logical file named spaceName
// under dirConfig's directories. maxSegmentCount mirrors
// m_segmentAddr.reserve(maxSegmentCount): the slice backing array is
// preallocated so growth never invalidates pointers held by concurrent
// readers (the comment in nvm_logic_file.h is explicit about this).
func New(dirConfig *config.DirectoryConfig, spaceName string, segmentSize, pageSize int64, maxSegmentCount int) (*LogicFile, error) {
	if segmentSize <= 0 || pageSize <= 0 || segmentSize%pageSize != 0 {
		return nil, fmt.Errorf("logicfile: segmentSize %d must be a positive multiple of pageSize %d", segmentSize, pageSize)
	}
	lf := &LogicFile{
		dirConfig:       dirConfig,
		spaceName:       spaceName,
		segmentSize:     segmentSize,
		pageSize:        pageSize,
		pagesPerSegment: segmentSize / pageSize,
		maxSegmentCount: maxSegmentCount,
		segments:        make([]*pm.Mapping, 0, maxSegmentCount),
	}
	if err := lf.mapFile(0, true); err != nil {
		return nil, fmt.Errorf("logicfile: mount segment 0 of %s: %w", spaceName, err)
	}
	return lf, nil
}

// SegmentSize returns the configured size in bytes of one segment.
func (lf *LogicFile) SegmentSize() int64 { return lf.segmentSize }

// PagesPerSegment returns how many fixed-size pages fit in one segment.
func (lf *LogicFile) PagesPerSegment() int64 { return lf.pagesPerSegment }

// SegmentCount returns the number of segments currently mounted.
func (lf *LogicFile) SegmentCount() int {
	lf.mu.RLock()
	defer lf.mu.RUnlock()
	return len(lf.segments)
}

// SegmentCapacity returns the preallocated segment slot capacity.
func (lf *LogicFile) SegmentCapacity() int { return lf.maxSegmentCount }

// Extend ensures the segment owning pageId is mounted, creating its
// backing file if this is the first time the page is addressed.
func (lf *LogicFile) Extend(pageId uint32) error {
	return lf.mapFile(uint32(int64(pageId)/lf.pagesPerSegment), true)
}

// Mount reattaches every segment file that already exists on disk,
// stopping at the first gap. Used during recovery, after segment 0 was
// created by New.
func (lf *LogicFile) Mount() error {
	lf.mu.RLock()
	seg0 := len(lf.segments) > 0 && lf.segments[0] != nil
	lf.mu.RUnlock()
	if !seg0 {
		return fmt.Errorf("logicfile: segment 0 of %s not initialized", lf.spaceName)
	}
	for i := 1; i < lf.maxSegmentCount; i++ {
		ok, err := lf.tryMapFile(uint32(i), false)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	return nil
}

// Unmount releases every mounted segment's mapping.
func (lf *LogicFile) Unmount() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	var firstErr error
	for i, m := range lf.segments {
		if m == nil {
			continue
		}
		if err := m.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
		lf.segments[i] = nil
	}
	lf.segments = lf.segments[:0]
	return firstErr
}

// Punch recycles the segments in [startSegmentId, endSegmentId) by
// moving each one's mapping to a fresh slot at the end of the segment
// table and renaming its backing file to match, exactly as
// LogicFile::punch/reMMapFile do: the mapping is kept live (no
// unmap/remap cost) while the slot it vacated becomes free for a new
// segment to be created in its place.
func (lf *LogicFile) Punch(startSegmentId, endSegmentId uint32) error {
	if startSegmentId >= endSegmentId {
		return fmt.Errorf("logicfile: punch requires startSegmentId < endSegmentId")
	}
	for i := startSegmentId; i < endSegmentId; i++ {
		if err := lf.reMapFile(i); err != nil {
			return err
		}
	}
	return nil
}

// AddrByPageID returns the byte slice of exactly one page at the
// global page id, within the mapping owning it.
func (lf *LogicFile) AddrByPageID(globalPageId uint32) ([]byte, error) {
	segmentId := uint32(int64(globalPageId) / lf.pagesPerSegment)
	lf.mu.RLock()
	defer lf.mu.RUnlock()
	if int(segmentId) >= len(lf.segments) || lf.segments[segmentId] == nil {
		return nil, fmt.Errorf("logicfile: pageId %d overflow: segment %d not mounted", globalPageId, segmentId)
	}
	offsetInSegment := int64(globalPageId)%lf.pagesPerSegment*lf.pageSize
	data := lf.segments[segmentId].Bytes()
	return data[offsetInSegment : offsetInSegment+lf.pageSize], nil
}

// AddrRange returns a zero-copy view of length bytes starting at the
// global page id globalPageId, spanning as many pages as needed. The
// whole range must fall within a single segment's mapping — callers
// that size their regions to divide the segment evenly (as
// tablespace.ExtentSize is chosen to do) never hit the error case.
func (lf *LogicFile) AddrRange(globalPageId uint32, length int64) ([]byte, error) {
	segmentId := uint32(int64(globalPageId) / lf.pagesPerSegment)
	lf.mu.RLock()
	defer lf.mu.RUnlock()
	if int(segmentId) >= len(lf.segments) || lf.segments[segmentId] == nil {
		return nil, fmt.Errorf("logicfile: pageId %d overflow: segment %d not mounted", globalPageId, segmentId)
	}
	offsetInSegment := int64(globalPageId) % lf.pagesPerSegment * lf.pageSize
	if offsetInSegment+length > lf.segmentSize {
		return nil, fmt.Errorf("logicfile: range of %d bytes at pageId %d crosses a segment boundary", length, globalPageId)
	}
	data := lf.segments[segmentId].Bytes()
	return data[offsetInSegment : offsetInSegment+length], nil
}

// SeekAndWrite writes src at a segment-relative virtual pointer vptr,
// extending into the next page (and, if that page isn't physically
// adjacent, the next segment) when the write straddles a page
// boundary — the three-way split in
// LogicFile::seekAndWrite.
func (lf *LogicFile) SeekAndWrite(vptr uint64, src []byte) error {
	segmentSpaceRemain := lf.segmentSize - int64(vptr%uint64(lf.segmentSize))
	pageId := uint32(vptr / uint64(lf.pageSize))
	offset := int64(vptr % uint64(lf.pageSize))

	if err := lf.Extend(pageId); err != nil {
		return err
	}
	firstPage, err := lf.AddrByPageID(pageId)
	if err != nil {
		return err
	}
	length := int64(len(src))
	if segmentSpaceRemain >= length {
		pm.WriteToNVM(firstPage[offset:offset+length], src)
		return nil
	}

	if err := lf.Extend(pageId + 1); err != nil {
		return err
	}
	secondPage, err := lf.AddrByPageID(pageId + 1)
	if err != nil {
		return err
	}
	pm.WriteToNVM(firstPage[offset:], src[:segmentSpaceRemain])
	pm.MemcpyNoFlushNT(secondPage[:length-segmentSpaceRemain], src[segmentSpaceRemain:])
	pm.Flush(secondPage[:length-segmentSpaceRemain])
	return nil
}

// SeekAndRead reads len(dst) bytes starting at vptr into dst, applying
// the same page-straddling split as SeekAndWrite.
func (lf *LogicFile) SeekAndRead(vptr uint64, dst []byte) error {
	length := int64(len(dst))
	if length >= lf.segmentSize {
		return fmt.Errorf("logicfile: read length %d overflows segment size %d", length, lf.segmentSize)
	}
	segmentSpaceRemain := lf.segmentSize - int64(vptr%uint64(lf.segmentSize))
	pageId := uint32(vptr / uint64(lf.pageSize))
	offset := int64(vptr % uint64(lf.pageSize))

	if err := lf.Extend(pageId); err != nil {
		return err
	}
	page, err := lf.AddrByPageID(pageId)
	if err != nil {
		return err
	}
	if segmentSpaceRemain >= length {
		pm.MemcpyNoFlushNT(dst, page[offset:offset+length])
		return nil
	}

	pm.MemcpyNoFlushNT(dst[:segmentSpaceRemain], page[offset:])
	if err := lf.Extend(pageId + 1); err != nil {
		return err
	}
	nextPage, err := lf.AddrByPageID(pageId + 1)
	if err != nil {
		return err
	}
	pm.MemcpyNoFlushNT(dst[segmentSpaceRemain:], nextPage[:length-segmentSpaceRemain])
	return nil
}

func (lf *LogicFile) segmentFilename(segmentId uint32) string {
	dirs := lf.dirConfig.Paths()
	dirIdx := int(segmentId) % len(dirs)
	return fmt.Sprintf("%s/%s.%d", dirs[dirIdx], lf.spaceName, segmentId)
}

func (lf *LogicFile) mapFile(segmentId uint32, init bool) error {
	ok, err := lf.tryMapFile(segmentId, init)
	if err != nil {
		return err
	}
	if !ok && !init {
		return fmt.Errorf("logicfile: segment %d of %s does not exist", segmentId, lf.spaceName)
	}
	return nil
}

// tryMapFile mounts segmentId. When init is false it returns false
// (no error) if the segment file does not exist yet, the signal Mount
// uses to stop scanning.
func (lf *LogicFile) tryMapFile(segmentId uint32, init bool) (bool, error) {
	lf.mu.RLock()
	if int(segmentId) < len(lf.segments) && lf.segments[segmentId] != nil {
		lf.mu.RUnlock()
		return true, nil
	}
	lf.mu.RUnlock()

	path := lf.segmentFilename(segmentId)
	if !init {
		if _, err := os.Stat(path); err != nil {
			return false, nil
		}
	}
	fileExisted := false
	if _, err := os.Stat(path); err == nil {
		fileExisted = true
	}

	mapping, err := pm.MapSegment(path, lf.segmentSize)
	if err != nil {
		return false, fmt.Errorf("logicfile: map %s: %w", path, err)
	}
	if !fileExisted {
		rdlog.With("logicfile").Infof("init segment file %s", path)
	}

	lf.mu.Lock()
	defer lf.mu.Unlock()
	if int(segmentId) < len(lf.segments) && lf.segments[segmentId] != nil {
		// lost the race against a concurrent mapper; drop ours
		mapping.Unmap()
		return true, nil
	}
	if int(segmentId) >= len(lf.segments) {
		lf.segments = append(lf.segments, make([]*pm.Mapping, int(segmentId)+1-len(lf.segments))...)
	}
	lf.segments[segmentId] = mapping
	return true, nil
}

func (lf *LogicFile) reMapFile(segmentId uint32) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if int(segmentId) >= len(lf.segments) || lf.segments[segmentId] == nil {
		return nil
	}
	if len(lf.segments) >= lf.maxSegmentCount {
		return fmt.Errorf("logicfile: %s segment table exhausted (capacity %d)", lf.spaceName, lf.maxSegmentCount)
	}
	offset := uint32(len(lf.segments))
	lf.segments = append(lf.segments, lf.segments[segmentId])
	lf.segments[segmentId] = nil

	oldName := lf.segmentFilename(segmentId)
	newName := lf.segmentFilename(offset)
	if err := os.Rename(oldName, newName); err != nil {
		return fmt.Errorf("logicfile: relink %s to %s: %w", oldName, newName, err)
	}
	rdlog.With("logicfile").Infof("relinked %s to %s", oldName, newName)
	return nil
}
