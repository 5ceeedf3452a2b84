package undo

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/iDC-NEU/ReviveDB/pkg/config"
	"github.com/iDC-NEU/ReviveDB/pkg/logicfile"
	"go.uber.org/multierr"
)

// slotState is one entry of g_undoSegmentAllocated: whether a global
// undo segment is free, held by some thread, or still being
// recovered at startup.
type slotState int32

const (
	stateFree slotState = iota
	stateInUse
	stateUninitialized
)

// Registry owns every undo segment in the process and hands them out
// to attaching threads, NUMA-locally, the way InitLocalUndoSegment /
// DestroyLocalUndoSegment do.
type Registry struct {
	dirConfig *config.DirectoryConfig
	segments  []*Segment
	state     []int32 // slotState, accessed atomically

	mu          sync.Mutex
	clockSweep  uint64
	attachOrder uint64 // round-robins new threads across NUMA nodes
}

// NewRegistry creates count undo segments, one LogicFile each, and
// mounts them. Attach treats undoId % dirCount as a segment's
// directory index; each LogicFile places its own physical segment s in
// directory s % dirCount, so segment 0 of every undo file lies in the
// first directory whatever its undoId.
func NewRegistry(dirConfig *config.DirectoryConfig, count int, segmentSize int64, pageSize int64, maxSegmentsPerFile int, txSlots int) (*Registry, error) {
	r := &Registry{
		dirConfig: dirConfig,
		segments:  make([]*Segment, count),
		state:     make([]int32, count),
	}
	for i := 0; i < count; i++ {
		lf, err := logicfile.New(dirConfig, fmt.Sprintf("undo%d", i), segmentSize, pageSize, maxSegmentsPerFile)
		if err != nil {
			return nil, fmt.Errorf("undo: create segment %d: %w", i, err)
		}
		r.segments[i] = New(lf, uint32(i), txSlots)
		r.state[i] = int32(stateUninitialized)
	}
	return r, nil
}

// Segments exposes every undo segment, used by recovery and the
// reclaimer to iterate the whole registry.
func (r *Registry) Segments() []*Segment { return r.segments }

// Close unmounts every segment's LogicFile, collecting every error
// encountered rather than stopping at the first.
func (r *Registry) Close() error {
	var err error
	for _, seg := range r.segments {
		if uerr := seg.lf.Unmount(); uerr != nil {
			err = multierr.Append(err, uerr)
		}
	}
	return err
}

// SegmentByID returns the segment a TxSlotPtr or RecPtr names.
func (r *Registry) SegmentByID(id uint32) *Segment { return r.segments[id] }

// ReadUndoRecord resolves ptr to its owning segment before reading it,
// the cross-segment counterpart to Segment.ReadUndoRecord (which only
// ever sees its own segment's records).
func (r *Registry) ReadUndoRecord(ptr RecPtr) Record {
	return r.segments[ptr.SegmentID()].ReadUndoRecord(ptr)
}

// MarkRecovered transitions a segment from uninitialized to free once
// its recovery pass has completed.
func (r *Registry) MarkRecovered(segmentID uint32) {
	atomic.StoreInt32(&r.state[segmentID], int32(stateFree))
}

// Attach finds a free, not-full, NUMA-local undo segment for the
// calling thread and marks it in-use, mirroring InitLocalUndoSegment's
// clock-sweep scan. nodeID is the NUMA node this attach call should
// bind to (round-robin across attaches, per spec.md §4.5).
func (r *Registry) Attach(nodeID int) (*Segment, error) {
	dirCount := r.dirConfig.Size()
	for attempts := 0; attempts < len(r.segments)*4; attempts++ {
		r.mu.Lock()
		r.clockSweep++
		idx := r.clockSweep % uint64(len(r.segments))
		r.mu.Unlock()

		if atomic.LoadInt32(&r.state[idx]) != int32(stateFree) {
			continue
		}
		if int(idx)%dirCount != nodeID {
			continue
		}
		seg := r.segments[idx]
		if seg.IsFull() {
			continue
		}
		if atomic.CompareAndSwapInt32(&r.state[idx], int32(stateFree), int32(stateInUse)) {
			return seg, nil
		}
	}
	return nil, fmt.Errorf("undo: no free segment available on NUMA node %d", nodeID)
}

// Detach returns a segment to the free pool.
func (r *Registry) Detach(seg *Segment) {
	atomic.StoreInt32(&r.state[seg.SegmentID()], int32(stateFree))
}

// NextAttachNode returns the NUMA node a newly-attaching thread should
// bind to, round-robin across the configured directories.
func (r *Registry) NextAttachNode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.attachOrder
	r.attachOrder++
	return int(n % uint64(r.dirConfig.Size()))
}
