// Package reclaim implements the background reclaimer: a periodic
// sweep that recycles every undo segment's rolled-back and
// old-enough-to-be-invisible TxSlots, bounding undo log growth (spec.md
// §4.7, grounded on
// original_source/src/undo/nvm_undo_segment.cpp's GetAndIncreaseWatermark
// / background-recycle loop).
package reclaim

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/iDC-NEU/ReviveDB/pkg/undo"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// SnapshotSource reports the oldest CSN any active transaction could
// still need, the bound a sweep recycles TxSlots against. Implemented
// by *txn.Manager; kept as an interface here so pkg/reclaim doesn't
// import pkg/txn (which itself will come to depend on recovery/engine
// wiring order, not on the reclaimer).
type SnapshotSource interface {
	MinActiveSnapshot() uint64
}

// Reclaimer periodically sweeps every undo segment in a Registry,
// fanning the per-segment recycle work out across a bounded worker
// pool so one slow Punch doesn't stall the others.
type Reclaimer struct {
	reg  *undo.Registry
	snap SnapshotSource
	pool *ants.Pool

	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New builds a Reclaimer. poolSize bounds how many segments are
// recycled concurrently in one sweep.
func New(reg *undo.Registry, snap SnapshotSource, poolSize int, interval time.Duration) (*Reclaimer, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}
	return &Reclaimer{
		reg:      reg,
		snap:     snap,
		pool:     pool,
		interval: interval,
		stop:     make(chan struct{}),
	}, nil
}

// Start runs sweeps on a ticker until Stop is called.
func (r *Reclaimer) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.RunOnce()
			}
		}
	}()
}

// Stop ends the background loop and waits for the in-flight sweep to
// drain.
func (r *Reclaimer) Stop() {
	close(r.stop)
	r.wg.Wait()
	r.pool.Release()
}

// RunOnce recycles every segment once against the current minimum
// active snapshot.
func (r *Reclaimer) RunOnce() {
	minSnapshot := r.snap.MinActiveSnapshot()
	var scanned int64
	var wg sync.WaitGroup

	for _, seg := range r.reg.Segments() {
		seg := seg
		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			seg.RecycleTxSlot(minSnapshot)
			atomic.AddInt64(&scanned, 1)
		})
		if err != nil {
			wg.Done()
			logrus.WithError(err).WithField("segment", seg.SegmentID()).Warn("reclaim: submit failed")
		}
	}
	wg.Wait()
	logrus.WithFields(logrus.Fields{
		"minSnapshot": minSnapshot,
		"segments":    atomic.LoadInt64(&scanned),
	}).Debug("reclaim: sweep complete")
}
