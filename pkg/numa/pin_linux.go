//go:build linux

package numa

import (
	"github.com/iDC-NEU/ReviveDB/pkg/rdlog"
	"golang.org/x/sys/unix"
)

// BindCurrentThread pins the calling OS thread to the CPUs of nodeID.
// The caller must have already called runtime.LockOSThread(); binding a
// goroutine that can be rescheduled onto another OS thread would defeat
// the purpose. Affinity is a performance contract, not a correctness
// one (spec.md §9): a failure here is logged and swallowed.
func BindCurrentThread(nodeID int) bool {
	cpus := CPUsForNode(nodeID)
	if len(cpus) == 0 {
		return false
	}
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		rdlog.With("numa").Warnf("bind thread to node %d failed: %v", nodeID, err)
		return false
	}
	return true
}
