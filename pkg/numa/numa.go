// Package numa enumerates NUMA nodes and their CPU lists and offers a
// best-effort thread-pinning primitive. On Linux it reads
// /sys/devices/system/node/node*/cpulist, exactly as
// original_source/src/common/numa.cpp does; the node/CPU map is cached
// after the first scan.
package numa

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
)

const nodeSysfsFmt = "/sys/devices/system/node/node%d/cpulist"

var (
	once     sync.Once
	mu       sync.RWMutex
	nodeCPUs = map[int][]int{}
	nodeCnt  = -1
)

// NodeCount returns the number of NUMA nodes visible under
// /sys/devices/system/node. Systems without that hierarchy (containers,
// non-Linux) report a single node, so the rest of the engine always has
// at least one NUMA directory to allocate from.
func NodeCount() int {
	once.Do(scanNodeCount)
	mu.RLock()
	defer mu.RUnlock()
	if nodeCnt <= 0 {
		return 1
	}
	return nodeCnt
}

func scanNodeCount() {
	mu.Lock()
	defer mu.Unlock()
	count := 0
	for {
		path := sysfsPath(count)
		if _, err := os.Stat(path); err != nil {
			break
		}
		count++
	}
	nodeCnt = count
}

func sysfsPath(node int) string {
	return "/sys/devices/system/node/node" + strconv.Itoa(node) + "/cpulist"
}

// CPUsForNode returns the CPU ids belonging to a NUMA node, parsing the
// "0-3,7,9-11" cpulist syntax. The result is cached; an empty slice
// means the node doesn't exist or its cpulist couldn't be read.
func CPUsForNode(nodeID int) []int {
	mu.RLock()
	if cpus, ok := nodeCPUs[nodeID]; ok {
		mu.RUnlock()
		return cpus
	}
	mu.RUnlock()

	cpus := readCPUList(sysfsPath(nodeID))

	mu.Lock()
	nodeCPUs[nodeID] = cpus
	mu.Unlock()
	return cpus
}

func readCPUList(path string) []int {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil
	}
	line := strings.TrimSpace(scanner.Text())
	if line == "" {
		return nil
	}

	var cpus []int
	for _, part := range strings.Split(line, ",") {
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			start, err1 := strconv.Atoi(part[:dash])
			end, err2 := strconv.Atoi(part[dash+1:])
			if err1 != nil || err2 != nil {
				continue
			}
			for cpu := start; cpu <= end; cpu++ {
				cpus = append(cpus, cpu)
			}
		} else {
			cpu, err := strconv.Atoi(part)
			if err == nil {
				cpus = append(cpus, cpu)
			}
		}
	}
	return cpus
}

// NodeForCounter maps a monotonically increasing attach counter to a
// NUMA node, round-robin, the way the undo-segment and extent
// allocators pick "the next" NUMA-local resource for a newly attaching
// thread (spec.md §4.5).
func NodeForCounter(counter uint64) int {
	n := NodeCount()
	return int(counter % uint64(n))
}
