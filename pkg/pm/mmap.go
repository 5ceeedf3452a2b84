package pm

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mapping is one mmap'd segment file: the unit LogicFile mounts,
// extends and punches (spec.md §4.2). Segment byte ranges are fixed
// size and zero-filled by the OS on creation, matching
// pmem_map_file's PMEM_FILE_CREATE semantics for the non-PM fallback
// path this module always takes.
type Mapping struct {
	file *os.File
	data []byte
	base uintptr
}

var (
	registryMu sync.RWMutex
	registry   []*Mapping // kept sorted by base, for ownerOf's binary search
)

// MapSegment opens (creating if needed) a fixed-size segment file at
// path and maps it MAP_SHARED so writes are visible to any other
// process that maps the same file, and survive this process's exit
// once synced. If the file is shorter than size it is extended with
// Ftruncate, reproducing mMapFile's create-on-first-mount behavior.
func MapSegment(path string, size int64) (*Mapping, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("pm: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("pm: truncate %s to %d: %w", path, size, err)
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pm: mmap %s: %w", path, err)
	}
	m := &Mapping{file: f, data: data}
	if len(data) > 0 {
		m.base = uintptr(unsafe.Pointer(&data[0]))
	}
	registerMapping(m)
	return m, nil
}

// Bytes returns the full mapped region. Slices taken from it may be
// passed to Flush; ownerOf resolves them back to this Mapping.
func (m *Mapping) Bytes() []byte { return m.data }

// Unmap releases the mapping and closes the backing file descriptor.
// It does not delete the file; callers that want the "destroy"
// variant of LogicFile::unMMapFile remove the path themselves.
func (m *Mapping) Unmap() error {
	unregisterMapping(m)
	err := unix.Munmap(m.data)
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Sync flushes the whole mapping to the backing file, the coarse
// equivalent of a full-segment CLFLUSHOPT sweep.
func (m *Mapping) Sync() error {
	return unix.Msync(m.data, unix.MS_SYNC)
}

// syncRange msyncs only the pages covering region, which must be a
// subslice of m.data. msync operates at page granularity, so the
// offset and length are rounded out to the enclosing pages.
func (m *Mapping) syncRange(region []byte) {
	if len(region) == 0 {
		return
	}
	off := uintptr(unsafe.Pointer(&region[0])) - m.base
	end := off + uintptr(len(region))

	pageSize := uintptr(os.Getpagesize())
	start := (off / pageSize) * pageSize
	stop := ((end + pageSize - 1) / pageSize) * pageSize
	if int(stop) > len(m.data) {
		stop = uintptr(len(m.data))
	}
	_ = unix.Msync(m.data[start:stop], unix.MS_SYNC)
}

func registerMapping(m *Mapping) {
	registryMu.Lock()
	defer registryMu.Unlock()
	i := sort.Search(len(registry), func(i int) bool { return registry[i].base >= m.base })
	registry = append(registry, nil)
	copy(registry[i+1:], registry[i:])
	registry[i] = m
}

func unregisterMapping(m *Mapping) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for i, r := range registry {
		if r == m {
			registry = append(registry[:i], registry[i+1:]...)
			return
		}
	}
}

// ownerOf finds the Mapping that region was sliced from, by locating
// the mapping whose address range contains region's first byte.
func ownerOf(region []byte) *Mapping {
	if len(region) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&region[0]))

	registryMu.RLock()
	defer registryMu.RUnlock()
	i := sort.Search(len(registry), func(i int) bool { return registry[i].base > addr })
	if i == 0 {
		return nil
	}
	m := registry[i-1]
	if addr >= m.base && addr < m.base+uintptr(len(m.data)) {
		return m
	}
	return nil
}
