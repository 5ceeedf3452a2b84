// Package config parses the engine's PM directory configuration (§6 of
// the design) and loads the structured engine options.
package config

import (
	"os"
	"strings"

	"github.com/iDC-NEU/ReviveDB/pkg/rdlog"
)

// MaxGroup is the maximum number of NUMA-local PM directories the engine
// supports, mirroring original_source's NVMDB_MAX_GROUP.
const MaxGroup = 4

// DirectoryConfig is the ordered list of NUMA-local PM mount points,
// indexed by NUMA node. A LogicFile places its segment file s on
// directory s % len(Paths).
type DirectoryConfig struct {
	paths []string
}

// NewDirectoryConfig parses a semicolon-delimited directory list. When
// init is true the contents of every directory are removed before the
// directory is (re)created, matching original_source's
// DirectoryConfig constructor.
func NewDirectoryConfig(dirPathsString string, init bool) (*DirectoryConfig, error) {
	var paths []string
	seen := make(map[string]bool)
	for _, p := range strings.Split(dirPathsString, ";") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if seen[p] {
			return nil, ErrDuplicateDirectory
		}
		seen[p] = true
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return nil, ErrNoDirectories
	}
	if len(paths) > MaxGroup {
		return nil, ErrTooManyDirectories
	}

	log := rdlog.With("config")
	for _, p := range paths {
		if init {
			if err := os.RemoveAll(p); err != nil {
				return nil, err
			}
			log.Infof("cleared directory %s (init=true)", p)
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, err
		}
	}
	return &DirectoryConfig{paths: paths}, nil
}

// Size returns the number of configured directories.
func (c *DirectoryConfig) Size() int { return len(c.paths) }

// PathByIndex returns the directory for a round-robin index hint,
// wrapping modulo the directory count.
func (c *DirectoryConfig) PathByIndex(indexHint int) string {
	return c.paths[c.idForIndex(indexHint)]
}

// DirIDForIndex returns which directory index owns a given round-robin
// index hint (0-based, < Size()).
func (c *DirectoryConfig) DirIDForIndex(indexHint int) int {
	return c.idForIndex(indexHint)
}

func (c *DirectoryConfig) idForIndex(indexHint int) int {
	n := len(c.paths)
	m := indexHint % n
	if m < 0 {
		m += n
	}
	return m
}

// Paths returns a copy of the configured directory list, in NUMA-node
// order.
func (c *DirectoryConfig) Paths() []string {
	out := make([]string, len(c.paths))
	copy(out, c.paths)
	return out
}
