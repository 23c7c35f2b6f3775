// Package pagecache implements a fixed-size, lock-partitioned page cache.
//
// The cache is the structure the hibernation machinery observes and warms:
// the scanner walks it under its partition locks to collect the resident
// working set, and the replayer re-populates it through Fetch.
package pagecache

import (
	"context"
	"errors"
)

// NumPartitions is the number of mapping-table partitions. Partition locks
// are always acquired in ascending index order; see Scan.
const NumPartitions = 128

var (
	// ErrOutOfRange is returned by a BlockSource when the requested block
	// lies at or beyond the current size of its fork. The replayer treats
	// this as an expected stale-reference condition, never as a failure.
	ErrOutOfRange = errors.New("block out of range")

	// ErrCacheFull is returned when every descriptor is pinned and no
	// victim can be evicted.
	ErrCacheFull = errors.New("page cache full: all pages pinned")

	// ErrDuplicateResident is returned by Scan when two descriptors carry
	// the same page tag, which violates the cache's uniqueness invariant.
	ErrDuplicateResident = errors.New("duplicate resident page tag")
)

// GlobalNamespace is the reserved Namespace value for pages of
// shared/global objects. Such pages keep this identity across a save
// and restore cycle; no live namespace may claim it.
const GlobalNamespace uint32 = 0

// PageTag identifies one cache-resident page. Namespace 0 is reserved for
// shared/global objects and sorts first.
type PageTag struct {
	Namespace uint32 // logical database/catalog
	File      uint32 // on-disk storage object identity
	Fork      uint32 // sub-stream of the file (main data, metadata, ...)
	Block     uint32 // zero-based page index within file+fork
}

// Compare orders tags by (namespace, file, fork, block) ascending. This
// ordering drives per-namespace grouping, run-length compression and the
// sequential restore reads the whole design exists for.
func (t PageTag) Compare(o PageTag) int {
	switch {
	case t.Namespace != o.Namespace:
		return cmpUint32(t.Namespace, o.Namespace)
	case t.File != o.File:
		return cmpUint32(t.File, o.File)
	case t.Fork != o.Fork:
		return cmpUint32(t.Fork, o.Fork)
	default:
		return cmpUint32(t.Block, o.Block)
	}
}

func cmpUint32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// BlockSource reads page contents from backing storage on a cache miss.
type BlockSource interface {
	// ReadBlock returns the contents of the page named by tag, or
	// ErrOutOfRange if the block index is at or beyond the fork's current
	// size.
	ReadBlock(ctx context.Context, tag PageTag) ([]byte, error)
}

// Stats contains cache counters for observability.
type Stats struct {
	Capacity  int
	Resident  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}
