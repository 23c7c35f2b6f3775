package pagecache

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// forkKey identifies one (namespace, file, fork) stream during a scan.
type forkKey struct {
	namespace uint32
	file      uint32
	fork      uint32
}

// Scan walks the descriptor table once and returns the tag of every
// resident, valid page. The result is unordered; the snapshot writer sorts
// it.
//
// All mapping partition locks are taken shared in ascending index order and
// released in strictly reverse order; violating that order risks deadlock
// against fetches that lock partition pairs. Each descriptor is inspected
// under its own short lock, independent of how long the partition locks are
// held.
//
// Scan has no side effects on page contents. It returns
// ErrDuplicateResident if two descriptors carry the same tag.
func (c *Cache) Scan() ([]PageTag, error) {
	for i := range c.parts {
		c.parts[i].mu.RLock()
	}

	refs := make([]PageTag, 0, len(c.descs))
	for i := range c.descs {
		d := &c.descs[i]
		d.mu.Lock()
		if d.valid {
			refs = append(refs, d.tag)
		}
		d.mu.Unlock()
	}

	for i := len(c.parts) - 1; i >= 0; i-- {
		c.parts[i].mu.RUnlock()
	}

	if dup, ok := findDuplicate(refs); ok {
		return nil, fmt.Errorf("%w: namespace %d file %d fork %d block %d",
			ErrDuplicateResident, dup.Namespace, dup.File, dup.Fork, dup.Block)
	}
	return refs, nil
}

// findDuplicate checks the scanned collection's uniqueness invariant with
// one block bitmap per (namespace, file, fork) stream.
func findDuplicate(refs []PageTag) (PageTag, bool) {
	seen := make(map[forkKey]*roaring.Bitmap)
	for _, ref := range refs {
		key := forkKey{namespace: ref.Namespace, file: ref.File, fork: ref.Fork}
		bm := seen[key]
		if bm == nil {
			bm = roaring.New()
			seen[key] = bm
		}
		if !bm.CheckedAdd(ref.Block) {
			return ref, true
		}
	}
	return PageTag{}, false
}
