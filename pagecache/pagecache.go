package pagecache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// descriptor is one slot in the fixed page table. Its state is only ever
// inspected or mutated under its own lock, which is independent of the
// mapping partition locks and always acquired after them.
type descriptor struct {
	mu    sync.Mutex
	tag   PageTag
	valid bool
	pins  int32
	usage uint8 // clock reference bit, saturating
	data  []byte
}

// partition is one slice of the tag-to-descriptor mapping table.
type partition struct {
	mu    sync.RWMutex
	pages map[PageTag]int
}

// Cache is a fixed-capacity page cache backed by a BlockSource.
//
// The mapping table is split into NumPartitions independently locked
// partitions so that concurrent fetches of unrelated pages do not contend.
// Victim selection is a clock sweep over the descriptor table.
type Cache struct {
	source BlockSource
	descs  []descriptor
	parts  [NumPartitions]partition

	hand      atomic.Uint64
	resident  atomic.Int64
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache holding at most capacity pages, reading misses from
// source.
func New(capacity int, source BlockSource) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid cache capacity %d", capacity)
	}
	if source == nil {
		return nil, fmt.Errorf("nil block source")
	}

	c := &Cache{
		source: source,
		descs:  make([]descriptor, capacity),
	}
	for i := range c.parts {
		c.parts[i].pages = make(map[PageTag]int)
	}
	return c, nil
}

// Capacity returns the maximum number of resident pages.
func (c *Cache) Capacity() int { return len(c.descs) }

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Capacity:  len(c.descs),
		Resident:  int(c.resident.Load()),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

func partitionIndex(tag PageTag) int {
	// FNV-1a over the four tag words.
	h := uint32(2166136261)
	for _, v := range [4]uint32{tag.Namespace, tag.File, tag.Fork, tag.Block} {
		for i := 0; i < 4; i++ {
			h ^= (v >> (8 * i)) & 0xff
			h *= 16777619
		}
	}
	return int(h % NumPartitions)
}

// Contains reports whether the page named by tag is currently resident.
func (c *Cache) Contains(tag PageTag) bool {
	p := &c.parts[partitionIndex(tag)]
	p.mu.RLock()
	_, ok := p.pages[tag]
	p.mu.RUnlock()
	return ok
}

// Fetch ensures the page named by tag is resident, reading it from the
// BlockSource on a miss, then immediately releases it. This is the replay
// primitive. ErrOutOfRange from the source is passed through unchanged.
func (c *Cache) Fetch(ctx context.Context, tag PageTag) error {
	_, release, err := c.Get(ctx, tag)
	if err != nil {
		return err
	}
	release()
	return nil
}

// Get returns the contents of the page named by tag, pinned against
// eviction until release is called. Misses are read through the
// BlockSource.
func (c *Cache) Get(ctx context.Context, tag PageTag) (data []byte, release func(), err error) {
	if data, release, ok := c.pin(tag); ok {
		c.hits.Add(1)
		return data, release, nil
	}

	c.misses.Add(1)

	blk, err := c.source.ReadBlock(ctx, tag)
	if err != nil {
		return nil, nil, err
	}
	if err := c.insert(tag, blk); err != nil {
		return nil, nil, err
	}

	// The inserted page can be evicted before we re-pin it under heavy
	// pressure; in that case serve the copy we already hold.
	if data, release, ok := c.pin(tag); ok {
		return data, release, nil
	}
	return blk, func() {}, nil
}

// pin looks up a resident page, pins it and sets its reference bit.
func (c *Cache) pin(tag PageTag) ([]byte, func(), bool) {
	p := &c.parts[partitionIndex(tag)]
	p.mu.RLock()
	idx, ok := p.pages[tag]
	p.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}

	d := &c.descs[idx]
	d.mu.Lock()
	if !d.valid || d.tag != tag {
		d.mu.Unlock()
		return nil, nil, false
	}
	d.pins++
	if d.usage < 3 {
		d.usage++
	}
	data := d.data
	d.mu.Unlock()

	return data, func() {
		d.mu.Lock()
		d.pins--
		d.mu.Unlock()
	}, true
}

// insert places data into a free or evicted descriptor and publishes the
// mapping. Loses gracefully if another goroutine inserted the same tag
// concurrently.
func (c *Cache) insert(tag PageTag, data []byte) error {
	newIdx := partitionIndex(tag)

	// Two sweeps: the first pass decays reference bits, the second takes
	// whatever is unpinned.
	for attempt := 0; attempt < 2*len(c.descs); attempt++ {
		idx := int(c.hand.Add(1)-1) % len(c.descs)
		d := &c.descs[idx]

		d.mu.Lock()
		if d.pins > 0 {
			d.mu.Unlock()
			continue
		}
		if d.valid && d.usage > 0 {
			d.usage--
			d.mu.Unlock()
			continue
		}
		oldTag, oldValid := d.tag, d.valid
		d.mu.Unlock()

		if c.claim(d, idx, oldTag, oldValid, tag, newIdx, data) {
			return nil
		}
	}
	return ErrCacheFull
}

// claim re-acquires locks in the documented order (partitions by ascending
// index, then descriptor) and re-validates the victim before replacing it.
func (c *Cache) claim(d *descriptor, idx int, oldTag PageTag, oldValid bool, tag PageTag, newIdx int, data []byte) bool {
	oldIdx := newIdx
	if oldValid {
		oldIdx = partitionIndex(oldTag)
	}

	c.lockPartitionPair(oldIdx, newIdx)
	defer c.unlockPartitionPair(oldIdx, newIdx)

	newPart := &c.parts[newIdx]
	if _, exists := newPart.pages[tag]; exists {
		// Another fetch of the same page won the race; nothing to do.
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// The descriptor may have been pinned, referenced or re-tagged between
	// the sweep and here.
	if d.pins > 0 || d.usage > 0 || d.valid != oldValid || (oldValid && d.tag != oldTag) {
		return false
	}

	if oldValid {
		delete(c.parts[oldIdx].pages, oldTag)
		c.evictions.Add(1)
	} else {
		c.resident.Add(1)
	}

	d.tag = tag
	d.valid = true
	d.usage = 1
	d.data = data
	newPart.pages[tag] = idx
	return true
}

// lockPartitionPair acquires two partition locks in ascending index order,
// the same total order Scan uses, so concurrent evictions cannot deadlock.
func (c *Cache) lockPartitionPair(a, b int) {
	switch {
	case a == b:
		c.parts[a].mu.Lock()
	case a < b:
		c.parts[a].mu.Lock()
		c.parts[b].mu.Lock()
	default:
		c.parts[b].mu.Lock()
		c.parts[a].mu.Lock()
	}
}

func (c *Cache) unlockPartitionPair(a, b int) {
	if a == b {
		c.parts[a].mu.Unlock()
		return
	}
	c.parts[a].mu.Unlock()
	c.parts[b].mu.Unlock()
}
