package testutil

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/hupe1980/warmgo/pagecache"
	"github.com/hupe1980/warmgo/snapshot"
)

// ForkSpec describes one fork of a fabricated storage file.
type ForkSpec struct {
	Fork   uint32
	Blocks uint32
}

// FileSpec describes one fabricated storage file.
type FileSpec struct {
	ID    uint32
	Forks []ForkSpec
}

// NamespaceSpec describes one fabricated namespace.
type NamespaceSpec struct {
	ID    uint32
	Name  string
	Files []FileSpec
}

// MemoryCatalog implements snapshot.Catalog over a fixed set of fabricated
// namespaces. Safe for concurrent use; the specs are never mutated.
type MemoryCatalog struct {
	byID   map[uint32]NamespaceSpec
	byName map[string]NamespaceSpec
}

// NewMemoryCatalog creates a catalog holding the given namespaces.
func NewMemoryCatalog(namespaces ...NamespaceSpec) *MemoryCatalog {
	c := &MemoryCatalog{
		byID:   make(map[uint32]NamespaceSpec),
		byName: make(map[string]NamespaceSpec),
	}
	for _, ns := range namespaces {
		c.byID[ns.ID] = ns
		c.byName[ns.Name] = ns
	}
	return c
}

// NamespaceName resolves a namespace id to its display name.
func (c *MemoryCatalog) NamespaceName(_ context.Context, id uint32) (string, error) {
	ns, ok := c.byID[id]
	if !ok {
		return "", fmt.Errorf("namespace %d: %w", id, snapshot.ErrNotFound)
	}
	return ns.Name, nil
}

// OpenNamespace resolves a display name to a live handle.
func (c *MemoryCatalog) OpenNamespace(_ context.Context, name string) (snapshot.Namespace, error) {
	ns, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("namespace %q: %w", name, snapshot.ErrNotFound)
	}
	return &memoryNamespace{spec: ns}, nil
}

type memoryNamespace struct {
	spec NamespaceSpec
}

func (n *memoryNamespace) ID() uint32 { return n.spec.ID }

func (n *memoryNamespace) OpenFile(_ context.Context, fileID uint32) (snapshot.File, error) {
	for _, f := range n.spec.Files {
		if f.ID == fileID {
			return &memoryFile{spec: f}, nil
		}
	}
	return nil, fmt.Errorf("file %d: %w", fileID, snapshot.ErrNotFound)
}

func (n *memoryNamespace) Close() error { return nil }

type memoryFile struct {
	spec FileSpec
}

func (f *memoryFile) ForkExists(fork uint32) bool {
	for _, fk := range f.spec.Forks {
		if fk.Fork == fork {
			return true
		}
	}
	return false
}

func (f *memoryFile) BlockCount(fork uint32) uint32 {
	for _, fk := range f.spec.Forks {
		if fk.Fork == fork {
			return fk.Blocks
		}
	}
	return 0
}

func (f *memoryFile) Close() error { return nil }

// MemorySource implements pagecache.BlockSource by synthesizing block
// content from the tag. Tags registered via Deny return the given error.
type MemorySource struct {
	// BlockSize is the size of generated blocks. Defaults to 64.
	BlockSize int

	mu     sync.Mutex
	denied map[pagecache.PageTag]error
	reads  []pagecache.PageTag
}

// NewMemorySource creates a block source that serves every tag.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		BlockSize: 64,
		denied:    make(map[pagecache.PageTag]error),
	}
}

// Deny makes subsequent reads of tag fail with err.
func (s *MemorySource) Deny(tag pagecache.PageTag, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[tag] = err
}

// Reads returns every tag read so far, in order.
func (s *MemorySource) Reads() []pagecache.PageTag {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pagecache.PageTag, len(s.reads))
	copy(out, s.reads)
	return out
}

// ReadBlock synthesizes a block whose first bytes encode the tag, so tests
// can assert content round-trips.
func (s *MemorySource) ReadBlock(_ context.Context, tag pagecache.PageTag) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads = append(s.reads, tag)

	if err, ok := s.denied[tag]; ok {
		return nil, err
	}

	data := make([]byte, s.BlockSize)
	binary.LittleEndian.PutUint32(data[0:], tag.Namespace)
	binary.LittleEndian.PutUint32(data[4:], tag.File)
	binary.LittleEndian.PutUint32(data[8:], tag.Fork)
	binary.LittleEndian.PutUint32(data[12:], tag.Block)
	return data, nil
}

// RecordingFetcher implements snapshot.BlockFetcher and records the order
// in which blocks are requested. Tags registered via Fail return the given
// error instead.
type RecordingFetcher struct {
	mu      sync.Mutex
	fetched []pagecache.PageTag
	failed  map[pagecache.PageTag]error
}

// NewRecordingFetcher creates a fetcher that accepts every tag.
func NewRecordingFetcher() *RecordingFetcher {
	return &RecordingFetcher{
		failed: make(map[pagecache.PageTag]error),
	}
}

// Fail makes subsequent fetches of tag fail with err.
func (f *RecordingFetcher) Fail(tag pagecache.PageTag, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[tag] = err
}

// Fetch records the tag.
func (f *RecordingFetcher) Fetch(_ context.Context, tag pagecache.PageTag) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.failed[tag]; ok {
		return err
	}
	f.fetched = append(f.fetched, tag)
	return nil
}

// Fetched returns every successfully fetched tag, in order.
func (f *RecordingFetcher) Fetched() []pagecache.PageTag {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pagecache.PageTag, len(f.fetched))
	copy(out, f.fetched)
	return out
}
