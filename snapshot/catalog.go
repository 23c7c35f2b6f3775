package snapshot

import "context"

// Catalog resolves between namespace identities and display names, and
// opens live handles for replay. It is the storage engine's catalog, not
// part of this module; implementations must return ErrNotFound (wrapped or
// not) for identities that no longer resolve.
type Catalog interface {
	// NamespaceName returns the display name of a namespace. Called by the
	// writer during a save; any failure aborts the save.
	NamespaceName(ctx context.Context, id uint32) (string, error)

	// OpenNamespace resolves a persisted display name to a live namespace
	// handle. ErrNotFound means the namespace was dropped or renamed since
	// the snapshot was taken.
	OpenNamespace(ctx context.Context, name string) (Namespace, error)
}

// Namespace is a live handle to one logical database/catalog.
type Namespace interface {
	// ID is the namespace identity pages of this namespace carry in their
	// cache tags. It must not be pagecache.GlobalNamespace: shared pages
	// keep that reserved identity through replay, and the namespace opened
	// for the global file resolves their files and forks only.
	ID() uint32

	// OpenFile resolves a persisted file identity to a live handle.
	// ErrNotFound means the file was rewritten or dropped since the
	// snapshot was taken.
	OpenFile(ctx context.Context, fileID uint32) (File, error)

	Close() error
}

// File is a live handle to one on-disk storage object.
type File interface {
	// ForkExists reports whether the fork currently exists.
	ForkExists(fork uint32) bool

	// BlockCount returns the fork's current size in blocks. Blocks at or
	// beyond this index were truncated away since the snapshot was taken.
	BlockCount(fork uint32) uint32

	Close() error
}
