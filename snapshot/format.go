package snapshot

import (
	"errors"
	"fmt"
)

// On-disk record tags. A save-file is a length-prefixed namespace display
// name followed by a linear stream of tagged records.
const (
	// TagFile begins a new file within the namespace; payload is the
	// 4-byte file identity.
	TagFile = byte('r')

	// TagFork begins a new fork within the current file; payload is the
	// 4-byte fork number.
	TagFork = byte('f')

	// TagBlock names one resident block; payload is the 4-byte block
	// number.
	TagBlock = byte('b')

	// TagRange states that the N blocks immediately following the most
	// recent block record are also resident; payload is the 4-byte range
	// length.
	TagRange = byte('N')
)

const (
	// GlobalFileID is the save-file id reserved for shared/global objects.
	// Id 0 is reserved for the orchestrator itself and never written.
	GlobalFileID = 1

	// Cursor sentinels; none is a legal on-disk value.
	invalidFile  = ^uint32(0)
	invalidFork  = ^uint32(0)
	invalidBlock = ^uint32(0)

	// maxNameLen bounds the header name length on read, so a corrupt
	// length prefix cannot trigger a giant allocation.
	maxNameLen = 1 << 16
)

var (
	// ErrNotFound is returned by Catalog implementations when a persisted
	// identity no longer resolves to a live object.
	ErrNotFound = errors.New("not found")

	// ErrNotDirectory is returned when the snapshot location exists but is
	// not a directory.
	ErrNotDirectory = errors.New("snapshot location is not a directory")
)

// CorruptError reports a fatal decoding failure: an unknown record tag, a
// record without its required predecessor, or a truncated payload. The
// save-file is left in place for inspection.
type CorruptError struct {
	Path   string
	Offset int64
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt save-file %q at offset %d: %s", e.Path, e.Offset, e.Reason)
}
