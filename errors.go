package warmgo

import "errors"

var (
	// ErrNilCache is returned by New when no page cache is supplied.
	ErrNilCache = errors.New("nil page cache")

	// ErrNilCatalog is returned by New when no catalog is supplied.
	ErrNilCatalog = errors.New("nil catalog")

	// ErrEmptyDirectory is returned by New when no snapshot directory is
	// supplied.
	ErrEmptyDirectory = errors.New("empty snapshot directory path")
)
