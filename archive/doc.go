// Package archive copies save-file generations to and from remote object
// storage, so a freshly provisioned node can warm its cache from the last
// snapshot another node pushed.
//
// The Store interface abstracts the remote side; local directories,
// in-memory maps (for testing), Amazon S3 and MinIO implementations are
// provided. Save-files may be compressed in transit with zstd or lz4.
package archive
