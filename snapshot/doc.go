// Package snapshot implements the save-file format, the shutdown-time
// writer and the startup-time replayer.
//
// A save-file records the resident pages of one namespace: a
// length-prefixed namespace display name followed by a stream of tagged
// records ('r' file, 'f' fork, 'b' block, 'N' range). Files are named
// <id>.save; id 1 is reserved for shared/global objects and id 0 is never
// written.
//
// The writer sorts the scanned resident set by (namespace, file, fork,
// block) before emitting. That single sort yields the per-namespace
// grouping, lets consecutive blocks collapse into range records, and makes
// the restore pass touch each fork in ascending block order, turning the
// warm-up into sequential disk reads.
package snapshot
