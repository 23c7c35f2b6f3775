// Package fs provides the filesystem seam for save-file I/O.
//
// The snapshot writer, replayer and restore scheduler never touch the os
// package directly; they go through [FileSystem] so tests can substitute
// [FaultyFS] and exercise environment-error paths (unwritable directory,
// short reads, failed deletes) without real disk failures.
//
// Production code uses fs.Default, which is [LocalFS].
package fs
