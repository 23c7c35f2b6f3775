// Package warmgo keeps a page cache warm across restarts.
//
// A cold cache after a restart means every request pays full storage
// latency until the working set trickles back in. Warmgo removes that
// penalty: at shutdown it records which pages the cache held, and at
// startup it schedules workers that fetch those pages back before
// traffic arrives.
//
// # Quick Start
//
//	cache := pagecache.New(1<<16, source)
//	h, _ := warmgo.New(cache, catalog, "./snapshots",
//	    warmgo.WithEnabled(true),
//	)
//	go h.Run(ctx)
//
// On cancellation of ctx, Run scans the cache and writes one save-file
// per namespace into the snapshot directory. The next Run discovers
// those files and replays them, one worker at a time by default:
//
//	warmgo.WithParallelRestore(true)       // all files at once
//	warmgo.WithMaxParallelRestores(4)      // bounded fan-out
//
// # Save-File Format
//
// Save-files are compact by construction: page identities are sorted and
// consecutive blocks collapse into range records, so a densely cached
// table costs a handful of bytes. Replay reads them sequentially and
// skips anything that no longer exists: a dropped namespace, a removed
// file, a truncated fork. Stale entries are never an error.
//
// # Archiving
//
// With WithArchive, snapshots are also pushed to object storage at
// shutdown and pulled on a node whose snapshot directory is empty, so a
// fresh replica can boot with a peer's working set. See package archive.
package warmgo
