package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/time/rate"

	"github.com/hupe1980/warmgo/internal/fs"
	"github.com/hupe1980/warmgo/pagecache"
)

// BlockFetcher issues the fetch-and-immediately-release requests that warm
// the cache. *pagecache.Cache satisfies it.
type BlockFetcher interface {
	Fetch(ctx context.Context, tag pagecache.PageTag) error
}

// ReplayerOptions configures a Replayer.
type ReplayerOptions struct {
	// DefaultNamespace is the namespace used to restore the reserved
	// global-objects file, whose header carries an empty name. It resolves
	// that file's files and forks only; the restored pages keep namespace 0.
	DefaultNamespace string

	// FetchRate throttles replay to this many block fetches per second.
	// Zero means unthrottled.
	FetchRate rate.Limit

	// FetchBurst is the throttle burst size; defaults to 1 when a rate is
	// set.
	FetchBurst int

	Logger *slog.Logger
}

// Replayer restores one save-file's pages into the cache.
type Replayer struct {
	fsys             fs.FileSystem
	dir              string
	catalog          Catalog
	fetcher          BlockFetcher
	defaultNamespace string
	limiter          *rate.Limiter
	logger           *slog.Logger
}

// NewReplayer creates a Replayer reading save-files from dir.
func NewReplayer(fsys fs.FileSystem, dir string, catalog Catalog, fetcher BlockFetcher, optFns ...func(o *ReplayerOptions)) *Replayer {
	opts := ReplayerOptions{
		DefaultNamespace: "default",
		FetchBurst:       1,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if fsys == nil {
		fsys = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := &Replayer{
		fsys:             fsys,
		dir:              dir,
		catalog:          catalog,
		fetcher:          fetcher,
		defaultNamespace: opts.DefaultNamespace,
		logger:           opts.Logger,
	}
	if opts.FetchRate > 0 {
		burst := opts.FetchBurst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(opts.FetchRate, burst)
	}
	return r
}

// ReplayStats summarizes one replay pass.
type ReplayStats struct {
	BlocksRestored uint32
}

// Replay restores the save-file with the given id.
//
// Stale references (dropped namespace, rewritten file, removed fork,
// truncated blocks) are skipped at their respective granularity. Corruption
// and I/O or fetch failures are fatal for this replay; the save-file is
// then left in place. The file is deleted only after a full pass, so a
// replay stopped early by ctx leaves it for the next startup.
func (r *Replayer) Replay(ctx context.Context, id int) (ReplayStats, error) {
	var stats ReplayStats

	path := FilePath(r.dir, id)
	f, err := r.fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return stats, fmt.Errorf("open save-file %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	// Replay reads are the sequential scan this file was sorted for.
	fadviseSequential(f)

	rr := newRecordReader(f, path)
	name, err := rr.readHeader()
	if err != nil {
		return stats, err
	}
	if id == GlobalFileID && name != "" {
		return stats, &CorruptError{Path: path, Offset: 4, Reason: "global save-file carries a namespace name"}
	}
	if id != GlobalFileID && name == "" {
		return stats, &CorruptError{Path: path, Offset: 4, Reason: "save-file header has an empty namespace name"}
	}

	nsName := name
	if id == GlobalFileID {
		nsName = r.defaultNamespace
	}

	ns, err := r.catalog.OpenNamespace(ctx, nsName)
	if errors.Is(err, ErrNotFound) {
		// The namespace is gone; nothing in this file can be restored.
		r.logger.Warn("block reader: namespace no longer exists, discarding save-file",
			"reader", id, "namespace", nsName)
		_ = f.Close()
		return stats, r.removeSavefile(path)
	}
	if err != nil {
		return stats, fmt.Errorf("open namespace %q: %w", nsName, err)
	}
	defer func() { _ = ns.Close() }()

	// Shared objects are saved and restored under the reserved namespace 0.
	// The default namespace only resolves their files and forks; it never
	// rewrites their page identity.
	tagNamespace := ns.ID()
	if id == GlobalFileID {
		tagNamespace = pagecache.GlobalNamespace
	}

	var (
		file      File
		haveFile  bool
		haveFork  bool
		curFile   uint32
		curFork   uint32
		prevBlock = invalidBlock
		nblocks   uint32
		skipFile  bool
		skipFork  bool
		skipBlock bool
	)
	defer func() {
		if file != nil {
			_ = file.Close()
		}
	}()

	for {
		// A shutdown request is honored once per decoded record.
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rec, err := rr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, err
		}

		switch rec.tag {
		case TagFile:
			if file != nil {
				_ = file.Close()
				file = nil
			}
			haveFile = true
			haveFork = false
			curFile = rec.value
			prevBlock = invalidBlock
			nblocks = 0
			skipFork, skipBlock = false, false

			fh, err := ns.OpenFile(ctx, rec.value)
			if errors.Is(err, ErrNotFound) {
				// Rewritten or dropped since the snapshot; skip until the
				// next file record.
				r.logger.Debug("block reader: skipping stale file",
					"reader", id, "file", rec.value)
				skipFile = true
				continue
			}
			if err != nil {
				return stats, fmt.Errorf("open file %d: %w", rec.value, err)
			}
			skipFile = false
			file = fh

		case TagFork:
			if !haveFile {
				return stats, &CorruptError{Path: path, Offset: rr.off,
					Reason: "fork record without a preceding file record"}
			}
			haveFork = true
			curFork = rec.value
			prevBlock = invalidBlock
			nblocks = 0
			skipBlock = false

			if skipFile {
				continue
			}
			if !file.ForkExists(rec.value) {
				r.logger.Debug("block reader: skipping absent fork",
					"reader", id, "file", curFile, "fork", rec.value)
				skipFork = true
				continue
			}
			skipFork = false
			nblocks = file.BlockCount(rec.value)

		case TagBlock:
			if !haveFork {
				return stats, &CorruptError{Path: path, Offset: rr.off,
					Reason: "block record without a preceding fork record"}
			}
			prevBlock = rec.value

			if skipFile || skipFork {
				continue
			}
			if rec.value >= nblocks {
				// The fork shrank since the snapshot was taken.
				r.logger.Debug("block reader: skipping truncated block",
					"reader", id, "file", curFile, "fork", curFork, "block", rec.value)
				skipBlock = true
				continue
			}
			skipBlock = false

			fetched, err := r.fetch(ctx, tagNamespace, curFile, curFork, rec.value)
			if err != nil {
				return stats, err
			}
			if fetched {
				stats.BlocksRestored++
			}

		case TagRange:
			if prevBlock == invalidBlock {
				return stats, &CorruptError{Path: path, Offset: rr.off,
					Reason: "range record without a preceding block record"}
			}
			if skipFile || skipFork || skipBlock {
				continue
			}

			for block := prevBlock + 1; block <= prevBlock+rec.value; block++ {
				if block >= nblocks {
					r.logger.Debug("block reader: range truncated",
						"reader", id, "file", curFile, "fork", curFork,
						"block", block, "end", prevBlock+rec.value)
					break
				}
				fetched, err := r.fetch(ctx, tagNamespace, curFile, curFork, block)
				if err != nil {
					return stats, err
				}
				if fetched {
					stats.BlocksRestored++
				}
			}
		}
	}

	if file != nil {
		_ = file.Close()
		file = nil
	}

	r.logger.Info("block reader: restored blocks", "reader", id, "blocks", stats.BlocksRestored)

	_ = f.Close()
	return stats, r.removeSavefile(path)
}

// fetch throttles if configured, then issues one fetch-and-release. An
// out-of-range response is an expected race against concurrent truncation
// and is skipped; anything else is fatal for the replay.
func (r *Replayer) fetch(ctx context.Context, namespace, file, fork, block uint32) (bool, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	tag := pagecache.PageTag{Namespace: namespace, File: file, Fork: fork, Block: block}
	err := r.fetcher.Fetch(ctx, tag)
	if errors.Is(err, pagecache.ErrOutOfRange) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fetch block %d of file %d fork %d: %w", block, file, fork, err)
	}
	return true, nil
}

func (r *Replayer) removeSavefile(path string) error {
	if err := r.fsys.Remove(path); err != nil {
		return fmt.Errorf("remove save-file %q: %w", path, err)
	}
	return nil
}
