package warmgo

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/warmgo/pagecache"
	"github.com/hupe1980/warmgo/restore"
	"github.com/hupe1980/warmgo/snapshot"
)

// Config is the runtime-reconfigurable subset of the hibernator's
// behavior.
type Config struct {
	// Enabled gates both restore scheduling and the shutdown save.
	Enabled bool

	// ParallelRestore allows dispatching a replay worker while the
	// previous one is still running.
	ParallelRestore bool
}

// Hibernator preserves the page cache's working set across a restart: at
// shutdown it saves the identity of every resident page into per-namespace
// save-files, and at startup it schedules replay workers that fetch those
// pages back into the cache.
type Hibernator struct {
	cache   *pagecache.Cache
	catalog snapshot.Catalog
	dir     string
	opts    options

	logger  *Logger
	metrics MetricsCollector
	writer  *snapshot.Writer

	reconf chan Config
	wake   chan struct{}
}

// New creates a Hibernator operating on the given cache and snapshot
// directory. The directory is created on Run if absent.
func New(cache *pagecache.Cache, catalog snapshot.Catalog, dir string, optFns ...Option) (*Hibernator, error) {
	if cache == nil {
		return nil, ErrNilCache
	}
	if catalog == nil {
		return nil, ErrNilCatalog
	}
	if dir == "" {
		return nil, ErrEmptyDirectory
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &Hibernator{
		cache:   cache,
		catalog: catalog,
		dir:     dir,
		opts:    opts,
		logger:  opts.logger,
		metrics: opts.metrics,
		writer:  snapshot.NewWriter(opts.fsys, dir, catalog, opts.logger.Logger),
		reconf:  make(chan Config, 1),
		wake:    make(chan struct{}, 1),
	}
	return h, nil
}

// Reconfigure applies a new runtime configuration. It takes effect at the
// next scheduling tick, and the Enabled flag is re-read at shutdown, so
// enabling the mechanism while running still produces save-files.
func (h *Hibernator) Reconfigure(cfg Config) {
	for {
		select {
		case h.reconf <- cfg:
			return
		case <-h.reconf:
			// Drop a stale unconsumed config in favor of the newest.
		}
	}
}

// Save scans the cache and writes one save-file per namespace. It runs
// synchronously and is normally invoked by Run at shutdown, but may be
// called directly to snapshot on demand.
func (h *Hibernator) Save(ctx context.Context) (snapshot.SaveStats, error) {
	start := time.Now()

	refs, err := h.cache.Scan()
	if err == nil {
		var stats snapshot.SaveStats
		stats, err = h.writer.Save(ctx, refs)
		h.metrics.RecordSave(stats.Pages, stats.Files, time.Since(start), err)
		h.logger.LogSave(ctx, stats, err)
		return stats, err
	}

	h.metrics.RecordSave(0, 0, time.Since(start), err)
	h.logger.LogSave(ctx, snapshot.SaveStats{}, err)
	return snapshot.SaveStats{}, err
}

// Run is the orchestrator loop. It discovers pending save-files, then
// ticks the restore scheduler until ctx is canceled, waking early on
// worker exits and reconfiguration. On cancellation it stops scheduling
// and, if enabled, performs the shutdown save before returning.
//
// An unusable snapshot directory is fatal and returned immediately.
func (h *Hibernator) Run(ctx context.Context) error {
	if err := snapshot.EnsureDirectory(h.opts.fsys, h.dir); err != nil {
		return err
	}

	enabled := h.opts.enabled

	if enabled && h.opts.archiver != nil {
		h.pullArchive(ctx)
	}

	replayer := snapshot.NewReplayer(h.opts.fsys, h.dir, h.catalog, h.cache, func(o *snapshot.ReplayerOptions) {
		o.DefaultNamespace = h.opts.defaultNamespace
		o.FetchRate = h.opts.fetchRate
		o.FetchBurst = h.opts.fetchBurst
		o.Logger = h.logger.Logger
	})

	launcher := restore.NewGoroutineLauncher(ctx, h.replayFunc(replayer), h.logger.Logger)
	sched := restore.NewScheduler(&metricsLauncher{inner: launcher, metrics: h.metrics}, func(o *restore.Options) {
		o.Parallel = h.opts.parallelRestore
		o.MaxParallel = h.opts.maxParallel
		o.Notify = h.notifyWake
		o.Logger = h.logger.Logger
	})

	if enabled {
		ids, err := snapshot.DiscoverPending(h.opts.fsys, h.dir)
		if err != nil {
			return err
		}
		sched.SetPending(ids)
		h.logger.LogDiscovery(ctx, len(ids))
	}

	timer := time.NewTimer(h.opts.tickInterval)
	defer timer.Stop()

	for {
		sched.Tick()

		select {
		case <-ctx.Done():
			// A reconfiguration racing the shutdown still counts.
			select {
			case cfg := <-h.reconf:
				enabled = cfg.Enabled
			default:
			}
			return h.shutdown(ctx, enabled)

		case cfg := <-h.reconf:
			enabled = cfg.Enabled
			sched.SetParallel(cfg.ParallelRestore)

		case <-h.wake:

		case <-timer.C:
			timer.Reset(h.opts.tickInterval)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(h.opts.tickInterval)
	}
}

// shutdown runs the shutdown-time save. Remaining queue entries are
// abandoned; their save-files are still on disk and will be rediscovered
// on the next startup.
func (h *Hibernator) shutdown(ctx context.Context, enabled bool) error {
	if !enabled {
		return nil
	}

	// The surrounding ctx is already canceled; the save still has to run.
	saveCtx := context.WithoutCancel(ctx)

	if _, err := h.Save(saveCtx); err != nil {
		return err
	}

	if h.opts.archiver != nil {
		generation := time.Now().UTC().Format("20060102T150405Z")
		err := h.opts.archiver.Push(saveCtx, h.dir, generation)
		h.logger.LogArchivePush(saveCtx, generation, err)
	}
	return nil
}

// pullArchive seeds an empty snapshot directory from the latest archived
// generation, so a fresh replica can boot with a peer's working set.
// Best effort: failures are logged, never fatal.
func (h *Hibernator) pullArchive(ctx context.Context) {
	if err := snapshot.EnsureDirectory(h.opts.fsys, h.dir); err != nil {
		return
	}
	ids, err := snapshot.DiscoverPending(h.opts.fsys, h.dir)
	if err != nil || len(ids) > 0 {
		return
	}

	generation, err := h.opts.archiver.Latest(ctx)
	if err != nil {
		h.logger.LogArchivePull(ctx, generation, err)
		return
	}
	if generation == "" {
		return
	}
	err = h.opts.archiver.Pull(ctx, generation, h.dir)
	h.logger.LogArchivePull(ctx, generation, err)
}

func (h *Hibernator) replayFunc(replayer *snapshot.Replayer) restore.ReplayFunc {
	return func(ctx context.Context, id int) error {
		start := time.Now()
		stats, err := replayer.Replay(ctx, id)
		h.metrics.RecordReplay(id, stats.BlocksRestored, time.Since(start), err)
		return err
	}
}

func (h *Hibernator) notifyWake() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// metricsLauncher records every dispatch attempt.
type metricsLauncher struct {
	inner   restore.Launcher
	metrics MetricsCollector
}

func (l *metricsLauncher) Launch(id int, onExit func()) (restore.WorkerHandle, error) {
	handle, err := l.inner.Launch(id, onExit)
	l.metrics.RecordDispatch(id, err)
	return handle, err
}

// FetchRate re-exports rate.Limit so callers configuring WithFetchRate do
// not need to import golang.org/x/time/rate directly.
type FetchRate = rate.Limit
