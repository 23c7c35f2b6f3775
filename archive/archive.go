package archive

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/warmgo/internal/fs"
	"github.com/hupe1980/warmgo/snapshot"
)

// ErrNotFound is returned when an archived object does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for the remote side of the archive: a flat
// keyspace of immutable objects.
type Store interface {
	// Put writes an object, replacing any previous content under name.
	Put(ctx context.Context, name string, r io.Reader) error

	// Open opens an object for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error

	// List returns all object names matching the prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Options configures an Archiver.
type Options struct {
	// Compression applied to save-files on Push. Pull detects the codec
	// from the object name regardless of this setting.
	Compression Compression

	// Concurrency bounds parallel object transfers. Defaults to 4.
	Concurrency int

	// FileSystem used for the local side of transfers.
	FileSystem fs.FileSystem

	// Logger for transfer diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Archiver copies save-file generations between a local snapshot directory
// and a Store, so a fresh replica can seed its cache from a peer's last
// working set.
//
// Objects are keyed "<generation>/<id>.save[<ext>]". Generations sort
// lexicographically; pushers are expected to use sortable names such as
// UTC timestamps.
type Archiver struct {
	store Store
	opts  Options
}

// New creates an Archiver on top of the given store.
func New(store Store, optFns ...func(o *Options)) *Archiver {
	opts := Options{
		Compression: CompressionNone,
		Concurrency: 4,
		FileSystem:  fs.Default,
		Logger:      slog.Default(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	return &Archiver{store: store, opts: opts}
}

// Push uploads every save-file in dir under the given generation name.
// Files that do not parse as save-files are ignored.
func (a *Archiver) Push(ctx context.Context, dir, generation string) error {
	entries, err := a.opts.FileSystem.ReadDir(dir)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, ok := snapshot.ParseFileName(name); !ok {
			continue
		}

		g.Go(func() error {
			return a.pushOne(ctx, filepath.Join(dir, name), path.Join(generation, name))
		})
	}

	return g.Wait()
}

func (a *Archiver) pushOne(ctx context.Context, localPath, key string) error {
	f, err := a.opts.FileSystem.OpenFile(localPath, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	key += a.opts.Compression.Ext()

	if a.opts.Compression == CompressionNone {
		return a.store.Put(ctx, key, f)
	}

	// Compress through a pipe so the store sees a plain stream.
	pr, pw := io.Pipe()
	go func() {
		cw, err := a.opts.Compression.NewWriter(pw)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(cw, f); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(cw.Close())
	}()

	if err := a.store.Put(ctx, key, pr); err != nil {
		_ = pr.CloseWithError(err)
		return err
	}

	a.opts.Logger.DebugContext(ctx, "archived save-file", slog.String("key", key))
	return nil
}

// Pull downloads the given generation into dir. Save-files already present
// locally are left untouched, so a directory with surviving files is never
// clobbered by older archived state.
func (a *Archiver) Pull(ctx context.Context, generation, dir string) error {
	prefix := generation + "/"

	keys, err := a.store.List(ctx, prefix)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)

	for _, key := range keys {
		name, comp, ok := splitKey(strings.TrimPrefix(key, prefix))
		if !ok {
			continue
		}

		localPath := filepath.Join(dir, name)
		if _, err := a.opts.FileSystem.Stat(localPath); err == nil {
			continue
		}

		key := key
		g.Go(func() error {
			return a.pullOne(ctx, key, localPath, comp)
		})
	}

	return g.Wait()
}

func (a *Archiver) pullOne(ctx context.Context, key, localPath string, comp Compression) error {
	r, err := a.store.Open(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	src, err := comp.NewReader(r)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	// Download to a temp name and rename, so a crashed pull never leaves a
	// truncated save-file behind for the reader to mistake for corruption.
	tmpPath := localPath + ".tmp"

	f, err := a.opts.FileSystem.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = a.opts.FileSystem.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = a.opts.FileSystem.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = a.opts.FileSystem.Remove(tmpPath)
		return err
	}

	if err := a.opts.FileSystem.Rename(tmpPath, localPath); err != nil {
		_ = a.opts.FileSystem.Remove(tmpPath)
		return err
	}

	a.opts.Logger.DebugContext(ctx, "restored archived save-file", slog.String("key", key))
	return nil
}

// Latest returns the lexicographically greatest generation name, or an
// empty string when the archive holds nothing.
func (a *Archiver) Latest(ctx context.Context) (string, error) {
	keys, err := a.store.List(ctx, "")
	if err != nil {
		return "", err
	}

	var latest string
	for _, key := range keys {
		generation, _, found := strings.Cut(key, "/")
		if !found || generation == "" {
			continue
		}
		if generation > latest {
			latest = generation
		}
	}

	return latest, nil
}

// Delete removes every object of the given generation.
func (a *Archiver) Delete(ctx context.Context, generation string) error {
	keys, err := a.store.List(ctx, generation+"/")
	if err != nil {
		return err
	}

	for _, key := range keys {
		if err := a.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Generations lists all archived generation names in ascending order.
func (a *Archiver) Generations(ctx context.Context) ([]string, error) {
	keys, err := a.store.List(ctx, "")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var generations []string
	for _, key := range keys {
		generation, _, found := strings.Cut(key, "/")
		if !found || generation == "" {
			continue
		}
		if _, ok := seen[generation]; ok {
			continue
		}
		seen[generation] = struct{}{}
		generations = append(generations, generation)
	}

	slices.Sort(generations)
	return generations, nil
}

// splitKey strips a compression extension from an object base name and
// validates the remainder as a save-file name.
func splitKey(base string) (name string, comp Compression, ok bool) {
	name, comp = DetectCompression(base)
	if _, ok := snapshot.ParseFileName(name); !ok {
		return "", CompressionNone, false
	}
	return name, comp, true
}
