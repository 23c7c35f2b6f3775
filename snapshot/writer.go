package snapshot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/hupe1980/warmgo/internal/fs"
	"github.com/hupe1980/warmgo/pagecache"
)

// Writer persists a scanned resident set as one save-file per namespace.
type Writer struct {
	fsys    fs.FileSystem
	dir     string
	catalog Catalog
	logger  *slog.Logger
}

// NewWriter creates a Writer emitting into dir.
func NewWriter(fsys fs.FileSystem, dir string, catalog Catalog, logger *slog.Logger) *Writer {
	if fsys == nil {
		fsys = fs.Default
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Writer{fsys: fsys, dir: dir, catalog: catalog, logger: logger}
}

// SaveStats summarizes one save pass.
type SaveStats struct {
	Pages int // resident pages recorded
	Files int // save-files written, including the global file
}

// openFile is the writer's per-file cursor state.
type openFile struct {
	f    fs.File
	rw   *recordWriter
	path string
}

// Save sorts refs by (namespace, file, fork, block), partitions them by
// namespace and writes one run-length-compressed save-file per namespace.
// The sort is what makes restore reads sequential; ranges never span a
// namespace, file or fork boundary.
//
// Any I/O failure or namespace name resolution failure aborts the whole
// save. A partially written save-file set is an accepted shutdown risk.
//
// Save owns refs for the duration of the call and sorts it in place.
func (w *Writer) Save(ctx context.Context, refs []pagecache.PageTag) (SaveStats, error) {
	slices.SortFunc(refs, pagecache.PageTag.Compare)

	// The global-objects file is always written, even for an empty scan.
	// Global pages (namespace 0) sort first, so they land in it naturally.
	cur, err := w.create(GlobalFileID, "")
	if err != nil {
		return SaveStats{}, err
	}
	defer func() {
		if cur != nil {
			_ = cur.f.Close()
		}
	}()

	var (
		fileSeq       = GlobalFileID
		prevNamespace = pagecache.GlobalNamespace
		prevFile      = invalidFile
		prevFork      = invalidFork
	)

	for i := 0; i < len(refs); i++ {
		ref := refs[i]

		if ref.Namespace != prevNamespace {
			if err := w.finish(cur); err != nil {
				cur = nil
				return SaveStats{}, err
			}
			cur = nil

			name, err := w.catalog.NamespaceName(ctx, ref.Namespace)
			if err != nil {
				return SaveStats{}, fmt.Errorf("resolve namespace %d: %w", ref.Namespace, err)
			}
			if name == "" {
				return SaveStats{}, fmt.Errorf("namespace %d resolved to an empty name", ref.Namespace)
			}

			fileSeq++
			if cur, err = w.create(fileSeq, name); err != nil {
				return SaveStats{}, err
			}

			prevNamespace = ref.Namespace
			prevFile = invalidFile
			prevFork = invalidFork
		}

		if ref.File != prevFile {
			if err := cur.rw.writeRecord(TagFile, ref.File); err != nil {
				return SaveStats{}, err
			}
			prevFile = ref.File
			prevFork = invalidFork
		}

		if ref.Fork != prevFork {
			if err := cur.rw.writeRecord(TagFork, ref.Fork); err != nil {
				return SaveStats{}, err
			}
			prevFork = ref.Fork
		}

		if err := cur.rw.writeRecord(TagBlock, ref.Block); err != nil {
			return SaveStats{}, err
		}

		// Greedily absorb an immediately-consecutive run of blocks in the
		// same stream into a single range record.
		var runLen uint32
		for j := i + 1; j < len(refs); j++ {
			next := refs[j]
			if next.Namespace == ref.Namespace &&
				next.File == ref.File &&
				next.Fork == ref.Fork &&
				next.Block == ref.Block+runLen+1 {
				runLen++
			} else {
				break
			}
		}
		if runLen > 0 {
			if err := cur.rw.writeRecord(TagRange, runLen); err != nil {
				return SaveStats{}, err
			}
			i += int(runLen)
		}
	}

	if err := w.finish(cur); err != nil {
		cur = nil
		return SaveStats{}, err
	}
	cur = nil

	w.logger.Info("buffer saver: saved page metadata", "pages", len(refs), "files", fileSeq)
	return SaveStats{Pages: len(refs), Files: fileSeq}, nil
}

func (w *Writer) create(id int, name string) (*openFile, error) {
	path := FilePath(w.dir, id)
	f, err := w.fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create save-file %q: %w", path, err)
	}

	rw := newRecordWriter(f, path)
	if err := rw.writeHeader(name); err != nil {
		_ = f.Close()
		return nil, err
	}

	w.logger.Debug("writer: opened save-file", "id", id, "namespace", name)
	return &openFile{f: f, rw: rw, path: path}, nil
}

func (w *Writer) finish(cur *openFile) error {
	if err := cur.rw.flush(); err != nil {
		_ = cur.f.Close()
		return err
	}
	if err := cur.f.Sync(); err != nil {
		_ = cur.f.Close()
		return fmt.Errorf("sync %q: %w", cur.path, err)
	}
	if err := cur.f.Close(); err != nil {
		return fmt.Errorf("close %q: %w", cur.path, err)
	}
	return nil
}
