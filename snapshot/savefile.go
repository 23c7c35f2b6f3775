package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/warmgo/internal/fs"
)

const savefileSuffix = ".save"

// FileName returns the save-file name for a numeric id.
func FileName(id int) string {
	return strconv.Itoa(id) + savefileSuffix
}

// FilePath returns the full path of a save-file within dir.
func FilePath(dir string, id int) string {
	return filepath.Join(dir, FileName(id))
}

// ParseFileName extracts the numeric id from a save-file name. Names that
// do not match `<id>.save` are not save-files and are skipped by discovery.
func ParseFileName(name string) (int, bool) {
	base, ok := strings.CutSuffix(name, savefileSuffix)
	if !ok || base == "" {
		return 0, false
	}
	id, err := strconv.Atoi(base)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// EnsureDirectory creates the snapshot directory if it is absent. An
// existing non-directory at that path is a fatal environment error.
func EnsureDirectory(fsys fs.FileSystem, dir string) error {
	st, err := fsys.Stat(dir)
	if err == nil {
		if !st.IsDir() {
			return fmt.Errorf("%w: %q", ErrNotDirectory, dir)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat snapshot directory %q: %w", dir, err)
	}
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create snapshot directory %q: %w", dir, err)
	}
	return nil
}

// DiscoverPending enumerates dir and returns the ids of all pending
// save-files in ascending order. Unparsable names are ignored; the reserved
// id 0 is never scheduled.
func DiscoverPending(fsys fs.FileSystem, dir string) ([]int, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot directory %q: %w", dir, err)
	}

	var ids []int
	for _, entry := range entries {
		id, ok := ParseFileName(entry.Name())
		if !ok {
			continue
		}
		if id == 0 {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
