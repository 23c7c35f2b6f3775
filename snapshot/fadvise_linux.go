//go:build linux

package snapshot

import (
	"golang.org/x/sys/unix"

	"github.com/hupe1980/warmgo/internal/fs"
)

// fadviseSequential hints the kernel that the save-file will be read front
// to back, enabling aggressive readahead. Best effort; failures are
// ignored.
func fadviseSequential(f fs.File) {
	fd, ok := f.(interface{ Fd() uintptr })
	if !ok {
		return
	}
	_ = unix.Fadvise(int(fd.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
