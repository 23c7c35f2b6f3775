//go:build !linux

package snapshot

import "github.com/hupe1980/warmgo/internal/fs"

func fadviseSequential(fs.File) {}
