package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("injected fault error")

// Fault defines failure behavior for files whose path matches a rule.
type Fault struct {
	FailOpen       bool  // Fail OpenFile outright.
	FailReadAfter  int64 // Fail reads after this many bytes read. -1 to disable.
	FailWriteAfter int64 // Fail writes after this many bytes written. -1 to disable.
	FailOnClose    bool
	FailRemove     bool
	Err            error // Defaults to ErrInjected.
}

// FaultyFS is a FileSystem wrapper that injects errors into matching files.
// Used by snapshot tests to exercise the environment-error paths.
type FaultyFS struct {
	FS FileSystem

	mu    sync.Mutex
	rules map[string]Fault // substring pattern -> fault
}

// NewFaultyFS creates a FaultyFS wrapping the provided FS (or Default if nil).
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	if fsys == nil {
		fsys = Default
	}
	return &FaultyFS{
		FS:    fsys,
		rules: make(map[string]Fault),
	}
}

// AddRule injects a fault for every file whose path contains pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fault.Err == nil {
		fault.Err = ErrInjected
	}
	f.rules[pattern] = fault
}

func (f *FaultyFS) match(name string) (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			return rule, true
		}
	}
	return Fault{}, false
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	fault, ok := f.match(name)
	if ok && fault.FailOpen {
		return nil, fault.Err
	}

	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	if !ok {
		return file, nil
	}
	return &faultyFile{File: file, fault: fault}, nil
}

func (f *FaultyFS) Remove(name string) error {
	if fault, ok := f.match(name); ok && fault.FailRemove {
		return fault.Err
	}
	return f.FS.Remove(name)
}

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	return f.FS.Rename(oldpath, newpath)
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error) {
	return f.FS.Stat(name)
}

func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error {
	return f.FS.MkdirAll(path, perm)
}

func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error) {
	return f.FS.ReadDir(name)
}

type faultyFile struct {
	File
	fault   Fault
	read    int64
	written int64
}

func (f *faultyFile) Read(p []byte) (int, error) {
	if f.fault.FailReadAfter >= 0 && f.read >= f.fault.FailReadAfter {
		return 0, f.fault.Err
	}
	n, err := f.File.Read(p)
	f.read += int64(n)
	return n, err
}

func (f *faultyFile) Write(p []byte) (int, error) {
	if f.fault.FailWriteAfter >= 0 && f.written >= f.fault.FailWriteAfter {
		return 0, f.fault.Err
	}
	n, err := f.File.Write(p)
	f.written += int64(n)
	return n, err
}

func (f *faultyFile) Close() error {
	err := f.File.Close()
	if f.fault.FailOnClose {
		return f.fault.Err
	}
	return err
}
