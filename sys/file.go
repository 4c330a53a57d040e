// Package sys abstracts filesystem access behind swappable handlers so that
// storage-layer failures can be injected in tests without touching the real
// filesystem implementation.
package sys

import (
	"io"
	"os"
	"sync/atomic"
)

// fileWrapper is a stable concrete type used to store the File interface
// inside an atomic.Value. atomic.Value requires that all stored values have
// the same concrete type; wrapping the File interface in this small struct
// ensures we can swap different File implementations safely.
type fileWrapper struct {
	f File
}

var defaultFile atomic.Value // stores fileWrapper

// File defines the operations the WAL needs from the filesystem. The default
// implementation delegates to the os package; tests may install their own to
// inject failures.
type File interface {
	Create(name string) (FileHandle, error)
	Open(name string) (FileHandle, error)
	OpenFile(name string, flag int, perm os.FileMode) (FileHandle, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
}

// FileHandle is the subset of *os.File the WAL and checkpoint layers use.
type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.Seeker

	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Name() string
}

func init() {
	defaultFile.Store(fileWrapper{f: &RealFS{}})
}

// SetDefaultFile swaps the process-wide File implementation. Intended for
// tests; the replacement takes effect for all subsequent calls.
func SetDefaultFile(file File) {
	defaultFile.Store(fileWrapper{f: file})
}

// ResetDefaultFile restores the real filesystem implementation.
func ResetDefaultFile() {
	defaultFile.Store(fileWrapper{f: &RealFS{}})
}

func current() File {
	p := defaultFile.Load()
	if p == nil {
		return &RealFS{}
	}
	fw, ok := p.(fileWrapper)
	if !ok || fw.f == nil {
		return &RealFS{}
	}
	return fw.f
}

// Create creates or truncates a file through the installed File implementation.
func Create(name string) (FileHandle, error) {
	return current().Create(name)
}

// Open opens a file read-only through the installed File implementation.
func Open(name string) (FileHandle, error) {
	return current().Open(name)
}

// OpenFile opens a file with explicit flags through the installed File implementation.
func OpenFile(name string, flag int, perm os.FileMode) (FileHandle, error) {
	return current().OpenFile(name, flag, perm)
}

// Remove deletes a file through the installed File implementation.
func Remove(name string) error {
	return current().Remove(name)
}

// Rename renames a file through the installed File implementation.
func Rename(oldpath, newpath string) error {
	return current().Rename(oldpath, newpath)
}
