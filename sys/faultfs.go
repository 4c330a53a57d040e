package sys

import (
	"os"
	"sync"
)

var _ File = (*FaultFS)(nil)

// FaultFS wraps the real filesystem and fails selected operations. It exists
// so higher layers can test partial-failure behavior (for example a prune
// pass that cannot delete one segment) without reaching into their internals.
type FaultFS struct {
	mu         sync.Mutex
	removeErrs map[string]error
	real       RealFS
}

// NewFaultFS creates a FaultFS with no faults armed.
func NewFaultFS() *FaultFS {
	return &FaultFS{removeErrs: make(map[string]error)}
}

// FailRemove arms a failure for Remove calls on the given path. A nil err
// disarms it.
func (f *FaultFS) FailRemove(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.removeErrs, path)
		return
	}
	f.removeErrs[path] = err
}

func (f *FaultFS) Create(name string) (FileHandle, error) { return f.real.Create(name) }
func (f *FaultFS) Open(name string) (FileHandle, error)   { return f.real.Open(name) }

func (f *FaultFS) OpenFile(name string, flag int, perm os.FileMode) (FileHandle, error) {
	return f.real.OpenFile(name, flag, perm)
}

func (f *FaultFS) Remove(name string) error {
	f.mu.Lock()
	err, ok := f.removeErrs[name]
	f.mu.Unlock()
	if ok {
		return err
	}
	return f.real.Remove(name)
}

func (f *FaultFS) Rename(oldpath, newpath string) error {
	return f.real.Rename(oldpath, newpath)
}
