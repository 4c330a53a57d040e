package sys

import "os"

var _ File = (*RealFS)(nil)

// RealFS is the default File implementation backed by the os package.
type RealFS struct{}

func (RealFS) Create(name string) (FileHandle, error) {
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
}

func (RealFS) Open(name string) (FileHandle, error) {
	return os.Open(name)
}

func (RealFS) OpenFile(name string, flag int, perm os.FileMode) (FileHandle, error) {
	return os.OpenFile(name, flag, perm)
}

func (RealFS) Remove(name string) error {
	return os.Remove(name)
}

func (RealFS) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}
