//go:build linux

package sys

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrPreallocNotSupported indicates the underlying filesystem cannot
// preallocate space; callers treat it as a no-op.
var ErrPreallocNotSupported = errors.New("preallocation not supported")

// Preallocate attempts to allocate space for the given file without changing
// the visible file size using fallocate where available. Unsupported
// filesystems report ErrPreallocNotSupported, which callers ignore.
func Preallocate(f FileHandle, size int64) error {
	if size <= 0 {
		return nil
	}
	fg, ok := f.(interface{ Fd() uintptr })
	if !ok {
		return ErrPreallocNotSupported
	}
	fd := int(fg.Fd())

	err := unix.Fallocate(fd, unix.FALLOC_FL_KEEP_SIZE, 0, size)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOTTY) {
		return ErrPreallocNotSupported
	}
	return err
}
