//go:build !linux

package sys

import "errors"

// ErrPreallocNotSupported indicates the underlying filesystem cannot
// preallocate space; callers treat it as a no-op.
var ErrPreallocNotSupported = errors.New("preallocation not supported")

// Preallocate is a no-op on platforms without fallocate support.
func Preallocate(_ FileHandle, _ int64) error {
	return ErrPreallocNotSupported
}
