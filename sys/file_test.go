package sys

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealFSRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")

	f, err := Create(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	st, err := r.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.Size())

	buf := make([]byte, 5)
	_, err = r.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestFaultFSFailRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "victim")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	ffs := NewFaultFS()
	injected := errors.New("disk on fire")
	ffs.FailRemove(path, injected)

	SetDefaultFile(ffs)
	defer ResetDefaultFile()

	err := Remove(path)
	assert.ErrorIs(t, err, injected)
	assert.FileExists(t, path)

	// Disarm and retry.
	ffs.FailRemove(path, nil)
	require.NoError(t, Remove(path))
	assert.NoFileExists(t, path)
}

func TestPreallocateDoesNotGrowFile(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(filepath.Join(dir, "seg"))
	require.NoError(t, err)
	defer f.Close()

	if err := Preallocate(f, 4096); err != nil {
		require.ErrorIs(t, err, ErrPreallocNotSupported)
		t.Skip("preallocation not supported on this filesystem")
	}

	st, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Size(), "KEEP_SIZE preallocation must not change the visible size")
}
