package wal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/walvault/core"
	"github.com/INLOpen/walvault/hooks"
	"github.com/INLOpen/walvault/sys"
)

// sealSegments fills and rotates the WAL until it holds n sealed segments.
func sealSegments(t *testing.T, w *WAL, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := w.Append(makeEntry(uint64(i+1), fmt.Sprintf("key-%d", i), "v"))
		require.NoError(t, err)
		_, err = w.Rotate()
		require.NoError(t, err)
	}
}

func prunableIndexes(w *WAL) []uint64 {
	var out []uint64
	for _, s := range w.Segments() {
		if s.Prunable {
			out = append(out, s.Index)
		}
	}
	return out
}

func TestWAL_MarkPrunable(t *testing.T) {
	opts := testWALOptions(t)
	w, _, err := Open(opts)
	require.NoError(t, err)
	defer w.Close()

	sealSegments(t, w, 3)

	marked, err := w.MarkPrunable([]uint64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, marked)
	assert.Equal(t, []uint64{1, 2}, prunableIndexes(w))

	// Marker files exist on disk.
	for _, index := range []uint64{1, 2} {
		_, err := os.Stat(filepath.Join(opts.Dir, core.FormatPrunableMarkerName(index)))
		assert.NoError(t, err)
	}
}

func TestWAL_MarkPrunableIsIdempotent(t *testing.T) {
	w, _, err := Open(testWALOptions(t))
	require.NoError(t, err)
	defer w.Close()

	sealSegments(t, w, 2)

	marked, err := w.MarkPrunable([]uint64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	marked, err = w.MarkPrunable([]uint64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 0, marked, "re-marking already marked segments counts nothing")
}

func TestWAL_MarkPrunableRejectsActiveSegment(t *testing.T) {
	w, _, err := Open(testWALOptions(t))
	require.NoError(t, err)
	defer w.Close()

	sealSegments(t, w, 2)
	active := w.ActiveSegmentIndex()

	marked, err := w.MarkPrunable([]uint64{1, active})
	require.Error(t, err)
	assert.True(t, core.IsActiveSegmentError(err))
	assert.Equal(t, 0, marked, "nothing may be marked when the active segment is included")
	assert.Empty(t, prunableIndexes(w))
}

func TestWAL_MarkPrunableSkipsUnknownSegments(t *testing.T) {
	w, _, err := Open(testWALOptions(t))
	require.NoError(t, err)
	defer w.Close()

	sealSegments(t, w, 2)

	// Index 99 never existed; marking it is a no-op, not an error. This keeps
	// repeated marking passes safe after segments have been pruned.
	marked, err := w.MarkPrunable([]uint64{1, 99})
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
}

func TestWAL_PruneRemovesMarkedSegments(t *testing.T) {
	opts := testWALOptions(t)
	w, _, err := Open(opts)
	require.NoError(t, err)
	defer w.Close()

	sealSegments(t, w, 3)

	_, err = w.MarkPrunable([]uint64{1, 2})
	require.NoError(t, err)

	pruned, err := w.Prune()
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)

	// Segment files and their markers are gone; segment 3 and the active
	// segment survive.
	for _, index := range []uint64{1, 2} {
		_, err := os.Stat(filepath.Join(opts.Dir, core.FormatSegmentFileName(index)))
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(opts.Dir, core.FormatPrunableMarkerName(index)))
		assert.True(t, os.IsNotExist(err))
	}

	segments := w.Segments()
	require.Len(t, segments, 2)
	assert.Equal(t, uint64(3), segments[0].Index)
	assert.Equal(t, uint64(4), segments[1].Index)
}

func TestWAL_PruneWithNothingMarked(t *testing.T) {
	w, _, err := Open(testWALOptions(t))
	require.NoError(t, err)
	defer w.Close()

	sealSegments(t, w, 2)

	pruned, err := w.Prune()
	require.NoError(t, err)
	assert.Equal(t, 0, pruned)
	assert.Len(t, w.Segments(), 3)
}

func TestWAL_PruneStopsOnFirstFailure(t *testing.T) {
	opts := testWALOptions(t)
	w, _, err := Open(opts)
	require.NoError(t, err)
	defer w.Close()

	sealSegments(t, w, 3)
	_, err = w.MarkPrunable([]uint64{1, 2, 3})
	require.NoError(t, err)

	fs := sys.NewFaultFS()
	fs.FailRemove(filepath.Join(opts.Dir, core.FormatSegmentFileName(2)), fmt.Errorf("permission denied"))
	sys.SetDefaultFile(fs)
	defer sys.ResetDefaultFile()

	pruned, err := w.Prune()
	require.Error(t, err)
	assert.Equal(t, 1, pruned, "only the segment before the failure is removed")

	// Segment 1 is gone, 2 and 3 remain and stay marked for the next pass.
	_, statErr := os.Stat(filepath.Join(opts.Dir, core.FormatSegmentFileName(1)))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(opts.Dir, core.FormatSegmentFileName(2)))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(opts.Dir, core.FormatSegmentFileName(3)))
	assert.NoError(t, statErr)
	assert.Equal(t, []uint64{2, 3}, prunableIndexes(w))

	// Once the fault clears, the next pass finishes the job.
	fs.FailRemove(filepath.Join(opts.Dir, core.FormatSegmentFileName(2)), nil)
	pruned, err = w.Prune()
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)
}

func TestWAL_PrunableMarksSurviveReopen(t *testing.T) {
	opts := testWALOptions(t)
	w, _, err := Open(opts)
	require.NoError(t, err)

	sealSegments(t, w, 3)
	_, err = w.MarkPrunable([]uint64{1, 2})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, _, err := Open(opts)
	require.NoError(t, err)
	defer w2.Close()

	assert.Equal(t, []uint64{1, 2}, prunableIndexes(w2))
}

func TestWAL_StaleMarkerSweptOnOpen(t *testing.T) {
	opts := testWALOptions(t)
	w, _, err := Open(opts)
	require.NoError(t, err)
	sealSegments(t, w, 1)
	require.NoError(t, w.Close())

	// A crash between segment deletion and marker deletion leaves a marker
	// with no segment behind it.
	stale := filepath.Join(opts.Dir, core.FormatPrunableMarkerName(42))
	require.NoError(t, os.WriteFile(stale, nil, 0644))

	w2, _, err := Open(opts)
	require.NoError(t, err)
	defer w2.Close()

	_, statErr := os.Stat(stale)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, prunableIndexes(w2))
}

func TestWAL_PruneFiresHook(t *testing.T) {
	opts := testWALOptions(t)
	hm := hooks.NewHookManager(nil)
	opts.HookManager = hm

	var got hooks.PostWALPrunePayload
	hm.Register(hooks.EventPostWALPrune, hooks.ListenerFunc(func(_ context.Context, event hooks.HookEvent) error {
		got = event.Payload().(hooks.PostWALPrunePayload)
		return nil
	}))

	w, _, err := Open(opts)
	require.NoError(t, err)
	defer w.Close()

	sealSegments(t, w, 3)
	_, err = w.MarkPrunable([]uint64{1, 2, 3})
	require.NoError(t, err)

	pruned, err := w.Prune()
	require.NoError(t, err)
	require.Equal(t, 3, pruned)

	assert.Equal(t, 3, got.SegmentsPruned)
	assert.Equal(t, uint64(1), got.FirstIndex)
	assert.Equal(t, uint64(3), got.LastIndex)
}

func TestWAL_RotateFiresHook(t *testing.T) {
	opts := testWALOptions(t)
	hm := hooks.NewHookManager(nil)
	opts.HookManager = hm

	var got hooks.PostWALRotatePayload
	hm.Register(hooks.EventPostWALRotate, hooks.ListenerFunc(func(_ context.Context, event hooks.HookEvent) error {
		got = event.Payload().(hooks.PostWALRotatePayload)
		return nil
	}))

	w, _, err := Open(opts)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(makeEntry(1, "k", "v"))
	require.NoError(t, err)
	newIndex, err := w.Rotate()
	require.NoError(t, err)

	assert.Equal(t, uint64(1), got.OldSegmentIndex)
	assert.Equal(t, newIndex, got.NewSegmentIndex)
	assert.NotEmpty(t, got.NewSegmentPath)
}
