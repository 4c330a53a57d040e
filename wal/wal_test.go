package wal

import (
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/walvault/core"
)

// testWALOptions provides a default set of options for testing.
func testWALOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Dir:            t.TempDir(),
		SyncMode:       core.WALSyncAlways,
		MaxSegmentSize: 64 * 1024, // 64KB for easier rotation testing
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func makeEntry(seq uint64, key, value string) core.RecordEntry {
	return core.RecordEntry{
		EntryType: core.EntryTypePut,
		Key:       []byte(key),
		Value:     []byte(value),
		SeqNum:    seq,
	}
}

func TestWAL_OpenEmptyDir(t *testing.T) {
	opts := testWALOptions(t)
	w, recovered, err := Open(opts)
	require.NoError(t, err)
	defer w.Close()

	assert.Empty(t, recovered)
	assert.Equal(t, uint64(1), w.ActiveSegmentIndex())

	segments := w.Segments()
	require.Len(t, segments, 1)
	assert.False(t, segments[0].Sealed)
	assert.Equal(t, uint64(1), segments[0].Index)
}

func TestWAL_AppendAndRecover(t *testing.T) {
	opts := testWALOptions(t)

	w, _, err := Open(opts)
	require.NoError(t, err)

	pos1, err := w.Append(makeEntry(1, "key1", "value1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pos1.SegmentIndex)

	pos2, err := w.Append(makeEntry(2, "key2", "value2"))
	require.NoError(t, err)
	assert.Greater(t, pos2.Offset, pos1.Offset)

	require.NoError(t, w.Close())

	w2, recovered, err := Open(opts)
	require.NoError(t, err)
	defer w2.Close()

	require.Len(t, recovered, 2)
	assert.Equal(t, []byte("key1"), recovered[0].Key)
	assert.Equal(t, []byte("value1"), recovered[0].Value)
	assert.Equal(t, uint64(1), recovered[0].SeqNum)
	assert.Equal(t, []byte("key2"), recovered[1].Key)
	assert.Equal(t, uint64(2), recovered[1].SeqNum)
}

func TestWAL_AppendBatchAndRecover(t *testing.T) {
	opts := testWALOptions(t)

	w, _, err := Open(opts)
	require.NoError(t, err)

	batch := []core.RecordEntry{
		makeEntry(10, "a", "1"),
		makeEntry(11, "b", "2"),
		makeEntry(12, "c", "3"),
	}
	_, err = w.AppendBatch(batch)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, recovered, err := Open(opts)
	require.NoError(t, err)
	defer w2.Close()

	require.Len(t, recovered, 3)
	for i, entry := range recovered {
		assert.Equal(t, batch[i].Key, entry.Key)
		assert.Equal(t, batch[i].Value, entry.Value)
		assert.Equal(t, batch[i].SeqNum, entry.SeqNum)
	}
}

func TestWAL_AppendBatchEmptyIsNoop(t *testing.T) {
	w, _, err := Open(testWALOptions(t))
	require.NoError(t, err)
	defer w.Close()

	pos, err := w.AppendBatch(nil)
	require.NoError(t, err)
	assert.Equal(t, core.RecordPosition{}, pos)
}

func TestWAL_DeleteEntryRoundtrip(t *testing.T) {
	opts := testWALOptions(t)
	w, _, err := Open(opts)
	require.NoError(t, err)

	entry := core.RecordEntry{EntryType: core.EntryTypeDelete, Key: []byte("gone"), SeqNum: 5}
	_, err = w.Append(entry)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, recovered, err := Open(opts)
	require.NoError(t, err)

	require.Len(t, recovered, 1)
	assert.Equal(t, core.EntryTypeDelete, recovered[0].EntryType)
	assert.Equal(t, []byte("gone"), recovered[0].Key)
	assert.Empty(t, recovered[0].Value)
}

func TestWAL_SizeBasedRotation(t *testing.T) {
	opts := testWALOptions(t)
	opts.MaxSegmentSize = 1024

	w, _, err := Open(opts)
	require.NoError(t, err)
	defer w.Close()

	value := make([]byte, 300)
	for i := 0; i < 10; i++ {
		_, err := w.Append(core.RecordEntry{
			EntryType: core.EntryTypePut,
			Key:       []byte(fmt.Sprintf("key-%d", i)),
			Value:     value,
			SeqNum:    uint64(i + 1),
		})
		require.NoError(t, err)
	}

	assert.Greater(t, w.ActiveSegmentIndex(), uint64(1), "WAL should have rotated at least once")

	segments := w.Segments()
	require.Greater(t, len(segments), 1)
	for i := 1; i < len(segments); i++ {
		assert.Equal(t, segments[i-1].Index+1, segments[i].Index, "segment indexes must be dense")
	}
	for _, s := range segments[:len(segments)-1] {
		assert.True(t, s.Sealed)
	}
	assert.False(t, segments[len(segments)-1].Sealed)
}

func TestWAL_AgeBasedRotation(t *testing.T) {
	opts := testWALOptions(t)
	opts.MaxSegmentAge = 10 * time.Millisecond

	w, _, err := Open(opts)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(makeEntry(1, "first", "v"))
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	_, err = w.Append(makeEntry(2, "second", "v"))
	require.NoError(t, err)

	assert.Equal(t, uint64(2), w.ActiveSegmentIndex())
}

func TestWAL_ManualRotate(t *testing.T) {
	w, _, err := Open(testWALOptions(t))
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(makeEntry(1, "k", "v"))
	require.NoError(t, err)

	newIndex, err := w.Rotate()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), newIndex)
	assert.Equal(t, uint64(2), w.ActiveSegmentIndex())

	segments := w.Segments()
	require.Len(t, segments, 2)
	assert.True(t, segments[0].Sealed)
	assert.False(t, segments[1].Sealed)
}

func TestWAL_RecoverAcrossMultipleSegments(t *testing.T) {
	opts := testWALOptions(t)

	w, _, err := Open(opts)
	require.NoError(t, err)

	var want []string
	for i := 0; i < 3; i++ {
		for j := 0; j < 5; j++ {
			key := fmt.Sprintf("seg%d-key%d", i, j)
			want = append(want, key)
			_, err := w.Append(makeEntry(uint64(len(want)), key, "v"))
			require.NoError(t, err)
		}
		_, err := w.Rotate()
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	w2, recovered, err := Open(opts)
	require.NoError(t, err)
	defer w2.Close()

	require.Len(t, recovered, len(want))
	for i, key := range want {
		assert.Equal(t, []byte(key), recovered[i].Key)
	}
}

func TestWAL_ReopenRotatesPastNonEmptySegment(t *testing.T) {
	opts := testWALOptions(t)

	w, _, err := Open(opts)
	require.NoError(t, err)
	_, err = w.Append(makeEntry(1, "k", "v"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, _, err := Open(opts)
	require.NoError(t, err)
	defer w2.Close()

	// The non-empty segment 1 stays sealed; appends go to a fresh segment.
	assert.Equal(t, uint64(2), w2.ActiveSegmentIndex())
}

func TestWAL_ReopenReusesEmptySegment(t *testing.T) {
	opts := testWALOptions(t)

	w, _, err := Open(opts)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, _, err := Open(opts)
	require.NoError(t, err)
	defer w2.Close()

	assert.Equal(t, uint64(1), w2.ActiveSegmentIndex())
}

func TestWAL_TornTailRecoversPrefix(t *testing.T) {
	opts := testWALOptions(t)

	w, _, err := Open(opts)
	require.NoError(t, err)
	_, err = w.Append(makeEntry(1, "good", "v"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Simulate a torn write by appending garbage that looks like the start of
	// a record frame.
	segPath := filepath.Join(opts.Dir, core.FormatSegmentFileName(1))
	f, err := os.OpenFile(segPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xFF, 0x00, 0x00, 0x00, 0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, recovered, err := Open(opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Len(t, recovered, 1)
	assert.Equal(t, []byte("good"), recovered[0].Key)
}

func TestWAL_AppendAfterCloseFails(t *testing.T) {
	w, _, err := Open(testWALOptions(t))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Append(makeEntry(1, "k", "v"))
	assert.ErrorIs(t, err, core.ErrWALClosed)

	assert.ErrorIs(t, w.Sync(), core.ErrWALClosed)
	_, err = w.Rotate()
	assert.ErrorIs(t, err, core.ErrWALClosed)
}

func TestWAL_CloseIsIdempotent(t *testing.T) {
	w, _, err := Open(testWALOptions(t))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWAL_Metrics(t *testing.T) {
	opts := testWALOptions(t)
	opts.BytesWritten = new(expvar.Int)
	opts.EntriesWritten = new(expvar.Int)

	w, _, err := Open(opts)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.AppendBatch([]core.RecordEntry{
		makeEntry(1, "a", "1"),
		makeEntry(2, "b", "2"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), opts.EntriesWritten.Value())
	assert.Greater(t, opts.BytesWritten.Value(), int64(0))
}

func TestWAL_InjectedAppendError(t *testing.T) {
	w, _, err := Open(testWALOptions(t))
	require.NoError(t, err)
	defer w.Close()

	injected := fmt.Errorf("disk on fire")
	w.SetTestingOnlyInjectAppendError(injected)

	_, err = w.Append(makeEntry(1, "k", "v"))
	assert.ErrorIs(t, err, injected)
}

// A single record frame larger than MaxSegmentSize can never be written, even
// into an empty segment; it must be rejected rather than trigger rotation.
func TestWAL_OversizedRecordRejected(t *testing.T) {
	opts := testWALOptions(t)
	opts.MaxSegmentSize = 256

	w, _, err := Open(opts)
	require.NoError(t, err)

	entry := makeEntry(1, string(make([]byte, 200)), string(make([]byte, 200)))
	_, err = w.Append(entry)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRecordTooLarge)

	// The failed append must leave no trace in the log.
	require.NoError(t, w.Close())
	w2, recovered, err := Open(opts)
	require.NoError(t, err)
	defer w2.Close()
	assert.Empty(t, recovered)
}
