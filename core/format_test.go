package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentFileNameRoundTrip(t *testing.T) {
	for _, index := range []uint64{1, 42, 99999999} {
		name := FormatSegmentFileName(index)
		parsed, err := ParseSegmentFileName(name)
		require.NoError(t, err)
		assert.Equal(t, index, parsed)
	}
}

func TestSegmentFileNameOrdering(t *testing.T) {
	// Lexical order of the formatted names must match numeric order; the
	// pruner and recovery both rely on it.
	prev := FormatSegmentFileName(1)
	for index := uint64(2); index < 200; index++ {
		name := FormatSegmentFileName(index)
		assert.Less(t, prev, name)
		prev = name
	}
}

func TestParseSegmentFileName_Rejects(t *testing.T) {
	_, err := ParseSegmentFileName("CHECKPOINT")
	assert.Error(t, err)
	_, err = ParseSegmentFileName("0000001.log")
	assert.Error(t, err)
}

func TestRemoteSegmentKey(t *testing.T) {
	key := RemoteSegmentKey(7)
	assert.Equal(t, "wal/00000007.wal", key)

	index, err := ParseRemoteSegmentKey(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), index)
}

func TestParseRemoteSegmentKey_Rejects(t *testing.T) {
	_, err := ParseRemoteSegmentKey("snapshots/00000007.wal")
	assert.Error(t, err, "keys outside the wal namespace must be rejected")

	_, err = ParseRemoteSegmentKey("wal/MANIFEST")
	assert.Error(t, err)
}

func TestPrunableMarkerNameRoundTrip(t *testing.T) {
	name := FormatPrunableMarkerName(3)
	assert.Equal(t, "00000003.wal.prunable", name)

	index, err := ParsePrunableMarkerName(name)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), index)

	_, err = ParsePrunableMarkerName("00000003.wal")
	assert.Error(t, err)
}

func TestCheckpointContains(t *testing.T) {
	cp := Checkpoint{WALSegments: []string{RemoteSegmentKey(1), RemoteSegmentKey(2)}}
	assert.True(t, cp.Contains(RemoteSegmentKey(1)))
	assert.False(t, cp.Contains(RemoteSegmentKey(3)))
	assert.False(t, Checkpoint{}.Contains(RemoteSegmentKey(1)))
}
