package core

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// This file centralizes constants related to file formats, magic numbers,
// and the mapping between local segments and their remote confirmation keys.

// --- Magic Numbers ---
const (
	// WALMagicNumber identifies a Write-Ahead Log segment file.
	WALMagicNumber uint32 = 0xBAADF00D
	// CheckpointMagicNumber identifies a durable checkpoint file.
	CheckpointMagicNumber uint32 = 0x54504B43 // "CKPT"
)

// --- File Names & Prefixes ---
const (
	// WALFileSuffix is the suffix for WAL segment files.
	WALFileSuffix = ".wal"
	// PrunableMarkerSuffix is appended to a segment file name to form its
	// crash-durable prunable marker.
	PrunableMarkerSuffix = ".prunable"
	// CheckpointFileName is the name of the file storing the last confirmed
	// object-store checkpoint.
	CheckpointFileName = "CHECKPOINT"
	// RemoteKeyPrefix is the key namespace under which WAL segments are
	// stored in the remote object store.
	RemoteKeyPrefix = "wal"
)

// --- Protocol & Format Versions ---
const (
	// FormatVersion is the current version for all persistent file formats.
	FormatVersion uint8 = 1
)

// --- Default Sizes & Limits ---
const (
	// WALMaxSegmentSize is the default maximum size for a WAL segment file.
	WALMaxSegmentSize = 128 * 1024 * 1024 // 128 MB
)

func FormatTempFilename(prefix, postfix string) string {
	return fmt.Sprintf("%s.%s", prefix, postfix)
}

// FormatSegmentFileName creates a segment file name from its index.
func FormatSegmentFileName(index uint64) string {
	return fmt.Sprintf("%08d%s", index, WALFileSuffix)
}

// ParseSegmentFileName extracts the index from a segment file name.
func ParseSegmentFileName(name string) (uint64, error) {
	if !strings.HasSuffix(name, WALFileSuffix) {
		return 0, fmt.Errorf("file %s is not a WAL segment file", name)
	}
	name = strings.TrimSuffix(name, WALFileSuffix)
	return strconv.ParseUint(name, 10, 64)
}

// FormatPrunableMarkerName creates the marker file name recording that a
// segment has been flagged prunable.
func FormatPrunableMarkerName(index uint64) string {
	return FormatSegmentFileName(index) + PrunableMarkerSuffix
}

// ParsePrunableMarkerName extracts the segment index from a marker file name.
func ParsePrunableMarkerName(name string) (uint64, error) {
	if !strings.HasSuffix(name, PrunableMarkerSuffix) {
		return 0, fmt.Errorf("file %s is not a prunable marker file", name)
	}
	return ParseSegmentFileName(strings.TrimSuffix(name, PrunableMarkerSuffix))
}

// RemoteSegmentKey derives the remote object key under which a local segment
// is confirmed. The mapping is deliberately an explicit function of the
// segment index so that local path layout and remote naming can never drift
// apart silently.
func RemoteSegmentKey(index uint64) string {
	return path.Join(RemoteKeyPrefix, FormatSegmentFileName(index))
}

// ParseRemoteSegmentKey is the inverse of RemoteSegmentKey.
func ParseRemoteSegmentKey(key string) (uint64, error) {
	dir, base := path.Split(key)
	if strings.Trim(dir, "/") != RemoteKeyPrefix {
		return 0, fmt.Errorf("key %s is not in the %q namespace", key, RemoteKeyPrefix)
	}
	return ParseSegmentFileName(base)
}
