package core

import "io"

// CompressionType identifies the compression algorithm used.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionLZ4    CompressionType = 2
	CompressionZSTD   CompressionType = 3
)

// Compressor defines the interface for compressing segment payloads before
// they are shipped to the remote object store.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) (io.ReadCloser, error)
	// Type returns the CompressionType identifier for this compressor.
	Type() CompressionType
}

// String returns the string representation of the CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// WALSyncMode defines how frequently the WAL is synced to disk.
type WALSyncMode string

const (
	// WALSyncAlways syncs after every append: highest durability, an append
	// that returned successfully is on disk.
	WALSyncAlways WALSyncMode = "always"
	// WALSyncDisabled performs no explicit sync. Relaxed-durability mode for
	// tests and benchmarks; a successful append may be lost on crash.
	WALSyncDisabled WALSyncMode = "disabled"
)
