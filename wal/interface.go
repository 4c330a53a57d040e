package wal

import "github.com/INLOpen/walvault/core"

// SegmentInfo is a point-in-time snapshot of a segment's retention state,
// as exposed to the pruner and the sync collaborators.
type SegmentInfo struct {
	Index     uint64
	Path      string
	SizeBytes int64
	// Sealed is false only for the single active segment.
	Sealed bool
	// Prunable is set once the pruner has confirmed the segment in both
	// remote backends; it is never unset.
	Prunable bool
}

// WALInterface defines the public API for the Write-Ahead Log.
type WALInterface interface {
	// Append writes a single RecordEntry to the log. The returned position
	// is durable according to the configured sync mode.
	Append(entry core.RecordEntry) (core.RecordPosition, error)
	// AppendBatch writes a slice of entries as a single, atomic record.
	AppendBatch(entries []core.RecordEntry) (core.RecordPosition, error)
	// Sync flushes the WAL to stable storage.
	Sync() error
	// Rotate seals the active segment and opens a new one, returning the new
	// segment's index.
	Rotate() (uint64, error)
	// Segments returns all known segments in ascending index order.
	Segments() []SegmentInfo
	// MarkPrunable idempotently flags the given sealed segments as eligible
	// for deletion and returns the count newly marked. Including the active
	// segment's index is an invariant violation and marks nothing.
	MarkPrunable(indexes []uint64) (int, error)
	// Prune physically removes all prunable segments in ascending index
	// order, stopping on the first deletion failure and reporting the count
	// removed so far.
	Prune() (int, error)
	// ActiveSegmentIndex returns the index of the current active segment.
	ActiveSegmentIndex() uint64
	Path() string
	Close() error
}
