package core

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordTooLarge is returned when a single record cannot fit into an
	// empty segment.
	ErrRecordTooLarge = errors.New("record exceeds maximum segment size")
	// ErrWALClosed is returned by operations on a closed WAL.
	ErrWALClosed = errors.New("wal is closed")
)

// ActiveSegmentError reports an attempt to mark or prune the currently
// active segment. This is an invariant violation: the active segment is
// never eligible for retention transitions.
type ActiveSegmentError struct {
	Index uint64
	Op    string // "mark" or "prune"
}

func (e *ActiveSegmentError) Error() string {
	return fmt.Sprintf("cannot %s active WAL segment %d", e.Op, e.Index)
}

// SegmentOrderError reports a non-monotonic segment index observed where
// strictly increasing order is required.
type SegmentOrderError struct {
	Prev uint64
	Next uint64
}

func (e *SegmentOrderError) Error() string {
	return fmt.Sprintf("segment order violation: index %d follows %d", e.Next, e.Prev)
}

// IsActiveSegmentError checks if an error is an ActiveSegmentError.
func IsActiveSegmentError(err error) bool {
	var ase *ActiveSegmentError
	return errors.As(err, &ase)
}

// IsSegmentOrderError checks if an error is a SegmentOrderError.
func IsSegmentOrderError(err error) bool {
	var soe *SegmentOrderError
	return errors.As(err, &soe)
}
