package core

// EntryType defines the type of a record stored in the WAL.
type EntryType byte

const (
	// EntryTypePut represents a single key/value record.
	EntryTypePut EntryType = 'P'
	// EntryTypeDelete represents a tombstone for a single key.
	EntryTypeDelete EntryType = 'D'
	// EntryTypePutBatch represents a batch of records written atomically to the WAL.
	EntryTypePutBatch EntryType = 'B'
)

// RecordEntry represents a single operation recorded in the WAL.
type RecordEntry struct {
	EntryType EntryType
	Key       []byte
	Value     []byte
	SeqNum    uint64
}

// RecordPosition identifies where a record was written: the segment that
// received it and the byte offset of the record frame within that segment.
type RecordPosition struct {
	SegmentIndex uint64
	Offset       int64
}
