// Package wal implements a segmented Write-Ahead Log with confirmed-retention
// support: segments are only ever deleted through MarkPrunable/Prune, driven
// by the pruner once both remote backends have confirmed a copy.
package wal

import (
	"bytes"
	"context"
	"encoding/binary"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/INLOpen/walvault/core"
	"github.com/INLOpen/walvault/hooks"
	"github.com/INLOpen/walvault/sys"
)

// WAL (Write-Ahead Log) provides durability by logging records before they
// are acknowledged to producers. It manages a directory of segment files:
// exactly one active segment receives appends, all others are sealed.
type WAL struct {
	dir  string
	mu   sync.Mutex
	opts Options

	activeSegment *SegmentWriter
	sealed        []*segmentState // ascending by index, sealed segments only

	metricsBytesWritten   *expvar.Int
	metricsEntriesWritten *expvar.Int

	logger      *slog.Logger
	hookManager hooks.HookManager

	testingOnlyInjectAppendError error
}

var _ WALInterface = (*WAL)(nil)

// segmentState is the WAL's bookkeeping for a sealed segment.
type segmentState struct {
	index     uint64
	path      string
	sizeBytes int64
	prunable  bool
}

// Options holds configuration for the WAL.
type Options struct {
	Dir            string
	SyncMode       core.WALSyncMode
	MaxSegmentSize int64
	// MaxSegmentAge rotates a non-empty active segment older than this on the
	// next append. Zero disables age-based rotation.
	MaxSegmentAge time.Duration
	// PreallocateSegments reserves MaxSegmentSize for each new segment file
	// where the filesystem supports it.
	PreallocateSegments bool
	BytesWritten        *expvar.Int
	EntriesWritten      *expvar.Int
	Logger              *slog.Logger
	HookManager         hooks.HookManager
}

// Open creates or opens a WAL directory. It recovers entries from existing
// segments and prepares for appending.
func Open(opts Options) (*WAL, []core.RecordEntry, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "WAL_default")
	} else {
		opts.Logger = opts.Logger.With("component", "WAL")
	}
	if opts.MaxSegmentSize == 0 {
		opts.MaxSegmentSize = core.WALMaxSegmentSize
	}
	if opts.SyncMode == "" {
		opts.SyncMode = core.WALSyncAlways
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create WAL directory %s: %w", opts.Dir, err)
	}

	w := &WAL{
		dir:                   opts.Dir,
		opts:                  opts,
		logger:                opts.Logger,
		metricsBytesWritten:   opts.BytesWritten,
		metricsEntriesWritten: opts.EntriesWritten,
		hookManager:           opts.HookManager,
	}

	if err := w.loadSegments(); err != nil {
		return nil, nil, fmt.Errorf("failed to load WAL segments: %w", err)
	}

	recoveredEntries, recoveryErr := w.recover()
	// recoveryErr is io.EOF for a clean, full read of all segments. Other
	// errors (e.g. io.ErrUnexpectedEOF from a torn tail) are returned to the
	// caller, which decides whether they are fatal.

	if err := w.openForAppend(); err != nil {
		w.Close()
		return nil, nil, fmt.Errorf("failed to open WAL for appending: %w", err)
	}

	if recoveryErr == io.EOF {
		return w, recoveredEntries, nil
	}
	return w, recoveredEntries, recoveryErr
}

// loadSegments scans the WAL directory, populating the sealed segment list
// and restoring crash-durable prunable marks. Stale markers whose segment no
// longer exists are swept.
func (w *WAL) loadSegments() error {
	files, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read WAL directory %s: %w", w.dir, err)
	}

	prunable := make(map[uint64]bool)
	var states []*segmentState
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if index, err := core.ParsePrunableMarkerName(file.Name()); err == nil {
			prunable[index] = true
			continue
		}
		index, err := core.ParseSegmentFileName(file.Name())
		if err != nil {
			continue
		}
		info, err := file.Info()
		if err != nil {
			return fmt.Errorf("failed to stat segment %s: %w", file.Name(), err)
		}
		states = append(states, &segmentState{
			index:     index,
			path:      filepath.Join(w.dir, file.Name()),
			sizeBytes: info.Size(),
		})
	}

	sort.Slice(states, func(i, j int) bool { return states[i].index < states[j].index })
	for i := 1; i < len(states); i++ {
		if states[i].index <= states[i-1].index {
			return &core.SegmentOrderError{Prev: states[i-1].index, Next: states[i].index}
		}
	}

	for _, s := range states {
		if prunable[s.index] {
			s.prunable = true
			delete(prunable, s.index)
		}
	}
	// Whatever is left points at segments already deleted; a crash between
	// segment removal and marker removal leaves these behind.
	for index := range prunable {
		markerPath := filepath.Join(w.dir, core.FormatPrunableMarkerName(index))
		if err := sys.Remove(markerPath); err != nil {
			w.logger.Warn("Failed to sweep stale prunable marker", "path", markerPath, "error", err)
		} else {
			w.logger.Info("Swept stale prunable marker", "index", index)
		}
	}

	w.sealed = states
	return nil
}

// Append writes a single RecordEntry to the log. It's a convenience wrapper
// around AppendBatch.
func (w *WAL) Append(entry core.RecordEntry) (core.RecordPosition, error) {
	return w.AppendBatch([]core.RecordEntry{entry})
}

// AppendBatch writes a slice of entries as a single, atomic record. The
// returned position identifies the record frame; it is durable on return when
// the sync mode is WALSyncAlways.
func (w *WAL) AppendBatch(entries []core.RecordEntry) (core.RecordPosition, error) {
	if len(entries) == 0 {
		return core.RecordPosition{}, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.testingOnlyInjectAppendError != nil {
		return core.RecordPosition{}, w.testingOnlyInjectAppendError
	}
	if w.activeSegment == nil {
		return core.RecordPosition{}, core.ErrWALClosed
	}

	var batchPayload bytes.Buffer
	if len(entries) == 1 {
		// Write as a single entry record for efficiency.
		if err := encodeEntryData(&batchPayload, &entries[0]); err != nil {
			return core.RecordPosition{}, fmt.Errorf("failed to encode single entry for batch append: %w", err)
		}
	} else {
		if err := batchPayload.WriteByte(byte(core.EntryTypePutBatch)); err != nil {
			return core.RecordPosition{}, fmt.Errorf("failed to write batch entry type: %w", err)
		}
		if err := binary.Write(&batchPayload, binary.LittleEndian, uint32(len(entries))); err != nil {
			return core.RecordPosition{}, fmt.Errorf("failed to write batch entry count: %w", err)
		}
		for i := range entries {
			if err := encodeEntryData(&batchPayload, &entries[i]); err != nil {
				return core.RecordPosition{}, fmt.Errorf("failed to encode entry %d for batch: %w", i, err)
			}
		}
	}

	payloadBytes := batchPayload.Bytes()
	newRecordSize := int64(len(payloadBytes)) + recordOverhead

	headerSize := int64(binary.Size(core.FileHeader{}))
	currentSize := w.activeSegment.Size()

	// A record frame that cannot fit even in an empty segment can never be
	// written; rotating would not help.
	if headerSize+newRecordSize > w.opts.MaxSegmentSize {
		return core.RecordPosition{}, fmt.Errorf("%w: record_size=%d max_segment_size=%d", core.ErrRecordTooLarge, newRecordSize, w.opts.MaxSegmentSize)
	}

	// Rotate before writing when the active segment already contains data and
	// the new record would push it over the size threshold.
	needRotate := currentSize > headerSize && (currentSize+newRecordSize) > w.opts.MaxSegmentSize
	if !needRotate && w.opts.MaxSegmentAge > 0 && currentSize > headerSize && w.activeSegment.Age() > w.opts.MaxSegmentAge {
		w.logger.Debug("Rotating WAL segment due to age", "age", w.activeSegment.Age(), "max_age", w.opts.MaxSegmentAge)
		needRotate = true
	}
	if needRotate {
		if err := w.rotateLocked(); err != nil {
			return core.RecordPosition{}, fmt.Errorf("failed to rotate WAL segment: %w", err)
		}
	}

	offset, err := w.activeSegment.WriteRecord(payloadBytes)
	if err != nil {
		return core.RecordPosition{}, err
	}

	if w.metricsBytesWritten != nil {
		w.metricsBytesWritten.Add(newRecordSize)
	}
	if w.metricsEntriesWritten != nil {
		w.metricsEntriesWritten.Add(int64(len(entries)))
	}

	pos := core.RecordPosition{SegmentIndex: w.activeSegment.index, Offset: offset}
	if w.opts.SyncMode == core.WALSyncAlways {
		if err := w.activeSegment.Sync(); err != nil {
			return core.RecordPosition{}, err
		}
	}
	return pos, nil
}

// Sync flushes data to the active segment file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.activeSegment == nil {
		return core.ErrWALClosed
	}
	if err := w.activeSegment.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL file: %w", err)
	}
	return nil
}

// Rotate manually seals the current active segment and opens a new one for
// writing, returning the new segment's index.
func (w *WAL) Rotate() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.activeSegment == nil {
		return 0, core.ErrWALClosed
	}
	if err := w.rotateLocked(); err != nil {
		return 0, err
	}
	return w.activeSegment.index, nil
}

// Segments returns a snapshot of all known segments in ascending index order,
// the active segment last.
func (w *WAL) Segments() []SegmentInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	infos := make([]SegmentInfo, 0, len(w.sealed)+1)
	for _, s := range w.sealed {
		infos = append(infos, SegmentInfo{
			Index:     s.index,
			Path:      s.path,
			SizeBytes: s.sizeBytes,
			Sealed:    true,
			Prunable:  s.prunable,
		})
	}
	if w.activeSegment != nil {
		infos = append(infos, SegmentInfo{
			Index:     w.activeSegment.index,
			Path:      w.activeSegment.path,
			SizeBytes: w.activeSegment.Size(),
			Sealed:    false,
		})
	}
	return infos
}

// MarkPrunable idempotently flags the given sealed segments as eligible for
// deletion. Marks are made crash-durable through fsynced sidecar marker files
// before the in-memory flag is set. Including the active segment's index is
// an invariant violation: nothing is marked and an ActiveSegmentError is
// returned.
func (w *WAL) MarkPrunable(indexes []uint64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.activeSegment != nil {
		for _, index := range indexes {
			if index == w.activeSegment.index {
				return 0, &core.ActiveSegmentError{Index: index, Op: "mark"}
			}
		}
	}

	byIndex := make(map[uint64]*segmentState, len(w.sealed))
	for _, s := range w.sealed {
		byIndex[s.index] = s
	}

	var marked int
	for _, index := range indexes {
		s, ok := byIndex[index]
		if !ok {
			// Already pruned in an earlier pass, or never existed. Marking is
			// idempotent across passes, so this is not an error.
			w.logger.Debug("MarkPrunable skipping unknown segment", "index", index)
			continue
		}
		if s.prunable {
			continue
		}
		if err := w.writeMarkerLocked(index); err != nil {
			return marked, fmt.Errorf("failed to persist prunable mark for segment %d: %w", index, err)
		}
		s.prunable = true
		marked++
	}
	if marked > 0 {
		w.logger.Info("Marked WAL segments prunable", "count", marked)
	}
	return marked, nil
}

// writeMarkerLocked creates and fsyncs the sidecar marker file for a segment.
func (w *WAL) writeMarkerLocked(index uint64) error {
	markerPath := filepath.Join(w.dir, core.FormatPrunableMarkerName(index))
	f, err := sys.Create(markerPath)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Prune physically removes all prunable segments in ascending index order.
// It stops on the first deletion failure, reporting how many segments were
// removed before it; the failed segment stays flagged for the next pass.
func (w *WAL) Prune() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var pruned int
	var firstIndex, lastIndex uint64
	var failure error
	remaining := w.sealed[:0]

	for i, s := range w.sealed {
		if failure != nil || !s.prunable {
			remaining = append(remaining, s)
			continue
		}
		if err := sys.Remove(s.path); err != nil {
			failure = fmt.Errorf("failed to prune WAL segment %d: %w", s.index, err)
			w.logger.Error("Failed to prune WAL segment", "index", s.index, "path", s.path, "error", err)
			remaining = append(remaining, w.sealed[i:]...)
			break
		}
		markerPath := filepath.Join(w.dir, core.FormatPrunableMarkerName(s.index))
		if err := sys.Remove(markerPath); err != nil && !os.IsNotExist(err) {
			// The segment itself is gone; a leftover marker is swept on the
			// next Open.
			w.logger.Warn("Failed to remove prunable marker", "index", s.index, "error", err)
		}
		if pruned == 0 {
			firstIndex = s.index
		}
		lastIndex = s.index
		pruned++
	}
	w.sealed = remaining

	if pruned > 0 {
		w.logger.Info("Pruned WAL segments", "count", pruned, "first_index", firstIndex, "last_index", lastIndex)
		if w.hookManager != nil {
			payload := hooks.PostWALPrunePayload{
				SegmentsPruned: pruned,
				FirstIndex:     firstIndex,
				LastIndex:      lastIndex,
			}
			w.hookManager.Trigger(context.Background(), hooks.NewPostWALPruneEvent(payload))
		}
	}
	return pruned, failure
}

// ActiveSegmentIndex returns the index of the current active segment file.
// It returns 0 if there is no active segment.
func (w *WAL) ActiveSegmentIndex() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.activeSegment == nil {
		return 0
	}
	return w.activeSegment.index
}

// Path returns the directory path of the WAL.
func (w *WAL) Path() string {
	return w.dir
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.activeSegment == nil {
		return nil // Already closed
	}

	closeErr := w.activeSegment.Close()
	// The active segment becomes a sealed segment on disk; record it so a
	// Segments() call on a closed WAL stays consistent with the directory.
	w.sealed = append(w.sealed, &segmentState{
		index:     w.activeSegment.index,
		path:      w.activeSegment.path,
		sizeBytes: w.activeSegment.Size(),
	})
	w.activeSegment = nil

	if closeErr != nil {
		w.logger.Error("Error during WAL close.", "error", closeErr)
	} else {
		w.logger.Info("WAL closed.")
	}
	return closeErr
}

// SetTestingOnlyInjectAppendError sets an error that will be returned by
// subsequent Append calls.
func (w *WAL) SetTestingOnlyInjectAppendError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.testingOnlyInjectAppendError = err
}

// rotateLocked seals the active segment (if any) and creates a new one with
// the next strictly-increasing index. Must be called with the lock held.
func (w *WAL) rotateLocked() error {
	var nextIndex uint64 = 1
	if len(w.sealed) > 0 {
		nextIndex = w.sealed[len(w.sealed)-1].index + 1
	}
	if w.activeSegment != nil && w.activeSegment.index >= nextIndex {
		nextIndex = w.activeSegment.index + 1
	}

	var preallocSize int64
	if w.opts.PreallocateSegments {
		preallocSize = w.opts.MaxSegmentSize
	}
	newSegment, err := CreateSegment(w.dir, nextIndex, preallocSize)
	if err != nil {
		return err
	}

	var oldIndex uint64
	if w.activeSegment != nil {
		oldIndex = w.activeSegment.index
		if err := w.activeSegment.Close(); err != nil {
			w.logger.Error("failed to close active segment during rotation", "path", w.activeSegment.path, "error", err)
			// Continue anyway, we need a new segment.
		}
		w.sealed = append(w.sealed, &segmentState{
			index:     w.activeSegment.index,
			path:      w.activeSegment.path,
			sizeBytes: w.activeSegment.Size(),
		})
	}

	w.activeSegment = newSegment
	w.logger.Info("Rotated to new WAL segment", "index", nextIndex, "path", newSegment.path)

	if w.hookManager != nil && oldIndex > 0 {
		payload := hooks.PostWALRotatePayload{
			OldSegmentIndex: oldIndex,
			NewSegmentIndex: newSegment.index,
			NewSegmentPath:  newSegment.path,
		}
		// Use background context as this is an internal, non-request-driven event.
		w.hookManager.Trigger(context.Background(), hooks.NewPostWALRotateEvent(payload))
	}
	return nil
}

// encodeEntryData serializes a single RecordEntry's data part into a writer.
func encodeEntryData(w io.Writer, entry *core.RecordEntry) error {
	if err := binary.Write(w, binary.LittleEndian, entry.EntryType); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, entry.SeqNum); err != nil {
		return err
	}

	keyLenBuf := make([]byte, binary.MaxVarintLen32)
	keyLenBytes := binary.PutUvarint(keyLenBuf, uint64(len(entry.Key)))
	if _, err := w.Write(keyLenBuf[:keyLenBytes]); err != nil {
		return err
	}
	if _, err := w.Write(entry.Key); err != nil {
		return err
	}

	valLenBuf := make([]byte, binary.MaxVarintLen32)
	valLenBytes := binary.PutUvarint(valLenBuf, uint64(len(entry.Value)))
	if _, err := w.Write(valLenBuf[:valLenBytes]); err != nil {
		return err
	}
	_, err := w.Write(entry.Value)
	return err
}

// decodeEntryData deserializes a single RecordEntry's data part from a reader.
func decodeEntryData(r *bytes.Reader) (*core.RecordEntry, error) {
	entry := &core.RecordEntry{}
	if err := binary.Read(r, binary.LittleEndian, &entry.EntryType); err != nil {
		return nil, fmt.Errorf("failed to read entry type: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &entry.SeqNum); err != nil {
		return nil, fmt.Errorf("failed to read sequence number: %w", err)
	}

	keyLen, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read key length: %w", err)
	}
	entry.Key = make([]byte, keyLen)
	if _, err := io.ReadFull(r, entry.Key); err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	valLen, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read value length: %w", err)
	}
	if valLen > 0 {
		entry.Value = make([]byte, valLen)
		if _, err := io.ReadFull(r, entry.Value); err != nil {
			return nil, fmt.Errorf("failed to read value: %w", err)
		}
	}

	return entry, nil
}

// recover reads all entries from all known segments.
func (w *WAL) recover() ([]core.RecordEntry, error) {
	var allEntries []core.RecordEntry
	for _, s := range w.sealed {
		entries, err := recoverFromSegment(s.path, w.logger)
		if len(entries) > 0 {
			allEntries = append(allEntries, entries...)
		}
		if err != nil {
			if err == io.EOF {
				// Cleanly read all records in this segment, continue to the next.
				continue
			}
			// For other errors (e.g. corruption, unexpected EOF), recovery
			// stops. The caller receives the partially recovered entries and
			// the error, and can decide how to proceed.
			w.logger.Warn("Recovery stopped on segment due to error", "index", s.index, "path", s.path, "error", err)
			return allEntries, err
		}
	}
	// If we successfully read all segments without error, return EOF to
	// signal a clean recovery.
	return allEntries, io.EOF
}

// recoverFromSegment reads all valid entries from a single WAL segment file.
// It returns all entries read successfully before an error was encountered,
// along with the error itself (which can be io.EOF for a clean read).
func recoverFromSegment(filePath string, logger *slog.Logger) ([]core.RecordEntry, error) {
	reader, err := OpenSegmentForRead(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("WAL segment does not exist, nothing to recover.", "path", filePath)
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to open WAL segment for reading %s: %w", filePath, err)
	}
	defer reader.Close()

	var entries []core.RecordEntry
	for {
		recordData, err := reader.ReadRecord()
		if err != nil {
			return entries, err
		}

		if len(recordData) > 0 && core.EntryType(recordData[0]) == core.EntryTypePutBatch {
			payloadReader := bytes.NewReader(recordData[1:])
			var numEntries uint32
			if err := binary.Read(payloadReader, binary.LittleEndian, &numEntries); err != nil {
				return entries, fmt.Errorf("error reading batch entry count: %w", err)
			}
			for i := 0; i < int(numEntries); i++ {
				entry, err := decodeEntryData(payloadReader)
				if err != nil {
					return entries, fmt.Errorf("error decoding entry %d in batch: %w", i, err)
				}
				entries = append(entries, *entry)
			}
		} else {
			entry, err := decodeEntryData(bytes.NewReader(recordData))
			if err != nil {
				return entries, fmt.Errorf("error decoding single WAL entry: %w", err)
			}
			entries = append(entries, *entry)
		}
	}
}

func (w *WAL) openForAppend() error {
	if len(w.sealed) == 0 {
		// No segments exist, create the first one.
		return w.rotateLocked()
	}

	last := w.sealed[len(w.sealed)-1]

	// To avoid appending to a potentially corrupt or partially written file
	// after a crash, a non-empty last segment stays sealed and a new segment
	// becomes active.
	stat, err := os.Stat(last.path)
	if err != nil {
		return fmt.Errorf("failed to stat last segment %s: %w", last.path, err)
	}
	if stat.Size() > int64(binary.Size(core.FileHeader{})) {
		return w.rotateLocked()
	}

	// The last segment is empty or header-only: recreate and reuse it.
	if err := sys.Remove(last.path); err != nil {
		return fmt.Errorf("failed to remove incomplete segment %s for reuse: %w", last.path, err)
	}

	var preallocSize int64
	if w.opts.PreallocateSegments {
		preallocSize = w.opts.MaxSegmentSize
	}
	seg, err := CreateSegment(w.dir, last.index, preallocSize)
	if err != nil {
		return fmt.Errorf("failed to reuse segment %d: %w", last.index, err)
	}
	w.sealed = w.sealed[:len(w.sealed)-1]
	w.activeSegment = seg
	return nil
}
