package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/INLOpen/walvault/core"
	"github.com/INLOpen/walvault/sys"
)

// Segment represents a single WAL segment file.
type Segment struct {
	file  sys.FileHandle
	path  string
	index uint64
}

// SegmentWriter handles writing records to the active segment.
type SegmentWriter struct {
	*Segment
	writer    *bufio.Writer
	size      int64 // bytes written so far, header included
	createdAt time.Time
}

// SegmentReader handles reading records from a sealed segment.
type SegmentReader struct {
	*Segment
	reader *bufio.Reader
}

// CreateSegment creates a new segment file in the given directory.
func CreateSegment(dir string, index uint64, preallocSize int64) (*SegmentWriter, error) {
	path := filepath.Join(dir, core.FormatSegmentFileName(index))
	file, err := sys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file %s: %w", path, err)
	}

	if preallocSize > 0 {
		if err := sys.Preallocate(file, preallocSize); err != nil && !errors.Is(err, sys.ErrPreallocNotSupported) {
			file.Close()
			return nil, fmt.Errorf("failed to preallocate segment file %s: %w", path, err)
		}
	}

	header := core.NewFileHeader(core.WALMagicNumber, core.CompressionNone)
	if err := binary.Write(file, binary.LittleEndian, &header); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write segment header to %s: %w", path, err)
	}

	seg := &Segment{
		file:  file,
		path:  path,
		index: index,
	}
	return &SegmentWriter{
		Segment:   seg,
		writer:    bufio.NewWriter(file),
		size:      int64(header.Size()),
		createdAt: time.Now(),
	}, nil
}

// OpenSegmentForRead opens an existing segment file for reading.
func OpenSegmentForRead(path string) (*SegmentReader, error) {
	file, err := sys.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file for reading %s: %w", path, err)
	}

	var header core.FileHeader
	if err := binary.Read(file, binary.LittleEndian, &header); err != nil {
		file.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("segment file %s is empty or truncated at header", path)
		}
		return nil, fmt.Errorf("failed to read segment header from %s: %w", path, err)
	}
	if header.Magic != core.WALMagicNumber {
		file.Close()
		return nil, fmt.Errorf("invalid magic number in segment %s: got %x, want %x", path, header.Magic, core.WALMagicNumber)
	}

	index, err := core.ParseSegmentFileName(filepath.Base(path))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("could not parse segment index from path %s: %w", path, err)
	}

	seg := &Segment{
		file:  file,
		path:  path,
		index: index,
	}
	return &SegmentReader{
		Segment: seg,
		reader:  bufio.NewReader(file),
	}, nil
}

// WriteRecord writes a single record to the segment and returns the byte
// offset of the record frame within the file.
// Format: length (4 bytes) | data (variable) | checksum (4 bytes)
func (sw *SegmentWriter) WriteRecord(data []byte) (int64, error) {
	if sw.file == nil {
		return 0, os.ErrClosed
	}
	offset := sw.size

	if err := binary.Write(sw.writer, binary.LittleEndian, uint32(len(data))); err != nil {
		return 0, fmt.Errorf("failed to write record length: %w", err)
	}
	if _, err := sw.writer.Write(data); err != nil {
		return 0, fmt.Errorf("failed to write record data: %w", err)
	}
	checksum := crc32.ChecksumIEEE(data)
	if err := binary.Write(sw.writer, binary.LittleEndian, checksum); err != nil {
		return 0, fmt.Errorf("failed to write record checksum: %w", err)
	}

	sw.size += int64(len(data)) + recordOverhead
	return offset, nil
}

// recordOverhead is the framing cost per record: 4-byte length plus 4-byte checksum.
const recordOverhead = 8

// ReadRecord reads a single record from the segment, verifying its checksum.
func (sr *SegmentReader) ReadRecord() ([]byte, error) {
	var length uint32
	if err := binary.Read(sr.reader, binary.LittleEndian, &length); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, io.ErrUnexpectedEOF
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(sr.reader, data); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	var checksum uint32
	if err := binary.Read(sr.reader, binary.LittleEndian, &checksum); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	if crc32.ChecksumIEEE(data) != checksum {
		return nil, fmt.Errorf("checksum mismatch in segment %s at index %d", sr.path, sr.index)
	}
	return data, nil
}

// Sync flushes the buffered writer and syncs the file to disk.
func (sw *SegmentWriter) Sync() error {
	if sw.file == nil {
		return os.ErrClosed
	}
	if err := sw.writer.Flush(); err != nil {
		return err
	}
	return sw.file.Sync()
}

// Close flushes and closes the segment file.
func (sw *SegmentWriter) Close() error {
	if sw.file == nil {
		return nil
	}
	err := sw.Sync()
	closeErr := sw.file.Close()
	sw.file = nil
	if err != nil {
		return err
	}
	return closeErr
}

// Close closes the segment file.
func (sr *SegmentReader) Close() error {
	if sr.file == nil {
		return nil
	}
	err := sr.file.Close()
	sr.file = nil
	return err
}

// Size returns the number of bytes written to the segment, header included.
func (sw *SegmentWriter) Size() int64 {
	return sw.size
}

// Age returns how long ago the segment was created.
func (sw *SegmentWriter) Age() time.Duration {
	return time.Since(sw.createdAt)
}

// Index returns the segment's index.
func (s *Segment) Index() uint64 {
	return s.index
}

// Path returns the segment's file path.
func (s *Segment) Path() string {
	return s.path
}
