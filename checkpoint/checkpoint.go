// Package checkpoint persists the last confirmed object-store checkpoint to
// local disk so the pruner can keep working across restarts without waiting
// for the next remote sync cycle.
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/INLOpen/walvault/core"
	"github.com/INLOpen/walvault/sys"
)

// Write atomically persists a checkpoint into dir using the write-and-rename
// strategy: data goes to a temporary file first, is fsynced, and the closed
// temp file is renamed over the final name. Readers never observe a partially
// written checkpoint.
func Write(dir string, cp core.Checkpoint) error {
	tempPath := filepath.Join(dir, core.FormatTempFilename(core.CheckpointFileName, "tmp"))
	file, err := sys.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint file: %w", err)
	}

	if err := writeTo(file, cp); err != nil {
		file.Close()
		sys.Remove(tempPath)
		return err
	}

	if err := file.Sync(); err != nil {
		file.Close()
		sys.Remove(tempPath)
		return fmt.Errorf("failed to sync temp checkpoint file: %w", err)
	}

	// Close BEFORE renaming. This is crucial for Windows compatibility.
	if err := file.Close(); err != nil {
		sys.Remove(tempPath)
		return fmt.Errorf("failed to close temp checkpoint file before rename: %w", err)
	}

	finalPath := filepath.Join(dir, core.CheckpointFileName)
	if err := sys.Rename(tempPath, finalPath); err != nil {
		sys.Remove(tempPath)
		return fmt.Errorf("failed to rename temp checkpoint file to final name: %w", err)
	}

	// NOTE: Syncing the parent directory after a rename is a good practice for
	// ensuring the filesystem metadata change is persisted. However, it's
	// omitted here because os.File.Sync() on a directory handle is not
	// reliably supported across all platforms (e.g., it causes "Access is
	// denied" on Windows). The atomicity of os.Rename() provides the primary
	// guarantee against corruption.

	return nil
}

func writeTo(w io.Writer, cp core.Checkpoint) error {
	if err := binary.Write(w, binary.LittleEndian, core.CheckpointMagicNumber); err != nil {
		return fmt.Errorf("failed to write checkpoint magic number: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, core.FormatVersion); err != nil {
		return fmt.Errorf("failed to write checkpoint version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, cp.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to write checkpoint timestamp: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(cp.WALSegments))); err != nil {
		return fmt.Errorf("failed to write checkpoint key count: %w", err)
	}
	for _, key := range cp.WALSegments {
		if len(key) > 0xFFFF {
			return fmt.Errorf("checkpoint key too long: %d bytes", len(key))
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(len(key))); err != nil {
			return fmt.Errorf("failed to write checkpoint key length: %w", err)
		}
		if _, err := w.Write([]byte(key)); err != nil {
			return fmt.Errorf("failed to write checkpoint key: %w", err)
		}
	}
	return nil
}

// Read reads the checkpoint from dir. A missing checkpoint file is not an
// error: it returns found == false, which callers treat as "no confirmation
// yet".
func Read(dir string) (core.Checkpoint, bool, error) {
	path := filepath.Join(dir, core.CheckpointFileName)
	file, err := sys.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File not existing is not an error, it just means no checkpoint
			// has been made.
			return core.Checkpoint{}, false, nil
		}
		return core.Checkpoint{}, false, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	cp, err := readFrom(file)
	if err != nil {
		return core.Checkpoint{}, true, fmt.Errorf("failed to read checkpoint file %s: %w", path, err)
	}
	return cp, true, nil
}

func readFrom(r io.Reader) (core.Checkpoint, error) {
	var cp core.Checkpoint

	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return cp, fmt.Errorf("failed to read checkpoint magic number: %w", err)
	}
	if magic != core.CheckpointMagicNumber {
		return cp, fmt.Errorf("invalid checkpoint magic number: got %x, want %x", magic, core.CheckpointMagicNumber)
	}

	var version uint8
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return cp, fmt.Errorf("failed to read checkpoint version: %w", err)
	}
	if version != core.FormatVersion {
		return cp, fmt.Errorf("unsupported checkpoint version: %d", version)
	}

	var createdAtNanos int64
	if err := binary.Read(r, binary.LittleEndian, &createdAtNanos); err != nil {
		return cp, fmt.Errorf("failed to read checkpoint timestamp: %w", err)
	}
	cp.CreatedAt = time.Unix(0, createdAtNanos).UTC()

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return cp, fmt.Errorf("failed to read checkpoint key count: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		var keyLen uint16
		if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
			return cp, fmt.Errorf("failed to read length of checkpoint key %d: %w", i, err)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return cp, fmt.Errorf("failed to read checkpoint key %d: %w", i, err)
		}
		cp.WALSegments = append(cp.WALSegments, string(key))
	}
	return cp, nil
}
