// Package blobstore abstracts the remote object store that holds durable
// copies of sealed WAL segments. Implementations exist for in-memory testing,
// a local directory, and MinIO / S3-compatible services.
package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Name string
	Size int64
}

// BlobStore is an abstraction for storing and retrieving immutable data blobs.
// Names are slash-separated keys; a Put under an existing name replaces the
// blob as a whole.
type BlobStore interface {
	// Put writes a blob atomically under the given name.
	Put(ctx context.Context, name string, data []byte) error
	// Get reads a whole blob.
	Get(ctx context.Context, name string) ([]byte, error)
	// Stat verifies existence and reports the stored size.
	Stat(ctx context.Context, name string) (BlobInfo, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns all blob names under the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
