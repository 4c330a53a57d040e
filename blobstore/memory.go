package blobstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore implements BlobStore in memory. It is used in tests and for
// running without a configured object store; fault injection hooks let tests
// exercise partial-failure behavior in the sync layer.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	putErrs  map[string]error
	statErrs map[string]error
}

var _ BlobStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:    make(map[string][]byte),
		putErrs:  make(map[string]error),
		statErrs: make(map[string]error),
	}
}

// FailPut arms a failure for Put calls on the given name. A nil err disarms it.
func (s *MemoryStore) FailPut(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.putErrs, name)
		return
	}
	s.putErrs[name] = err
}

// FailStat arms a failure for Stat calls on the given name. A nil err disarms it.
func (s *MemoryStore) FailStat(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.statErrs, name)
		return
	}
	s.statErrs[name] = err
}

// Put writes a blob atomically.
func (s *MemoryStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.putErrs[name]; ok {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[name] = cp
	return nil
}

// Get reads a whole blob.
func (s *MemoryStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Stat verifies existence and reports the stored size.
func (s *MemoryStore) Stat(ctx context.Context, name string) (BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return BlobInfo{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.statErrs[name]; ok {
		return BlobInfo{}, err
	}
	data, ok := s.blobs[name]
	if !ok {
		return BlobInfo{}, ErrNotFound
	}
	return BlobInfo{Name: name, Size: int64(len(data))}, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, name)
	return nil
}

// List returns all blob names under the given prefix, sorted.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name := range s.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
