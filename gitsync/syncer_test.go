package gitsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/walvault/core"
	"github.com/INLOpen/walvault/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeWAL provides a fixed segment listing.
type fakeWAL struct {
	segments []wal.SegmentInfo
}

func (f *fakeWAL) Segments() []wal.SegmentInfo { return f.segments }

func sealedSegment(index uint64, size int64) wal.SegmentInfo {
	return wal.SegmentInfo{
		Index:     index,
		Path:      core.FormatSegmentFileName(index),
		SizeBytes: size,
		Sealed:    true,
	}
}

func TestSyncer_UnconfiguredWithoutRepoPath(t *testing.T) {
	s, err := NewSyncer(Options{Logger: testLogger()})
	require.NoError(t, err)

	assert.False(t, s.IsConfigured())
	assert.Equal(t, StatusUnknown, s.Status())
	assert.Error(t, s.SyncOnce(context.Background()))
}

func TestSyncer_InitializesRepositoryAndCommitsManifest(t *testing.T) {
	repoPath := filepath.Join(t.TempDir(), "manifest-repo")
	source := &fakeWAL{segments: []wal.SegmentInfo{
		sealedSegment(1, 100),
		sealedSegment(2, 200),
		{Index: 3, Sealed: false}, // active, excluded from the manifest
	}}

	s, err := NewSyncer(Options{RepoPath: repoPath, WAL: source, Logger: testLogger()})
	require.NoError(t, err)
	require.True(t, s.IsConfigured())

	require.NoError(t, s.SyncOnce(context.Background()))
	assert.Equal(t, StatusOK, s.Status())

	manifest, err := os.ReadFile(filepath.Join(repoPath, ManifestFileName))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), fmt.Sprintf("1\t%s\t100", core.RemoteSegmentKey(1)))
	assert.Contains(t, string(manifest), fmt.Sprintf("2\t%s\t200", core.RemoteSegmentKey(2)))
	assert.NotContains(t, string(manifest), core.RemoteSegmentKey(3))

	repo, err := git.PlainOpen(repoPath)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "Update WAL segment manifest", commit.Message)
}

func TestSyncer_UnchangedManifestProducesNoNewCommit(t *testing.T) {
	repoPath := filepath.Join(t.TempDir(), "manifest-repo")
	source := &fakeWAL{segments: []wal.SegmentInfo{sealedSegment(1, 100)}}

	s, err := NewSyncer(Options{RepoPath: repoPath, WAL: source, Logger: testLogger()})
	require.NoError(t, err)

	require.NoError(t, s.SyncOnce(context.Background()))
	repo, err := git.PlainOpen(repoPath)
	require.NoError(t, err)
	firstHead, err := repo.Head()
	require.NoError(t, err)

	require.NoError(t, s.SyncOnce(context.Background()))
	assert.Equal(t, StatusOK, s.Status())

	secondHead, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, firstHead.Hash(), secondHead.Hash())
}

func TestSyncer_ReopensExistingRepository(t *testing.T) {
	repoPath := filepath.Join(t.TempDir(), "manifest-repo")
	source := &fakeWAL{segments: []wal.SegmentInfo{sealedSegment(1, 100)}}

	s, err := NewSyncer(Options{RepoPath: repoPath, WAL: source, Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, s.SyncOnce(context.Background()))

	s2, err := NewSyncer(Options{RepoPath: repoPath, WAL: source, Logger: testLogger()})
	require.NoError(t, err)
	assert.True(t, s2.IsConfigured())
	assert.Equal(t, StatusUnknown, s2.Status(), "health is unknown until a cycle runs")
}

func TestSyncer_PushToLocalRemote(t *testing.T) {
	baseDir := t.TempDir()
	remotePath := filepath.Join(baseDir, "remote.git")
	repoPath := filepath.Join(baseDir, "manifest-repo")

	_, err := git.PlainInit(remotePath, true)
	require.NoError(t, err)

	source := &fakeWAL{segments: []wal.SegmentInfo{sealedSegment(1, 100)}}
	s, err := NewSyncer(Options{RepoPath: repoPath, WAL: source, Push: true, Logger: testLogger()})
	require.NoError(t, err)

	_, err = s.repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{remotePath},
	})
	require.NoError(t, err)

	require.NoError(t, s.SyncOnce(context.Background()))
	assert.Equal(t, StatusOK, s.Status())

	// A second cycle with no changes pushes nothing but stays healthy.
	require.NoError(t, s.SyncOnce(context.Background()))
	assert.Equal(t, StatusOK, s.Status())

	remote, err := git.PlainOpen(remotePath)
	require.NoError(t, err)
	_, err = remote.Head()
	assert.NoError(t, err, "remote should have received the manifest commit")
}

func TestSyncer_PushFailureDegrades(t *testing.T) {
	repoPath := filepath.Join(t.TempDir(), "manifest-repo")
	source := &fakeWAL{segments: []wal.SegmentInfo{sealedSegment(1, 100)}}

	// Push is enabled but no remote exists.
	s, err := NewSyncer(Options{RepoPath: repoPath, WAL: source, Push: true, Logger: testLogger()})
	require.NoError(t, err)

	err = s.SyncOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusDegraded, s.Status(), "local commit succeeded, replication did not")
}
