// Package gitsync maintains a git-versioned manifest of sealed WAL segments
// as a secondary, human-auditable replication channel. Its health status is
// one of the two confirmations the pruner requires before deleting local
// segments.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/INLOpen/walvault/core"
	"github.com/INLOpen/walvault/wal"
)

// Status reflects the health of the last git snapshot cycle.
type Status string

const (
	// StatusUnknown means no cycle has completed yet. Consumers must treat it
	// as "not ok".
	StatusUnknown Status = "unknown"
	// StatusOK means the last cycle committed (and pushed, when enabled)
	// successfully.
	StatusOK Status = "ok"
	// StatusDegraded means the local commit succeeded but the push did not.
	StatusDegraded Status = "degraded"
	// StatusFailed means the cycle could not even produce a local commit.
	StatusFailed Status = "failed"
)

// ManifestFileName is the file tracked inside the git repository.
const ManifestFileName = "MANIFEST"

// WALSource is the view of the WAL the git syncer needs.
type WALSource interface {
	Segments() []wal.SegmentInfo
}

// Options configures a Syncer.
type Options struct {
	// RepoPath is the working tree of the manifest repository. Empty means
	// git sync is not configured.
	RepoPath string
	// Push enables pushing each snapshot commit to RemoteName.
	Push bool
	// RemoteName defaults to "origin".
	RemoteName  string
	AuthorName  string
	AuthorEmail string
	// Interval between periodic snapshot cycles in Run.
	Interval time.Duration
	WAL      WALSource
	Logger   *slog.Logger
}

// Syncer commits segment manifests into a git repository and tracks the
// health of that channel.
type Syncer struct {
	opts   Options
	logger *slog.Logger
	repo   *git.Repository

	mu     sync.Mutex
	status Status
}

// NewSyncer opens (or initializes) the manifest repository. With an empty
// RepoPath it returns an unconfigured syncer whose status stays unknown.
func NewSyncer(opts Options) (*Syncer, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RemoteName == "" {
		opts.RemoteName = "origin"
	}
	if opts.AuthorName == "" {
		opts.AuthorName = "walvault"
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = "walvault@localhost"
	}

	s := &Syncer{
		opts:   opts,
		logger: opts.Logger.With("component", "GitSync"),
		status: StatusUnknown,
	}
	if opts.RepoPath == "" {
		return s, nil
	}
	if opts.WAL == nil {
		return nil, fmt.Errorf("gitsync: WAL source is required when a repository is configured")
	}

	repo, err := git.PlainOpen(opts.RepoPath)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		s.logger.Info("Initializing manifest repository", "path", opts.RepoPath)
		if mkErr := os.MkdirAll(opts.RepoPath, 0755); mkErr != nil {
			return nil, fmt.Errorf("gitsync: failed to create repository directory: %w", mkErr)
		}
		repo, err = git.PlainInit(opts.RepoPath, false)
	}
	if err != nil {
		return nil, fmt.Errorf("gitsync: failed to open manifest repository %s: %w", opts.RepoPath, err)
	}
	s.repo = repo
	return s, nil
}

// IsConfigured reports whether a manifest repository is set up. An
// unconfigured git sync never gates pruning.
func (s *Syncer) IsConfigured() bool {
	return s.repo != nil
}

// Status returns the health of the most recent snapshot cycle.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Syncer) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Run executes snapshot cycles until ctx is canceled. Errors are reflected in
// Status and logged; the loop keeps going.
func (s *Syncer) Run(ctx context.Context) {
	if !s.IsConfigured() || s.opts.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Git snapshot cycle failed", "error", err, "status", s.Status())
			}
		}
	}
}

// SyncOnce writes the current segment manifest, commits it, and pushes when
// enabled. The resulting health is observable through Status.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	if !s.IsConfigured() {
		return fmt.Errorf("gitsync: not configured")
	}

	if err := s.writeManifest(); err != nil {
		s.setStatus(StatusFailed)
		return err
	}

	if _, err := s.commitManifest(); err != nil {
		s.setStatus(StatusFailed)
		return err
	}

	// Push even when this cycle produced no new commit: a previous cycle may
	// have committed locally and failed to push.
	if s.opts.Push {
		if err := s.push(ctx); err != nil {
			// The snapshot is safe locally but not replicated; the pruner
			// treats this as unconfirmed.
			s.setStatus(StatusDegraded)
			return fmt.Errorf("gitsync: push failed: %w", err)
		}
	}

	s.setStatus(StatusOK)
	return nil
}

// writeManifest renders the sealed-segment manifest into the working tree.
func (s *Syncer) writeManifest() error {
	var sealed []wal.SegmentInfo
	for _, seg := range s.opts.WAL.Segments() {
		if seg.Sealed {
			sealed = append(sealed, seg)
		}
	}
	sort.Slice(sealed, func(i, j int) bool { return sealed[i].Index < sealed[j].Index })

	var b strings.Builder
	b.WriteString("# walvault sealed segment manifest\n")
	for _, seg := range sealed {
		fmt.Fprintf(&b, "%d\t%s\t%d\n", seg.Index, core.RemoteSegmentKey(seg.Index), seg.SizeBytes)
	}

	path := filepath.Join(s.opts.RepoPath, ManifestFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("gitsync: failed to write manifest: %w", err)
	}
	return nil
}

// commitManifest stages and commits the manifest. It reports false when the
// working tree was already clean and no commit was needed.
func (s *Syncer) commitManifest() (bool, error) {
	wt, err := s.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("gitsync: failed to get worktree: %w", err)
	}
	if _, err := wt.Add(ManifestFileName); err != nil {
		return false, fmt.Errorf("gitsync: failed to stage manifest: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("gitsync: failed to read worktree status: %w", err)
	}
	if status.IsClean() {
		s.logger.Debug("Manifest unchanged, skipping commit")
		return false, nil
	}

	hash, err := wt.Commit("Update WAL segment manifest", &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.opts.AuthorName,
			Email: s.opts.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return false, fmt.Errorf("gitsync: failed to commit manifest: %w", err)
	}
	s.logger.Info("Committed manifest snapshot", "commit", hash.String())
	return true, nil
}

func (s *Syncer) push(ctx context.Context) error {
	err := s.repo.PushContext(ctx, &git.PushOptions{RemoteName: s.opts.RemoteName})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}
