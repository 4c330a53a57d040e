// Package storesync replicates sealed WAL segments into a remote object
// store and maintains the confirmation checkpoint the pruner relies on. A
// sync cycle uploads every sealed segment the last checkpoint does not yet
// confirm, then atomically publishes a new checkpoint covering all of them.
package storesync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/walvault/blobstore"
	"github.com/INLOpen/walvault/checkpoint"
	"github.com/INLOpen/walvault/core"
	"github.com/INLOpen/walvault/hooks"
	"github.com/INLOpen/walvault/wal"
)

// WALSource is the view of the WAL the syncer needs.
type WALSource interface {
	Segments() []wal.SegmentInfo
}

// Options configures a Syncer.
type Options struct {
	WAL   WALSource
	Store blobstore.BlobStore
	// Compressor encodes segment payloads before upload. Nil means no
	// compression.
	Compressor core.Compressor
	// CheckpointDir is where the last published checkpoint is persisted
	// locally, so confirmation state survives restarts.
	CheckpointDir string
	// Interval between periodic sync cycles in Run. Zero disables the ticker;
	// cycles then only happen on Nudge.
	Interval time.Duration
	// UploadConcurrency bounds parallel segment uploads. Zero means 4.
	UploadConcurrency int
	Logger            *slog.Logger
	HookManager       hooks.HookManager
}

// Syncer drives object-store replication cycles.
type Syncer struct {
	opts   Options
	logger *slog.Logger

	stateMu        chan struct{} // 1-slot semaphore serializing sync cycles
	lastCheckpoint core.Checkpoint
	hasCheckpoint  bool
	nudge          chan struct{}
}

// NewSyncer creates a Syncer, loading any previously persisted checkpoint
// from disk.
func NewSyncer(opts Options) (*Syncer, error) {
	if opts.WAL == nil || opts.Store == nil {
		return nil, fmt.Errorf("storesync: WAL and Store are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = 4
	}

	s := &Syncer{
		opts:    opts,
		logger:  opts.Logger.With("component", "StoreSync"),
		stateMu: make(chan struct{}, 1),
		nudge:   make(chan struct{}, 1),
	}
	s.stateMu <- struct{}{}

	if opts.CheckpointDir != "" {
		cp, found, err := checkpoint.Read(opts.CheckpointDir)
		if err != nil {
			return nil, fmt.Errorf("storesync: failed to load persisted checkpoint: %w", err)
		}
		if found {
			s.lastCheckpoint = cp
			s.hasCheckpoint = true
			s.logger.Info("Loaded persisted checkpoint", "segments", len(cp.WALSegments), "created_at", cp.CreatedAt)
		}
	}
	return s, nil
}

// LastCheckpoint returns the most recently published checkpoint. found is
// false when no cycle has ever completed, which readers must treat as "no
// segment is confirmed".
func (s *Syncer) LastCheckpoint() (core.Checkpoint, bool) {
	<-s.stateMu
	cp, found := s.lastCheckpoint, s.hasCheckpoint
	s.stateMu <- struct{}{}
	return cp, found
}

// Nudge requests an extra sync cycle from Run, typically right after a WAL
// rotation sealed a new segment. It never blocks.
func (s *Syncer) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// RotateListener returns a hook listener that nudges the syncer on WAL
// rotation events.
func (s *Syncer) RotateListener() hooks.HookListener {
	return hooks.ListenerFunc(func(_ context.Context, _ hooks.HookEvent) error {
		s.Nudge()
		return nil
	})
}

// Run executes sync cycles until ctx is canceled: periodically per the
// configured interval, plus whenever nudged. Cycle errors are logged, not
// fatal; the next cycle retries from the last published checkpoint.
func (s *Syncer) Run(ctx context.Context) {
	var tickerC <-chan time.Time
	if s.opts.Interval > 0 {
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		tickerC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tickerC:
		case <-s.nudge:
		}
		if err := s.SyncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("Sync cycle failed", "error", err)
		}
	}
}

// SyncOnce runs a single replication cycle: upload all sealed segments the
// last checkpoint does not confirm, then publish a checkpoint covering every
// sealed segment still present locally. On any upload failure the cycle
// aborts and the previous checkpoint stays in force.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	<-s.stateMu
	defer func() { s.stateMu <- struct{}{} }()

	confirmed := make(map[string]bool, len(s.lastCheckpoint.WALSegments))
	if s.hasCheckpoint {
		for _, key := range s.lastCheckpoint.WALSegments {
			confirmed[key] = true
		}
	}

	var sealed []wal.SegmentInfo
	for _, seg := range s.opts.WAL.Segments() {
		if seg.Sealed {
			sealed = append(sealed, seg)
		}
	}

	var toUpload []wal.SegmentInfo
	for _, seg := range sealed {
		if !confirmed[core.RemoteSegmentKey(seg.Index)] {
			toUpload = append(toUpload, seg)
		}
	}

	if len(toUpload) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.UploadConcurrency)
		for _, seg := range toUpload {
			g.Go(func() error {
				return s.uploadSegment(gctx, seg)
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("segment upload failed, keeping previous checkpoint: %w", err)
		}
		s.logger.Info("Uploaded WAL segments", "count", len(toUpload))
	}

	// Every locally present sealed segment is now remote; the new checkpoint
	// confirms exactly that set. It replaces the previous one as a whole.
	newCp := core.Checkpoint{
		WALSegments: make([]string, 0, len(sealed)),
		CreatedAt:   time.Now().UTC(),
	}
	for _, seg := range sealed {
		newCp.WALSegments = append(newCp.WALSegments, core.RemoteSegmentKey(seg.Index))
	}

	if s.opts.CheckpointDir != "" {
		if err := checkpoint.Write(s.opts.CheckpointDir, newCp); err != nil {
			return fmt.Errorf("failed to persist checkpoint: %w", err)
		}
	}
	s.lastCheckpoint = newCp
	s.hasCheckpoint = true
	s.logger.Debug("Published checkpoint", "segments", len(newCp.WALSegments))

	if s.opts.HookManager != nil {
		s.opts.HookManager.Trigger(ctx, hooks.NewPostCheckpointPublishEvent(hooks.PostCheckpointPublishPayload{
			SegmentKeys: newCp.WALSegments,
		}))
	}
	return nil
}

// uploadSegment reads, encodes and stores one sealed segment. The upload is
// skipped when the remote copy already exists with a non-zero size, which
// covers cycles interrupted between upload and checkpoint publish.
func (s *Syncer) uploadSegment(ctx context.Context, seg wal.SegmentInfo) error {
	key := core.RemoteSegmentKey(seg.Index)

	if info, err := s.opts.Store.Stat(ctx, key); err == nil && info.Size > 0 {
		s.logger.Debug("Segment already present remotely, skipping upload", "key", key)
		return nil
	}

	data, err := os.ReadFile(seg.Path)
	if err != nil {
		return fmt.Errorf("failed to read segment %d: %w", seg.Index, err)
	}

	encoded, err := EncodeRemoteSegment(data, s.opts.Compressor)
	if err != nil {
		return fmt.Errorf("failed to encode segment %d: %w", seg.Index, err)
	}

	if err := s.opts.Store.Put(ctx, key, encoded); err != nil {
		return fmt.Errorf("failed to upload segment %d as %s: %w", seg.Index, key, err)
	}
	s.logger.Debug("Uploaded segment", "key", key, "raw_bytes", len(data), "stored_bytes", len(encoded))
	return nil
}
