// Package pruner reconciles local WAL retention against remote confirmation
// state. A segment is deleted locally only once the object-store checkpoint
// confirms its remote copy and the git manifest channel is healthy; on any
// doubt the pass does nothing. Disk usage may grow while confirmations lag,
// never the other way around.
package pruner

import (
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/INLOpen/walvault/core"
	"github.com/INLOpen/walvault/gitsync"
	"github.com/INLOpen/walvault/wal"
)

// WALController is the slice of the WAL API the pruner drives.
type WALController interface {
	Segments() []wal.SegmentInfo
	MarkPrunable(indexes []uint64) (int, error)
	Prune() (int, error)
	ActiveSegmentIndex() uint64
}

// ObjectStoreSync exposes the confirmation checkpoint.
type ObjectStoreSync interface {
	// LastCheckpoint returns the last published checkpoint. found == false
	// means no segment is confirmed.
	LastCheckpoint() (core.Checkpoint, bool)
}

// GitSync exposes the manifest channel's configuration and health.
type GitSync interface {
	IsConfigured() bool
	Status() gitsync.Status
}

// PruneResult summarizes one reconciliation pass.
type PruneResult struct {
	// SegmentsMarked counts segments newly flagged prunable this pass.
	SegmentsMarked int
	// SegmentsPruned counts segments physically deleted this pass.
	SegmentsPruned int
}

// Options configures a Pruner.
type Options struct {
	WAL        WALController
	ObjectSync ObjectStoreSync
	GitSync    GitSync
	// Interval between passes in Run.
	Interval time.Duration
	Logger   *slog.Logger
	// Tracer, when set, records a span per pass.
	Tracer trace.Tracer

	MarkedTotal *expvar.Int
	PrunedTotal *expvar.Int
}

// Pruner runs confirmed-retention reconciliation passes. Passes are
// serialized: a slow pass delays the next one rather than overlapping it.
type Pruner struct {
	opts   Options
	logger *slog.Logger
	passMu sync.Mutex
}

// NewPruner creates a Pruner.
func NewPruner(opts Options) (*Pruner, error) {
	if opts.WAL == nil || opts.ObjectSync == nil || opts.GitSync == nil {
		return nil, fmt.Errorf("pruner: WAL, ObjectSync and GitSync are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pruner{
		opts:   opts,
		logger: opts.Logger.With("component", "Pruner"),
	}, nil
}

// Run executes passes until ctx is canceled. Pass errors are logged; the next
// tick retries, since marking is idempotent and deletion resumes where it
// stopped.
func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := p.PruneConfirmed(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Error("Prune pass failed", "error", err, "marked", result.SegmentsMarked, "pruned", result.SegmentsPruned)
			}
		}
	}
}

// PruneConfirmed performs one reconciliation pass:
//
//  1. Consult git health. A configured but unhealthy manifest channel stops
//     the pass with an all-zero result.
//  2. Load the last object-store checkpoint. No checkpoint, no confirmations.
//  3. Snapshot the local segment list.
//  4. Select sealed, not-yet-prunable segments whose remote key the
//     checkpoint confirms. The active segment is never a candidate.
//  5. Mark the selected segments prunable (crash-durable, idempotent).
//  6. Physically delete all prunable segments in ascending order.
//  7. Report how many segments were marked and pruned.
//
// A deletion failure mid-pass returns the partial counts along with the
// error; the remaining segments stay marked for the next pass.
func (p *Pruner) PruneConfirmed(ctx context.Context) (PruneResult, error) {
	p.passMu.Lock()
	defer p.passMu.Unlock()

	if p.opts.Tracer != nil {
		var span trace.Span
		ctx, span = p.opts.Tracer.Start(ctx, "pruner.PruneConfirmed")
		defer span.End()
		defer func() {
			span.SetAttributes(attribute.Bool("pruner.completed", ctx.Err() == nil))
		}()
	}

	var result PruneResult
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if p.opts.GitSync.IsConfigured() {
		if status := p.opts.GitSync.Status(); status != gitsync.StatusOK {
			p.logger.Info("Skipping prune pass, git manifest channel not healthy", "status", status)
			return result, nil
		}
	}

	cp, found := p.opts.ObjectSync.LastCheckpoint()
	if !found {
		p.logger.Debug("Skipping prune pass, no object-store checkpoint yet")
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	var candidates []uint64
	for _, seg := range p.opts.WAL.Segments() {
		if !seg.Sealed || seg.Prunable {
			continue
		}
		if cp.Contains(core.RemoteSegmentKey(seg.Index)) {
			candidates = append(candidates, seg.Index)
		}
	}

	if len(candidates) > 0 {
		marked, err := p.opts.WAL.MarkPrunable(candidates)
		result.SegmentsMarked = marked
		if err != nil {
			return result, fmt.Errorf("pruner: marking failed: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	pruned, err := p.opts.WAL.Prune()
	result.SegmentsPruned = pruned

	if p.opts.MarkedTotal != nil {
		p.opts.MarkedTotal.Add(int64(result.SegmentsMarked))
	}
	if p.opts.PrunedTotal != nil {
		p.opts.PrunedTotal.Add(int64(result.SegmentsPruned))
	}

	if err != nil {
		return result, fmt.Errorf("pruner: deletion stopped early: %w", err)
	}
	if result.SegmentsMarked > 0 || result.SegmentsPruned > 0 {
		p.logger.Info("Prune pass completed", "marked", result.SegmentsMarked, "pruned", result.SegmentsPruned)
	}
	return result, nil
}
