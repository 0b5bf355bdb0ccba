// Package reclaim drains the orphan blob queue left behind by failed
// best-effort deletes.
package reclaim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tendant/studyshare/pkg/studyshare"
)

// Queue is the subset of studyshare.Repository the reclaimer needs.
type Queue interface {
	ListOrphanBlobs(ctx context.Context, limit int) ([]*studyshare.OrphanBlob, error)
	DeleteOrphanBlob(ctx context.Context, id uuid.UUID) error
	MarkOrphanBlobAttempt(ctx context.Context, id uuid.UUID) error
}

// Reclaimer walks the orphan queue and deletes each blob.
type Reclaimer struct {
	queue     Queue
	processor OrphanProcessor
	logger    *slog.Logger
}

// Option configures a Reclaimer
type Option func(*Reclaimer)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reclaimer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithProcessor replaces the default delete processor
func WithProcessor(p OrphanProcessor) Option {
	return func(r *Reclaimer) {
		r.processor = p
	}
}

// New creates a Reclaimer that deletes blobs through stores.
func New(queue Queue, stores BlobResolver, opts ...Option) *Reclaimer {
	r := &Reclaimer{
		queue:     queue,
		processor: &deleteProcessor{stores: stores},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Options configures a reclaim run.
type Options struct {
	// BatchSize controls how many queue entries are read at once (default: 100)
	BatchSize int

	// MaxAttempts skips entries that already failed this many times (0 = no limit)
	MaxAttempts int

	// DryRun reports what would be deleted without touching blobs or the queue
	DryRun bool

	// OnProgress is called after each batch
	OnProgress func(processed, total int64)
}

// Result contains statistics about a reclaim run.
type Result struct {
	TotalFound     int64
	TotalReclaimed int64
	TotalFailed    int64
	TotalSkipped   int64
	FailedIDs      []string
}

// Run processes the queue until every entry has been visited once.
// Entries that fail stay queued with a bumped attempt count.
func (r *Reclaimer) Run(ctx context.Context, opts Options) (*Result, error) {
	return r.run(ctx, opts, r.processor)
}

// ForEach runs fn over every queued entry with default options.
func (r *Reclaimer) ForEach(ctx context.Context, fn func(context.Context, *studyshare.OrphanBlob) error) (*Result, error) {
	return r.run(ctx, Options{}, funcProcessor(fn))
}

func (r *Reclaimer) run(ctx context.Context, opts Options, processor OrphanProcessor) (*Result, error) {
	result := &Result{}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	// Successful entries leave the queue, so each batch rereads the head
	// and skips what this run has already visited.
	seen := make(map[uuid.UUID]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		limit := len(seen) + opts.BatchSize
		blobs, err := r.queue.ListOrphanBlobs(ctx, limit)
		if err != nil {
			return result, fmt.Errorf("list orphan blobs: %w", err)
		}

		fresh := 0
		for _, blob := range blobs {
			if _, ok := seen[blob.ID]; ok {
				continue
			}
			seen[blob.ID] = struct{}{}
			fresh++
			result.TotalFound++
			r.process(ctx, processor, blob, opts, result)
		}

		if opts.OnProgress != nil && fresh > 0 {
			opts.OnProgress(result.TotalReclaimed+result.TotalFailed+result.TotalSkipped, result.TotalFound)
		}
		if fresh == 0 || len(blobs) < limit {
			break
		}
	}

	r.logger.InfoContext(ctx, "orphan reclaim finished",
		"found", result.TotalFound,
		"reclaimed", result.TotalReclaimed,
		"failed", result.TotalFailed,
		"skipped", result.TotalSkipped,
		"dry_run", opts.DryRun)
	return result, nil
}

func (r *Reclaimer) process(ctx context.Context, processor OrphanProcessor, blob *studyshare.OrphanBlob, opts Options, result *Result) {
	if opts.MaxAttempts > 0 && blob.Attempts >= opts.MaxAttempts {
		result.TotalSkipped++
		return
	}
	if opts.DryRun {
		r.logger.InfoContext(ctx, "would reclaim orphan blob",
			"backend", blob.Backend,
			"blob_key", blob.Key,
			"attempts", blob.Attempts)
		result.TotalReclaimed++
		return
	}

	err := processor.Process(ctx, blob)
	if err != nil && !errors.Is(err, studyshare.ErrBlobNotFound) {
		result.TotalFailed++
		result.FailedIDs = append(result.FailedIDs, blob.ID.String())
		r.logger.WarnContext(ctx, "orphan blob delete failed",
			"backend", blob.Backend,
			"blob_key", blob.Key,
			"err", err)
		if err := r.queue.MarkOrphanBlobAttempt(ctx, blob.ID); err != nil {
			r.logger.WarnContext(ctx, "failed to record reclaim attempt", "orphan_id", blob.ID, "err", err)
		}
		return
	}

	if err := r.queue.DeleteOrphanBlob(ctx, blob.ID); err != nil && !errors.Is(err, studyshare.ErrNotFound) {
		result.TotalFailed++
		result.FailedIDs = append(result.FailedIDs, blob.ID.String())
		r.logger.WarnContext(ctx, "failed to drop orphan queue entry", "orphan_id", blob.ID, "err", err)
		return
	}
	result.TotalReclaimed++
}

// funcProcessor adapts a function to the OrphanProcessor interface.
type funcProcessor func(context.Context, *studyshare.OrphanBlob) error

func (f funcProcessor) Process(ctx context.Context, blob *studyshare.OrphanBlob) error {
	return f(ctx, blob)
}
