package multipart

import (
	"context"
	"fmt"

	"github.com/avast/retry-go/v4"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// MaxStreams is the in-flight part-stream budget shared across all
// multipart transfers on one processor.
const MaxStreams = 500

// DefaultMaxPartAttempts bounds what would otherwise be an open-ended
// per-part retry loop: each part is attempted at most this many times in
// total; a failure of the last attempt is what makes a part failure
// terminal.
const DefaultMaxPartAttempts = 5

// partHandler processes one attempt of one part of one transfer. A nil
// error means the part succeeded; a non-nil error leads to another attempt
// until the processor's maxAttempts attempts are used, and is then surfaced
// as terminal.
type partHandler func(ctx context.Context, partIndex int) error

// PartProcessor bounds concurrent part streams to MAX_STREAMS and attempts
// each part at most maxAttempts times in total, mirroring
// storage/s3.s3Upload.uploadParts's semaphore.Weighted + errgroup.Group
// fan-out, generalized from a fixed weight to the spec's MAX_STREAMS
// budget, with github.com/avast/retry-go/v4 providing the retry cap
// transfer.go already uses for resumable-transfer retry.
type PartProcessor struct {
	sem         *semaphore.Weighted
	maxAttempts uint
	logger      logr.Logger
}

// NewPartProcessor returns a PartProcessor bounded to maxStreams concurrent
// part handlers, attempting each part at most maxAttempts times.
func NewPartProcessor(maxStreams int, maxAttempts uint, logger logr.Logger) *PartProcessor {
	if maxStreams <= 0 {
		maxStreams = MaxStreams
	}
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxPartAttempts
	}
	return &PartProcessor{
		sem:         semaphore.NewWeighted(int64(maxStreams)),
		maxAttempts: maxAttempts,
		logger:      logger.WithName("part-processor"),
	}
}

// Push drives handler for every part index in [0, numParts), bounded by the
// processor's MAX_STREAMS budget, and returns the first error (if any) once
// every part's goroutine has returned. The first terminal part failure
// cancels the context the remaining parts run and retry under, so those
// stop early instead of using up their own attempts.
func (p *PartProcessor) Push(ctx context.Context, numParts int, handler partHandler) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < numParts; i++ {
		partIndex := i
		g.Go(func() error {
			if err := p.sem.Acquire(gctx, 1); err != nil {
				return fmt.Errorf("multipart: acquire stream slot: %w", err)
			}
			defer p.sem.Release(1)

			return retry.Do(
				func() error { return handler(gctx, partIndex) },
				retry.Context(gctx),
				retry.Attempts(p.maxAttempts),
			)
		})
	}

	return g.Wait()
}
