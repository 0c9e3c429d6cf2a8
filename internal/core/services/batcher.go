package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pagelore/pagelore/internal/core/domain"
	"github.com/pagelore/pagelore/internal/core/ports/driven"
	"github.com/pagelore/pagelore/internal/logger"
	"github.com/pagelore/pagelore/internal/retry"
)

// Batcher defaults.
const (
	DefaultMaxBatchSize     = 64
	DefaultEmbedAttempts    = 3
	DefaultEmbedConcurrency = 4
)

// BatcherConfig configures the embedding batcher.
type BatcherConfig struct {
	// MaxBatchSize bounds how many texts go into one embedding request.
	MaxBatchSize int

	// MaxAttempts is the retry budget per batch call.
	MaxAttempts int

	// Backoff is the delay policy between attempts.
	Backoff retry.Policy

	// RequestsPerSecond throttles calls to the embedding service.
	// Zero means unlimited.
	RequestsPerSecond float64

	// Concurrency bounds how many batches are embedded in parallel.
	Concurrency int
}

// EmbeddingBatcher converts chunk texts into vectors through the external
// embedding service, batching to amortise round trips and isolating
// failures to single chunks by bisection.
type EmbeddingBatcher struct {
	svc         driven.EmbeddingService
	maxBatch    int
	attempts    int
	policy      retry.Policy
	limiter     *rate.Limiter
	concurrency int
}

// NewEmbeddingBatcher creates a batcher around the given service.
func NewEmbeddingBatcher(svc driven.EmbeddingService, cfg BatcherConfig) *EmbeddingBatcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultEmbedAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.Exponential{Base: 200 * time.Millisecond, Cap: 5 * time.Second, Jitter: true}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultEmbedConcurrency
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if b := int(cfg.RequestsPerSecond); b > 1 {
			burst = b
		}
	}

	return &EmbeddingBatcher{
		svc:         svc,
		maxBatch:    cfg.MaxBatchSize,
		attempts:    cfg.MaxAttempts,
		policy:      cfg.Backoff,
		limiter:     rate.NewLimiter(limit, burst),
		concurrency: cfg.Concurrency,
	}
}

// EmbedAll embeds texts preserving order 1:1. On chunk-level failure the
// returned slice still carries every successful vector (nil marks a failed
// position) and the error wraps *domain.ChunkError values for the failed
// ordinals, so callers can persist the successes and report the precise
// failure. When every text fails the error is domain.ErrEmbeddingUnavailable.
func (b *EmbeddingBatcher) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	if len(texts) == 0 {
		return vectors, nil
	}

	var (
		mu       sync.Mutex
		failures []*domain.ChunkError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for start := 0; start < len(texts); start += b.maxBatch {
		end := start + b.maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		start := start
		g.Go(func() error {
			return b.embedRange(gctx, texts, vectors, start, end, &mu, &failures)
		})
	}
	if err := g.Wait(); err != nil {
		return vectors, err
	}

	if len(failures) == 0 {
		return vectors, nil
	}
	if len(failures) == len(texts) {
		return vectors, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, failures[0].Err)
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].Ordinal < failures[j].Ordinal })
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return vectors, errors.Join(errs...)
}

// embedRange embeds texts[start:end] with retry; on persistent failure it
// bisects the range so a single malformed text cannot sink its siblings.
// Only context cancellation aborts the walk.
func (b *EmbeddingBatcher) embedRange(
	ctx context.Context,
	texts []string,
	vectors [][]float32,
	start, end int,
	mu *sync.Mutex,
	failures *[]*domain.ChunkError,
) error {
	err := retry.Do(ctx, b.attempts, b.policy, func(ctx context.Context) error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		out, err := b.svc.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return err
		}
		if len(out) != end-start {
			return fmt.Errorf("embedding service returned %d vectors for %d texts", len(out), end-start)
		}
		copy(vectors[start:end], out)
		return nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if end-start == 1 {
		logger.Warn("Embedding failed for chunk %d: %v", start, err)
		mu.Lock()
		*failures = append(*failures, &domain.ChunkError{Ordinal: start, Err: err})
		mu.Unlock()
		return nil
	}

	logger.Debug("Batch %d-%d failed, bisecting: %v", start, end, err)
	mid := (start + end) / 2
	if err := b.embedRange(ctx, texts, vectors, start, mid, mu, failures); err != nil {
		return err
	}
	return b.embedRange(ctx, texts, vectors, mid, end, mu, failures)
}
