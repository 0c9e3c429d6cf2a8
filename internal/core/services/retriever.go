package services

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/pagelore/pagelore/internal/core/domain"
	"github.com/pagelore/pagelore/internal/core/ports/driven"
	"github.com/pagelore/pagelore/internal/logger"
)

// Retriever defaults.
const (
	DefaultTopK              = 5
	DefaultMinSimilarity     = 0.25
	DefaultMergeOverlapRatio = 0.5
)

// RetrieverConfig configures retrieval behaviour.
type RetrieverConfig struct {
	// TopK is the default number of chunks to retrieve.
	TopK int

	// MinSimilarity drops chunks scoring below it even when topK is not
	// filled: precision over forced recall.
	MinSimilarity float64

	// MergeOverlapRatio merges adjacent same-document chunks whose spans
	// overlap by at least this fraction of the shorter span.
	MergeOverlapRatio float64
}

// Retriever turns a question into a bounded, ranked evidence set. It is
// read-only: it never mutates the vector store.
type Retriever struct {
	embedder driven.EmbeddingService
	store    driven.VectorStore
	cfg      RetrieverConfig
}

// NewRetriever creates a retriever using the same embedding service the
// ingestion pipeline uses.
func NewRetriever(embedder driven.EmbeddingService, store driven.VectorStore, cfg RetrieverConfig) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = DefaultMinSimilarity
	}
	if cfg.MergeOverlapRatio <= 0 {
		cfg.MergeOverlapRatio = DefaultMergeOverlapRatio
	}
	return &Retriever{embedder: embedder, store: store, cfg: cfg}
}

// Retrieve embeds the question and returns the ranked chunks that clear
// the similarity floor. An empty result means no evidence: the caller
// should answer with the insufficient context response. Returns
// domain.ErrModelMismatch when the scoped documents were ingested with a
// different embedding model.
func (r *Retriever) Retrieve(ctx context.Context, question string, scope []string, topK int) ([]domain.RetrievedChunk, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrInvalidParameters)
	}
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	logger.Section("Retrieval")
	logger.Debug("Question: %q, scope: %v, topK: %d", question, scope, topK)

	models, err := r.store.ActiveModels(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("active models: %w", err)
	}
	if len(models) == 0 {
		logger.Debug("No ingested chunks in scope")
		return nil, nil
	}

	modelID := r.embedder.ModelID()
	if !slices.Contains(models, modelID) {
		return nil, fmt.Errorf("%w: query model %q, stored models %v", domain.ErrModelMismatch, modelID, models)
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding question: %v", domain.ErrEmbeddingUnavailable, err)
	}

	hits, err := r.store.Search(ctx, vec, modelID, topK, scope)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	logger.Debug("Search returned %d hits", len(hits))

	kept := make([]domain.RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity < r.cfg.MinSimilarity {
			logger.Debug("Dropping chunk %s/%d below similarity floor (%.3f < %.3f)",
				hit.DocumentID, hit.Ordinal, hit.Similarity, r.cfg.MinSimilarity)
			continue
		}
		kept = append(kept, domain.RetrievedChunk{
			DocumentID:  hit.DocumentID,
			Ordinal:     hit.Ordinal,
			Text:        hit.Text,
			StartOffset: hit.StartOffset,
			EndOffset:   hit.EndOffset,
			Score:       hit.Similarity,
		})
	}

	merged := r.mergeOverlapping(kept)
	logger.Info("Retrieved %d chunks (%d after merge)", len(kept), len(merged))
	return merged, nil
}

// mergeOverlapping collapses adjacent chunks from the same document whose
// spans overlap beyond the configured ratio, deduplicating redundant
// context before synthesis.
func (r *Retriever) mergeOverlapping(chunks []domain.RetrievedChunk) []domain.RetrievedChunk {
	if len(chunks) < 2 {
		return chunks
	}

	byDoc := make(map[string][]domain.RetrievedChunk)
	for _, c := range chunks {
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}

	out := make([]domain.RetrievedChunk, 0, len(chunks))
	for _, group := range byDoc {
		sort.Slice(group, func(i, j int) bool { return group[i].Ordinal < group[j].Ordinal })

		cur := group[0]
		for _, next := range group[1:] {
			overlap := cur.EndOffset - next.StartOffset
			shorter := cur.EndOffset - cur.StartOffset
			if l := next.EndOffset - next.StartOffset; l < shorter {
				shorter = l
			}
			if overlap > 0 && shorter > 0 && float64(overlap)/float64(shorter) >= r.cfg.MergeOverlapRatio {
				cur = mergeSpans(cur, next, overlap)
				continue
			}
			out = append(out, cur)
			cur = next
		}
		out = append(out, cur)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out
}

// mergeSpans joins two overlapping spans, keeping the earlier ordinal and
// the better score.
func mergeSpans(a, b domain.RetrievedChunk, overlap int) domain.RetrievedChunk {
	suffix := []rune(b.Text)
	if overlap < len(suffix) {
		suffix = suffix[overlap:]
	} else {
		suffix = nil
	}

	score := a.Score
	if b.Score > score {
		score = b.Score
	}

	return domain.RetrievedChunk{
		DocumentID:  a.DocumentID,
		Ordinal:     a.Ordinal,
		Text:        a.Text + string(suffix),
		StartOffset: a.StartOffset,
		EndOffset:   b.EndOffset,
		Score:       score,
	}
}
