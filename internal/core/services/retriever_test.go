package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagelore/pagelore/internal/core/domain"
	"github.com/pagelore/pagelore/internal/core/ports/driven"
)

func testRetriever(embedder driven.EmbeddingService, store driven.VectorStore) *Retriever {
	return NewRetriever(embedder, store, RetrieverConfig{
		TopK:              5,
		MinSimilarity:     0.25,
		MergeOverlapRatio: 0.5,
	})
}

// seedChunks activates one generation of pre-embedded chunks.
func seedChunks(t *testing.T, store *mockVectorStore, embedder *mockEmbedder, docID string, texts ...string) {
	t.Helper()
	chunks := make([]domain.Chunk, len(texts))
	offset := 0
	for i, text := range texts {
		size := len([]rune(text))
		chunks[i] = domain.Chunk{
			DocumentID:   docID,
			GenerationID: "gen-1",
			Ordinal:      i,
			Text:         text,
			StartOffset:  offset,
			EndOffset:    offset + size,
			Embedding:    bagOfWords(text, embedder.dim),
			ModelID:      embedder.modelID,
		}
		offset += size
	}
	require.NoError(t, store.Upsert(context.Background(), chunks))
}

func TestRetrieveEmptyQuestion(t *testing.T) {
	retriever := testRetriever(newMockEmbedder(), newMockVectorStore())

	_, err := retriever.Retrieve(context.Background(), "   ", nil, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestRetrieveEmptyStore(t *testing.T) {
	retriever := testRetriever(newMockEmbedder(), newMockVectorStore())

	chunks, err := retriever.Retrieve(context.Background(), "anything at all", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRetrieveRanksRelevantFirst(t *testing.T) {
	embedder := newMockEmbedder()
	store := newMockVectorStore()
	seedChunks(t, store, embedder, "doc-1",
		"Paris is the capital of France and its largest city.",
		"The mitochondria is the powerhouse of the cell.",
	)

	retriever := testRetriever(embedder, store)
	chunks, err := retriever.Retrieve(context.Background(), "What is the capital of France? Paris?", nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Text, "Paris")
}

func TestRetrieveDropsBelowSimilarityFloor(t *testing.T) {
	embedder := newMockEmbedder()
	store := newMockVectorStore()

	// Two orthogonal chunk vectors and a query vector almost parallel to
	// the first: the second chunk scores ~0.10, below the 0.25 floor.
	axis := func(i int) []float32 {
		v := make([]float32, embedder.dim)
		v[i] = 1
		return v
	}
	require.NoError(t, store.Upsert(context.Background(), []domain.Chunk{
		{DocumentID: "doc-1", GenerationID: "gen-1", Ordinal: 0, Text: "relevant", EndOffset: 8, Embedding: axis(0), ModelID: embedder.modelID},
		{DocumentID: "doc-1", GenerationID: "gen-1", Ordinal: 1, Text: "irrelevant", StartOffset: 8, EndOffset: 18, Embedding: axis(1), ModelID: embedder.modelID},
	}))
	embedder.batchFn = func(_ context.Context, texts []string) ([][]float32, error) {
		q := make([]float32, embedder.dim)
		q[0] = 0.99
		q[1] = 0.1
		return [][]float32{q}, nil
	}

	retriever := testRetriever(embedder, store)
	chunks, err := retriever.Retrieve(context.Background(), "a question", nil, 5)
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, "relevant", chunks[0].Text)
	assert.GreaterOrEqual(t, chunks[0].Score, 0.25)
}

func TestRetrieveModelMismatch(t *testing.T) {
	embedder := newMockEmbedder()
	store := newMockVectorStore()
	seedChunks(t, store, embedder, "doc-1", "some indexed content here")

	other := newMockEmbedder()
	other.modelID = "different-model"

	retriever := testRetriever(other, store)
	_, err := retriever.Retrieve(context.Background(), "a question", nil, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrModelMismatch)
}

func TestRetrieveScopeFiltersDocuments(t *testing.T) {
	embedder := newMockEmbedder()
	store := newMockVectorStore()
	seedChunks(t, store, embedder, "doc-a", "Paris is the capital of France.")
	seedChunks(t, store, embedder, "doc-b", "Paris is also a city in Texas.")

	retriever := testRetriever(embedder, store)
	chunks, err := retriever.Retrieve(context.Background(), "Paris capital France", []string{"doc-b"}, 5)
	require.NoError(t, err)

	for _, c := range chunks {
		assert.Equal(t, "doc-b", c.DocumentID)
	}
}

func TestRetrieveScopeWithNothingIngested(t *testing.T) {
	embedder := newMockEmbedder()
	store := newMockVectorStore()
	seedChunks(t, store, embedder, "doc-a", "Paris is the capital of France.")

	retriever := testRetriever(embedder, store)
	chunks, err := retriever.Retrieve(context.Background(), "Paris", []string{"doc-missing"}, 5)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRetrieveMergesOverlappingChunks(t *testing.T) {
	retriever := testRetriever(newMockEmbedder(), newMockVectorStore())

	merged := retriever.mergeOverlapping([]domain.RetrievedChunk{
		{DocumentID: "d", Ordinal: 0, Text: "abcdefgh", StartOffset: 0, EndOffset: 8, Score: 0.8},
		{DocumentID: "d", Ordinal: 1, Text: "efghijkl", StartOffset: 4, EndOffset: 12, Score: 0.9},
	})

	require.Len(t, merged, 1)
	assert.Equal(t, "abcdefghijkl", merged[0].Text)
	assert.Equal(t, 0, merged[0].Ordinal)
	assert.Equal(t, 0, merged[0].StartOffset)
	assert.Equal(t, 12, merged[0].EndOffset)
	assert.Equal(t, 0.9, merged[0].Score)
}

func TestRetrieveKeepsDistantChunksSeparate(t *testing.T) {
	retriever := testRetriever(newMockEmbedder(), newMockVectorStore())

	merged := retriever.mergeOverlapping([]domain.RetrievedChunk{
		{DocumentID: "d", Ordinal: 0, Text: "abcdefgh", StartOffset: 0, EndOffset: 8, Score: 0.8},
		{DocumentID: "d", Ordinal: 5, Text: "qrstuvwx", StartOffset: 40, EndOffset: 48, Score: 0.7},
	})
	assert.Len(t, merged, 2)
}

func TestRetrieveNeverMergesAcrossDocuments(t *testing.T) {
	retriever := testRetriever(newMockEmbedder(), newMockVectorStore())

	merged := retriever.mergeOverlapping([]domain.RetrievedChunk{
		{DocumentID: "a", Ordinal: 0, Text: "abcdefgh", StartOffset: 0, EndOffset: 8, Score: 0.8},
		{DocumentID: "b", Ordinal: 0, Text: "abcdefgh", StartOffset: 0, EndOffset: 8, Score: 0.7},
	})
	assert.Len(t, merged, 2)
}

func TestRetrieveResultOrdering(t *testing.T) {
	retriever := testRetriever(newMockEmbedder(), newMockVectorStore())

	merged := retriever.mergeOverlapping([]domain.RetrievedChunk{
		{DocumentID: "b", Ordinal: 3, Text: "x", StartOffset: 90, EndOffset: 91, Score: 0.5},
		{DocumentID: "a", Ordinal: 7, Text: "y", StartOffset: 200, EndOffset: 201, Score: 0.5},
		{DocumentID: "a", Ordinal: 1, Text: "z", StartOffset: 10, EndOffset: 11, Score: 0.9},
	})

	require.Len(t, merged, 3)
	assert.Equal(t, 0.9, merged[0].Score)
	assert.Equal(t, "a", merged[1].DocumentID)
	assert.Equal(t, 7, merged[1].Ordinal)
	assert.Equal(t, "b", merged[2].DocumentID)
}
