package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagelore/pagelore/internal/core/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// unitChunks builds a generation of chunks with axis-aligned unit vectors
// so expected similarities are exact.
func unitChunks(docID, genID string, dim, count int) []domain.Chunk {
	chunks := make([]domain.Chunk, count)
	for i := range chunks {
		vec := make([]float32, dim)
		vec[i%dim] = 1
		chunks[i] = domain.Chunk{
			DocumentID:   docID,
			GenerationID: genID,
			Ordinal:      i,
			Text:         fmt.Sprintf("chunk %d of %s", i, docID),
			StartOffset:  i * 10,
			EndOffset:    i*10 + 10,
			Embedding:    vec,
			ModelID:      "test-model",
		}
	}
	return chunks
}

func axisVec(dim, axis int) []float32 {
	vec := make([]float32, dim)
	vec[axis] = 1
	return vec
}

func TestStoreCreatesDatabase(t *testing.T) {
	store := newTestStore(t)
	assert.FileExists(t, store.Path())
}

func TestDocumentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	docs := store.DocumentStore()
	ctx := context.Background()

	doc := &domain.Document{
		ID:        "doc-1",
		SourceURL: "https://example.com/page",
		Title:     "Example",
		Text:      "full page text",
		Status:    domain.StatusProcessing,
		ModelID:   "test-model",
	}
	require.NoError(t, docs.SaveDocument(ctx, doc))

	got, err := docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.SourceURL, got.SourceURL)
	assert.Equal(t, doc.Title, got.Title)
	assert.Equal(t, doc.Text, got.Text)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestDocumentNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.DocumentStore().GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocumentStatusTransitions(t *testing.T) {
	store := newTestStore(t)
	docs := store.DocumentStore()
	ctx := context.Background()

	require.NoError(t, docs.SaveDocument(ctx, &domain.Document{ID: "doc-1", SourceURL: "u", Status: domain.StatusProcessing}))

	require.NoError(t, docs.SetStatus(ctx, "doc-1", domain.StatusFailed, "embedding service down"))
	got, err := docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "embedding service down", got.FailureReason)

	require.NoError(t, docs.SetStatus(ctx, "doc-1", domain.StatusCompleted, "stale reason"))
	got, err = docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Empty(t, got.FailureReason, "reason must be cleared on non-failed status")
}

func TestSetStatusMissingDocument(t *testing.T) {
	store := newTestStore(t)

	err := store.DocumentStore().SetStatus(context.Background(), "missing", domain.StatusCompleted, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetSummary(t *testing.T) {
	store := newTestStore(t)
	docs := store.DocumentStore()
	ctx := context.Background()

	require.NoError(t, docs.SaveDocument(ctx, &domain.Document{ID: "doc-1", SourceURL: "u"}))
	require.NoError(t, docs.SetSummary(ctx, "doc-1", "a short summary", "test-model"))

	got, err := docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "a short summary", got.Summary)
	assert.Equal(t, "test-model", got.ModelID)
}

func TestListDocuments(t *testing.T) {
	store := newTestStore(t)
	docs := store.DocumentStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, docs.SaveDocument(ctx, &domain.Document{
			ID:        fmt.Sprintf("doc-%d", i),
			SourceURL: fmt.Sprintf("https://example.com/%d", i),
		}))
	}

	list, err := docs.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestStagedGenerationInvisibleToSearch(t *testing.T) {
	store := newTestStore(t)
	vectors := store.VectorStore()
	ctx := context.Background()

	require.NoError(t, vectors.Stage(ctx, unitChunks("doc-1", "gen-1", 8, 4)))

	hits, err := vectors.Search(ctx, axisVec(8, 0), "test-model", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits, "staged chunks must not be searchable before activation")

	models, err := vectors.ActiveModels(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestActivateMakesGenerationVisible(t *testing.T) {
	store := newTestStore(t)
	vectors := store.VectorStore()
	ctx := context.Background()

	require.NoError(t, vectors.Stage(ctx, unitChunks("doc-1", "gen-1", 8, 4)))
	require.NoError(t, vectors.Activate(ctx, "doc-1", "gen-1"))

	hits, err := vectors.Search(ctx, axisVec(8, 0), "test-model", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "doc-1", hits[0].DocumentID)
	assert.Equal(t, 0, hits[0].Ordinal)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Equal(t, "chunk 0 of doc-1", hits[0].Text)

	models, err := vectors.ActiveModels(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"test-model"}, models)
}

func TestActivateUnknownGeneration(t *testing.T) {
	store := newTestStore(t)

	err := store.VectorStore().Activate(context.Background(), "doc-1", "gen-none")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestActivatePrunesOldGeneration(t *testing.T) {
	store := newTestStore(t)
	vectors := store.VectorStore()
	ctx := context.Background()

	require.NoError(t, vectors.Upsert(ctx, unitChunks("doc-1", "gen-1", 8, 4)))
	require.NoError(t, vectors.Upsert(ctx, unitChunks("doc-1", "gen-2", 8, 2)))

	var rows int
	require.NoError(t, store.db.QueryRow(
		"SELECT COUNT(*) FROM chunks WHERE document_id = ?", "doc-1").Scan(&rows))
	assert.Equal(t, 2, rows, "old generation rows must be pruned")

	hits, err := vectors.Search(ctx, axisVec(8, 2), "test-model", 10, nil)
	require.NoError(t, err)
	for _, hit := range hits {
		assert.Less(t, hit.Ordinal, 2, "ordinals of gen-1 beyond gen-2's size must be gone")
	}
}

func TestSearchScope(t *testing.T) {
	store := newTestStore(t)
	vectors := store.VectorStore()
	ctx := context.Background()

	require.NoError(t, vectors.Upsert(ctx, unitChunks("doc-a", "gen-1", 8, 2)))
	require.NoError(t, vectors.Upsert(ctx, unitChunks("doc-b", "gen-1", 8, 2)))

	hits, err := vectors.Search(ctx, axisVec(8, 0), "test-model", 10, []string{"doc-b"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, hit := range hits {
		assert.Equal(t, "doc-b", hit.DocumentID)
	}
}

func TestSearchTieBreak(t *testing.T) {
	store := newTestStore(t)
	vectors := store.VectorStore()
	ctx := context.Background()

	// Identical vectors across two documents: ties resolve by document
	// ID, then ordinal.
	mk := func(docID string) []domain.Chunk {
		chunks := unitChunks(docID, "gen-1", 8, 2)
		for i := range chunks {
			chunks[i].Embedding = axisVec(8, 0)
		}
		return chunks
	}
	require.NoError(t, vectors.Upsert(ctx, mk("doc-b")))
	require.NoError(t, vectors.Upsert(ctx, mk("doc-a")))

	hits, err := vectors.Search(ctx, axisVec(8, 0), "test-model", 4, nil)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	assert.Equal(t, "doc-a", hits[0].DocumentID)
	assert.Equal(t, 0, hits[0].Ordinal)
	assert.Equal(t, "doc-a", hits[1].DocumentID)
	assert.Equal(t, 1, hits[1].Ordinal)
	assert.Equal(t, "doc-b", hits[2].DocumentID)
}

func TestDeleteDocumentRemovesEverything(t *testing.T) {
	store := newTestStore(t)
	vectors := store.VectorStore()
	ctx := context.Background()

	require.NoError(t, vectors.Upsert(ctx, unitChunks("doc-1", "gen-1", 8, 4)))
	require.NoError(t, vectors.Stage(ctx, unitChunks("doc-1", "gen-2", 8, 4)))

	require.NoError(t, vectors.DeleteDocument(ctx, "doc-1"))

	var rows int
	require.NoError(t, store.db.QueryRow(
		"SELECT COUNT(*) FROM chunks WHERE document_id = ?", "doc-1").Scan(&rows))
	assert.Zero(t, rows, "no orphan chunk rows after delete")

	hits, err := vectors.Search(ctx, axisVec(8, 0), "test-model", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Deleting again is not an error.
	assert.NoError(t, vectors.DeleteDocument(ctx, "doc-1"))
}

func TestStagedReturnsLatestUnactivatedGeneration(t *testing.T) {
	store := newTestStore(t)
	vectors := store.VectorStore()
	ctx := context.Background()

	require.NoError(t, vectors.Upsert(ctx, unitChunks("doc-1", "gen-1", 8, 2)))
	require.NoError(t, vectors.Stage(ctx, unitChunks("doc-1", "gen-2", 8, 3)))

	staged, err := vectors.Staged(ctx, "doc-1", "test-model")
	require.NoError(t, err)
	require.Len(t, staged, 3)
	for i, c := range staged {
		assert.Equal(t, "gen-2", c.GenerationID)
		assert.Equal(t, i, c.Ordinal)
		assert.NotNil(t, c.Embedding)
	}
}

func TestStagedEmptyWhenOnlyActive(t *testing.T) {
	store := newTestStore(t)
	vectors := store.VectorStore()
	ctx := context.Background()

	require.NoError(t, vectors.Upsert(ctx, unitChunks("doc-1", "gen-1", 8, 2)))

	staged, err := vectors.Staged(ctx, "doc-1", "test-model")
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestIndexesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.VectorStore().Upsert(ctx, unitChunks("doc-1", "gen-1", 8, 4)))
	require.NoError(t, store.Close())

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	hits, err := reopened.VectorStore().Search(ctx, axisVec(8, 1), "test-model", 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, 1, hits[0].Ordinal)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
}

func TestStageRejectsMixedGenerations(t *testing.T) {
	store := newTestStore(t)

	chunks := unitChunks("doc-1", "gen-1", 8, 2)
	chunks[1].GenerationID = "gen-2"
	err := store.VectorStore().Stage(context.Background(), chunks)
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

// Readers racing an activation must observe either the old or the new
// generation in full, never a mix of both.
func TestConcurrentReadersSeeConsistentGeneration(t *testing.T) {
	store := newTestStore(t)
	vectors := store.VectorStore()
	ctx := context.Background()

	require.NoError(t, vectors.Upsert(ctx, unitChunks("doc-1", "gen-0", 8, 8)))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				hits, err := vectors.Search(ctx, axisVec(8, 0), "test-model", 16, nil)
				if !assert.NoError(t, err) {
					return
				}
				gens := make(map[string]bool)
				for _, hit := range hits {
					var gen string
					if err := store.db.QueryRow(
						"SELECT generation_id FROM chunks WHERE document_id = ? AND ordinal = ?",
						hit.DocumentID, hit.Ordinal).Scan(&gen); err == nil {
						gens[gen] = true
					}
				}
				assert.LessOrEqual(t, len(gens), 1, "one result set must come from one generation")
			}
		}()
	}

	for i := 1; i <= 10; i++ {
		require.NoError(t, vectors.Upsert(ctx, unitChunks("doc-1", fmt.Sprintf("gen-%d", i), 8, 8)))
		time.Sleep(2 * time.Millisecond)
	}

	close(stop)
	wg.Wait()
}
