package driven

import (
	"context"

	"github.com/pagelore/pagelore/internal/core/domain"
)

// VectorHit is a similarity search result.
type VectorHit struct {
	// DocumentID is the owning document of the matched chunk.
	DocumentID string

	// Ordinal is the chunk position within its generation.
	Ordinal int

	// Text is the chunk text.
	Text string

	// StartOffset and EndOffset are rune offsets into the source text.
	StartOffset int
	EndOffset   int

	// Similarity is the cosine similarity score.
	Similarity float64
}

// VectorStore persists chunks with their embeddings and executes
// nearest-neighbour similarity search.
//
// Writes are generational: a document's chunks are staged under a
// generation identifier and become visible only when that generation is
// activated. Readers observe either the complete prior generation or the
// complete new one, never a mix.
type VectorStore interface {
	// Stage writes a generation of chunks without making it visible to
	// Search. All chunks must share DocumentID, GenerationID and ModelID.
	Stage(ctx context.Context, chunks []domain.Chunk) error

	// Activate atomically makes the given generation the visible one for
	// the document and removes prior generations.
	Activate(ctx context.Context, documentID, generationID string) error

	// Upsert stages and activates in one call.
	Upsert(ctx context.Context, chunks []domain.Chunk) error

	// Staged returns the chunks of the most recently staged, not yet
	// activated generation for the document and model, if any. Used to
	// reuse embeddings from a failed ingestion on retry.
	Staged(ctx context.Context, documentID, modelID string) ([]domain.Chunk, error)

	// Search returns up to topK chunks across the scoped documents ranked
	// by descending cosine similarity to the query vector. An empty scope
	// means all documents. Ties are broken by smaller document ID then
	// smaller ordinal. Returns domain.ErrModelMismatch when the scoped
	// vectors were produced by a different model than modelID.
	Search(ctx context.Context, query []float32, modelID string, topK int, scope []string) ([]VectorHit, error)

	// ActiveModels returns the distinct embedding model IDs of the active
	// generations within scope. An empty scope means all documents.
	ActiveModels(ctx context.Context, scope []string) ([]string, error)

	// DeleteDocument removes all chunks of all generations for the
	// document. Deleting an absent document is not an error.
	DeleteDocument(ctx context.Context, documentID string) error

	// Close releases resources.
	Close() error
}
