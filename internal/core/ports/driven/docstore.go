package driven

import (
	"context"

	"github.com/pagelore/pagelore/internal/core/domain"
)

// DocumentStore persists document metadata: source URL, normalised text,
// summary and ingestion status. Chunk and vector persistence belongs to
// VectorStore.
type DocumentStore interface {
	// SaveDocument stores or updates a document.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a document by ID. Returns domain.ErrNotFound
	// when absent.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// ListDocuments returns all documents.
	ListDocuments(ctx context.Context) ([]domain.Document, error)

	// SetStatus updates the ingestion status. The reason is recorded for
	// StatusFailed and cleared otherwise.
	SetStatus(ctx context.Context, id string, status domain.IngestionStatus, reason string) error

	// SetSummary records the generated summary and the embedding model of
	// the active generation.
	SetSummary(ctx context.Context, id, summary, modelID string) error

	// DeleteDocument removes a document. Chunk deletion cascades through
	// VectorStore.DeleteDocument, driven by the ingestion service.
	DeleteDocument(ctx context.Context, id string) error
}
