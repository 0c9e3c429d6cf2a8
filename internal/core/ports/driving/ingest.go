package driving

import (
	"context"

	"github.com/pagelore/pagelore/internal/core/domain"
)

// IngestReport summarises one completed ingestion run.
type IngestReport struct {
	// DocumentID is the ingested document.
	DocumentID string

	// GenerationID is the activated chunk generation.
	GenerationID string

	// Chunks is the number of chunks produced.
	Chunks int

	// Embedded is the number of chunks embedded in this run; the rest were
	// reused from a previously staged generation.
	Embedded int

	// Summary is the generated document summary, empty when summarisation
	// was skipped or failed.
	Summary string
}

// IngestionPipeline turns extracted page text into a queryable chunk
// generation. Invocations for different documents are safe to run
// concurrently; a second invocation for the same document while one is in
// flight is rejected with domain.ErrIngestionInProgress.
type IngestionPipeline interface {
	// Ingest chunks, embeds and persists the page, then swaps the active
	// generation. On failure the prior generation stays visible.
	Ingest(ctx context.Context, page domain.ExtractedPage) (*IngestReport, error)

	// Delete removes the document and all chunks of all its generations.
	Delete(ctx context.Context, documentID string) error
}
