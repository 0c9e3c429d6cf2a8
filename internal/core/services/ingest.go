package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pagelore/pagelore/internal/chunker"
	"github.com/pagelore/pagelore/internal/core/domain"
	"github.com/pagelore/pagelore/internal/core/ports/driven"
	"github.com/pagelore/pagelore/internal/core/ports/driving"
	"github.com/pagelore/pagelore/internal/logger"
)

// Ensure Ingestion implements the interface.
var _ driving.IngestionPipeline = (*Ingestion)(nil)

// Ingestion runs the ingest pipeline: chunk, embed, stage, activate.
// Re-ingesting a document builds a fresh generation that becomes visible
// atomically; readers never see a half-written generation. At most one
// ingestion per document runs at a time.
type Ingestion struct {
	docs       driven.DocumentStore
	vectors    driven.VectorStore
	embedder   driven.EmbeddingService
	batcher    *EmbeddingBatcher
	summariser *Summariser
	splitter   *chunker.Chunker

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewIngestion wires the ingest pipeline. The summariser may be nil, in
// which case documents get no summary.
func NewIngestion(
	docs driven.DocumentStore,
	vectors driven.VectorStore,
	embedder driven.EmbeddingService,
	batcher *EmbeddingBatcher,
	summariser *Summariser,
	splitter *chunker.Chunker,
) *Ingestion {
	return &Ingestion{
		docs:       docs,
		vectors:    vectors,
		embedder:   embedder,
		batcher:    batcher,
		summariser: summariser,
		splitter:   splitter,
		inFlight:   make(map[string]struct{}),
	}
}

// Ingest processes one extracted page end to end. On partial embedding
// failure the successful vectors are staged for reuse by a later retry,
// the document is marked failed, and the error names the failed chunks.
// A zero-chunk page completes with no retrievable content.
func (in *Ingestion) Ingest(ctx context.Context, page domain.ExtractedPage) (*driving.IngestReport, error) {
	docID, err := resolveDocumentID(page)
	if err != nil {
		return nil, err
	}

	if !in.acquire(docID) {
		return nil, fmt.Errorf("%w: document %s", domain.ErrIngestionInProgress, docID)
	}
	defer in.release(docID)

	logger.Section("Ingest")
	logger.Info("Ingesting %s (%s)", docID, page.SourceURL)

	modelID := in.embedder.ModelID()
	now := time.Now().UTC()
	doc := domain.Document{
		ID:        docID,
		SourceURL: page.SourceURL,
		Title:     page.Title,
		Text:      page.Text,
		Status:    domain.StatusProcessing,
		ModelID:   modelID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := in.docs.SaveDocument(ctx, &doc); err != nil {
		return nil, fmt.Errorf("saving document: %w", err)
	}

	report, err := in.run(ctx, doc, page)
	if err != nil {
		in.markFailed(ctx, docID, err)
		return nil, err
	}
	return report, nil
}

// run executes the pipeline after the document record exists.
func (in *Ingestion) run(ctx context.Context, doc domain.Document, page domain.ExtractedPage) (*driving.IngestReport, error) {
	spans := in.splitter.Split(page.Text)
	logger.Info("Split into %d chunks", len(spans))

	if len(spans) == 0 {
		// Nothing retrievable. Any previous generation is removed so a
		// stale one cannot answer for the now-empty page.
		if err := in.vectors.DeleteDocument(ctx, doc.ID); err != nil {
			return nil, fmt.Errorf("clearing vectors: %w", err)
		}
		if err := in.docs.SetStatus(ctx, doc.ID, domain.StatusCompleted, ""); err != nil {
			return nil, fmt.Errorf("updating status: %w", err)
		}
		return &driving.IngestReport{DocumentID: doc.ID}, nil
	}

	generationID := uuid.NewString()
	chunks := make([]domain.Chunk, len(spans))
	for i, span := range spans {
		chunks[i] = domain.Chunk{
			DocumentID:   doc.ID,
			GenerationID: generationID,
			Ordinal:      i,
			Text:         span.Text,
			StartOffset:  span.Start,
			EndOffset:    span.End,
			ModelID:      doc.ModelID,
		}
	}

	reused := in.reuseStaged(ctx, chunks)
	if reused > 0 {
		logger.Info("Reusing %d staged embeddings from a previous attempt", reused)
	}

	embedded, embedErr := in.embed(ctx, chunks)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if embedded == 0 && embedErr != nil {
		return nil, embedErr
	}

	staged := chunks[:0]
	for _, c := range chunks {
		if c.Embedding != nil {
			staged = append(staged, c)
		}
	}
	if err := in.vectors.Stage(ctx, staged); err != nil {
		return nil, fmt.Errorf("staging vectors: %w", err)
	}

	if embedErr != nil {
		// Successes are staged for the retry; the generation stays
		// invisible so queries keep seeing the previous one.
		return nil, embedErr
	}

	if err := in.vectors.Activate(ctx, doc.ID, generationID); err != nil {
		return nil, fmt.Errorf("activating generation: %w", err)
	}
	logger.Info("Generation %s active (%d chunks)", generationID, len(chunks))

	summary := in.summarise(ctx, doc.ID, page)

	if err := in.docs.SetStatus(ctx, doc.ID, domain.StatusCompleted, ""); err != nil {
		return nil, fmt.Errorf("updating status: %w", err)
	}

	return &driving.IngestReport{
		DocumentID:   doc.ID,
		GenerationID: generationID,
		Chunks:       len(chunks),
		Embedded:     embedded - reused,
		Summary:      summary,
	}, nil
}

// embed fills chunk embeddings in place and reports how many chunks
// carry a vector afterwards.
func (in *Ingestion) embed(ctx context.Context, chunks []domain.Chunk) (int, error) {
	var (
		pending    []string
		pendingIdx []int
	)
	for i, c := range chunks {
		if c.Embedding == nil {
			pending = append(pending, c.Text)
			pendingIdx = append(pendingIdx, i)
		}
	}

	var embedErr error
	if len(pending) > 0 {
		vectors, err := in.batcher.EmbedAll(ctx, pending)
		embedErr = err
		for j, vec := range vectors {
			if vec != nil {
				chunks[pendingIdx[j]].Embedding = vec
			}
		}
	}

	embedded := 0
	for _, c := range chunks {
		if c.Embedding != nil {
			embedded++
		}
	}
	return embedded, embedErr
}

// reuseStaged copies embeddings from a previous failed attempt into
// chunks whose text is unchanged, saving external calls on retry.
func (in *Ingestion) reuseStaged(ctx context.Context, chunks []domain.Chunk) int {
	prev, err := in.vectors.Staged(ctx, chunks[0].DocumentID, chunks[0].ModelID)
	if err != nil || len(prev) == 0 {
		return 0
	}

	byText := make(map[string][]float32, len(prev))
	for _, c := range prev {
		if c.Embedding != nil {
			byText[c.Text] = c.Embedding
		}
	}

	reused := 0
	for i := range chunks {
		if vec, ok := byText[chunks[i].Text]; ok {
			chunks[i].Embedding = vec
			reused++
		}
	}
	return reused
}

// summarise generates and stores the document summary. Summary failures
// never fail an otherwise successful ingest.
func (in *Ingestion) summarise(ctx context.Context, docID string, page domain.ExtractedPage) string {
	if in.summariser == nil {
		return ""
	}
	summary, err := in.summariser.Summarise(ctx, page.Title, page.Description, page.Text)
	if err != nil || summary == "" {
		logger.Warn("Summary skipped for %s: %v", docID, err)
		return ""
	}
	if err := in.docs.SetSummary(ctx, docID, summary, in.embedder.ModelID()); err != nil {
		logger.Warn("Storing summary for %s failed: %v", docID, err)
	}
	return summary
}

// Delete removes a document and all its vectors.
func (in *Ingestion) Delete(ctx context.Context, documentID string) error {
	if !in.acquire(documentID) {
		return fmt.Errorf("%w: document %s", domain.ErrIngestionInProgress, documentID)
	}
	defer in.release(documentID)

	if err := in.vectors.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("deleting vectors: %w", err)
	}
	if err := in.docs.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	logger.Info("Deleted document %s", documentID)
	return nil
}

// markFailed records the failure reason even when the pipeline context
// is already cancelled.
func (in *Ingestion) markFailed(ctx context.Context, docID string, cause error) {
	bg := context.WithoutCancel(ctx)
	if err := in.docs.SetStatus(bg, docID, domain.StatusFailed, cause.Error()); err != nil {
		logger.Warn("Recording failure for %s: %v", docID, err)
	}
}

func (in *Ingestion) acquire(docID string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, busy := in.inFlight[docID]; busy {
		return false
	}
	in.inFlight[docID] = struct{}{}
	return true
}

func (in *Ingestion) release(docID string) {
	in.mu.Lock()
	delete(in.inFlight, docID)
	in.mu.Unlock()
}

// resolveDocumentID validates the page and derives a stable document ID
// from the source URL when none was supplied, so re-ingesting the same
// page updates the same document.
func resolveDocumentID(page domain.ExtractedPage) (string, error) {
	if strings.TrimSpace(page.Text) == "" && strings.TrimSpace(page.Title) == "" {
		return "", fmt.Errorf("%w: page has no content", domain.ErrInvalidParameters)
	}
	if id := strings.TrimSpace(page.DocumentID); id != "" {
		return id, nil
	}
	url := strings.TrimSpace(page.SourceURL)
	if url == "" {
		return "", fmt.Errorf("%w: missing source URL", domain.ErrInvalidParameters)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String(), nil
}
