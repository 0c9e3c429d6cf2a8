package domain

import "time"

// IngestionStatus tracks a document's progress through the ingestion pipeline.
type IngestionStatus string

const (
	// StatusPending means the document is registered but not yet processed.
	StatusPending IngestionStatus = "pending"

	// StatusProcessing means an ingestion generation is in flight.
	StatusProcessing IngestionStatus = "processing"

	// StatusCompleted means the document is fully chunked, embedded and queryable.
	StatusCompleted IngestionStatus = "completed"

	// StatusFailed means the last ingestion attempt failed; FailureReason
	// carries the cause. A new ingestion request is required to retry.
	StatusFailed IngestionStatus = "failed"
)

// Terminal reports whether the status is an end state of an ingestion run.
func (s IngestionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document is one ingested web page. Text is the normalised extracted
// content supplied by the scrape service and is immutable once ingestion
// completes; re-ingestion produces a new generation of chunks, never an
// in-place mutation.
type Document struct {
	// ID is the stable identifier assigned by the caller.
	ID string

	// SourceURL is the canonical URL the page was fetched from.
	SourceURL string

	// Title is the extracted page title, if any.
	Title string

	// Text is the full normalised text content.
	Text string

	// Summary is the generated executive summary, set after ingestion.
	Summary string

	// Status is the current ingestion status.
	Status IngestionStatus

	// FailureReason describes why the last ingestion failed, if it did.
	FailureReason string

	// ModelID is the embedding model the active generation was embedded with.
	ModelID string

	// CreatedAt is when the document was first registered.
	CreatedAt time.Time

	// UpdatedAt is when the document was last modified.
	UpdatedAt time.Time
}

// Queryable reports whether the document can serve retrieval requests.
func (d *Document) Queryable() bool {
	return d.Status == StatusCompleted
}

// Chunk is a contiguous slice of a document's text together with its
// embedding. Chunks belong to exactly one ingestion generation and are
// never updated individually.
type Chunk struct {
	// DocumentID is the owning document.
	DocumentID string

	// GenerationID identifies the ingestion generation this chunk belongs to.
	GenerationID string

	// Ordinal is the 0-based position within the document. Ordinals are
	// contiguous within a generation.
	Ordinal int

	// Text is the raw text span.
	Text string

	// StartOffset and EndOffset are rune offsets into the source text,
	// used for citation. EndOffset is exclusive.
	StartOffset int
	EndOffset   int

	// Embedding is the vector representation of Text. Vectors are only
	// comparable within the same ModelID.
	Embedding []float32

	// ModelID identifies the embedding model and dimension that produced
	// the vector.
	ModelID string
}

// Cite returns the citation reference for this chunk.
func (c *Chunk) Cite() Citation {
	return Citation{
		DocumentID:  c.DocumentID,
		Ordinal:     c.Ordinal,
		StartOffset: c.StartOffset,
		EndOffset:   c.EndOffset,
	}
}

// ExtractedPage is the inbound payload from the page-fetch/scrape service:
// the raw material for one ingestion run.
type ExtractedPage struct {
	DocumentID  string `json:"document_id"`
	SourceURL   string `json:"source_url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Text        string `json:"text"`
}
