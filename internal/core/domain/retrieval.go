package domain

// RetrievedChunk is one ranked piece of evidence returned by the retriever.
// It is ephemeral, per-query state and is never persisted.
type RetrievedChunk struct {
	// DocumentID is the document the text was drawn from.
	DocumentID string

	// Ordinal is the position of the (first) underlying chunk.
	Ordinal int

	// Text is the chunk text, possibly merged with an overlapping neighbour.
	Text string

	// StartOffset and EndOffset are rune offsets into the source text.
	StartOffset int
	EndOffset   int

	// Score is the cosine similarity to the query, in [-1, 1].
	Score float64
}

// Cite returns the citation reference for the retrieved span.
func (r *RetrievedChunk) Cite() Citation {
	return Citation{
		DocumentID:  r.DocumentID,
		Ordinal:     r.Ordinal,
		StartOffset: r.StartOffset,
		EndOffset:   r.EndOffset,
	}
}

// Citation points at the span of source text an answer drew from.
type Citation struct {
	DocumentID  string `json:"document_id"`
	Ordinal     int    `json:"ordinal"`
	StartOffset int    `json:"offset_start"`
	EndOffset   int    `json:"offset_end"`
}

// Answer is the result of a query. When Grounded is false the generation
// service was not consulted and Text is the deterministic insufficient
// context response.
type Answer struct {
	// Text is the answer text.
	Text string `json:"text"`

	// Citations lists the chunks supplied as context for the answer.
	Citations []Citation `json:"citations,omitempty"`

	// Grounded reports whether the answer was generated from retrieved
	// evidence. False means no evidence cleared the similarity floor.
	Grounded bool `json:"grounded"`
}
