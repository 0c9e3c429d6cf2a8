package driving

import (
	"context"

	"github.com/pagelore/pagelore/internal/core/domain"
)

// AskOptions scopes and sizes a query.
type AskOptions struct {
	// DocumentIDs restricts retrieval to the given documents. Empty means
	// all ingested documents.
	DocumentIDs []string

	// TopK bounds the number of retrieved chunks. Zero means the
	// configured default.
	TopK int
}

// QueryService answers natural-language questions from ingested evidence.
// It is read-only: no query ever mutates stored state.
type QueryService interface {
	// Ask retrieves relevant chunks and synthesises a grounded answer.
	// When no chunk clears the similarity floor the returned answer is the
	// deterministic insufficient context response and the completion
	// service is not called.
	Ask(ctx context.Context, question string, opts AskOptions) (*domain.Answer, error)
}
