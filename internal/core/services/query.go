package services

import (
	"context"

	"github.com/pagelore/pagelore/internal/core/domain"
	"github.com/pagelore/pagelore/internal/core/ports/driving"
	"github.com/pagelore/pagelore/internal/logger"
)

// Ensure QueryService implements the interface.
var _ driving.QueryService = (*QueryService)(nil)

// QueryService is the query entry point: retrieval followed by synthesis.
type QueryService struct {
	retriever   *Retriever
	synthesizer *Synthesizer
}

// NewQueryService wires the retriever and synthesizer.
func NewQueryService(retriever *Retriever, synthesizer *Synthesizer) *QueryService {
	return &QueryService{retriever: retriever, synthesizer: synthesizer}
}

// Ask answers a question from the ingested evidence in scope.
func (q *QueryService) Ask(ctx context.Context, question string, opts driving.AskOptions) (*domain.Answer, error) {
	logger.Section("Query")

	evidence, err := q.retriever.Retrieve(ctx, question, opts.DocumentIDs, opts.TopK)
	if err != nil {
		return nil, err
	}

	answer, err := q.synthesizer.Synthesize(ctx, question, evidence)
	if err != nil {
		return nil, err
	}

	logger.Info("Answer grounded=%t, citations=%d", answer.Grounded, len(answer.Citations))
	return answer, nil
}
