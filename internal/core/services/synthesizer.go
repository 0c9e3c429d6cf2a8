package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pagelore/pagelore/internal/core/domain"
	"github.com/pagelore/pagelore/internal/core/ports/driven"
	"github.com/pagelore/pagelore/internal/logger"
	"github.com/pagelore/pagelore/internal/retry"
)

// InsufficientContextText is the deterministic answer returned when no
// evidence cleared the similarity floor. The generation service is not
// consulted in that case.
const InsufficientContextText = "I don't have enough information in the ingested content to answer that question."

// answerSystemPrompt instructs the model to stay inside the supplied
// evidence.
const answerSystemPrompt = `You are an assistant that answers questions based only on the supplied context.

Rules:
1. Answer ONLY from the information in the context.
2. If the context does not contain the answer, say clearly that you do not have enough information.
3. Be clear, objective and direct.
4. Never invent or assume information that is not explicit in the context.`

// Synthesizer defaults.
const (
	DefaultMaxContextChars = 12000
	DefaultAnswerTokens    = 500
	DefaultAnswerAttempts  = 2
)

// SynthesizerConfig configures answer synthesis.
type SynthesizerConfig struct {
	// MaxContextChars bounds the total evidence passed to the model;
	// lowest-ranked chunks are dropped first when over budget.
	MaxContextChars int

	// MaxTokens bounds the generated answer length.
	MaxTokens int

	// Temperature for generation.
	Temperature float64

	// MaxAttempts is the generation retry budget for transient failures.
	MaxAttempts int

	// Backoff is the delay policy between attempts.
	Backoff retry.Policy
}

// Synthesizer assembles retrieved evidence and the question into a
// bounded prompt and returns a grounded answer with citations.
type Synthesizer struct {
	llm driven.LLMService
	cfg SynthesizerConfig
}

// NewSynthesizer creates a synthesizer around the completion service.
func NewSynthesizer(llm driven.LLMService, cfg SynthesizerConfig) *Synthesizer {
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = DefaultMaxContextChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultAnswerTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultAnswerAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.Exponential{Base: 500 * time.Millisecond, Cap: 4 * time.Second, Jitter: true}
	}
	return &Synthesizer{llm: llm, cfg: cfg}
}

// Synthesize answers the question from the evidence. Empty evidence
// yields the deterministic insufficient context answer without calling
// the generation service. A generation failure after retry surfaces as
// domain.ErrGenerationUnavailable, distinct from the no-evidence case.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, evidence []domain.RetrievedChunk) (*domain.Answer, error) {
	if len(evidence) == 0 {
		logger.Debug("No evidence above threshold, skipping generation")
		return &domain.Answer{Text: InsufficientContextText, Grounded: false}, nil
	}

	used := s.fitBudget(evidence)
	logger.Debug("Synthesizing from %d chunks (%d within context budget)", len(evidence), len(used))

	var b strings.Builder
	b.WriteString("Available context:\n\n")
	for i, chunk := range used {
		fmt.Fprintf(&b, "[Source %d]\n%s\n\n", i+1, chunk.Text)
	}
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "Question: %s\n\nAnswer:", question)

	messages := []driven.ChatMessage{
		{Role: "system", Content: answerSystemPrompt},
		{Role: "user", Content: b.String()},
	}

	var answer string
	err := retry.Do(ctx, s.cfg.MaxAttempts, s.cfg.Backoff, func(ctx context.Context) error {
		out, err := s.llm.Chat(ctx, messages, driven.GenerateOptions{
			MaxTokens:   s.cfg.MaxTokens,
			Temperature: s.cfg.Temperature,
		})
		if err != nil {
			return err
		}
		answer = out
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, err)
	}

	citations := make([]domain.Citation, len(used))
	for i := range used {
		citations[i] = used[i].Cite()
	}

	return &domain.Answer{
		Text:      strings.TrimSpace(answer),
		Citations: citations,
		Grounded:  true,
	}, nil
}

// fitBudget keeps evidence in rank order until the context budget is
// exhausted. The top chunk is always included, truncated if it alone
// exceeds the budget.
func (s *Synthesizer) fitBudget(evidence []domain.RetrievedChunk) []domain.RetrievedChunk {
	used := make([]domain.RetrievedChunk, 0, len(evidence))
	total := 0
	for i, chunk := range evidence {
		size := len([]rune(chunk.Text))
		if total+size > s.cfg.MaxContextChars {
			if i == 0 {
				chunk.Text = string([]rune(chunk.Text)[:s.cfg.MaxContextChars])
				used = append(used, chunk)
			}
			break
		}
		total += size
		used = append(used, chunk)
	}
	return used
}
