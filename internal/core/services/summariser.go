package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/pagelore/pagelore/internal/core/ports/driven"
	"github.com/pagelore/pagelore/internal/logger"
)

// Summariser defaults.
const (
	// summaryDirectLimit is the largest text summarised in one call.
	summaryDirectLimit = 10000

	// summaryMaxSlices caps the map phase; anything beyond the first
	// slices is ignored rather than ballooning the call count.
	summaryMaxSlices = 3

	// summaryFallbackChars bounds the truncation fallback when the
	// generation service is unavailable.
	summaryFallbackChars = 400
)

const summarySystemPrompt = "You summarise web page content. Produce a concise summary of at most three sentences that captures what the page is about. Reply with the summary only."

// Summariser produces a short document summary via the generation
// service, degrading gracefully when the service misbehaves.
type Summariser struct {
	llm driven.LLMService
}

// NewSummariser creates a summariser around the completion service.
func NewSummariser(llm driven.LLMService) *Summariser {
	return &Summariser{llm: llm}
}

// Summarise returns a short summary of the page text. Long texts are
// summarised map-reduce style: partial summaries of leading slices are
// reduced into one. Empty text falls back to title and description; a
// failing generation service falls back to truncated text. Summarise
// never returns an error for content reasons, only for context
// cancellation.
func (s *Summariser) Summarise(ctx context.Context, title, description, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return fallbackFromMeta(title, description), nil
	}

	runes := []rune(text)
	if len(runes) <= summaryDirectLimit {
		out, err := s.summariseOnce(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logger.Warn("Summary generation failed, falling back to truncation: %v", err)
			return truncate(text, summaryFallbackChars), nil
		}
		return out, nil
	}

	logger.Debug("Text too long for direct summary (%d runes), map-reduce", len(runes))

	var partials []string
	for i := 0; i < summaryMaxSlices && i*summaryDirectLimit < len(runes); i++ {
		lo := i * summaryDirectLimit
		hi := lo + summaryDirectLimit
		if hi > len(runes) {
			hi = len(runes)
		}
		part, err := s.summariseOnce(ctx, string(runes[lo:hi]))
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logger.Warn("Partial summary %d failed: %v", i, err)
			continue
		}
		partials = append(partials, part)
	}

	switch len(partials) {
	case 0:
		return truncate(text, summaryFallbackChars), nil
	case 1:
		return partials[0], nil
	}

	combined := strings.Join(partials, "\n\n")
	out, err := s.summariseOnce(ctx, combined)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// The partials are already summaries; joining them is close enough.
		return truncate(combined, summaryFallbackChars*2), nil
	}
	return out, nil
}

func (s *Summariser) summariseOnce(ctx context.Context, text string) (string, error) {
	out, err := s.llm.Chat(ctx, []driven.ChatMessage{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Content:\n\n%s\n\nSummary:", text)},
	}, driven.GenerateOptions{MaxTokens: 200, Temperature: 0.3})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty summary response")
	}
	return out, nil
}

func fallbackFromMeta(title, description string) string {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	switch {
	case title != "" && description != "":
		return title + ": " + description
	case title != "":
		return title
	default:
		return description
	}
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
