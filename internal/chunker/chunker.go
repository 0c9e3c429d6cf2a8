// Package chunker splits normalised document text into overlapping,
// context-preserving spans suitable for embedding.
package chunker

import (
	"fmt"
	"unicode"

	"github.com/pagelore/pagelore/internal/core/domain"
)

// DefaultTargetSize is the default chunk length bound in runes.
const DefaultTargetSize = 2500

// DefaultOverlap is the default number of trailing runes repeated at the
// start of the next chunk.
const DefaultOverlap = 200

// maxLookback caps how far behind the target size a natural boundary is
// searched for.
const maxLookback = 400

// Span is one chunk of the source text. Start and End are rune offsets
// into the source; End is exclusive. Adjacent spans overlap by exactly the
// configured overlap, so concatenating span texts with the overlap removed
// reconstructs the source losslessly.
type Span struct {
	Text  string
	Start int
	End   int
}

// Chunker produces deterministic chunk boundaries: identical input and
// parameters always yield identical spans.
type Chunker struct {
	targetSize int
	overlap    int
	lookback   int
}

// New creates a chunker. It fails with domain.ErrInvalidParameters when
// either parameter is non-positive or the overlap is not smaller than the
// target size, which would prevent the cursor from advancing.
func New(targetSize, overlap int) (*Chunker, error) {
	if targetSize <= 0 || overlap <= 0 {
		return nil, fmt.Errorf("%w: target size %d and overlap %d must be positive",
			domain.ErrInvalidParameters, targetSize, overlap)
	}
	if overlap >= targetSize {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than target size %d",
			domain.ErrInvalidParameters, overlap, targetSize)
	}

	lookback := targetSize / 5
	if lookback > maxLookback {
		lookback = maxLookback
	}
	if lookback < 1 {
		lookback = 1
	}

	return &Chunker{
		targetSize: targetSize,
		overlap:    overlap,
		lookback:   lookback,
	}, nil
}

// Split chunks the text. Empty text yields no spans; text within the
// target size yields exactly one span covering the whole text.
func (c *Chunker) Split(text string) []Span {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	if n <= c.targetSize {
		return []Span{{Text: text, Start: 0, End: n}}
	}

	spans := make([]Span, 0, n/(c.targetSize-c.overlap)+1)
	start := 0
	for {
		end := start + c.targetSize
		if end >= n {
			spans = append(spans, Span{Text: string(runes[start:]), Start: start, End: n})
			return spans
		}

		cut := c.cutPoint(runes, start, end)
		spans = append(spans, Span{Text: string(runes[start:cut]), Start: start, End: cut})
		start = cut - c.overlap
	}
}

// cutPoint picks the boundary closest to end, preferring paragraph breaks,
// then sentence ends, then word boundaries, within the lookback window.
// The returned index always exceeds start+overlap so the cursor advances.
func (c *Chunker) cutPoint(runes []rune, start, end int) int {
	lo := end - c.lookback
	if min := start + c.overlap + 1; lo < min {
		lo = min
	}

	// Paragraph break: cut just after a blank line.
	for j := end; j >= lo; j-- {
		if j >= 2 && runes[j-1] == '\n' && runes[j-2] == '\n' {
			return j
		}
	}

	// Sentence end: terminator followed by whitespace.
	for j := end; j >= lo; j-- {
		if j < 1 {
			break
		}
		r := runes[j-1]
		if (r == '.' || r == '!' || r == '?' || r == '\n') && unicode.IsSpace(runes[j]) {
			return j
		}
	}

	// Word boundary.
	for j := end; j >= lo; j-- {
		if j >= 1 && unicode.IsSpace(runes[j-1]) {
			return j
		}
	}

	// Hard cut, mid-word. Only reached when the window holds no boundary.
	return end
}
